package remote

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/agent"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/fleet"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/script"
)

// AgentEnvironment is the environment the agent for the job is started
// with, in a fixed order.
func AgentEnvironment(job *fleet.CIJob) [][2]string {
	secrets := job.SecretsJSON
	if secrets == "" {
		secrets = "[]"
	}
	return [][2]string{
		{agent.ImageFilenameEnv, job.ImageFilename},
		{agent.ImageNameEnv, job.Image},
		{agent.BranchEnv, job.Branch},
		{agent.JobNameEnv, job.JobName},
		{agent.RefEnv, job.Ref},
		{agent.DefaultBranchEnv, job.DefaultBranch},
		{agent.CommitHashEnv, job.CommitHash},
		{agent.EarlierCommitEnv, job.PreviousCommit},
		{agent.OriginEnv, job.Origin},
		{agent.TrustedEnv, strconv.FormatBool(job.Trusted)},
		{agent.CacheOptionsEnv, job.CacheSettingsJSON},
		{agent.SecretsEnv, secrets},
	}
}

func launchScript(agentPath string, job *fleet.CIJob, connectURL string) string {
	var b strings.Builder
	b.WriteString("set -e\n")
	for _, kv := range AgentEnvironment(job) {
		fmt.Fprintf(&b, "export %s=%s\n", kv[0], script.ShellQuote(kv[1]))
	}
	logFile := fmt.Sprintf("/tmp/ci-agent-%d-%d-%d.log", job.ID.Project, job.ID.Build, job.ID.Job)
	fmt.Fprintf(&b, "nohup %s %s > %s 2>&1 < /dev/null &\n",
		script.ShellQuote(agentPath), script.ShellQuote(connectURL), logFile)
	return b.String()
}
