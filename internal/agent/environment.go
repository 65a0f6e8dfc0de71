package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal"
)

// Environment variables the agent is configured with.
const (
	ImageFilenameEnv    = "CI_IMAGE_FILENAME"
	ImageNameEnv        = "CI_IMAGE_NAME"
	BranchEnv           = "CI_BRANCH"
	JobNameEnv          = "CI_JOB_NAME"
	RefEnv              = "CI_REF"
	DefaultBranchEnv    = "CI_DEFAULT_BRANCH"
	CommitHashEnv       = "CI_COMMIT_HASH"
	EarlierCommitEnv    = "CI_EARLIER_COMMIT"
	OriginEnv           = "CI_ORIGIN"
	TrustedEnv          = "CI_TRUSTED"
	CacheOptionsEnv     = "CI_CACHE_OPTIONS"
	SecretsEnv          = "CI_SECRETS"
	CacheRootEnv        = "CI_CACHE_ROOT"
	ContainerRuntimeEnv = "CI_CONTAINER_RUNTIME"
)

const (
	DefaultCacheRoot        = "/executor_cache"
	DefaultContainerRuntime = "podman"
)

type (
	// Environment is everything the agent needs to know about the job it
	// runs.
	Environment struct {
		ImageFilename string
		ImageName     string
		Branch        string
		JobName       string
		Ref           string
		DefaultBranch string
		CommitHash    string
		EarlierCommit string
		Origin        string
		Trusted       bool
		// CacheOptions is the job's cache configuration as JSON. It is
		// parsed as part of the run so that errors are reported to the
		// coordinator.
		CacheOptions string
		Secrets      []Secret

		CacheRoot        string
		ContainerRuntime string
	}

	// Secret is passed to the build container as an environment variable.
	Secret struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
)

// LoadEnvironment reads the environment from the process environment.
func LoadEnvironment() (*Environment, error) {
	return loadEnvironment(os.LookupEnv)
}

func loadEnvironment(lookup func(string) (string, bool)) (*Environment, error) {
	var missing []string
	required := func(name string) string {
		v, ok := lookup(name)
		if !ok {
			missing = append(missing, name)
		}
		return v
	}
	optional := func(name, def string) string {
		if v, ok := lookup(name); ok && v != "" {
			return v
		}
		return def
	}

	env := &Environment{
		ImageFilename:    required(ImageFilenameEnv),
		ImageName:        required(ImageNameEnv),
		Branch:           required(BranchEnv),
		JobName:          required(JobNameEnv),
		Ref:              required(RefEnv),
		DefaultBranch:    required(DefaultBranchEnv),
		CommitHash:       required(CommitHashEnv),
		EarlierCommit:    required(EarlierCommitEnv),
		Origin:           required(OriginEnv),
		CacheOptions:     required(CacheOptionsEnv),
		CacheRoot:        optional(CacheRootEnv, DefaultCacheRoot),
		ContainerRuntime: optional(ContainerRuntimeEnv, DefaultContainerRuntime),
	}
	trusted := required(TrustedEnv)
	secrets := required(SecretsEnv)
	if len(missing) > 0 {
		return nil, &internal.MissingParameterError{Parameter: strings.Join(missing, ", ")}
	}

	var err error
	if env.Trusted, err = strconv.ParseBool(trusted); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", TrustedEnv, err)
	}
	if secrets != "" {
		if err := json.Unmarshal([]byte(secrets), &env.Secrets); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", SecretsEnv, err)
		}
	}
	for _, s := range env.Secrets {
		if s.Name == "" || strings.ContainsAny(s.Name, "= ") {
			return nil, fmt.Errorf("invalid secret name: %q", s.Name)
		}
	}
	return env, nil
}

// LogValue omits secret values.
func (e *Environment) LogValue() slog.Value {
	names := make([]string, len(e.Secrets))
	for i, s := range e.Secrets {
		names[i] = s.Name
	}
	return slog.GroupValue(
		slog.String("job", e.JobName),
		slog.String("branch", e.Branch),
		slog.String("ref", e.Ref),
		slog.String("commit", e.CommitHash),
		slog.String("image", e.ImageName),
		slog.Bool("trusted", e.Trusted),
		slog.Any("secrets", names),
	)
}
