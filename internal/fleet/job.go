package fleet

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidJobStateTransition = errors.New("invalid job state transition")
	ErrMalformedJobID            = errors.New("malformed job id")
)

type JobState string

const (
	JobStarting         JobState = "starting"
	JobWaitingForServer JobState = "waiting_for_server"
	JobRunning          JobState = "running"
	JobFinished         JobState = "finished"
)

// JobID identifies a CI job within a build of a project.
type JobID struct {
	Project int64
	Build   int64
	Job     int64
}

func (id JobID) String() string {
	return fmt.Sprintf("%d/%d/%d", id.Project, id.Build, id.Job)
}

// ParseJobID parses the form produced by JobID.String.
func ParseJobID(s string) (JobID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return JobID{}, fmt.Errorf("%w: %q", ErrMalformedJobID, s)
	}
	var nums [3]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return JobID{}, fmt.Errorf("%w: %q", ErrMalformedJobID, s)
		}
		nums[i] = n
	}
	return JobID{Project: nums[0], Build: nums[1], Job: nums[2]}, nil
}

// CIJob is a job of a build waiting for, or running on, a server.
type CIJob struct {
	ID JobID

	JobName       string
	Image         string
	ImageFilename string
	// CacheSettingsJSON is passed through to the agent unparsed.
	CacheSettingsJSON string
	Branch            string
	Ref               string
	DefaultBranch     string
	CommitHash        string
	PreviousCommit    string
	Origin            string
	Trusted           bool
	SecretsJSON       string

	State        JobState
	Succeeded    bool
	OutputPurged bool
	// ConnectKey must be presented by the agent when connecting.
	ConnectKey      string
	RunningOnServer *int64

	CreatedAt  time.Time
	FinishedAt *time.Time
}

func (j *CIJob) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", j.ID.String()),
		slog.String("name", j.JobName),
		slog.String("state", string(j.State)),
	)
}

// waitForServer marks the job as having been seen by the scheduler.
func (j *CIJob) waitForServer() error {
	if j.State == JobWaitingForServer {
		return nil
	}
	return j.updateState(JobWaitingForServer)
}

// start marks the job as running on a server with the given connect key.
func (j *CIJob) start(serverID int64, key string) error {
	if err := j.updateState(JobRunning); err != nil {
		return err
	}
	j.RunningOnServer = &serverID
	j.ConnectKey = key
	return nil
}

// revertStart puts a job whose agent failed to launch back into the queue.
func (j *CIJob) revertStart() error {
	if j.State != JobRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidJobStateTransition, j.State, JobWaitingForServer)
	}
	j.State = JobWaitingForServer
	j.RunningOnServer = nil
	j.ConnectKey = ""
	return nil
}

// Finish records the outcome of the job.
func (j *CIJob) Finish(succeeded bool, now time.Time) error {
	if err := j.updateState(JobFinished); err != nil {
		return err
	}
	j.Succeeded = succeeded
	j.FinishedAt = &now
	return nil
}

func (j *CIJob) updateState(to JobState) error {
	var isValid bool
	switch j.State {
	case JobStarting:
		switch to {
		case JobWaitingForServer, JobFinished:
			isValid = true
		}
	case JobWaitingForServer:
		switch to {
		case JobRunning, JobFinished:
			isValid = true
		}
	case JobRunning:
		switch to {
		case JobFinished:
			isValid = true
		}
	}
	if !isValid {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidJobStateTransition, j.State, to)
	}
	j.State = to
	return nil
}
