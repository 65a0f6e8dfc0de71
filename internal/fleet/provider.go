package fleet

import (
	"context"
)

type InstanceState string

const (
	InstancePending    InstanceState = "pending"
	InstanceRunning    InstanceState = "running"
	InstanceStopping   InstanceState = "stopping"
	InstanceStopped    InstanceState = "stopped"
	InstanceSuspended  InstanceState = "suspended"
	InstanceTerminated InstanceState = "terminated"
)

// InstanceStatus is the state of a cloud instance as reported by the
// provider.
type InstanceStatus struct {
	ID      string
	State   InstanceState
	Address string
}

// halted reports whether the instance is no longer running and is not about
// to.
func (s InstanceStatus) halted() bool {
	switch s.State {
	case InstanceStopped, InstanceSuspended, InstanceTerminated:
		return true
	}
	return false
}

type (
	// Provider manages the lifecycle of cloud instances backing controlled
	// servers.
	Provider interface {
		// Configured is false when no cloud integration is set up, in which
		// case only external servers are used.
		Configured() bool
		LaunchInstance(ctx context.Context) (string, error)
		ResumeInstance(ctx context.Context, id string) error
		StopInstance(ctx context.Context, id string, hibernate bool) error
		// DeleteInstance destroys the instance. Deleting an instance that
		// no longer exists is not an error.
		DeleteInstance(ctx context.Context, id string) error
		GetInstanceStatuses(ctx context.Context, ids []string) ([]InstanceStatus, error)
	}

	// AgentLauncher starts the build agent for a job on a server.
	AgentLauncher interface {
		LaunchAgent(ctx context.Context, server *Server, job *CIJob, connectURL string) error
	}

	// Provisioner installs the build tooling on a freshly launched
	// controlled server.
	Provisioner interface {
		Provision(ctx context.Context, server *Server) error
	}
)

// unconfiguredProvider is used when no cloud integration is set up.
type unconfiguredProvider struct{}

func (unconfiguredProvider) Configured() bool { return false }

func (unconfiguredProvider) LaunchInstance(context.Context) (string, error) {
	return "", ErrProviderNotConfigured
}

func (unconfiguredProvider) ResumeInstance(context.Context, string) error {
	return ErrProviderNotConfigured
}

func (unconfiguredProvider) StopInstance(context.Context, string, bool) error {
	return ErrProviderNotConfigured
}

func (unconfiguredProvider) DeleteInstance(context.Context, string) error {
	return ErrProviderNotConfigured
}

func (unconfiguredProvider) GetInstanceStatuses(context.Context, []string) ([]InstanceStatus, error) {
	return nil, ErrProviderNotConfigured
}
