package fleet

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	ErrInvalidServerStatusTransition = errors.New("invalid server status transition")
	ErrServerReserved                = errors.New("server is reserved for another job")
	ErrServerNotRunning              = errors.New("server is not running")
	ErrProviderNotConfigured         = errors.New("cloud provider is not configured")
)

type (
	ServerKind      string
	ServerStatus    string
	ReservationType string
)

const (
	// Controlled servers are cloud instances started and stopped by the
	// scheduler.
	Controlled ServerKind = "controlled"
	// External servers are supplied by an operator and are always on.
	External ServerKind = "external"

	Provisioning      ServerStatus = "provisioning"
	WaitingForStartup ServerStatus = "waiting_for_startup"
	Running           ServerStatus = "running"
	Stopping          ServerStatus = "stopping"
	Stopped           ServerStatus = "stopped"

	ReservationNone  ReservationType = "none"
	ReservationCIJob ReservationType = "ci_job"
)

// Server is a machine CI jobs run on.
type Server struct {
	ID     int64
	Kind   ServerKind
	Status ServerStatus

	ReservationType ReservationType
	// ReservedFor is set if and only if ReservationType is
	// ReservationCIJob.
	ReservedFor *JobID

	// InstanceID identifies a controlled server with the cloud provider.
	InstanceID string
	// PublicAddress is the address the server is reached at over SSH.
	PublicAddress string
	// SSHKeyFile is the private key used to log in to an external server.
	SSHKeyFile string
	// Priority orders external servers; higher is preferred.
	Priority int
	// ProvisionedFully is set once a controlled server has had the build
	// tooling installed.
	ProvisionedFully bool

	StatusLastChecked time.Time
	// UpdatedAt is the start of the server's idle period when it is not
	// reserved.
	UpdatedAt time.Time
	CreatedAt time.Time
}

func (s *Server) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("id", s.ID),
		slog.String("kind", string(s.Kind)),
		slog.String("status", string(s.Status)),
	}
	if s.InstanceID != "" {
		attrs = append(attrs, slog.String("instance_id", s.InstanceID))
	}
	if s.ReservedFor != nil {
		attrs = append(attrs, slog.String("reserved_for", s.ReservedFor.String()))
	}
	return slog.GroupValue(attrs...)
}

// Reserved reports whether the server is reserved for a job.
func (s *Server) Reserved() bool {
	return s.ReservationType == ReservationCIJob
}

// Reserve binds the server to a job.
func (s *Server) Reserve(job JobID, now time.Time) error {
	if s.Reserved() && *s.ReservedFor != job {
		return fmt.Errorf("%w: %s", ErrServerReserved, s.ReservedFor)
	}
	s.ReservationType = ReservationCIJob
	s.ReservedFor = &job
	s.UpdatedAt = now
	return nil
}

// Release frees the server, starting its idle period.
func (s *Server) Release(now time.Time) {
	s.ReservationType = ReservationNone
	s.ReservedFor = nil
	s.UpdatedAt = now
}

// IsReservedFor reports whether the server is reserved for the job.
func (s *Server) IsReservedFor(job JobID) bool {
	return s.Reserved() && s.ReservedFor != nil && *s.ReservedFor == job
}

func (s *Server) updateStatus(to ServerStatus, now time.Time) error {
	var isValid bool
	switch s.Status {
	case Provisioning:
		switch to {
		case WaitingForStartup, Running, Stopping:
			isValid = true
		}
	case WaitingForStartup:
		switch to {
		case Running, Stopping:
			isValid = true
		}
	case Running:
		switch to {
		case Stopping:
			isValid = true
		}
	case Stopping:
		switch to {
		case Stopped:
			isValid = true
		}
	case Stopped:
		switch to {
		case WaitingForStartup:
			isValid = true
		}
	}
	if !isValid {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidServerStatusTransition, s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = now
	return nil
}
