package fleet

import (
	"context"
)

// Store persists servers and jobs. It is the sole source of truth for each
// scheduling run.
type Store interface {
	ListServers(ctx context.Context) ([]*Server, error)
	// CreateServer inserts the server and sets its ID.
	CreateServer(ctx context.Context, server *Server) error
	// UpdateServer reads the server, applies fn and persists the result
	// within one transaction.
	UpdateServer(ctx context.Context, id int64, fn func(*Server) error) (*Server, error)
	DeleteServer(ctx context.Context, id int64) error

	ListJobs(ctx context.Context, states ...JobState) ([]*CIJob, error)
	GetJob(ctx context.Context, id JobID) (*CIJob, error)
	UpdateJob(ctx context.Context, id JobID, fn func(*CIJob) error) (*CIJob, error)
}
