package coordinator

import (
	"context"
	"time"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/fleet"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/logr"
)

// By default check for expired output every hour
var purgerDefaultCheckInterval = time.Hour

type (
	// Purger deletes the output of jobs that finished longer ago than the
	// retention period.
	Purger struct {
		logr.Logger

		OverrideCheckInterval time.Duration
		Retention             time.Duration
		Client                purgerClient

		now func() time.Time
	}

	purgerClient interface {
		ListPurgeable(ctx context.Context, cutoff time.Time) ([]fleet.JobID, error)
		Purge(ctx context.Context, job fleet.JobID) error
	}
)

// NewPurger returns a purger removing output through the coordinator, so
// that cached output is dropped too.
func (c *Coordinator) NewPurger() *Purger {
	return &Purger{
		Logger:    c.logger.WithValues("component", "purger"),
		Retention: c.config.OutputRetention,
		Client:    c.output,
		now:       c.now,
	}
}

// Start the purger daemon.
func (p *Purger) Start(ctx context.Context) error {
	interval := purgerDefaultCheckInterval
	if p.OverrideCheckInterval != 0 {
		interval = p.OverrideCheckInterval
	}

	if err := p.purge(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.purge(ctx); err != nil {
				return err
			}
		}
	}
}

func (p *Purger) purge(ctx context.Context) error {
	// Refuse to purge anything if retention is set to 0.
	if p.Retention == 0 {
		return nil
	}
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	cutoff := now().Add(-p.Retention)
	jobs, err := p.Client.ListPurgeable(ctx, cutoff)
	if err != nil {
		p.Error(err, "retrieving jobs with expired output")
		return err
	}
	for _, job := range jobs {
		if err := p.Client.Purge(ctx, job); err != nil {
			p.Error(err, "purging job output", "job", job.String())
			return err
		}
		p.V(1).Info("purged job output", "job", job.String())
	}
	return nil
}
