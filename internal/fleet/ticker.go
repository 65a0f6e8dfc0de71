package fleet

import (
	"context"
	"fmt"
	"time"
)

// JobsChannel is notified whenever a CI job is created.
const JobsChannel = "ci_jobs"

// Start runs the scheduler until the context is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	interval := DefaultTickInterval
	if s.config.TickInterval != 0 {
		interval = s.config.TickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var created <-chan string
	if s.listener != nil {
		ch, err := s.listener.Listen(ctx, JobsChannel)
		if err != nil {
			return fmt.Errorf("listening for new jobs: %w", err)
		}
		created = ch
	}

	var recheck <-chan time.Time
	for {
		if err := s.Tick(ctx); err != nil {
			s.logger.Error(err, "scheduling run")
		}
		if s.newServersAdded {
			// new instances are checked sooner than the next tick
			recheck = time.After(s.config.StatusCheckInterval)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-recheck:
			recheck = nil
		case _, ok := <-created:
			if !ok {
				// the listener has failed; restart to resubscribe
				return fmt.Errorf("job notifications closed")
			}
		}
	}
}

// Tick performs one scheduling run. Failures of individual steps are
// logged and the remaining steps still run.
func (s *Scheduler) Tick(ctx context.Context) error {
	jobs, err := s.store.ListJobs(ctx, JobStarting, JobWaitingForServer)
	if err != nil {
		return err
	}
	if len(jobs) > 0 {
		readyNow, err := s.HandleCIJobs(ctx, jobs)
		if err != nil {
			s.logger.Error(err, "handling ci jobs")
		}
		s.logger.V(2).Info("handled ci jobs", "jobs", len(jobs), "ready_now", readyNow, "new_servers", s.newServersAdded)
	} else {
		s.newServersAdded = false
	}
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"checking server statuses", s.CheckServerStatuses},
		{"releasing stale reservations", s.ReleaseStaleReservations},
		{"shutting down idle servers", s.ShutdownIdleServers},
		{"starting ready jobs", s.StartReadyJobs},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			s.logger.Error(err, step.name)
		}
	}
	return s.updateMetrics(ctx)
}

func (s *Scheduler) updateMetrics(ctx context.Context) error {
	servers, err := s.store.ListServers(ctx)
	if err != nil {
		return err
	}
	waiting, err := s.store.ListJobs(ctx, JobWaitingForServer)
	if err != nil {
		return err
	}
	recordMetrics(servers, len(waiting))
	return nil
}
