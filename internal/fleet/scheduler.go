package fleet

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/logr"
)

// Scheduler matches CI jobs to servers and manages the lifecycle of
// controlled servers. Only one scheduling run may execute at a time.
type Scheduler struct {
	logger      logr.Logger
	config      Config
	store       Store
	provider    Provider
	launcher    AgentLauncher
	provisioner Provisioner
	listener    Listener

	now      func() time.Time
	newToken func() string

	// set by the last call to HandleCIJobs
	newServersAdded bool
}

type Options struct {
	Config
	Store    Store
	Launcher AgentLauncher
	// Provider is optional; without one only external servers are used.
	Provider    Provider
	Provisioner Provisioner
	// Listener is optional; with one, newly created jobs are scheduled
	// without waiting for the next tick.
	Listener Listener
}

// Listener subscribes to notifications sent on a channel.
type Listener interface {
	Listen(ctx context.Context, channel string) (<-chan string, error)
}

func NewScheduler(logger logr.Logger, opts Options) *Scheduler {
	s := &Scheduler{
		logger:      logger.WithValues("component", "scheduler"),
		config:      opts.Config,
		store:       opts.Store,
		provider:    opts.Provider,
		launcher:    opts.Launcher,
		provisioner: opts.Provisioner,
		listener:    opts.Listener,
		now:         internal.CurrentTimestamp,
		newToken:    internal.GenerateToken,
	}
	if s.provider == nil {
		s.provider = unconfiguredProvider{}
	}
	return s
}

// NewServersAdded reports whether the last call to HandleCIJobs launched
// any instances.
func (s *Scheduler) NewServersAdded() bool {
	return s.newServersAdded
}

// HandleCIJobs finds a server for each job. It returns true if any job was
// assigned a server that is already running.
func (s *Scheduler) HandleCIJobs(ctx context.Context, jobs []*CIJob) (bool, error) {
	view, err := loadFleetView(ctx, s.store)
	if err != nil {
		return false, err
	}
	var readyNow bool
	for _, job := range jobs {
		if job.State == JobStarting {
			updated, err := s.store.UpdateJob(ctx, job.ID, func(job *CIJob) error {
				return job.waitForServer()
			})
			if err != nil {
				s.logger.Error(err, "marking job as waiting for server", "job", job)
				continue
			}
			job = updated
		}
		if job.State != JobWaitingForServer {
			continue
		}
		ready, err := s.assign(ctx, view, job)
		if err != nil {
			s.logger.Error(err, "assigning server to job", "job", job)
			continue
		}
		readyNow = readyNow || ready
	}
	s.newServersAdded = view.newServersAdded
	return readyNow, nil
}

func (s *Scheduler) assign(ctx context.Context, view *fleetView, job *CIJob) (bool, error) {
	if server := view.reservedFor(job.ID); server != nil {
		s.logger.V(9).Info("job already has a server", "job", job, "server", server)
		return false, nil
	}
	if server := view.bestExternal(); server != nil {
		return true, s.reserve(ctx, view, server, job)
	}
	if server := view.idleControlled(); server != nil {
		return true, s.reserve(ctx, view, server, job)
	}
	if !s.provider.Configured() {
		s.logger.V(2).Info("no server available", "job", job)
		return false, nil
	}
	if server := view.resumable(); server != nil {
		return false, s.resume(ctx, view, server, job)
	}
	if view.controlledCount() >= s.config.MaxControlledServers {
		s.logger.V(2).Info("maximum number of controlled servers reached", "job", job, "max", s.config.MaxControlledServers)
		return false, nil
	}
	return false, s.launch(ctx, view, job)
}

func (s *Scheduler) reserve(ctx context.Context, view *fleetView, server *Server, job *CIJob) error {
	updated, err := s.store.UpdateServer(ctx, server.ID, func(server *Server) error {
		if server.Status != Running {
			return ErrServerNotRunning
		}
		return server.Reserve(job.ID, s.now())
	})
	if err != nil {
		return fmt.Errorf("reserving server %d: %w", server.ID, err)
	}
	view.replace(updated)
	s.logger.V(1).Info("reserved server", "job", job, "server", updated)
	return nil
}

func (s *Scheduler) resume(ctx context.Context, view *fleetView, server *Server, job *CIJob) error {
	pctx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	defer cancel()
	if err := s.provider.ResumeInstance(pctx, server.InstanceID); err != nil {
		return fmt.Errorf("resuming instance %s: %w", server.InstanceID, err)
	}
	updated, err := s.store.UpdateServer(ctx, server.ID, func(server *Server) error {
		now := s.now()
		if err := server.updateStatus(WaitingForStartup, now); err != nil {
			return err
		}
		server.StatusLastChecked = now
		return server.Reserve(job.ID, now)
	})
	if err != nil {
		return fmt.Errorf("updating resumed server %d: %w", server.ID, err)
	}
	view.replace(updated)
	s.logger.Info("resumed server", "job", job, "server", updated)
	return nil
}

func (s *Scheduler) launch(ctx context.Context, view *fleetView, job *CIJob) error {
	pctx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	defer cancel()
	id, err := s.provider.LaunchInstance(pctx)
	if err != nil {
		return fmt.Errorf("launching instance: %w", err)
	}
	instancesLaunchedMetric.Inc()

	now := s.now()
	server := &Server{
		Kind:              Controlled,
		Status:            Provisioning,
		ReservationType:   ReservationNone,
		InstanceID:        id,
		StatusLastChecked: now,
		UpdatedAt:         now,
		CreatedAt:         now,
	}
	if err := server.Reserve(job.ID, now); err != nil {
		return err
	}
	if err := s.store.CreateServer(ctx, server); err != nil {
		// an instance the store does not know about would never be stopped
		dctx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
		defer cancel()
		if deleteErr := s.provider.DeleteInstance(dctx, id); deleteErr != nil {
			s.logger.Error(deleteErr, "deleting unrecorded instance", "instance_id", id)
		}
		return fmt.Errorf("recording launched instance %s: %w", id, err)
	}
	view.add(server)
	s.logger.Info("launched server", "job", job, "server", server)
	return nil
}

// CheckServerStatuses polls the provider for controlled servers that are
// starting up or stopping and advances their status.
func (s *Scheduler) CheckServerStatuses(ctx context.Context) error {
	if !s.provider.Configured() {
		return nil
	}
	servers, err := s.store.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("listing servers: %w", err)
	}
	now := s.now()
	var (
		pending []*Server
		ids     []string
	)
	for _, server := range servers {
		if server.Kind != Controlled {
			continue
		}
		switch server.Status {
		case Provisioning, WaitingForStartup, Stopping:
		default:
			continue
		}
		if now.Sub(server.StatusLastChecked) < s.config.StatusCheckInterval {
			continue
		}
		pending = append(pending, server)
		ids = append(ids, server.InstanceID)
	}
	if len(pending) == 0 {
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	statuses, err := s.provider.GetInstanceStatuses(pctx, ids)
	cancel()
	if err != nil {
		return fmt.Errorf("retrieving instance statuses: %w", err)
	}
	byID := make(map[string]InstanceStatus, len(statuses))
	for _, status := range statuses {
		byID[status.ID] = status
	}
	for _, server := range pending {
		status, ok := byID[server.InstanceID]
		if err := s.advance(ctx, server, status, ok); err != nil {
			s.logger.Error(err, "updating server status", "server", server)
		}
	}
	return nil
}

func (s *Scheduler) advance(ctx context.Context, server *Server, status InstanceStatus, found bool) error {
	var (
		to          ServerStatus
		provisioned = server.ProvisionedFully
	)
	switch {
	case !found:
		s.logger.Info("instance no longer exists", "server", server)
		return s.forget(ctx, server, false)
	case status.State == InstanceTerminated:
		s.logger.Info("instance was terminated", "server", server)
		return s.forget(ctx, server, true)
	case server.Status == Stopping && status.halted():
		to = Stopped
	case server.Status != Stopping && status.State == InstanceRunning:
		if !server.ProvisionedFully {
			if err := s.provision(ctx, server, status.Address); err != nil {
				s.logger.Error(err, "provisioning server", "server", server)
				break
			}
			provisioned = true
		}
		to = Running
	}

	updated, err := s.store.UpdateServer(ctx, server.ID, func(server *Server) error {
		now := s.now()
		server.StatusLastChecked = now
		if found && status.Address != "" {
			server.PublicAddress = status.Address
		}
		server.ProvisionedFully = provisioned
		if to == "" || to == server.Status {
			return nil
		}
		return server.updateStatus(to, now)
	})
	if err != nil {
		return err
	}
	if to != "" {
		s.logger.V(1).Info("server status changed", "server", updated)
	}
	return nil
}

// forget removes a server whose instance is gone, along with any
// reservation it holds, so that its job is given another server and the
// slot counts towards the ceiling no longer.
func (s *Scheduler) forget(ctx context.Context, server *Server, deleteInstance bool) error {
	if deleteInstance {
		pctx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
		defer cancel()
		if err := s.provider.DeleteInstance(pctx, server.InstanceID); err != nil {
			return fmt.Errorf("deleting instance %s: %w", server.InstanceID, err)
		}
	}
	if err := s.store.DeleteServer(ctx, server.ID); err != nil {
		return fmt.Errorf("deleting server %d: %w", server.ID, err)
	}
	s.logger.Info("removed server", "server", server)
	return nil
}

func (s *Scheduler) provision(ctx context.Context, server *Server, address string) error {
	if s.provisioner == nil {
		return nil
	}
	target := *server
	target.PublicAddress = address
	pctx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	defer cancel()
	return s.provisioner.Provision(pctx, &target)
}

// ShutdownIdleServers stops controlled servers that have been running
// without a job for longer than the idle timeout. External servers are
// never stopped.
func (s *Scheduler) ShutdownIdleServers(ctx context.Context) error {
	if !s.provider.Configured() {
		return nil
	}
	servers, err := s.store.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("listing servers: %w", err)
	}
	now := s.now()
	for _, server := range servers {
		if server.Kind != Controlled || server.Status != Running || server.Reserved() {
			continue
		}
		if now.Sub(server.UpdatedAt) < s.config.IdleTimeout {
			continue
		}
		if err := s.stop(ctx, server); err != nil {
			s.logger.Error(err, "stopping idle server", "server", server)
		}
	}
	return nil
}

func (s *Scheduler) stop(ctx context.Context, server *Server) error {
	pctx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	defer cancel()
	if err := s.provider.StopInstance(pctx, server.InstanceID, s.config.Hibernate); err != nil {
		return fmt.Errorf("stopping instance %s: %w", server.InstanceID, err)
	}
	updated, err := s.store.UpdateServer(ctx, server.ID, func(server *Server) error {
		return server.updateStatus(Stopping, s.now())
	})
	if err != nil {
		return err
	}
	s.logger.Info("stopping idle server", "server", updated, "hibernate", s.config.Hibernate)
	return nil
}

// StartReadyJobs launches the agent for each waiting job whose reserved
// server is running.
func (s *Scheduler) StartReadyJobs(ctx context.Context) error {
	jobs, err := s.store.ListJobs(ctx, JobWaitingForServer)
	if err != nil {
		return fmt.Errorf("listing waiting jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}
	view, err := loadFleetView(ctx, s.store)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		server := view.reservedFor(job.ID)
		if server == nil || server.Status != Running {
			continue
		}
		if err := s.startJob(ctx, server, job); err != nil {
			s.logger.Error(err, "starting job", "job", job, "server", server)
		}
	}
	return nil
}

func (s *Scheduler) startJob(ctx context.Context, server *Server, job *CIJob) error {
	key := s.newToken()
	job, err := s.store.UpdateJob(ctx, job.ID, func(job *CIJob) error {
		return job.start(server.ID, key)
	})
	if err != nil {
		return err
	}
	connectURL, err := s.connectURL(job.ID, key)
	if err != nil {
		return err
	}

	lctx, cancel := context.WithTimeout(ctx, s.config.LaunchTimeout)
	defer cancel()
	if err := s.launcher.LaunchAgent(lctx, server, job, connectURL); err != nil {
		// leave the reservation in place and try again next run
		_, revertErr := s.store.UpdateJob(ctx, job.ID, func(job *CIJob) error {
			return job.revertStart()
		})
		return errors.Join(fmt.Errorf("launching agent: %w", err), revertErr)
	}
	s.logger.Info("started job", "job", job, "server", server)
	return nil
}

func (s *Scheduler) connectURL(id JobID, key string) (string, error) {
	u, err := url.Parse(s.config.ConnectBaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing connect url: %w", err)
	}
	u = u.JoinPath("ci", "connect", fmt.Sprint(id.Project), fmt.Sprint(id.Build), fmt.Sprint(id.Job))
	u.RawQuery = url.Values{"key": {key}}.Encode()
	return u.String(), nil
}

// ReleaseStaleReservations frees servers still reserved for jobs that have
// finished or no longer exist.
func (s *Scheduler) ReleaseStaleReservations(ctx context.Context) error {
	servers, err := s.store.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("listing servers: %w", err)
	}
	for _, server := range servers {
		if !server.Reserved() {
			continue
		}
		job, err := s.store.GetJob(ctx, *server.ReservedFor)
		switch {
		case errors.Is(err, internal.ErrResourceNotFound):
		case err != nil:
			s.logger.Error(err, "retrieving job for reserved server", "server", server)
			continue
		case job.State != JobFinished:
			continue
		}
		reservedFor := *server.ReservedFor
		_, err = s.store.UpdateServer(ctx, server.ID, func(server *Server) error {
			if server.IsReservedFor(reservedFor) {
				server.Release(s.now())
			}
			return nil
		})
		if err != nil {
			s.logger.Error(err, "releasing server", "server", server)
			continue
		}
		s.logger.Info("released stale reservation", "server", server, "job", reservedFor.String())
	}
	return nil
}
