package fleet

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/logr"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu        sync.Mutex
	servers   map[int64]*Server
	jobs      map[JobID]*CIJob
	lastID    int64
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		servers: make(map[int64]*Server),
		jobs:    make(map[JobID]*CIJob),
	}
}

func cloneServer(s *Server) *Server {
	c := *s
	if s.ReservedFor != nil {
		id := *s.ReservedFor
		c.ReservedFor = &id
	}
	return &c
}

func cloneJob(j *CIJob) *CIJob {
	c := *j
	return &c
}

func (f *fakeStore) addServer(server Server) *Server {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastID++
	server.ID = f.lastID
	if server.ReservationType == "" {
		server.ReservationType = ReservationNone
	}
	f.servers[server.ID] = cloneServer(&server)
	return &server
}

func (f *fakeStore) addJob(job CIJob) *CIJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = cloneJob(&job)
	return &job
}

func (f *fakeStore) server(id int64) *Server {
	f.mu.Lock()
	defer f.mu.Unlock()
	server, ok := f.servers[id]
	if !ok {
		return nil
	}
	return cloneServer(server)
}

func (f *fakeStore) job(id JobID) *CIJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneJob(f.jobs[id])
}

func (f *fakeStore) ListServers(context.Context) ([]*Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	servers := make([]*Server, 0, len(f.servers))
	for _, s := range f.servers {
		servers = append(servers, cloneServer(s))
	}
	slices.SortFunc(servers, func(a, b *Server) int { return int(a.ID - b.ID) })
	return servers, nil
}

func (f *fakeStore) CreateServer(_ context.Context, server *Server) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.lastID++
	server.ID = f.lastID
	f.servers[server.ID] = cloneServer(server)
	return nil
}

func (f *fakeStore) UpdateServer(_ context.Context, id int64, fn func(*Server) error) (*Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.servers[id]
	if !ok {
		return nil, internal.ErrResourceNotFound
	}
	server := cloneServer(existing)
	if err := fn(server); err != nil {
		return nil, err
	}
	f.servers[id] = cloneServer(server)
	return server, nil
}

func (f *fakeStore) DeleteServer(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.servers[id]; !ok {
		return internal.ErrResourceNotFound
	}
	delete(f.servers, id)
	return nil
}

func (f *fakeStore) ListJobs(_ context.Context, states ...JobState) ([]*CIJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var jobs []*CIJob
	for _, j := range f.jobs {
		if slices.Contains(states, j.State) {
			jobs = append(jobs, cloneJob(j))
		}
	}
	slices.SortFunc(jobs, func(a, b *CIJob) int { return int(a.ID.Job - b.ID.Job) })
	return jobs, nil
}

func (f *fakeStore) GetJob(_ context.Context, id JobID) (*CIJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, internal.ErrResourceNotFound
	}
	return cloneJob(job), nil
}

func (f *fakeStore) UpdateJob(_ context.Context, id JobID, fn func(*CIJob) error) (*CIJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.jobs[id]
	if !ok {
		return nil, internal.ErrResourceNotFound
	}
	job := cloneJob(existing)
	if err := fn(job); err != nil {
		return nil, err
	}
	f.jobs[id] = cloneJob(job)
	return job, nil
}

type fakeProvider struct {
	mu         sync.Mutex
	configured bool
	instances  map[string]InstanceStatus
	launched   []string
	resumed    []string
	stopped    []string
	deleted    []string
	hibernated bool
	launchErr  error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{configured: true, instances: make(map[string]InstanceStatus)}
}

func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) LaunchInstance(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launchErr != nil {
		return "", f.launchErr
	}
	id := fmt.Sprintf("instance-%d", len(f.launched)+1)
	f.instances[id] = InstanceStatus{ID: id, State: InstancePending}
	f.launched = append(f.launched, id)
	return id, nil
}

func (f *fakeProvider) ResumeInstance(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[id] = InstanceStatus{ID: id, State: InstancePending}
	f.resumed = append(f.resumed, id)
	return nil
}

func (f *fakeProvider) StopInstance(_ context.Context, id string, hibernate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[id] = InstanceStatus{ID: id, State: InstanceStopping}
	f.stopped = append(f.stopped, id)
	f.hibernated = hibernate
	return nil
}

func (f *fakeProvider) DeleteInstance(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.instances, id)
	f.deleted = append(f.deleted, id)
	return nil
}

// remove makes an instance vanish without the scheduler asking for it.
func (f *fakeProvider) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.instances, id)
}

func (f *fakeProvider) GetInstanceStatuses(_ context.Context, ids []string) ([]InstanceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var statuses []InstanceStatus
	for _, id := range ids {
		if status, ok := f.instances[id]; ok {
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

func (f *fakeProvider) set(id string, state InstanceState, address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[id] = InstanceStatus{ID: id, State: state, Address: address}
}

type launch struct {
	server int64
	job    JobID
	url    string
}

type fakeLauncher struct {
	mu       sync.Mutex
	launches []launch
	err      error
}

func (f *fakeLauncher) LaunchAgent(_ context.Context, server *Server, job *CIJob, connectURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.launches = append(f.launches, launch{server: server.ID, job: job.ID, url: connectURL})
	return nil
}

type fakeProvisioner struct {
	provisioned []string
}

func (f *fakeProvisioner) Provision(_ context.Context, server *Server) error {
	f.provisioned = append(f.provisioned, server.PublicAddress)
	return nil
}

type testScheduler struct {
	*Scheduler
	store       *fakeStore
	provider    *fakeProvider
	launcher    *fakeLauncher
	provisioner *fakeProvisioner
	clock       time.Time
}

func newTestScheduler(configure func(*Config)) *testScheduler {
	cfg := NewDefaultConfig()
	cfg.ConnectBaseURL = "https://ci.example.com"
	if configure != nil {
		configure(cfg)
	}
	ts := &testScheduler{
		store:       newFakeStore(),
		provider:    newFakeProvider(),
		launcher:    &fakeLauncher{},
		provisioner: &fakeProvisioner{},
		clock:       testNow,
	}
	ts.Scheduler = NewScheduler(logr.Discard(), Options{
		Config:      *cfg,
		Store:       ts.store,
		Provider:    ts.provider,
		Launcher:    ts.launcher,
		Provisioner: ts.provisioner,
	})
	ts.now = func() time.Time { return ts.clock }
	ts.newToken = func() string { return "secret-key" }
	return ts
}

func (ts *testScheduler) advance(d time.Duration) {
	ts.clock = ts.clock.Add(d)
}

func testJob(job int64, state JobState) CIJob {
	return CIJob{
		ID:        JobID{Project: 1, Build: 2, Job: job},
		JobName:   fmt.Sprintf("job-%d", job),
		State:     state,
		CreatedAt: testNow,
	}
}
