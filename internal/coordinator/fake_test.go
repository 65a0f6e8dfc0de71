package coordinator

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/fleet"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/logr"
	"github.com/gorilla/mux"
)

var (
	testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	testJob = fleet.JobID{Project: 1, Build: 2, Job: 3}
)

type fakeJobs struct {
	mu      sync.Mutex
	jobs    map[fleet.JobID]*fleet.CIJob
	servers map[int64]*fleet.Server
}

func (f *fakeJobs) GetJob(ctx context.Context, id fleet.JobID) (*fleet.CIJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, internal.ErrResourceNotFound
	}
	c := *job
	return &c, nil
}

func (f *fakeJobs) UpdateJob(ctx context.Context, id fleet.JobID, fn func(*fleet.CIJob) error) (*fleet.CIJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, internal.ErrResourceNotFound
	}
	c := *job
	if err := fn(&c); err != nil {
		return nil, err
	}
	f.jobs[id] = &c
	return &c, nil
}

func (f *fakeJobs) UpdateServer(ctx context.Context, id int64, fn func(*fleet.Server) error) (*fleet.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	server, ok := f.servers[id]
	if !ok {
		return nil, internal.ErrResourceNotFound
	}
	c := *server
	if err := fn(&c); err != nil {
		return nil, err
	}
	f.servers[id] = &c
	return &c, nil
}

func (f *fakeJobs) job(id fleet.JobID) *fleet.CIJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *f.jobs[id]
	return &c
}

func (f *fakeJobs) server(id int64) *fleet.Server {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *f.servers[id]
	return &c
}

type fakeOutput struct {
	mu        sync.Mutex
	sections  map[fleet.JobID][]*Section
	purgeable []fleet.JobID
	cutoff    time.Time
	purged    []fleet.JobID
	gets      int
}

func newFakeOutput() *fakeOutput {
	return &fakeOutput{sections: make(map[fleet.JobID][]*Section)}
}

func (f *fakeOutput) find(job fleet.JobID, id int) (*Section, error) {
	for _, s := range f.sections[job] {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, internal.ErrResourceNotFound
}

func (f *fakeOutput) CreateSection(ctx context.Context, job fleet.JobID, name string, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := len(f.sections[job]) + 1
	f.sections[job] = append(f.sections[job], &Section{ID: id, Name: name, Status: SectionRunning, StartedAt: now})
	return id, nil
}

func (f *fakeOutput) AppendOutput(ctx context.Context, job fleet.JobID, section int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.find(job, section)
	if err != nil {
		return err
	}
	s.Output += text
	return nil
}

func (f *fakeOutput) FinishSection(ctx context.Context, job fleet.JobID, section int, success bool, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.find(job, section)
	if err != nil {
		return err
	}
	s.Status = SectionFailed
	if success {
		s.Status = SectionSucceeded
	}
	s.FinishedAt = &now
	return nil
}

func (f *fakeOutput) FailOpenSections(ctx context.Context, job fleet.JobID, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sections[job] {
		if s.Status == SectionRunning {
			s.Status = SectionFailed
			s.FinishedAt = &now
		}
	}
	return nil
}

func (f *fakeOutput) ListSections(ctx context.Context, job fleet.JobID) ([]*Section, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sections []*Section
	for _, s := range f.sections[job] {
		c := *s
		c.Output = ""
		sections = append(sections, &c)
	}
	return sections, nil
}

func (f *fakeOutput) GetSection(ctx context.Context, job fleet.JobID, section int) (*Section, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	s, err := f.find(job, section)
	if err != nil {
		return nil, err
	}
	c := *s
	return &c, nil
}

func (f *fakeOutput) ListPurgeable(ctx context.Context, cutoff time.Time) ([]fleet.JobID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff = cutoff
	return f.purgeable, nil
}

func (f *fakeOutput) Purge(ctx context.Context, job fleet.JobID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sections[job] {
		s.Output = ""
	}
	f.purged = append(f.purged, job)
	return nil
}

// snapshot returns copies of a job's sections, including output.
func (f *fakeOutput) snapshot(job fleet.JobID) []Section {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sections []Section
	for _, s := range f.sections[job] {
		sections = append(sections, *s)
	}
	return sections
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (c *mapCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, errors.New("entry not found")
	}
	return entry, nil
}

func (c *mapCache) Set(key string, entry []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	return nil
}

func (c *mapCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

type testCoordinator struct {
	*Coordinator
	jobs   *fakeJobs
	output *fakeOutput
	cache  *mapCache
	srv    *httptest.Server
}

// newTestCoordinator serves a coordinator with a running job, testJob,
// which is reserved server 7 and expects the connect key "secret".
func newTestCoordinator(t *testing.T, configure func(*Config)) *testCoordinator {
	t.Helper()

	cfg := NewDefaultConfig()
	if configure != nil {
		configure(cfg)
	}
	serverID := int64(7)
	jobs := &fakeJobs{
		jobs: map[fleet.JobID]*fleet.CIJob{
			testJob: {
				ID:              testJob,
				JobName:         "build_linux",
				State:           fleet.JobRunning,
				ConnectKey:      "secret",
				RunningOnServer: &serverID,
			},
		},
		servers: map[int64]*fleet.Server{
			serverID: {
				ID:              serverID,
				Kind:            fleet.Controlled,
				Status:          fleet.Running,
				ReservationType: fleet.ReservationCIJob,
				ReservedFor:     &testJob,
			},
		},
	}
	output := newFakeOutput()
	cache := newMapCache()
	c := New(logr.Discard(), Options{
		Config: *cfg,
		Jobs:   jobs,
		Output: output,
		Cache:  cache,
	})
	c.now = func() time.Time { return testNow }

	r := mux.NewRouter()
	c.AddHandlers(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testCoordinator{
		Coordinator: c,
		jobs:        jobs,
		output:      output,
		cache:       cache,
		srv:         srv,
	}
}
