package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/fleet"
)

type SectionStatus string

const (
	SectionRunning   SectionStatus = "running"
	SectionSucceeded SectionStatus = "succeeded"
	SectionFailed    SectionStatus = "failed"
)

// Section is a named span of a job's output.
type Section struct {
	ID         int           `json:"id"`
	Name       string        `json:"name"`
	Status     SectionStatus `json:"status"`
	Output     string        `json:"-"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

func (s *Section) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("id", s.ID),
		slog.String("name", s.Name),
		slog.String("status", string(s.Status)),
	)
}

// OutputStore persists the output sections of jobs.
type OutputStore interface {
	// CreateSection starts a new section, returning its ID. IDs start at 1
	// and increase within a job.
	CreateSection(ctx context.Context, job fleet.JobID, name string, now time.Time) (int, error)
	AppendOutput(ctx context.Context, job fleet.JobID, section int, text string) error
	FinishSection(ctx context.Context, job fleet.JobID, section int, success bool, now time.Time) error
	// FailOpenSections marks any sections still running as failed.
	FailOpenSections(ctx context.Context, job fleet.JobID, now time.Time) error
	ListSections(ctx context.Context, job fleet.JobID) ([]*Section, error)
	GetSection(ctx context.Context, job fleet.JobID, section int) (*Section, error)

	// ListPurgeable lists finished jobs with output that finished before
	// the cutoff.
	ListPurgeable(ctx context.Context, cutoff time.Time) ([]fleet.JobID, error)
	// Purge deletes the output of a job and flags it as purged.
	Purge(ctx context.Context, job fleet.JobID) error
}

// Cache is a byte cache, satisfied by bigcache.
type Cache interface {
	Get(key string) ([]byte, error)
	Set(key string, entry []byte) error
	Delete(key string) error
}

// outputProxy serves section output, caching the output of finished
// sections which no longer changes.
type outputProxy struct {
	OutputStore
	cache Cache
}

func cacheKey(job fleet.JobID, section int) string {
	return fmt.Sprintf("%s/%d", job, section)
}

func (p *outputProxy) output(ctx context.Context, job fleet.JobID, section int) (string, error) {
	key := cacheKey(job, section)
	if cached, err := p.cache.Get(key); err == nil {
		return string(cached), nil
	}
	s, err := p.GetSection(ctx, job, section)
	if err != nil {
		return "", err
	}
	if s.Status != SectionRunning {
		// errors only lose the cache entry
		_ = p.cache.Set(key, []byte(s.Output))
	}
	return s.Output, nil
}

func (p *outputProxy) Purge(ctx context.Context, job fleet.JobID) error {
	sections, err := p.ListSections(ctx, job)
	if err != nil {
		return err
	}
	if err := p.OutputStore.Purge(ctx, job); err != nil {
		return err
	}
	for _, s := range sections {
		_ = p.cache.Delete(cacheKey(job, s.ID))
	}
	return nil
}
