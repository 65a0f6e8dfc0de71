package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/fleet"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/sql"
	"github.com/jackc/pgx/v5"
)

// DB is the postgres implementation of OutputStore.
type DB struct {
	*sql.DB
}

func jobArgs(job fleet.JobID) pgx.NamedArgs {
	return pgx.NamedArgs{
		"project_id": job.Project,
		"build_id":   job.Build,
		"job_id":     job.Job,
	}
}

func (db *DB) CreateSection(ctx context.Context, job fleet.JobID, name string, now time.Time) (int, error) {
	args := jobArgs(job)
	args["name"] = name
	args["status"] = SectionRunning
	args["started_at"] = now
	var id int
	err := db.QueryRow(ctx, `
INSERT INTO ci_job_output_sections (
    project_id, build_id, job_id, section_id, name, status, started_at
) SELECT
    @project_id, @build_id, @job_id,
    COALESCE(MAX(section_id), 0) + 1,
    @name, @status, @started_at
FROM ci_job_output_sections
WHERE project_id = @project_id AND build_id = @build_id AND job_id = @job_id
RETURNING section_id
`, args).Scan(&id)
	return id, err
}

func (db *DB) AppendOutput(ctx context.Context, job fleet.JobID, section int, text string) error {
	args := jobArgs(job)
	args["section_id"] = section
	args["text"] = text
	_, err := db.Exec(ctx, `
UPDATE ci_job_output_sections
SET output = output || @text
WHERE project_id = @project_id AND build_id = @build_id AND job_id = @job_id
AND section_id = @section_id
`, args)
	return err
}

func (db *DB) FinishSection(ctx context.Context, job fleet.JobID, section int, success bool, now time.Time) error {
	args := jobArgs(job)
	args["section_id"] = section
	args["status"] = SectionFailed
	if success {
		args["status"] = SectionSucceeded
	}
	args["finished_at"] = now
	_, err := db.Exec(ctx, `
UPDATE ci_job_output_sections
SET status = @status, finished_at = @finished_at
WHERE project_id = @project_id AND build_id = @build_id AND job_id = @job_id
AND section_id = @section_id
`, args)
	return err
}

func (db *DB) FailOpenSections(ctx context.Context, job fleet.JobID, now time.Time) error {
	args := jobArgs(job)
	args["running"] = SectionRunning
	args["failed"] = SectionFailed
	args["finished_at"] = now
	_, err := db.Exec(ctx, `
UPDATE ci_job_output_sections
SET status = @failed, finished_at = @finished_at
WHERE project_id = @project_id AND build_id = @build_id AND job_id = @job_id
AND status = @running
`, args)
	return ignoreNotFound(err)
}

func (db *DB) ListSections(ctx context.Context, job fleet.JobID) ([]*Section, error) {
	rows := db.Query(ctx, `
SELECT section_id, name, status, '', started_at, finished_at
FROM ci_job_output_sections
WHERE project_id = @project_id AND build_id = @build_id AND job_id = @job_id
ORDER BY section_id
`, jobArgs(job))
	return sql.CollectRows(rows, scanSection)
}

func (db *DB) GetSection(ctx context.Context, job fleet.JobID, section int) (*Section, error) {
	args := jobArgs(job)
	args["section_id"] = section
	rows := db.Query(ctx, `
SELECT section_id, name, status, output, started_at, finished_at
FROM ci_job_output_sections
WHERE project_id = @project_id AND build_id = @build_id AND job_id = @job_id
AND section_id = @section_id
`, args)
	return sql.CollectOneRow(rows, scanSection)
}

func scanSection(row pgx.CollectableRow) (*Section, error) {
	var s Section
	if err := row.Scan(&s.ID, &s.Name, &s.Status, &s.Output, &s.StartedAt, &s.FinishedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (db *DB) ListPurgeable(ctx context.Context, cutoff time.Time) ([]fleet.JobID, error) {
	rows := db.Query(ctx, `
SELECT project_id, build_id, job_id
FROM ci_jobs
WHERE state = $1 AND NOT output_purged AND finished_at < $2
ORDER BY finished_at
`, fleet.JobFinished, cutoff)
	return sql.CollectRows(rows, func(row pgx.CollectableRow) (fleet.JobID, error) {
		var id fleet.JobID
		err := row.Scan(&id.Project, &id.Build, &id.Job)
		return id, err
	})
}

func (db *DB) Purge(ctx context.Context, job fleet.JobID) error {
	return db.Tx(ctx, func(ctx context.Context) error {
		if _, err := db.Exec(ctx, `
UPDATE ci_jobs SET output_purged = true
WHERE project_id = @project_id AND build_id = @build_id AND job_id = @job_id
`, jobArgs(job)); err != nil {
			return err
		}
		// sections are kept so the outline of the job remains visible
		_, err := db.Exec(ctx, `
UPDATE ci_job_output_sections SET output = ''
WHERE project_id = @project_id AND build_id = @build_id AND job_id = @job_id
`, jobArgs(job))
		return ignoreNotFound(err)
	})
}

// ignoreNotFound permits statements that legitimately affect no rows.
func ignoreNotFound(err error) error {
	if errors.Is(err, internal.ErrResourceNotFound) {
		return nil
	}
	return err
}
