package fleet

import (
	"context"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/sql"
	"github.com/jackc/pgx/v5"
)

// DB is the postgres implementation of Store.
type DB struct {
	*sql.DB
}

const serverColumns = `
    server_id, kind, status, reservation_type,
    reserved_project_id, reserved_build_id, reserved_job_id,
    instance_id, public_address, ssh_key_file, priority, provisioned_fully,
    status_last_checked, updated_at, created_at`

const jobColumns = `
    project_id, build_id, job_id, job_name, image, image_filename,
    cache_settings_json, branch, ref, default_branch, commit_hash,
    previous_commit, origin, trusted, secrets, state, succeeded,
    output_purged, connect_key, running_on_server_id, created_at, finished_at`

func (db *DB) ListServers(ctx context.Context) ([]*Server, error) {
	rows := db.Query(ctx, `SELECT`+serverColumns+` FROM servers ORDER BY server_id`)
	return sql.CollectRows(rows, scanServer)
}

func (db *DB) CreateServer(ctx context.Context, server *Server) error {
	args := serverArgs(server)
	row := db.QueryRow(ctx, `
INSERT INTO servers (
    kind, status, reservation_type,
    reserved_project_id, reserved_build_id, reserved_job_id,
    instance_id, public_address, ssh_key_file, priority, provisioned_fully,
    status_last_checked, updated_at, created_at
) VALUES (
    @kind, @status, @reservation_type,
    @reserved_project_id, @reserved_build_id, @reserved_job_id,
    @instance_id, @public_address, @ssh_key_file, @priority, @provisioned_fully,
    @status_last_checked, @updated_at, @created_at
)
RETURNING server_id`, args)
	return row.Scan(&server.ID)
}

func (db *DB) UpdateServer(ctx context.Context, id int64, fn func(*Server) error) (*Server, error) {
	return sql.Updater(
		ctx,
		db.DB,
		func(ctx context.Context, conn sql.Connection) (*Server, error) {
			rows := db.Query(ctx, `SELECT`+serverColumns+` FROM servers WHERE server_id = $1 FOR UPDATE`, id)
			return sql.CollectOneRow(rows, scanServer)
		},
		func(_ context.Context, server *Server) error {
			return fn(server)
		},
		func(ctx context.Context, conn sql.Connection, server *Server) error {
			args := serverArgs(server)
			args["server_id"] = server.ID
			_, err := db.Exec(ctx, `
UPDATE servers
SET status = @status,
    reservation_type = @reservation_type,
    reserved_project_id = @reserved_project_id,
    reserved_build_id = @reserved_build_id,
    reserved_job_id = @reserved_job_id,
    instance_id = @instance_id,
    public_address = @public_address,
    provisioned_fully = @provisioned_fully,
    status_last_checked = @status_last_checked,
    updated_at = @updated_at
WHERE server_id = @server_id
`, args)
			return err
		},
	)
}

func (db *DB) DeleteServer(ctx context.Context, id int64) error {
	_, err := db.Exec(ctx, `DELETE FROM servers WHERE server_id = $1`, id)
	return err
}

func serverArgs(server *Server) pgx.NamedArgs {
	args := pgx.NamedArgs{
		"kind":                server.Kind,
		"status":              server.Status,
		"reservation_type":    server.ReservationType,
		"reserved_project_id": nil,
		"reserved_build_id":   nil,
		"reserved_job_id":     nil,
		"instance_id":         server.InstanceID,
		"public_address":      server.PublicAddress,
		"ssh_key_file":        server.SSHKeyFile,
		"priority":            server.Priority,
		"provisioned_fully":   server.ProvisionedFully,
		"status_last_checked": server.StatusLastChecked,
		"updated_at":          server.UpdatedAt,
		"created_at":          server.CreatedAt,
	}
	if server.ReservedFor != nil {
		args["reserved_project_id"] = server.ReservedFor.Project
		args["reserved_build_id"] = server.ReservedFor.Build
		args["reserved_job_id"] = server.ReservedFor.Job
	}
	return args
}

func scanServer(row pgx.CollectableRow) (*Server, error) {
	var (
		server                   Server
		project, build, jobIndex *int64
	)
	err := row.Scan(
		&server.ID, &server.Kind, &server.Status, &server.ReservationType,
		&project, &build, &jobIndex,
		&server.InstanceID, &server.PublicAddress, &server.SSHKeyFile, &server.Priority, &server.ProvisionedFully,
		&server.StatusLastChecked, &server.UpdatedAt, &server.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if project != nil && build != nil && jobIndex != nil {
		server.ReservedFor = &JobID{Project: *project, Build: *build, Job: *jobIndex}
	}
	return &server, nil
}

func (db *DB) ListJobs(ctx context.Context, states ...JobState) ([]*CIJob, error) {
	names := make([]string, len(states))
	for i, state := range states {
		names[i] = string(state)
	}
	rows := db.Query(ctx, `
SELECT`+jobColumns+`
FROM ci_jobs
WHERE state = ANY($1)
ORDER BY created_at, project_id, build_id, job_id
`, names)
	return sql.CollectRows(rows, scanJob)
}

func (db *DB) GetJob(ctx context.Context, id JobID) (*CIJob, error) {
	rows := db.Query(ctx, `
SELECT`+jobColumns+`
FROM ci_jobs
WHERE project_id = $1 AND build_id = $2 AND job_id = $3
`, id.Project, id.Build, id.Job)
	return sql.CollectOneRow(rows, scanJob)
}

func (db *DB) UpdateJob(ctx context.Context, id JobID, fn func(*CIJob) error) (*CIJob, error) {
	return sql.Updater(
		ctx,
		db.DB,
		func(ctx context.Context, conn sql.Connection) (*CIJob, error) {
			rows := db.Query(ctx, `
SELECT`+jobColumns+`
FROM ci_jobs
WHERE project_id = $1 AND build_id = $2 AND job_id = $3
FOR UPDATE
`, id.Project, id.Build, id.Job)
			return sql.CollectOneRow(rows, scanJob)
		},
		func(_ context.Context, job *CIJob) error {
			return fn(job)
		},
		func(ctx context.Context, conn sql.Connection, job *CIJob) error {
			_, err := db.Exec(ctx, `
UPDATE ci_jobs
SET state = @state,
    succeeded = @succeeded,
    output_purged = @output_purged,
    connect_key = @connect_key,
    running_on_server_id = @running_on_server_id,
    finished_at = @finished_at
WHERE project_id = @project_id AND build_id = @build_id AND job_id = @job_id
`, pgx.NamedArgs{
				"state":                job.State,
				"succeeded":            job.Succeeded,
				"output_purged":        job.OutputPurged,
				"connect_key":          job.ConnectKey,
				"running_on_server_id": job.RunningOnServer,
				"finished_at":          job.FinishedAt,
				"project_id":           job.ID.Project,
				"build_id":             job.ID.Build,
				"job_id":               job.ID.Job,
			})
			return err
		},
	)
}

func scanJob(row pgx.CollectableRow) (*CIJob, error) {
	var job CIJob
	err := row.Scan(
		&job.ID.Project, &job.ID.Build, &job.ID.Job, &job.JobName, &job.Image, &job.ImageFilename,
		&job.CacheSettingsJSON, &job.Branch, &job.Ref, &job.DefaultBranch, &job.CommitHash,
		&job.PreviousCommit, &job.Origin, &job.Trusted, &job.SecretsJSON, &job.State, &job.Succeeded,
		&job.OutputPurged, &job.ConnectKey, &job.RunningOnServer, &job.CreatedAt, &job.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
