package syncmon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aurora-erp/aurora-sync/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the run history.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const runColumns = `id, job_type, trigger_source, status, retry_count, started_at, finished_at, detail, error`

func (r *Repository) InsertRun(ctx context.Context, run *JobRun) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO sync_job_runs (job_type, trigger_source, status, retry_count, started_at, detail, error)
		 VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		string(run.JobType), string(run.Trigger), string(run.Status), run.RetryCount, run.StartedAt, run.Detail, run.Error,
	).Scan(&run.ID)
}

func (r *Repository) FinishRun(ctx context.Context, run *JobRun) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sync_job_runs SET status=$2, finished_at=$3, detail=$4, error=$5 WHERE id=$1`,
		run.ID, string(run.Status), run.FinishedAt, run.Detail, run.Error)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %d: %w", run.ID, shared.ErrNotFound)
	}
	return nil
}

func (r *Repository) LastRun(ctx context.Context, jobType JobType) (*JobRun, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM sync_job_runs
		 WHERE job_type=$1 ORDER BY started_at DESC LIMIT 1`, string(jobType))
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return run, err
}

func (r *Repository) RunsSince(ctx context.Context, jobType JobType, since time.Time) ([]JobRun, error) {
	return r.list(ctx,
		`SELECT `+runColumns+` FROM sync_job_runs
		 WHERE job_type=$1 AND started_at >= $2 ORDER BY started_at DESC`,
		string(jobType), since)
}

func (r *Repository) LastRuns(ctx context.Context, jobType JobType, limit int) ([]JobRun, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.list(ctx,
		`SELECT `+runColumns+` FROM sync_job_runs
		 WHERE job_type=$1 ORDER BY started_at DESC LIMIT $2`,
		string(jobType), limit)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]JobRun, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*JobRun, error) {
	var run JobRun
	var jobType, trigger, status string
	if err := row.Scan(&run.ID, &jobType, &trigger, &status, &run.RetryCount, &run.StartedAt, &run.FinishedAt, &run.Detail, &run.Error); err != nil {
		return nil, err
	}
	run.JobType = JobType(jobType)
	run.Trigger = Trigger(trigger)
	run.Status = RunStatus(status)
	return &run, nil
}
