package syncmon

import (
	"context"
	"time"
)

// RepositoryPort persists the append-only run history.
type RepositoryPort interface {
	InsertRun(ctx context.Context, run *JobRun) error
	FinishRun(ctx context.Context, run *JobRun) error
	LastRun(ctx context.Context, jobType JobType) (*JobRun, error)
	RunsSince(ctx context.Context, jobType JobType, since time.Time) ([]JobRun, error)
	LastRuns(ctx context.Context, jobType JobType, limit int) ([]JobRun, error)
}
