package syncmon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aurora-erp/aurora-sync/internal/shared"
)

const (
	// staleAfter flags a job type whose last run is older than this.
	staleAfter = 48 * time.Hour
	// consecutiveFailureLimit flags a job type at this many failures in a row.
	consecutiveFailureLimit = 3
	// dashboardWindow is the lookback for success/failure counts.
	dashboardWindow = 7 * 24 * time.Hour
)

// Service records job runs and serves read-only health views over the
// history. It never gates or retries anything itself.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// RecordStart opens a run in the history and returns it for bracketing.
// retryCount is the queue's delivery attempt counter, zero for a first run.
func (s *Service) RecordStart(ctx context.Context, jobType JobType, trigger Trigger, retryCount int) (*JobRun, error) {
	if trigger == "" {
		trigger = TriggerScheduled
	}
	if retryCount < 0 {
		retryCount = 0
	}
	run := &JobRun{JobType: jobType, Trigger: trigger, Status: RunRunning, RetryCount: retryCount, StartedAt: s.now()}
	if err := s.repo.InsertRun(ctx, run); err != nil {
		return nil, fmt.Errorf("syncmon: record start of %s: %w", jobType, err)
	}
	return run, nil
}

// RecordCompletion closes a run as succeeded with an optional detail string.
func (s *Service) RecordCompletion(ctx context.Context, run *JobRun, detail string) error {
	finished := s.now()
	run.Status = RunSucceeded
	run.FinishedAt = &finished
	run.Detail = detail
	if err := s.repo.FinishRun(ctx, run); err != nil {
		return fmt.Errorf("syncmon: record completion of %s: %w", run.JobType, err)
	}
	return nil
}

// RecordFailure closes a run as failed with the cause.
func (s *Service) RecordFailure(ctx context.Context, run *JobRun, cause error) error {
	finished := s.now()
	run.Status = RunFailed
	run.FinishedAt = &finished
	if cause != nil {
		run.Error = cause.Error()
	}
	if err := s.repo.FinishRun(ctx, run); err != nil {
		return fmt.Errorf("syncmon: record failure of %s: %w", run.JobType, err)
	}
	return nil
}

// JobHealth is the dashboard view of one job type.
type JobHealth struct {
	JobType     JobType       `json:"jobType"`
	LastRun     *JobRun       `json:"lastRun,omitempty"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	AvgDuration time.Duration `json:"avgDurationMs"`
}

// Dashboard returns, per job type, the most recent run plus 7-day
// success/failure counts and the average duration of finished runs.
func (s *Service) Dashboard(ctx context.Context) ([]JobHealth, error) {
	since := s.now().Add(-dashboardWindow)

	var health []JobHealth
	for _, jobType := range KnownJobTypes {
		entry := JobHealth{JobType: jobType}

		last, err := s.repo.LastRun(ctx, jobType)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("syncmon: last run of %s: %w", jobType, err)
		}
		entry.LastRun = last

		runs, err := s.repo.RunsSince(ctx, jobType, since)
		if err != nil {
			return nil, fmt.Errorf("syncmon: runs of %s: %w", jobType, err)
		}
		var total time.Duration
		var finished int
		for _, run := range runs {
			switch run.Status {
			case RunSucceeded:
				entry.Succeeded++
			case RunFailed:
				entry.Failed++
			default:
				continue
			}
			total += run.Duration()
			finished++
		}
		if finished > 0 {
			entry.AvgDuration = total / time.Duration(finished)
		}
		health = append(health, entry)
	}
	return health, nil
}

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is one active health finding.
type Alert struct {
	JobType  JobType `json:"jobType"`
	Severity string  `json:"severity"`
	Message  string  `json:"message"`
}

// ActiveAlerts flags job types that never ran, whose last run is stale, or
// that failed three times in a row.
func (s *Service) ActiveAlerts(ctx context.Context) ([]Alert, error) {
	var alerts []Alert
	for _, jobType := range KnownJobTypes {
		last, err := s.repo.LastRun(ctx, jobType)
		if errors.Is(err, shared.ErrNotFound) {
			alerts = append(alerts, Alert{
				JobType:  jobType,
				Severity: SeverityWarning,
				Message:  "job has never run",
			})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("syncmon: last run of %s: %w", jobType, err)
		}

		if age := s.now().Sub(last.StartedAt); age > staleAfter {
			alerts = append(alerts, Alert{
				JobType:  jobType,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("last run was %.0f hours ago", age.Hours()),
			})
		}

		recent, err := s.repo.LastRuns(ctx, jobType, consecutiveFailureLimit)
		if err != nil {
			return nil, fmt.Errorf("syncmon: recent runs of %s: %w", jobType, err)
		}
		if consecutiveFailures(recent) >= consecutiveFailureLimit {
			alerts = append(alerts, Alert{
				JobType:  jobType,
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("%d consecutive failures", consecutiveFailureLimit),
			})
		}
	}
	return alerts, nil
}

// consecutiveFailures counts leading failures in a newest-first run list.
// A still-running run does not break the streak.
func consecutiveFailures(runs []JobRun) int {
	count := 0
	for _, run := range runs {
		switch run.Status {
		case RunFailed:
			count++
		case RunRunning:
			continue
		default:
			return count
		}
	}
	return count
}
