package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aurora-erp/aurora-sync/internal/billing"
	"github.com/aurora-erp/aurora-sync/internal/custmatch"
	jobmetrics "github.com/aurora-erp/aurora-sync/internal/jobs"
	"github.com/aurora-erp/aurora-sync/internal/stock"
	"github.com/aurora-erp/aurora-sync/internal/syncmon"
)

// Engines binds the reconciliation services to their background tasks.
// Every handler brackets its run in the sync monitor history and the job
// metrics.
type Engines struct {
	Billing   *billing.Service
	Stock     *stock.Service
	Customers *custmatch.Service
	Monitor   *syncmon.Service
	Metrics   *jobmetrics.Metrics
	Logger    *slog.Logger

	// CustomerLookbackDays bounds the default customer import window.
	CustomerLookbackDays int
	// PriceLookbackDays bounds the default price extraction window.
	PriceLookbackDays int
}

// Handlers returns the task handlers to mount on the worker.
func (e *Engines) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskStockSync, Handler: e.handleStockSync},
		{Type: TaskInvoiceStatus, Handler: e.handleInvoiceStatus},
		{Type: TaskCustomerSync, Handler: e.handleCustomerSync},
		{Type: TaskPriceExtract, Handler: e.handlePriceExtract},
	}
}

func (e *Engines) handleStockSync(ctx context.Context, t *asynq.Task) error {
	var payload ScheduledPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	return e.bracket(ctx, syncmon.JobStockSync, payload.Trigger, func(ctx context.Context) (string, error) {
		result, err := e.Stock.SyncStock(ctx)
		detail := fmt.Sprintf("totalItems=%d warehouses=%d failed=%d",
			result.TotalItems, len(result.Warehouses), len(result.Failed))
		return detail, err
	})
}

func (e *Engines) handleInvoiceStatus(ctx context.Context, t *asynq.Task) error {
	var payload ScheduledPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	return e.bracket(ctx, syncmon.JobInvoiceStatus, payload.Trigger, func(ctx context.Context) (string, error) {
		result, err := e.Billing.SyncInvoiceStatuses(ctx)
		detail := fmt.Sprintf("checked=%d updated=%d errors=%d",
			result.Checked, result.Updated, result.Errors)
		return detail, err
	})
}

func (e *Engines) handleCustomerSync(ctx context.Context, t *asynq.Task) error {
	var payload CustomerSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	lookback := payload.LookbackDays
	if lookback <= 0 {
		lookback = e.CustomerLookbackDays
	}
	if lookback <= 0 {
		lookback = 30
	}
	return e.bracket(ctx, syncmon.JobCustomerSync, payload.Trigger, func(ctx context.Context) (string, error) {
		to := time.Now()
		from := to.AddDate(0, 0, -lookback)
		result, err := e.Customers.SyncCustomers(ctx, from, to)
		e.Metrics.AddConflicts(custmatch.DefaultProvider, result.Conflicts)
		detail := fmt.Sprintf("observed=%d created=%d updated=%d matched=%d conflicts=%d",
			result.Observed, result.Created, result.Updated, result.Matched, result.Conflicts)
		return detail, err
	})
}

func (e *Engines) handlePriceExtract(ctx context.Context, t *asynq.Task) error {
	var payload PriceExtractPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	lookback := payload.LookbackDays
	if lookback <= 0 {
		lookback = e.PriceLookbackDays
	}
	strategy := stock.PriceStrategy(payload.Strategy)
	if !strategy.Valid() {
		strategy = stock.StrategyLatest
	}
	return e.bracket(ctx, syncmon.JobPriceExtract, payload.Trigger, func(ctx context.Context) (string, error) {
		result, err := e.Stock.ExtractPrices(ctx, lookback, strategy, false)
		detail := fmt.Sprintf("documents=%d prices=%d written=%d",
			result.Documents, len(result.Prices), result.Written)
		return detail, err
	})
}

// bracket wraps one engine run with history recording and metrics. Monitor
// write failures are logged, they never mask the run outcome.
func (e *Engines) bracket(ctx context.Context, jobType syncmon.JobType, trigger syncmon.Trigger, fn func(context.Context) (string, error)) error {
	tracker := e.Metrics.Track(string(jobType))

	retry, _ := asynq.GetRetryCount(ctx)
	run, err := e.Monitor.RecordStart(ctx, jobType, trigger, retry)
	if err != nil {
		e.Logger.Warn("job start not recorded", slog.String("job", string(jobType)), slog.Any("error", err))
	}

	detail, runErr := fn(ctx)

	if run != nil {
		if runErr != nil {
			if err := e.Monitor.RecordFailure(ctx, run, runErr); err != nil {
				e.Logger.Warn("job failure not recorded", slog.String("job", string(jobType)), slog.Any("error", err))
			}
		} else {
			if err := e.Monitor.RecordCompletion(ctx, run, detail); err != nil {
				e.Logger.Warn("job completion not recorded", slog.String("job", string(jobType)), slog.Any("error", err))
			}
		}
	}
	if runErr != nil {
		e.Logger.Error("sync job failed", slog.String("job", string(jobType)), slog.Any("error", runErr))
	}
	return tracker.End(runErr)
}
