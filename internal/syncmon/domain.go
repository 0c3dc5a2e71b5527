package syncmon

import (
	"time"
)

// JobType identifies one reconciliation engine in the run history.
type JobType string

const (
	JobStockSync     JobType = "stock_sync"
	JobCustomerSync  JobType = "customer_sync"
	JobInvoiceStatus JobType = "invoice_status"
	JobPriceExtract  JobType = "price_extract"
)

// KnownJobTypes is the closed set the dashboard and alerts report on.
var KnownJobTypes = []JobType{JobStockSync, JobCustomerSync, JobInvoiceStatus, JobPriceExtract}

// Trigger records what started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// RunStatus is the outcome of one job run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// JobRun is one row of the append-only run history.
type JobRun struct {
	ID         int64      `json:"id"`
	JobType    JobType    `json:"jobType"`
	Trigger    Trigger    `json:"trigger"`
	Status     RunStatus  `json:"status"`
	RetryCount int        `json:"retryCount"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Detail     string     `json:"detail,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Duration returns the run duration, zero while still running.
func (r JobRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
