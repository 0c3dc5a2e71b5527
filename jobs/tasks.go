package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aurora-erp/aurora-sync/internal/syncmon"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskStockSync reconciles warehouse stock against the remote service.
	TaskStockSync = "sync:stock"
	// TaskInvoiceStatus reconciles open invoice payment statuses.
	TaskInvoiceStatus = "sync:invoice_status"
	// TaskCustomerSync imports and matches remote customer identities.
	TaskCustomerSync = "sync:customers"
	// TaskPriceExtract refreshes catalog prices from historical documents.
	TaskPriceExtract = "sync:prices"
)

// ScheduledPayload carries scheduling metadata common to all sync tasks.
type ScheduledPayload struct {
	ScheduledFor time.Time       `json:"scheduled_for"`
	Trigger      syncmon.Trigger `json:"trigger"`
}

// CustomerSyncPayload selects the document window to import customers from.
type CustomerSyncPayload struct {
	ScheduledFor time.Time       `json:"scheduled_for"`
	Trigger      syncmon.Trigger `json:"trigger"`
	LookbackDays int             `json:"lookback_days"`
}

// PriceExtractPayload selects the lookback and merge strategy.
type PriceExtractPayload struct {
	ScheduledFor time.Time       `json:"scheduled_for"`
	Trigger      syncmon.Trigger `json:"trigger"`
	LookbackDays int             `json:"lookback_days"`
	Strategy     string          `json:"strategy"`
}

// NewStockSyncTask constructs an Asynq task for a stock sync run.
func NewStockSyncTask(at time.Time, trigger syncmon.Trigger) (*asynq.Task, error) {
	return newTask(TaskStockSync, ScheduledPayload{ScheduledFor: at, Trigger: trigger})
}

// NewInvoiceStatusTask constructs an Asynq task for a status sync run.
func NewInvoiceStatusTask(at time.Time, trigger syncmon.Trigger) (*asynq.Task, error) {
	return newTask(TaskInvoiceStatus, ScheduledPayload{ScheduledFor: at, Trigger: trigger})
}

// NewCustomerSyncTask constructs an Asynq task for a customer sync run.
func NewCustomerSyncTask(at time.Time, trigger syncmon.Trigger, lookbackDays int) (*asynq.Task, error) {
	return newTask(TaskCustomerSync, CustomerSyncPayload{ScheduledFor: at, Trigger: trigger, LookbackDays: lookbackDays})
}

// NewPriceExtractTask constructs an Asynq task for a price extraction run.
func NewPriceExtractTask(at time.Time, trigger syncmon.Trigger, lookbackDays int, strategy string) (*asynq.Task, error) {
	return newTask(TaskPriceExtract, PriceExtractPayload{ScheduledFor: at, Trigger: trigger, LookbackDays: lookbackDays, Strategy: strategy})
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}
