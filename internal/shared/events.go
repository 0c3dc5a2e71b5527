package shared

import "context"

// Domain event names published by the sync engines. Consumers subscribe by
// name; payload shape is owned by the emitting module.
const (
	EventInvoiceCreated       = "billing.invoice.created"
	EventInvoiceCreateFailed  = "billing.invoice.create_failed"
	EventProformaCreated      = "billing.proforma.created"
	EventProformaConverted    = "billing.proforma.converted"
	EventInvoiceStatusChanged = "billing.invoice.status_changed"
	EventStockSynced          = "stock.synced"
	EventCustomerSyncDone     = "custmatch.sync.completed"
)

// EventPublisher delivers named domain events to downstream consumers.
// Publishing is fire-and-forget: callers log a returned error and move on,
// it must never fail the triggering operation.
type EventPublisher interface {
	Publish(ctx context.Context, name string, payload any) error
}

// NopPublisher discards every event. Used when no broker is wired in.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(context.Context, string, any) error { return nil }
