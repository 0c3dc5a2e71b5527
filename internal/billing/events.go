package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceCreatedEvent is published after a document reaches the remote
// service. Source distinguishes direct creation from proforma conversion.
type InvoiceCreatedEvent struct {
	DocumentID int64           `json:"document_id"`
	Type       DocumentType    `json:"type"`
	OrderRef   string          `json:"order_ref"`
	RemoteID   string          `json:"remote_id"`
	Number     string          `json:"number"`
	Series     string          `json:"series"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency"`
	Source     string          `json:"source"`
}

// CreateFailedEvent is published when a creation use case fails.
type CreateFailedEvent struct {
	Type     DocumentType `json:"type"`
	OrderRef string       `json:"order_ref"`
	Reason   string       `json:"reason"`
}

// ProformaConvertedEvent is published after a successful conversion.
type ProformaConvertedEvent struct {
	ProformaID int64  `json:"proforma_id"`
	InvoiceID  int64  `json:"invoice_id"`
	RemoteID   string `json:"remote_id"`
	Number     string `json:"number"`
}

// StatusChangedEvent is published when batch status sync applies a transition.
type StatusChangedEvent struct {
	DocumentID int64     `json:"document_id"`
	OrderRef   string    `json:"order_ref"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	ObservedAt time.Time `json:"observed_at"`
}
