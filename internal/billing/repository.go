package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts document persistence for the service. Insert must
// return shared.ErrDuplicate when the (type, order ref) natural key collides,
// and lookups return shared.ErrNotFound for missing rows.
type RepositoryPort interface {
	GetByID(ctx context.Context, id int64) (*Document, error)
	GetByOrderRef(ctx context.Context, docType DocumentType, orderRef string) (*Document, error)
	Insert(ctx context.Context, doc *Document) error
	Update(ctx context.Context, doc *Document) error
	ListOpenInvoicesWithRemoteID(ctx context.Context) ([]Document, error)
}

// OrderInfo is the order snapshot the lifecycle needs.
type OrderInfo struct {
	ID       string
	Customer Customer
	Currency string
}

// OrderPort is the order collaborator. AttachRemoteDocument and NotifyPaid
// are best-effort callbacks; their failures are logged, never fatal.
type OrderPort interface {
	GetOrder(ctx context.Context, orderID string) (*OrderInfo, error)
	AttachRemoteDocument(ctx context.Context, orderID, remoteID, number string) error
	NotifyPaid(ctx context.Context, orderID string, amount decimal.Decimal) error
}

// QuoteInfo is the quote snapshot used for proforma creation.
type QuoteInfo struct {
	ID       string
	Status   string
	Customer Customer
	Currency string
	Items    []LineItem
}

// QuotePort is the optional quote collaborator.
type QuotePort interface {
	GetQuote(ctx context.Context, quoteID string) (*QuoteInfo, error)
	AttachProforma(ctx context.Context, quoteID string, documentID int64) error
}
