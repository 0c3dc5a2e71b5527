package custmatch

import (
	"context"
	"time"

	"github.com/aurora-erp/aurora-sync/internal/smartbill"
)

// LinkRepositoryPort persists external customer links. Lookups return
// shared.ErrNotFound for missing rows.
type LinkRepositoryPort interface {
	GetByExternalID(ctx context.Context, provider, externalID string) (*ExternalLink, error)
	Insert(ctx context.Context, link *ExternalLink) error
	Update(ctx context.Context, link *ExternalLink) error
	ListUnlinked(ctx context.Context, provider string) ([]ExternalLink, error)
	List(ctx context.Context, provider string, limit int) ([]ExternalLink, error)
}

// CustomerPort is read access to the local customer table.
type CustomerPort interface {
	ListCustomers(ctx context.Context) ([]LocalCustomer, error)
	FindByTaxCode(ctx context.Context, taxCode string) (*LocalCustomer, error)
	FindByEmail(ctx context.Context, email string) (*LocalCustomer, error)
}

// RemotePort is the slice of the accounting client the sync uses.
type RemotePort interface {
	ListInvoices(ctx context.Context, from, to time.Time) ([]smartbill.RemoteDocument, error)
}
