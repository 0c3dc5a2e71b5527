package stock

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aurora-erp/aurora-sync/internal/smartbill"
)

// RepositoryPort persists stock observations and serves the last known
// quantity per (SKU, warehouse) pair.
type RepositoryPort interface {
	LastQuantities(ctx context.Context) (map[ObservationKey]decimal.Decimal, error)
	InsertObservations(ctx context.Context, observations []Observation) error
}

// CatalogPort upserts product metadata and prices into the local catalog.
type CatalogPort interface {
	UpsertProduct(ctx context.Context, update ProductUpdate) error
}

// RemotePort is the slice of the accounting client reconciliation uses.
type RemotePort interface {
	ListStock(ctx context.Context) ([]smartbill.WarehouseStock, error)
	ListInvoices(ctx context.Context, from, to time.Time) ([]smartbill.RemoteDocument, error)
}

// SnapshotPort caches the latest sync result for the dashboard.
type SnapshotPort interface {
	StoreSnapshot(ctx context.Context, result SyncResult) error
	LoadSnapshot(ctx context.Context) (*SyncResult, error)
}
