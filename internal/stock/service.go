package stock

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aurora-erp/aurora-sync/internal/shared"
	"github.com/aurora-erp/aurora-sync/internal/smartbill"
)

// Service runs stock reconciliation and price extraction.
type Service struct {
	remote   RemotePort
	repo     RepositoryPort
	catalog  CatalogPort
	snapshot SnapshotPort
	events   shared.EventPublisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service. The snapshot cache is optional.
func NewService(remote RemotePort, repo RepositoryPort, catalog CatalogPort, snapshot SnapshotPort, events shared.EventPublisher, logger *slog.Logger) *Service {
	if events == nil {
		events = shared.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		remote:   remote,
		repo:     repo,
		catalog:  catalog,
		snapshot: snapshot,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// WarehouseSummary aggregates one warehouse of a sync run.
type WarehouseSummary struct {
	Name       string `json:"name"`
	Items      int    `json:"items"`
	Changed    int    `json:"changed"`
	Low        int    `json:"low"`
	OutOfStock int    `json:"outOfStock"`
}

// SyncResult summarises one stock sync run.
type SyncResult struct {
	TotalItems int                `json:"totalItems"`
	Warehouses []WarehouseSummary `json:"warehouses"`
	Failed     []string           `json:"failed,omitempty"`
	SyncedAt   time.Time          `json:"syncedAt"`
}

// SyncStock fetches every warehouse's stock in one remote call and diffs it
// against the last known local quantities. A warehouse that fails to persist
// is recorded and skipped; the run keeps going and returns its partial
// result together with a SyncError so callers can detect the partial
// failure.
func (s *Service) SyncStock(ctx context.Context) (SyncResult, error) {
	result := SyncResult{SyncedAt: s.now()}

	warehouses, err := s.remote.ListStock(ctx)
	if err != nil {
		return result, fmt.Errorf("stock: list remote stock: %w", err)
	}
	if len(warehouses) == 0 {
		return result, ErrNoData
	}

	previous, err := s.repo.LastQuantities(ctx)
	if err != nil {
		return result, fmt.Errorf("stock: load last quantities: %w", err)
	}

	for _, warehouse := range warehouses {
		summary, err := s.syncWarehouse(ctx, warehouse, previous, result.SyncedAt)
		if err != nil {
			s.logger.Error("warehouse sync failed",
				slog.String("warehouse", warehouse.Warehouse), slog.Any("error", err))
			result.Failed = append(result.Failed, warehouse.Warehouse)
			continue
		}
		result.Warehouses = append(result.Warehouses, summary)
		result.TotalItems += summary.Items
	}

	s.storeSnapshot(ctx, result)
	s.publishSynced(ctx, result)

	if len(result.Failed) > 0 {
		return result, &SyncError{Warehouses: result.Failed}
	}
	return result, nil
}

func (s *Service) syncWarehouse(ctx context.Context, warehouse smartbill.WarehouseStock, previous map[ObservationKey]decimal.Decimal, at time.Time) (WarehouseSummary, error) {
	summary := WarehouseSummary{Name: warehouse.Warehouse}

	observations := make([]Observation, 0, len(warehouse.Items))
	for _, item := range warehouse.Items {
		prev := previous[ObservationKey{SKU: item.Code, Warehouse: warehouse.Warehouse}]
		obs := NewObservation(item.Code, warehouse.Warehouse, item.Name, item.Unit, item.Quantity, prev, at)
		observations = append(observations, obs)

		summary.Items++
		if obs.Changed {
			summary.Changed++
		}
		if obs.IsLow {
			summary.Low++
		}
		if obs.IsOutOfStock {
			summary.OutOfStock++
		}

		if err := s.catalog.UpsertProduct(ctx, catalogUpdate(item)); err != nil {
			return summary, fmt.Errorf("upsert product %s: %w", item.Code, err)
		}
	}

	if err := s.repo.InsertObservations(ctx, observations); err != nil {
		return summary, fmt.Errorf("persist observations: %w", err)
	}
	return summary, nil
}

// catalogUpdate maps a remote stock item to a catalog upsert. Prices are
// written only when the remote carries a valid positive one; the
// tax-exclusive price is derived from the tax-inclusive remote price.
func catalogUpdate(item smartbill.StockItem) ProductUpdate {
	update := ProductUpdate{SKU: item.Code, Name: item.Name, Unit: item.Unit}
	if item.PriceWithVAT.IsPositive() {
		vatRate := item.TaxPercent.Div(decimal.NewFromInt(100))
		excl := PriceExclusive(item.PriceWithVAT, vatRate)
		incl := item.PriceWithVAT
		update.PriceExcl = &excl
		update.PriceIncl = &incl
	}
	return update
}

// StockSyncedEvent is the payload of the stock synced event.
type StockSyncedEvent struct {
	TotalItems int                `json:"totalItems"`
	Warehouses []WarehouseSummary `json:"warehouses"`
	Failed     []string           `json:"failed,omitempty"`
	SyncedAt   time.Time          `json:"syncedAt"`
}

func (s *Service) publishSynced(ctx context.Context, result SyncResult) {
	event := StockSyncedEvent(result)
	if err := s.events.Publish(ctx, shared.EventStockSynced, event); err != nil {
		s.logger.Warn("event publish failed",
			slog.String("event", shared.EventStockSynced), slog.Any("error", err))
	}
}

func (s *Service) storeSnapshot(ctx context.Context, result SyncResult) {
	if s.snapshot == nil {
		return
	}
	if err := s.snapshot.StoreSnapshot(ctx, result); err != nil {
		s.logger.Warn("snapshot store failed", slog.Any("error", err))
	}
}

// LatestSnapshot returns the cached result of the most recent sync run, or
// nil when none is cached.
func (s *Service) LatestSnapshot(ctx context.Context) (*SyncResult, error) {
	if s.snapshot == nil {
		return nil, shared.ErrNotConfigured
	}
	return s.snapshot.LoadSnapshot(ctx)
}

// PriceExtractResult summarises one price extraction run.
type PriceExtractResult struct {
	Strategy  PriceStrategy      `json:"strategy"`
	Preview   bool               `json:"preview"`
	Documents int                `json:"documents"`
	Prices    []PriceAccumulator `json:"prices"`
	Written   int                `json:"written"`
}

// ExtractPrices walks the remote documents of a lookback window and merges
// per-SKU price observations under the chosen strategy. Preview performs the
// extraction without touching the catalog.
func (s *Service) ExtractPrices(ctx context.Context, lookbackDays int, strategy PriceStrategy, preview bool) (PriceExtractResult, error) {
	result := PriceExtractResult{Strategy: strategy, Preview: preview}
	if !strategy.Valid() {
		return result, fmt.Errorf("stock: unknown price strategy %q", strategy)
	}
	if lookbackDays <= 0 {
		lookbackDays = 30
	}

	to := s.now()
	from := to.AddDate(0, 0, -lookbackDays)
	docs, err := s.remote.ListInvoices(ctx, from, to)
	if err != nil {
		return result, fmt.Errorf("stock: list remote documents: %w", err)
	}
	result.Documents = len(docs)

	// Merge in issue-date order so the latest strategy is deterministic
	// regardless of listing order.
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].IssueDate.Before(docs[j].IssueDate) })

	accumulators := map[string]*PriceAccumulator{}
	var order []string
	for _, doc := range docs {
		if doc.Cancelled {
			continue
		}
		for _, line := range doc.Lines {
			if line.Code == "" || !line.Price.IsPositive() {
				continue
			}
			priceIncl := line.PriceWithVAT
			if !priceIncl.IsPositive() {
				vatRate := line.TaxPercent.Div(decimal.NewFromInt(100))
				priceIncl = line.Price.Mul(decimal.NewFromInt(1).Add(vatRate)).Round(2)
			}
			acc, ok := accumulators[line.Code]
			if !ok {
				acc = &PriceAccumulator{SKU: line.Code, Name: line.Name}
				accumulators[line.Code] = acc
				order = append(order, line.Code)
			}
			acc.Merge(strategy, line.Price, priceIncl, doc.IssueDate)
		}
	}

	for _, sku := range order {
		result.Prices = append(result.Prices, *accumulators[sku])
	}

	if preview {
		return result, nil
	}

	for _, acc := range result.Prices {
		excl := acc.PriceExcl
		incl := acc.PriceIncl
		update := ProductUpdate{SKU: acc.SKU, Name: acc.Name, PriceExcl: &excl, PriceIncl: &incl}
		if err := s.catalog.UpsertProduct(ctx, update); err != nil {
			return result, fmt.Errorf("stock: write price for %s: %w", acc.SKU, err)
		}
		result.Written++
	}
	return result, nil
}
