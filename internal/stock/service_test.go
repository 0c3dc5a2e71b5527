package stock

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aurora-erp/aurora-sync/internal/shared"
	"github.com/aurora-erp/aurora-sync/internal/smartbill"
)

type fakeStockRepo struct {
	last      map[ObservationKey]decimal.Decimal
	inserted  []Observation
	failWh    string
	insertErr error
}

func (f *fakeStockRepo) LastQuantities(_ context.Context) (map[ObservationKey]decimal.Decimal, error) {
	if f.last == nil {
		return map[ObservationKey]decimal.Decimal{}, nil
	}
	return f.last, nil
}

func (f *fakeStockRepo) InsertObservations(_ context.Context, observations []Observation) error {
	if f.insertErr != nil && len(observations) > 0 && observations[0].Warehouse == f.failWh {
		return f.insertErr
	}
	f.inserted = append(f.inserted, observations...)
	return nil
}

type fakeCatalog struct {
	updates []ProductUpdate
}

func (f *fakeCatalog) UpsertProduct(_ context.Context, update ProductUpdate) error {
	f.updates = append(f.updates, update)
	return nil
}

type fakeStockRemote struct {
	warehouses []smartbill.WarehouseStock
	stockErr   error
	docs       []smartbill.RemoteDocument
}

func (f *fakeStockRemote) ListStock(_ context.Context) ([]smartbill.WarehouseStock, error) {
	if f.stockErr != nil {
		return nil, f.stockErr
	}
	return f.warehouses, nil
}

func (f *fakeStockRemote) ListInvoices(_ context.Context, from, to time.Time) ([]smartbill.RemoteDocument, error) {
	return f.docs, nil
}

type countingPublisher struct {
	events  []string
	payload any
}

func (p *countingPublisher) Publish(_ context.Context, name string, payload any) error {
	p.events = append(p.events, name)
	p.payload = payload
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func stockItem(code string, qty int64) smartbill.StockItem {
	return smartbill.StockItem{
		Code:         code,
		Name:         "Product " + code,
		Unit:         "buc",
		Quantity:     decimal.NewFromInt(qty),
		PriceWithVAT: decimal.RequireFromString("121"),
		TaxPercent:   decimal.NewFromInt(21),
	}
}

func TestNewObservationDiff(t *testing.T) {
	obs := NewObservation("SKU-1", "Main", "P", "buc",
		decimal.NewFromInt(15), decimal.NewFromInt(10), time.Now())
	require.True(t, obs.Changed)
	require.True(t, obs.Difference.Equal(decimal.NewFromInt(5)))
	require.False(t, obs.IsLow)
	require.False(t, obs.IsOutOfStock)

	zero := NewObservation("SKU-1", "Main", "P", "buc",
		decimal.Zero, decimal.NewFromInt(2), time.Now())
	require.True(t, zero.IsOutOfStock)
	require.True(t, zero.IsLow)

	same := NewObservation("SKU-1", "Main", "P", "buc",
		decimal.NewFromInt(3), decimal.NewFromInt(3), time.Now())
	require.False(t, same.Changed)
	require.True(t, same.IsLow)
	require.True(t, same.Difference.IsZero())
}

func TestPriceExclusive(t *testing.T) {
	got := PriceExclusive(decimal.RequireFromString("121"), decimal.RequireFromString("0.21"))
	require.True(t, got.Equal(decimal.NewFromInt(100)), "got %s", got)

	got = PriceExclusive(decimal.RequireFromString("119"), decimal.RequireFromString("0.19"))
	require.True(t, got.Equal(decimal.NewFromInt(100)), "got %s", got)
}

func TestSyncStockTwoWarehouses(t *testing.T) {
	repo := &fakeStockRepo{last: map[ObservationKey]decimal.Decimal{
		{SKU: "A", Warehouse: "Main"}: decimal.NewFromInt(10),
	}}
	catalog := &fakeCatalog{}
	remote := &fakeStockRemote{warehouses: []smartbill.WarehouseStock{
		{Warehouse: "Main", Items: []smartbill.StockItem{stockItem("A", 15), stockItem("B", 0)}},
		{Warehouse: "Backup", Items: []smartbill.StockItem{stockItem("A", 2), stockItem("C", 7)}},
	}}
	pub := &countingPublisher{}
	svc := NewService(remote, repo, catalog, nil, pub, quietLogger())

	result, err := svc.SyncStock(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, result.TotalItems)
	require.Len(t, result.Warehouses, 2)
	require.Equal(t, "Main", result.Warehouses[0].Name)
	require.Equal(t, "Backup", result.Warehouses[1].Name)
	require.Empty(t, result.Failed)

	require.Len(t, repo.inserted, 4)
	var a Observation
	for _, obs := range repo.inserted {
		if obs.SKU == "A" && obs.Warehouse == "Main" {
			a = obs
		}
	}
	require.True(t, a.Changed)
	require.True(t, a.Difference.Equal(decimal.NewFromInt(5)))

	require.Equal(t, 1, result.Warehouses[0].OutOfStock)
	require.Equal(t, 1, result.Warehouses[1].Low)

	require.Equal(t, []string{shared.EventStockSynced}, pub.events)
	event, ok := pub.payload.(StockSyncedEvent)
	require.True(t, ok)
	require.Equal(t, 4, event.TotalItems)

	// Every item carried a valid price, so every upsert has both prices.
	require.Len(t, catalog.updates, 4)
	require.NotNil(t, catalog.updates[0].PriceExcl)
	require.True(t, catalog.updates[0].PriceExcl.Equal(decimal.NewFromInt(100)))
}

func TestSyncStockPartialFailure(t *testing.T) {
	repo := &fakeStockRepo{failWh: "Broken", insertErr: errors.New("db down")}
	remote := &fakeStockRemote{warehouses: []smartbill.WarehouseStock{
		{Warehouse: "Broken", Items: []smartbill.StockItem{stockItem("A", 1)}},
		{Warehouse: "Main", Items: []smartbill.StockItem{stockItem("B", 5)}},
	}}
	svc := NewService(remote, repo, &fakeCatalog{}, nil, nil, quietLogger())

	result, err := svc.SyncStock(context.Background())

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	require.Equal(t, []string{"Broken"}, syncErr.Warehouses)

	require.Equal(t, 1, result.TotalItems, "the healthy warehouse is still processed")
	require.Len(t, result.Warehouses, 1)
	require.Equal(t, "Main", result.Warehouses[0].Name)
	require.Len(t, repo.inserted, 1)
}

func TestSyncStockNoData(t *testing.T) {
	svc := NewService(&fakeStockRemote{}, &fakeStockRepo{}, &fakeCatalog{}, nil, nil, quietLogger())
	_, err := svc.SyncStock(context.Background())
	require.ErrorIs(t, err, ErrNoData)
}

func TestSyncStockSkipsPriceForInvalidRemotePrice(t *testing.T) {
	item := stockItem("A", 5)
	item.PriceWithVAT = decimal.Zero
	catalog := &fakeCatalog{}
	remote := &fakeStockRemote{warehouses: []smartbill.WarehouseStock{
		{Warehouse: "Main", Items: []smartbill.StockItem{item}},
	}}
	svc := NewService(remote, &fakeStockRepo{}, catalog, nil, nil, quietLogger())

	_, err := svc.SyncStock(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog.updates, 1)
	require.Nil(t, catalog.updates[0].PriceExcl, "no price may be written without a valid remote price")
	require.Equal(t, "Product A", catalog.updates[0].Name, "metadata is still updated")
}

func priceDoc(issue time.Time, code string, price, withVAT string) smartbill.RemoteDocument {
	return smartbill.RemoteDocument{
		IssueDate: issue,
		Lines: []smartbill.RemoteLine{{
			Code:         code,
			Name:         "Product " + code,
			Price:        decimal.RequireFromString(price),
			PriceWithVAT: decimal.RequireFromString(withVAT),
			TaxPercent:   decimal.NewFromInt(21),
		}},
	}
}

func TestExtractPricesLatestStrategy(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }
	remote := &fakeStockRemote{docs: []smartbill.RemoteDocument{
		priceDoc(day(3), "A", "110", "133.10"),
		priceDoc(day(1), "A", "100", "121"),
		priceDoc(day(2), "B", "50", "60.50"),
	}}
	catalog := &fakeCatalog{}
	svc := NewService(remote, &fakeStockRepo{}, catalog, nil, nil, quietLogger())

	result, err := svc.ExtractPrices(context.Background(), 30, StrategyLatest, false)
	require.NoError(t, err)
	require.Equal(t, 3, result.Documents)
	require.Len(t, result.Prices, 2)
	require.Equal(t, 2, result.Written)

	byCode := map[string]PriceAccumulator{}
	for _, p := range result.Prices {
		byCode[p.SKU] = p
	}
	require.True(t, byCode["A"].PriceExcl.Equal(decimal.NewFromInt(110)), "latest document wins, got %s", byCode["A"].PriceExcl)
	require.Equal(t, 2, byCode["A"].Samples)
	require.Equal(t, day(3), byCode["A"].LastSeen)
	require.Len(t, catalog.updates, 2)
}

func TestExtractPricesAverageStrategy(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }
	remote := &fakeStockRemote{docs: []smartbill.RemoteDocument{
		priceDoc(day(1), "A", "100", "121"),
		priceDoc(day(2), "A", "110", "133.10"),
	}}
	svc := NewService(remote, &fakeStockRepo{}, &fakeCatalog{}, nil, nil, quietLogger())

	result, err := svc.ExtractPrices(context.Background(), 30, StrategyAverage, true)
	require.NoError(t, err)
	require.Len(t, result.Prices, 1)
	require.True(t, result.Prices[0].PriceExcl.Equal(decimal.NewFromInt(105)), "got %s", result.Prices[0].PriceExcl)
	require.Equal(t, 2, result.Prices[0].Samples)
}

func TestExtractPricesPreviewDoesNotWrite(t *testing.T) {
	remote := &fakeStockRemote{docs: []smartbill.RemoteDocument{
		priceDoc(time.Now(), "A", "100", "121"),
	}}
	catalog := &fakeCatalog{}
	svc := NewService(remote, &fakeStockRepo{}, catalog, nil, nil, quietLogger())

	result, err := svc.ExtractPrices(context.Background(), 30, StrategyLatest, true)
	require.NoError(t, err)
	require.Zero(t, result.Written)
	require.Empty(t, catalog.updates)
	require.Len(t, result.Prices, 1)
}

func TestExtractPricesSkipsCancelledAndPriceless(t *testing.T) {
	doc := priceDoc(time.Now(), "A", "100", "121")
	cancelled := priceDoc(time.Now(), "B", "50", "60.50")
	cancelled.Cancelled = true
	free := priceDoc(time.Now(), "C", "0", "0")

	remote := &fakeStockRemote{docs: []smartbill.RemoteDocument{doc, cancelled, free}}
	svc := NewService(remote, &fakeStockRepo{}, &fakeCatalog{}, nil, nil, quietLogger())

	result, err := svc.ExtractPrices(context.Background(), 30, StrategyLatest, true)
	require.NoError(t, err)
	require.Len(t, result.Prices, 1)
	require.Equal(t, "A", result.Prices[0].SKU)
}

func TestExtractPricesRejectsUnknownStrategy(t *testing.T) {
	svc := NewService(&fakeStockRemote{}, &fakeStockRepo{}, &fakeCatalog{}, nil, nil, quietLogger())
	_, err := svc.ExtractPrices(context.Background(), 30, "median", true)
	require.Error(t, err)
}
