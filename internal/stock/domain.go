package stock

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// lowStockThreshold marks quantities at or below it as low.
var lowStockThreshold = decimal.NewFromInt(3)

// ObservationKey identifies one (SKU, warehouse) pair.
type ObservationKey struct {
	SKU       string
	Warehouse string
}

// Observation is one reconciled stock reading for a (SKU, warehouse) pair.
type Observation struct {
	SKU          string          `json:"sku"`
	Warehouse    string          `json:"warehouse"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	Quantity     decimal.Decimal `json:"quantity"`
	Previous     decimal.Decimal `json:"previous"`
	Changed      bool            `json:"changed"`
	Difference   decimal.Decimal `json:"difference"`
	IsLow        bool            `json:"isLow"`
	IsOutOfStock bool            `json:"isOutOfStock"`
	ObservedAt   time.Time       `json:"observedAt"`
}

// Key returns the natural identifier of the observation.
func (o Observation) Key() ObservationKey {
	return ObservationKey{SKU: o.SKU, Warehouse: o.Warehouse}
}

// NewObservation diffs a remote quantity against the last known local one.
func NewObservation(sku, warehouse, name, unit string, quantity, previous decimal.Decimal, at time.Time) Observation {
	return Observation{
		SKU:          sku,
		Warehouse:    warehouse,
		Name:         name,
		Unit:         unit,
		Quantity:     quantity,
		Previous:     previous,
		Changed:      !quantity.Equal(previous),
		Difference:   quantity.Sub(previous),
		IsLow:        quantity.LessThanOrEqual(lowStockThreshold),
		IsOutOfStock: quantity.LessThanOrEqual(decimal.Zero),
		ObservedAt:   at,
	}
}

// PriceExclusive derives the tax-exclusive price from a tax-inclusive one:
// priceExcl = priceIncl / (1 + vatRate), rounded to two decimals.
func PriceExclusive(priceIncl, vatRate decimal.Decimal) decimal.Decimal {
	return priceIncl.Div(decimal.NewFromInt(1).Add(vatRate)).Round(2)
}

// ProductUpdate is one catalog upsert. Nil prices mean the observation
// carried no usable price and only metadata is written.
type ProductUpdate struct {
	SKU       string
	Name      string
	Unit      string
	PriceExcl *decimal.Decimal
	PriceIncl *decimal.Decimal
}

// SyncError reports the warehouses a sync run could not process. Raised
// after the successful part of the run is already persisted.
type SyncError struct {
	Warehouses []string
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("stock: sync failed for warehouses: %s", strings.Join(e.Warehouses, ", "))
}

// ErrNoData is returned when the remote listing contains no warehouses.
var ErrNoData = errors.New("stock: remote listing returned no warehouses")

// PriceStrategy selects how repeated price observations merge.
type PriceStrategy string

const (
	// StrategyLatest keeps the most recent document's price.
	StrategyLatest PriceStrategy = "latest"
	// StrategyAverage keeps a running mean over all observations.
	StrategyAverage PriceStrategy = "average"
)

// Valid reports whether the strategy is known.
func (s PriceStrategy) Valid() bool {
	return s == StrategyLatest || s == StrategyAverage
}

// PriceAccumulator merges per-SKU price observations under one strategy.
type PriceAccumulator struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	PriceExcl decimal.Decimal `json:"priceExcl"`
	PriceIncl decimal.Decimal `json:"priceIncl"`
	Samples   int             `json:"samples"`
	LastSeen  time.Time       `json:"lastSeen"`
}

// Merge folds one observation into the accumulator.
func (a *PriceAccumulator) Merge(strategy PriceStrategy, priceExcl, priceIncl decimal.Decimal, seenAt time.Time) {
	switch strategy {
	case StrategyAverage:
		n := decimal.NewFromInt(int64(a.Samples))
		next := decimal.NewFromInt(int64(a.Samples + 1))
		a.PriceExcl = a.PriceExcl.Mul(n).Add(priceExcl).Div(next).Round(2)
		a.PriceIncl = a.PriceIncl.Mul(n).Add(priceIncl).Div(next).Round(2)
	default:
		if !seenAt.Before(a.LastSeen) {
			a.PriceExcl = priceExcl
			a.PriceIncl = priceIncl
		}
	}
	a.Samples++
	if seenAt.After(a.LastSeen) {
		a.LastSeen = seenAt
	}
}
