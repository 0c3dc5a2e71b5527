package stock

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository provides PostgreSQL backed persistence for stock observations.
// The sync_stock_observations table is append-only history; the latest
// quantity per pair is read via DISTINCT ON.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) LastQuantities(ctx context.Context) (map[ObservationKey]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ON (sku, warehouse) sku, warehouse, quantity
		 FROM sync_stock_observations
		 ORDER BY sku, warehouse, observed_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	quantities := map[ObservationKey]decimal.Decimal{}
	for rows.Next() {
		var key ObservationKey
		var qty decimal.Decimal
		if err := rows.Scan(&key.SKU, &key.Warehouse, &qty); err != nil {
			return nil, err
		}
		quantities[key] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return quantities, nil
}

func (r *Repository) InsertObservations(ctx context.Context, observations []Observation) error {
	if len(observations) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, obs := range observations {
		batch.Queue(
			`INSERT INTO sync_stock_observations
			 (sku, warehouse, name, unit, quantity, previous, changed, difference, is_low, is_out_of_stock, observed_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			obs.SKU, obs.Warehouse, obs.Name, obs.Unit, obs.Quantity, obs.Previous,
			obs.Changed, obs.Difference, obs.IsLow, obs.IsOutOfStock, obs.ObservedAt)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range observations {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return results.Close()
}

// CatalogRepository upserts the local product catalog.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository constructs a catalog writer.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// UpsertProduct writes product metadata, touching prices only when the
// update carries them.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, update ProductUpdate) error {
	if update.PriceExcl != nil && update.PriceIncl != nil {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO products (sku, name, unit, price_excl, price_incl, updated_at)
			 VALUES ($1,$2,$3,$4,$5,now())
			 ON CONFLICT (sku) DO UPDATE
			    SET name=EXCLUDED.name, unit=EXCLUDED.unit,
			        price_excl=EXCLUDED.price_excl, price_incl=EXCLUDED.price_incl,
			        updated_at=now()`,
			update.SKU, update.Name, update.Unit, *update.PriceExcl, *update.PriceIncl)
		return err
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO products (sku, name, unit, updated_at)
		 VALUES ($1,$2,$3,now())
		 ON CONFLICT (sku) DO UPDATE
		    SET name=EXCLUDED.name, unit=EXCLUDED.unit, updated_at=now()`,
		update.SKU, update.Name, update.Unit)
	return err
}
