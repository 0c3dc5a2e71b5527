package custmatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aurora-erp/aurora-sync/internal/shared"
)

// LinkRepository provides PostgreSQL backed persistence for external
// customer links. The sync_customer_links table is unique on
// (provider, external_id).
type LinkRepository struct {
	pool *pgxpool.Pool
}

// NewLinkRepository constructs a link repository.
func NewLinkRepository(pool *pgxpool.Pool) *LinkRepository {
	return &LinkRepository{pool: pool}
}

const linkColumns = `id, provider, external_id, local_customer_id,
	ext_name, ext_tax_code, ext_email, ext_phone,
	status, conflict, last_synced_at, created_at, updated_at`

func (r *LinkRepository) GetByExternalID(ctx context.Context, provider, externalID string) (*ExternalLink, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM sync_customer_links WHERE provider=$1 AND external_id=$2`,
		provider, externalID)
	link, err := scanLink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return link, err
}

func (r *LinkRepository) Insert(ctx context.Context, link *ExternalLink) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO sync_customer_links
		 (provider, external_id, local_customer_id, ext_name, ext_tax_code, ext_email, ext_phone,
		  status, conflict, last_synced_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 RETURNING id`,
		link.Provider, link.ExternalID, link.LocalCustomerID,
		link.Identity.Name, link.Identity.TaxCode, link.Identity.Email, link.Identity.Phone,
		string(link.Status), link.Conflict, link.LastSyncedAt, link.CreatedAt, link.UpdatedAt,
	).Scan(&link.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("link %s/%s: %w", link.Provider, link.ExternalID, shared.ErrDuplicate)
		}
		return err
	}
	return nil
}

func (r *LinkRepository) Update(ctx context.Context, link *ExternalLink) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sync_customer_links
		 SET local_customer_id=$2, ext_name=$3, ext_tax_code=$4, ext_email=$5, ext_phone=$6,
		     status=$7, conflict=$8, last_synced_at=$9, updated_at=$10
		 WHERE id=$1`,
		link.ID, link.LocalCustomerID,
		link.Identity.Name, link.Identity.TaxCode, link.Identity.Email, link.Identity.Phone,
		string(link.Status), link.Conflict, link.LastSyncedAt, link.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("link %d: %w", link.ID, shared.ErrNotFound)
	}
	return nil
}

func (r *LinkRepository) ListUnlinked(ctx context.Context, provider string) ([]ExternalLink, error) {
	return r.list(ctx,
		`SELECT `+linkColumns+` FROM sync_customer_links
		 WHERE provider=$1 AND local_customer_id IS NULL AND status <> 'ignored'
		 ORDER BY created_at`, provider)
}

func (r *LinkRepository) List(ctx context.Context, provider string, limit int) ([]ExternalLink, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx,
		`SELECT `+linkColumns+` FROM sync_customer_links
		 WHERE provider=$1 ORDER BY updated_at DESC LIMIT $2`, provider, limit)
}

func (r *LinkRepository) list(ctx context.Context, query string, args ...any) ([]ExternalLink, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []ExternalLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return links, nil
}

func scanLink(row pgx.Row) (*ExternalLink, error) {
	var link ExternalLink
	var status string
	if err := row.Scan(&link.ID, &link.Provider, &link.ExternalID, &link.LocalCustomerID,
		&link.Identity.Name, &link.Identity.TaxCode, &link.Identity.Email, &link.Identity.Phone,
		&status, &link.Conflict, &link.LastSyncedAt, &link.CreatedAt, &link.UpdatedAt); err != nil {
		return nil, err
	}
	link.Status = SyncStatus(status)
	return &link, nil
}

// CustomerRepository reads the local customer table. Reconciliation only
// ever reads it; ownership stays with the order system.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository constructs a customer reader.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

func (r *CustomerRepository) ListCustomers(ctx context.Context) ([]LocalCustomer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, tax_code, email, phone FROM customers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []LocalCustomer
	for rows.Next() {
		var c LocalCustomer
		if err := rows.Scan(&c.ID, &c.Name, &c.TaxCode, &c.Email, &c.Phone); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (r *CustomerRepository) FindByTaxCode(ctx context.Context, taxCode string) (*LocalCustomer, error) {
	return r.findOne(ctx,
		`SELECT id, name, tax_code, email, phone FROM customers WHERE tax_code=$1 LIMIT 1`, taxCode)
}

func (r *CustomerRepository) FindByEmail(ctx context.Context, email string) (*LocalCustomer, error) {
	return r.findOne(ctx,
		`SELECT id, name, tax_code, email, phone FROM customers WHERE lower(email)=lower($1) LIMIT 1`, email)
}

func (r *CustomerRepository) findOne(ctx context.Context, query string, args ...any) (*LocalCustomer, error) {
	var c LocalCustomer
	err := r.pool.QueryRow(ctx, query, args...).Scan(&c.ID, &c.Name, &c.TaxCode, &c.Email, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
