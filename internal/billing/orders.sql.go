package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aurora-erp/aurora-sync/internal/shared"
)

// OrderRepository reads order snapshots from the shop schema and writes the
// remote document reference and the payment marker back. It backs OrderPort.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository constructs an order repository.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// GetOrder loads the order snapshot the lifecycle needs.
func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (*OrderInfo, error) {
	var info OrderInfo
	err := r.pool.QueryRow(ctx,
		`SELECT id, currency,
		        customer_name, customer_tax_code, customer_email, customer_phone,
		        customer_address, customer_city, customer_country
		 FROM orders WHERE id=$1`, orderID,
	).Scan(&info.ID, &info.Currency,
		&info.Customer.Name, &info.Customer.TaxCode, &info.Customer.Email, &info.Customer.Phone,
		&info.Customer.Address, &info.Customer.City, &info.Customer.Country)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", orderID, shared.ErrNotFound)
		}
		return nil, err
	}
	return &info, nil
}

// AttachRemoteDocument records the issued document reference on the order.
func (r *OrderRepository) AttachRemoteDocument(ctx context.Context, orderID, remoteID, number string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET remote_document_id=$2, remote_document_number=$3, updated_at=$4 WHERE id=$1`,
		orderID, remoteID, number, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", orderID, shared.ErrNotFound)
	}
	return nil
}

// NotifyPaid records the settled amount reported by the remote service.
func (r *OrderRepository) NotifyPaid(ctx context.Context, orderID string, amount decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET paid_amount=$2, paid_at=COALESCE(paid_at, $3), updated_at=$3 WHERE id=$1`,
		orderID, amount, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", orderID, shared.ErrNotFound)
	}
	return nil
}

// QuoteRepository reads quote snapshots and links the proforma created from
// them. It backs QuotePort.
type QuoteRepository struct {
	pool *pgxpool.Pool
}

// NewQuoteRepository constructs a quote repository.
func NewQuoteRepository(pool *pgxpool.Pool) *QuoteRepository {
	return &QuoteRepository{pool: pool}
}

// GetQuote loads a quote with its line items.
func (r *QuoteRepository) GetQuote(ctx context.Context, quoteID string) (*QuoteInfo, error) {
	var info QuoteInfo
	err := r.pool.QueryRow(ctx,
		`SELECT id, status, currency,
		        customer_name, customer_tax_code, customer_email, customer_phone,
		        customer_address, customer_city, customer_country
		 FROM quotes WHERE id=$1`, quoteID,
	).Scan(&info.ID, &info.Status, &info.Currency,
		&info.Customer.Name, &info.Customer.TaxCode, &info.Customer.Email, &info.Customer.Phone,
		&info.Customer.Address, &info.Customer.City, &info.Customer.Country)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("quote %s: %w", quoteID, shared.ErrNotFound)
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT name, sku, quantity, unit_price, tax_rate
		 FROM quote_items WHERE quote_id=$1 ORDER BY position`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item LineItem
		if err := rows.Scan(&item.Name, &item.SKU, &item.Quantity, &item.UnitPrice, &item.TaxRate); err != nil {
			return nil, err
		}
		info.Items = append(info.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &info, nil
}

// AttachProforma links the created proforma document back to the quote.
func (r *QuoteRepository) AttachProforma(ctx context.Context, quoteID string, documentID int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE quotes SET proforma_document_id=$2, updated_at=$3 WHERE id=$1`,
		quoteID, documentID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("quote %s: %w", quoteID, shared.ErrNotFound)
	}
	return nil
}
