package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aurora-erp/aurora-sync/internal/shared"
)

// Repository provides PostgreSQL backed persistence for documents.
//
// The sync_documents table carries a partial unique index on
// (doc_type, order_ref) WHERE status <> 'CANCELLED'; the insert conflict it
// produces under concurrent creation is surfaced as shared.ErrDuplicate.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const documentColumns = `id, doc_type, order_ref, remote_id, number, series, currency, status,
	customer_name, customer_tax_code, customer_email, customer_phone,
	total_net, total_tax, total, due_date, paid_amount, paid_at, created_at, updated_at`

// GetByID loads one document with its line items.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Document, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM sync_documents WHERE id=$1`, id)
	return r.scanDocument(ctx, row)
}

// GetByOrderRef loads the non-cancelled document for a natural key.
func (r *Repository) GetByOrderRef(ctx context.Context, docType DocumentType, orderRef string) (*Document, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM sync_documents
		 WHERE doc_type=$1 AND order_ref=$2 AND status <> 'CANCELLED'
		 ORDER BY created_at DESC LIMIT 1`, string(docType), orderRef)
	return r.scanDocument(ctx, row)
}

// Insert persists a document and its items in one transaction.
func (r *Repository) Insert(ctx context.Context, doc *Document) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO sync_documents
		 (doc_type, order_ref, remote_id, number, series, currency, status,
		  customer_name, customer_tax_code, customer_email, customer_phone,
		  total_net, total_tax, total, due_date, paid_amount, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		 RETURNING id`,
		string(doc.Type), doc.OrderRef, doc.RemoteID, doc.Number, doc.Series, doc.Currency, string(doc.Status),
		doc.Customer.Name, doc.Customer.TaxCode, doc.Customer.Email, doc.Customer.Phone,
		doc.TotalNet, doc.TotalTax, doc.Total, doc.DueDate, doc.PaidAmount, doc.CreatedAt, doc.UpdatedAt,
	).Scan(&doc.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("document for %s: %w", doc.OrderRef, shared.ErrDuplicate)
		}
		return err
	}

	for _, item := range doc.Items {
		if _, err := tx.Exec(ctx,
			`INSERT INTO sync_document_items
			 (document_id, name, sku, quantity, unit_price, tax_rate, net_total, tax_amount)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			doc.ID, item.Name, item.SKU, item.Quantity, item.UnitPrice, item.TaxRate, item.NetTotal, item.TaxAmount,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Update persists the mutable document fields. Identity fields never change.
func (r *Repository) Update(ctx context.Context, doc *Document) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sync_documents
		 SET status=$2, remote_id=$3, number=$4, paid_amount=$5, paid_at=$6, updated_at=$7
		 WHERE id=$1`,
		doc.ID, string(doc.Status), doc.RemoteID, doc.Number, doc.PaidAmount, doc.PaidAt, doc.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %d: %w", doc.ID, shared.ErrNotFound)
	}
	return nil
}

// ListOpenInvoicesWithRemoteID returns every invoice still awaiting a
// terminal status that the remote service knows about.
func (r *Repository) ListOpenInvoicesWithRemoteID(ctx context.Context) ([]Document, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM sync_documents
		 WHERE doc_type='INVOICE' AND status IN ('DRAFT','ISSUED') AND remote_id <> ''
		 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocumentRow(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *Repository) scanDocument(ctx context.Context, row pgx.Row) (*Document, error) {
	doc, err := scanDocumentRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT name, sku, quantity, unit_price, tax_rate, net_total, tax_amount
		 FROM sync_document_items WHERE document_id=$1 ORDER BY id`, doc.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item LineItem
		if err := rows.Scan(&item.Name, &item.SKU, &item.Quantity, &item.UnitPrice, &item.TaxRate, &item.NetTotal, &item.TaxAmount); err != nil {
			return nil, err
		}
		doc.Items = append(doc.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return doc, nil
}

func scanDocumentRow(row pgx.Row) (*Document, error) {
	var doc Document
	var docType, status string
	if err := row.Scan(&doc.ID, &docType, &doc.OrderRef, &doc.RemoteID, &doc.Number, &doc.Series, &doc.Currency, &status,
		&doc.Customer.Name, &doc.Customer.TaxCode, &doc.Customer.Email, &doc.Customer.Phone,
		&doc.TotalNet, &doc.TotalTax, &doc.Total, &doc.DueDate, &doc.PaidAmount, &doc.PaidAt, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Type = DocumentType(docType)
	doc.Status = Status(status)
	return &doc, nil
}
