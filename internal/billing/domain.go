package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentType enumerates the financial document families.
type DocumentType string

const (
	// TypeInvoice is a fiscal invoice.
	TypeInvoice DocumentType = "INVOICE"
	// TypeProforma is a proforma invoice, convertible into a fiscal one.
	TypeProforma DocumentType = "PROFORMA"
)

// Status enumerates document lifecycle states.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusIssued    Status = "ISSUED"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
	StatusConverted Status = "CONVERTED"
)

// transitions is the closed state machine. Absent keys are terminal.
var transitions = map[Status][]Status{
	StatusDraft:  {StatusIssued, StatusCancelled},
	StatusIssued: {StatusPaid, StatusCancelled, StatusConverted},
}

// CanTransition reports whether moving to the target state is allowed.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

var (
	// ErrInvalidTransition is returned for a move the state machine forbids.
	ErrInvalidTransition = errors.New("billing: invalid status transition")
	// ErrNoLineItems rejects a document without lines.
	ErrNoLineItems = errors.New("billing: document requires at least one line item")
	// ErrNonPositiveTotal rejects a document whose total with tax is not positive.
	ErrNonPositiveTotal = errors.New("billing: document total must be positive")
	// ErrAlreadyConverted rejects converting a proforma twice.
	ErrAlreadyConverted = errors.New("billing: proforma already converted")
	// ErrDocumentCancelled rejects operating on a cancelled document.
	ErrDocumentCancelled = errors.New("billing: document is cancelled")
	// ErrNotIssued rejects converting a proforma never issued remotely.
	ErrNotIssued = errors.New("billing: proforma was never issued to the remote service")
	// ErrProformaExists rejects a second proforma for the same quote.
	ErrProformaExists = errors.New("billing: a non-cancelled proforma already exists for this quote")
	// ErrQuoteNotConvertible rejects quotes outside the allowed status set.
	ErrQuoteNotConvertible = errors.New("billing: quote status does not allow proforma creation")
	// ErrOrderNotFound rejects creation for an unknown order.
	ErrOrderNotFound = errors.New("billing: referenced order does not exist")
)

// Customer is the identity printed on a document.
type Customer struct {
	Name    string
	TaxCode string
	Email   string
	Phone   string
	Address string
	City    string
	Country string
}

// LineItem is one document line. Owned exclusively by its parent document.
type LineItem struct {
	Name      string
	SKU       string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	TaxRate   decimal.Decimal
	NetTotal  decimal.Decimal
	TaxAmount decimal.Decimal
}

// Compute derives the tax-exclusive total and the tax amount of the line.
func (l *LineItem) Compute() {
	l.NetTotal = l.Quantity.Mul(l.UnitPrice).Round(2)
	l.TaxAmount = CalculateVAT(l.NetTotal, l.TaxRate)
}

// CalculateVAT returns the tax owed on a tax-exclusive amount, rounded to
// two decimals.
func CalculateVAT(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(2)
}

var hundred = decimal.NewFromInt(100)

// Document is a financial document exchanged with the accounting service.
// Identity fields are immutable once set; status and payment fields evolve
// through the state machine only.
type Document struct {
	ID         int64
	Type       DocumentType
	OrderRef   string
	RemoteID   string
	Number     string
	Series     string
	Currency   string
	Status     Status
	Customer   Customer
	Items      []LineItem
	TotalNet   decimal.Decimal
	TotalTax   decimal.Decimal
	Total      decimal.Decimal
	DueDate    time.Time
	PaidAmount decimal.Decimal
	PaidAt     *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ComputeTotals recomputes every line and the document aggregates.
func (d *Document) ComputeTotals() {
	net := decimal.Zero
	tax := decimal.Zero
	for i := range d.Items {
		d.Items[i].Compute()
		net = net.Add(d.Items[i].NetTotal)
		tax = tax.Add(d.Items[i].TaxAmount)
	}
	d.TotalNet = net
	d.TotalTax = tax
	d.Total = net.Add(tax)
}

// Validate enforces the document invariants.
func (d *Document) Validate() error {
	if len(d.Items) == 0 {
		return ErrNoLineItems
	}
	if !d.Total.IsPositive() {
		return ErrNonPositiveTotal
	}
	return nil
}

// Transition moves the document to the target state or fails.
func (d *Document) Transition(to Status) error {
	if !d.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, to)
	}
	d.Status = to
	d.UpdatedAt = time.Now()
	return nil
}

// MarkIssued records the remote identity and moves the document to issued.
func (d *Document) MarkIssued(remoteID, number, series string) error {
	if err := d.Transition(StatusIssued); err != nil {
		return err
	}
	d.RemoteID = remoteID
	d.Number = number
	if series != "" {
		d.Series = series
	}
	return nil
}

// MarkPaid records the settlement and moves the document to paid.
func (d *Document) MarkPaid(amount decimal.Decimal, at time.Time) error {
	if err := d.Transition(StatusPaid); err != nil {
		return err
	}
	d.PaidAmount = amount
	d.PaidAt = &at
	return nil
}

// CreationError wraps any failure of a document creation use case, carrying
// the idempotency key for diagnostics.
type CreationError struct {
	OrderRef string
	Err      error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("billing: create document for %q: %v", e.OrderRef, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// ConversionError wraps any failure of proforma conversion.
type ConversionError struct {
	ProformaID int64
	Err        error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("billing: convert proforma %d: %v", e.ProformaID, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }
