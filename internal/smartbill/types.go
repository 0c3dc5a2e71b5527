package smartbill

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentKind selects the remote document family an operation targets.
type DocumentKind string

const (
	// KindInvoice targets fiscal invoices.
	KindInvoice DocumentKind = "invoice"
	// KindProforma targets proforma invoices (estimates on the remote side).
	KindProforma DocumentKind = "estimate"
)

// ClientPayload carries the customer identity attached to a document.
type ClientPayload struct {
	Name    string `json:"name"`
	VATCode string `json:"vatCode,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

// ProductPayload is one document line sent to the remote service.
type ProductPayload struct {
	Name       string          `json:"name"`
	Code       string          `json:"code,omitempty"`
	Unit       string          `json:"measuringUnitName,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	TaxPercent decimal.Decimal `json:"taxPercentage"`
	IsService  bool            `json:"isService,omitempty"`
}

// CreateDocumentRequest is the payload for invoice and proforma creation.
// Constraints (non-empty series, at least one product, positive amounts) are
// caller-validated before the call is made.
type CreateDocumentRequest struct {
	CompanyVAT string           `json:"companyVatCode"`
	Client     ClientPayload    `json:"client"`
	Series     string           `json:"seriesName"`
	IssueDate  string           `json:"issueDate"`
	DueDate    string           `json:"dueDate,omitempty"`
	Currency   string           `json:"currency"`
	Products   []ProductPayload `json:"products"`
}

// DocumentRef identifies a document on the remote side. The service answers
// with inconsistent field names across endpoints, so unmarshalling accepts
// every known synonym.
type DocumentRef struct {
	RemoteID string
	Number   string
	Series   string
	URL      string
}

// UnmarshalJSON tolerates id/invoiceId/smartbillInvoiceId and
// number/invoiceNumber synonyms.
func (d *DocumentRef) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID                 string `json:"id"`
		InvoiceID          string `json:"invoiceId"`
		SmartBillInvoiceID string `json:"smartbillInvoiceId"`
		DocumentID         string `json:"documentId"`
		Number             string `json:"number"`
		InvoiceNumber      string `json:"invoiceNumber"`
		Series             string `json:"series"`
		SeriesName         string `json:"seriesName"`
		URL                string `json:"url"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.RemoteID = firstNonEmpty(raw.SmartBillInvoiceID, raw.InvoiceID, raw.DocumentID, raw.ID)
	d.Number = firstNonEmpty(raw.Number, raw.InvoiceNumber)
	d.Series = firstNonEmpty(raw.Series, raw.SeriesName)
	d.URL = raw.URL
	return nil
}

// RemoteClient is the customer identity block of a listed document.
type RemoteClient struct {
	Name    string `json:"name"`
	VATCode string `json:"vatCode"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
}

// RemoteLine is one line of a listed document.
type RemoteLine struct {
	Name         string          `json:"name"`
	Code         string          `json:"code"`
	Unit         string          `json:"measuringUnitName"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	PriceWithVAT decimal.Decimal `json:"priceWithVat"`
	TaxPercent   decimal.Decimal `json:"taxPercentage"`
}

// RemoteDocument is a document as returned by fetch/list endpoints.
type RemoteDocument struct {
	Ref       DocumentRef
	Client    RemoteClient
	IssueDate time.Time
	Currency  string
	Total     decimal.Decimal
	Lines     []RemoteLine
	Cancelled bool
}

type remoteDocumentJSON struct {
	Client    RemoteClient    `json:"client"`
	IssueDate string          `json:"issueDate"`
	Currency  string          `json:"currency"`
	Total     decimal.Decimal `json:"total"`
	Products  []RemoteLine    `json:"products"`
	Lines     []RemoteLine    `json:"lines"`
	Cancelled bool            `json:"cancelled"`
}

// UnmarshalJSON merges the identifying fields and the body, tolerating the
// products/lines synonym.
func (d *RemoteDocument) UnmarshalJSON(data []byte) error {
	var ref DocumentRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return err
	}
	var raw remoteDocumentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Ref = ref
	d.Client = raw.Client
	d.Currency = raw.Currency
	d.Total = raw.Total
	d.Cancelled = raw.Cancelled
	d.Lines = raw.Products
	if len(d.Lines) == 0 {
		d.Lines = raw.Lines
	}
	if raw.IssueDate != "" {
		for _, layout := range []string{"2006-01-02", time.RFC3339} {
			if t, err := time.Parse(layout, raw.IssueDate); err == nil {
				d.IssueDate = t
				break
			}
		}
	}
	return nil
}

// PaymentStatus is the remote view of an invoice's payment state.
type PaymentStatus struct {
	Number     string          `json:"number"`
	Series     string          `json:"series"`
	Total      decimal.Decimal `json:"invoiceTotalAmount"`
	PaidAmount decimal.Decimal `json:"paidAmount"`
	Cancelled  bool            `json:"cancelled"`
}

// Paid reports whether the invoice is settled in full.
func (p PaymentStatus) Paid() bool {
	return p.Total.IsPositive() && p.PaidAmount.GreaterThanOrEqual(p.Total)
}

// StockItem is one product position in a warehouse listing.
type StockItem struct {
	Code         string          `json:"productCode"`
	Name         string          `json:"productName"`
	Unit         string          `json:"measuringUnit"`
	Quantity     decimal.Decimal `json:"quantity"`
	PriceWithVAT decimal.Decimal `json:"priceWithVat"`
	TaxPercent   decimal.Decimal `json:"taxPercentage"`
}

// WarehouseStock groups the stock listing of one warehouse.
type WarehouseStock struct {
	Warehouse string
	Items     []StockItem
}

// UnmarshalJSON accepts the warehouse field either as a bare name or as an
// object with a warehouseName key.
func (w *WarehouseStock) UnmarshalJSON(data []byte) error {
	var raw struct {
		Warehouse json.RawMessage `json:"warehouse"`
		Products  []StockItem     `json:"products"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	w.Items = raw.Products
	if len(raw.Warehouse) == 0 {
		return nil
	}
	var name string
	if err := json.Unmarshal(raw.Warehouse, &name); err == nil {
		w.Warehouse = name
		return nil
	}
	var obj struct {
		WarehouseName string `json:"warehouseName"`
		Name          string `json:"name"`
	}
	if err := json.Unmarshal(raw.Warehouse, &obj); err != nil {
		return err
	}
	w.Warehouse = firstNonEmpty(obj.WarehouseName, obj.Name)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
