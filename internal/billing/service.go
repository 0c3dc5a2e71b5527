package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aurora-erp/aurora-sync/internal/shared"
	"github.com/aurora-erp/aurora-sync/internal/smartbill"
)

// RemotePort is the slice of the accounting client the lifecycle uses.
type RemotePort interface {
	CreateInvoice(ctx context.Context, req smartbill.CreateDocumentRequest) (*smartbill.DocumentRef, error)
	CreateProforma(ctx context.Context, req smartbill.CreateDocumentRequest) (*smartbill.DocumentRef, error)
	ConvertProforma(ctx context.Context, series, number string) (*smartbill.DocumentRef, error)
	GetPaymentStatus(ctx context.Context, remoteID string) (*smartbill.PaymentStatus, error)
}

// quoteRefPrefix builds the synthetic order reference for quote-backed
// proformas so both flows share one idempotency key space.
const quoteRefPrefix = "QUOTE-"

// quoteStatusAllowed is the closed set of quote states a proforma may be
// created from.
var quoteStatusAllowed = map[string]bool{
	"draft":     true,
	"sent":      true,
	"viewed":    true,
	"accepted":  true,
	"converted": true,
}

// ServiceConfig groups the optional collaborators and batch tuning. The
// enabled feature set is fixed at construction.
type ServiceConfig struct {
	Quotes          QuotePort
	Events          shared.EventPublisher
	StatusBatchSize int
	StatusCallDelay time.Duration
}

// Service coordinates the document lifecycle against the remote service.
type Service struct {
	repo      RepositoryPort
	remote    RemotePort
	orders    OrderPort
	quotes    QuotePort
	events    shared.EventPublisher
	logger    *slog.Logger
	batchSize int
	callDelay time.Duration
	sleep     func(time.Duration)
	now       func() time.Time
}

// NewService builds Service. Quotes may be nil; the quote flow then reports
// itself unconfigured instead of failing at call sites.
func NewService(repo RepositoryPort, remote RemotePort, orders OrderPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.Events == nil {
		cfg.Events = shared.NopPublisher{}
	}
	if cfg.StatusBatchSize <= 0 {
		cfg.StatusBatchSize = 10
	}
	if cfg.StatusCallDelay < 0 {
		cfg.StatusCallDelay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		remote:    remote,
		orders:    orders,
		quotes:    cfg.Quotes,
		events:    cfg.Events,
		logger:    logger,
		batchSize: cfg.StatusBatchSize,
		callDelay: cfg.StatusCallDelay,
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// CreateDocumentInput carries everything a creation use case needs.
type CreateDocumentInput struct {
	OrderID  string
	Customer Customer
	Items    []LineItem
	DueDate  time.Time
	Series   string
	Currency string
}

// CreateInvoice creates a fiscal invoice for an order, exactly once per
// order id. A repeated call returns the existing document without touching
// the remote service.
func (s *Service) CreateInvoice(ctx context.Context, input CreateDocumentInput) (*Document, error) {
	return s.createForOrder(ctx, TypeInvoice, input)
}

// CreateProforma creates a proforma for an order with the same idempotency
// guarantees as CreateInvoice.
func (s *Service) CreateProforma(ctx context.Context, input CreateDocumentInput) (*Document, error) {
	return s.createForOrder(ctx, TypeProforma, input)
}

func (s *Service) createForOrder(ctx context.Context, docType DocumentType, input CreateDocumentInput) (*Document, error) {
	if existing, err := s.repo.GetByOrderRef(ctx, docType, input.OrderID); err == nil {
		return existing, nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, s.creationFailed(ctx, docType, input.OrderID, err)
	}

	if _, err := s.orders.GetOrder(ctx, input.OrderID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			err = ErrOrderNotFound
		}
		return nil, s.creationFailed(ctx, docType, input.OrderID, err)
	}

	doc, err := s.issueDocument(ctx, docType, input.OrderID, input)
	if err != nil {
		return nil, s.creationFailed(ctx, docType, input.OrderID, err)
	}

	s.attachToOrder(ctx, input.OrderID, doc)
	s.publishCreated(ctx, doc, "direct")
	return doc, nil
}

// CreateProformaFromQuote creates a proforma backed by a quote instead of an
// order. Rejected when a non-cancelled proforma already exists for the quote,
// when the quote status forbids it, or when the quote has no line items.
func (s *Service) CreateProformaFromQuote(ctx context.Context, quoteID, series string, dueInDays int) (*Document, error) {
	if s.quotes == nil {
		return nil, fmt.Errorf("billing: quote flow: %w", shared.ErrNotConfigured)
	}
	orderRef := quoteRefPrefix + quoteID

	if existing, err := s.repo.GetByOrderRef(ctx, TypeProforma, orderRef); err == nil {
		if existing.Status != StatusCancelled {
			return nil, s.creationFailed(ctx, TypeProforma, orderRef, ErrProformaExists)
		}
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, s.creationFailed(ctx, TypeProforma, orderRef, err)
	}

	quote, err := s.quotes.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, s.creationFailed(ctx, TypeProforma, orderRef, err)
	}
	if !quoteStatusAllowed[strings.ToLower(quote.Status)] {
		return nil, s.creationFailed(ctx, TypeProforma, orderRef, ErrQuoteNotConvertible)
	}
	if len(quote.Items) == 0 {
		return nil, s.creationFailed(ctx, TypeProforma, orderRef, ErrNoLineItems)
	}

	doc, err := s.issueDocument(ctx, TypeProforma, orderRef, CreateDocumentInput{
		Customer: quote.Customer,
		Items:    quote.Items,
		DueDate:  s.now().AddDate(0, 0, dueInDays),
		Series:   series,
		Currency: quote.Currency,
	})
	if err != nil {
		return nil, s.creationFailed(ctx, TypeProforma, orderRef, err)
	}

	if err := s.quotes.AttachProforma(ctx, quoteID, doc.ID); err != nil {
		s.logger.Warn("attach proforma to quote failed",
			slog.String("quote_id", quoteID), slog.Any("error", err))
	}
	s.publishCreated(ctx, doc, "quote")
	return doc, nil
}

// issueDocument builds the draft, calls the remote service and persists the
// issued document. An insert conflict from a concurrent creation resolves to
// the already-persisted document.
func (s *Service) issueDocument(ctx context.Context, docType DocumentType, orderRef string, input CreateDocumentInput) (*Document, error) {
	doc := &Document{
		Type:      docType,
		OrderRef:  orderRef,
		Series:    input.Series,
		Currency:  input.Currency,
		Status:    StatusDraft,
		Customer:  input.Customer,
		Items:     input.Items,
		DueDate:   input.DueDate,
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	doc.ComputeTotals()
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	ref, err := s.createRemote(ctx, docType, doc)
	if err != nil {
		return nil, err
	}
	if err := doc.MarkIssued(ref.RemoteID, ref.Number, ref.Series); err != nil {
		return nil, err
	}

	if err := s.repo.Insert(ctx, doc); err != nil {
		if errors.Is(err, shared.ErrDuplicate) {
			// A concurrent retry won the insert race; its document is the
			// canonical one.
			return s.repo.GetByOrderRef(ctx, docType, orderRef)
		}
		return nil, err
	}
	return doc, nil
}

func (s *Service) createRemote(ctx context.Context, docType DocumentType, doc *Document) (*smartbill.DocumentRef, error) {
	req := smartbill.CreateDocumentRequest{
		Client: smartbill.ClientPayload{
			Name:    doc.Customer.Name,
			VATCode: doc.Customer.TaxCode,
			Email:   doc.Customer.Email,
			Phone:   doc.Customer.Phone,
			Address: doc.Customer.Address,
			City:    doc.Customer.City,
			Country: doc.Customer.Country,
		},
		Series:    doc.Series,
		IssueDate: s.now().Format("2006-01-02"),
		Currency:  doc.Currency,
	}
	if !doc.DueDate.IsZero() {
		req.DueDate = doc.DueDate.Format("2006-01-02")
	}
	for _, item := range doc.Items {
		req.Products = append(req.Products, smartbill.ProductPayload{
			Name:       item.Name,
			Code:       item.SKU,
			Quantity:   item.Quantity,
			Price:      item.UnitPrice,
			TaxPercent: item.TaxRate.Mul(hundred),
		})
	}
	if docType == TypeProforma {
		return s.remote.CreateProforma(ctx, req)
	}
	return s.remote.CreateInvoice(ctx, req)
}

// ConvertProformaToInvoice converts an issued proforma into a fiscal invoice.
func (s *Service) ConvertProformaToInvoice(ctx context.Context, proformaID int64) (*Document, error) {
	proforma, err := s.repo.GetByID(ctx, proformaID)
	if err != nil {
		return nil, &ConversionError{ProformaID: proformaID, Err: err}
	}
	switch {
	case proforma.Type != TypeProforma:
		return nil, &ConversionError{ProformaID: proformaID, Err: fmt.Errorf("document %d is not a proforma", proformaID)}
	case proforma.Status == StatusConverted:
		return nil, &ConversionError{ProformaID: proformaID, Err: ErrAlreadyConverted}
	case proforma.Status == StatusCancelled:
		return nil, &ConversionError{ProformaID: proformaID, Err: ErrDocumentCancelled}
	case proforma.RemoteID == "" || proforma.Status == StatusDraft:
		return nil, &ConversionError{ProformaID: proformaID, Err: ErrNotIssued}
	}

	ref, err := s.remote.ConvertProforma(ctx, proforma.Series, proforma.Number)
	if err != nil {
		return nil, &ConversionError{ProformaID: proformaID, Err: err}
	}

	invoice := &Document{
		Type:      TypeInvoice,
		OrderRef:  proforma.OrderRef,
		RemoteID:  ref.RemoteID,
		Number:    ref.Number,
		Series:    ref.Series,
		Currency:  proforma.Currency,
		Status:    StatusIssued,
		Customer:  proforma.Customer,
		Items:     proforma.Items,
		TotalNet:  proforma.TotalNet,
		TotalTax:  proforma.TotalTax,
		Total:     proforma.Total,
		DueDate:   proforma.DueDate,
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	if invoice.Series == "" {
		invoice.Series = proforma.Series
	}

	if err := proforma.Transition(StatusConverted); err != nil {
		return nil, &ConversionError{ProformaID: proformaID, Err: err}
	}
	if err := s.repo.Insert(ctx, invoice); err != nil {
		if errors.Is(err, shared.ErrDuplicate) {
			existing, getErr := s.repo.GetByOrderRef(ctx, TypeInvoice, invoice.OrderRef)
			if getErr != nil {
				return nil, &ConversionError{ProformaID: proformaID, Err: getErr}
			}
			invoice = existing
		} else {
			return nil, &ConversionError{ProformaID: proformaID, Err: err}
		}
	}
	if err := s.repo.Update(ctx, proforma); err != nil {
		return nil, &ConversionError{ProformaID: proformaID, Err: err}
	}

	s.attachToOrder(ctx, proforma.OrderRef, invoice)
	s.publish(ctx, shared.EventProformaConverted, ProformaConvertedEvent{
		ProformaID: proforma.ID,
		InvoiceID:  invoice.ID,
		RemoteID:   invoice.RemoteID,
		Number:     invoice.Number,
	})
	// Downstream consumers that only listen for invoice creation still see
	// converted invoices.
	s.publishCreated(ctx, invoice, "conversion")
	return invoice, nil
}

// StatusSyncResult summarises one batch status sync run.
type StatusSyncResult struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// SyncInvoiceStatuses reconciles payment status for every non-terminal
// invoice known to the remote service. Per-invoice failures are counted, the
// batch never aborts. Remote calls are paced with a fixed delay.
func (s *Service) SyncInvoiceStatuses(ctx context.Context) (StatusSyncResult, error) {
	var result StatusSyncResult

	invoices, err := s.repo.ListOpenInvoicesWithRemoteID(ctx)
	if err != nil {
		return result, fmt.Errorf("billing: list open invoices: %w", err)
	}

	for i := range invoices {
		if i > 0 && s.callDelay > 0 {
			s.sleep(s.callDelay)
		}
		result.Checked++
		updated, err := s.syncOneStatus(ctx, &invoices[i])
		if err != nil {
			result.Errors++
			s.logger.Warn("invoice status sync failed",
				slog.Int64("document_id", invoices[i].ID),
				slog.String("order_ref", invoices[i].OrderRef),
				slog.Any("error", err))
			continue
		}
		if updated {
			result.Updated++
		}
		// Give the remote API a breather at batch boundaries as well.
		if result.Checked%s.batchSize == 0 && s.callDelay > 0 {
			s.sleep(s.callDelay)
		}
	}
	return result, nil
}

func (s *Service) syncOneStatus(ctx context.Context, inv *Document) (bool, error) {
	status, err := s.remote.GetPaymentStatus(ctx, inv.RemoteID)
	if err != nil {
		return false, err
	}

	switch {
	case status.Cancelled && inv.Status != StatusCancelled:
		from := inv.Status
		if err := inv.Transition(StatusCancelled); err != nil {
			return false, err
		}
		if err := s.repo.Update(ctx, inv); err != nil {
			return false, err
		}
		s.publishStatusChange(ctx, inv, from, StatusCancelled)
		return true, nil
	case status.Paid() && inv.Status != StatusPaid:
		from := inv.Status
		if err := inv.MarkPaid(status.PaidAmount, s.now()); err != nil {
			return false, err
		}
		if err := s.repo.Update(ctx, inv); err != nil {
			return false, err
		}
		if err := s.orders.NotifyPaid(ctx, inv.OrderRef, status.PaidAmount); err != nil {
			s.logger.Warn("order payment notification failed",
				slog.String("order_ref", inv.OrderRef), slog.Any("error", err))
		}
		s.publishStatusChange(ctx, inv, from, StatusPaid)
		return true, nil
	case status.PaidAmount.IsPositive() && !status.PaidAmount.Equal(inv.PaidAmount):
		inv.PaidAmount = status.PaidAmount
		inv.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, inv); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// creationFailed publishes the failure event and wraps the cause.
func (s *Service) creationFailed(ctx context.Context, docType DocumentType, orderRef string, cause error) error {
	s.publish(ctx, shared.EventInvoiceCreateFailed, CreateFailedEvent{
		Type:     docType,
		OrderRef: orderRef,
		Reason:   cause.Error(),
	})
	return &CreationError{OrderRef: orderRef, Err: cause}
}

// attachToOrder is best-effort: a failure is logged and swallowed. Quote-backed
// documents carry a synthetic reference no order system knows about.
func (s *Service) attachToOrder(ctx context.Context, orderRef string, doc *Document) {
	if strings.HasPrefix(orderRef, quoteRefPrefix) {
		return
	}
	if err := s.orders.AttachRemoteDocument(ctx, orderRef, doc.RemoteID, doc.Number); err != nil {
		s.logger.Warn("attach remote document to order failed",
			slog.String("order_ref", orderRef), slog.Any("error", err))
	}
}

func (s *Service) publishCreated(ctx context.Context, doc *Document, source string) {
	name := shared.EventInvoiceCreated
	if doc.Type == TypeProforma {
		name = shared.EventProformaCreated
	}
	s.publish(ctx, name, InvoiceCreatedEvent{
		DocumentID: doc.ID,
		Type:       doc.Type,
		OrderRef:   doc.OrderRef,
		RemoteID:   doc.RemoteID,
		Number:     doc.Number,
		Series:     doc.Series,
		Total:      doc.Total,
		Currency:   doc.Currency,
		Source:     source,
	})
}

func (s *Service) publishStatusChange(ctx context.Context, doc *Document, from, to Status) {
	s.publish(ctx, shared.EventInvoiceStatusChanged, StatusChangedEvent{
		DocumentID: doc.ID,
		OrderRef:   doc.OrderRef,
		From:       from,
		To:         to,
		ObservedAt: s.now(),
	})
}

func (s *Service) publish(ctx context.Context, name string, payload any) {
	if err := s.events.Publish(ctx, name, payload); err != nil {
		s.logger.Warn("event publish failed", slog.String("event", name), slog.Any("error", err))
	}
}
