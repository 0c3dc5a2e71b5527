package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aurora-erp/aurora-sync/internal/shared"
	"github.com/aurora-erp/aurora-sync/internal/smartbill"
)

type fakeRepo struct {
	docs   map[int64]*Document
	nextID int64

	insertErrOnce  error
	missLookupOnce bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{docs: map[int64]*Document{}, nextID: 1}
}

func (r *fakeRepo) GetByID(_ context.Context, id int64) (*Document, error) {
	doc, ok := r.docs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (r *fakeRepo) GetByOrderRef(_ context.Context, docType DocumentType, orderRef string) (*Document, error) {
	if r.missLookupOnce {
		r.missLookupOnce = false
		return nil, shared.ErrNotFound
	}
	for _, doc := range r.docs {
		if doc.Type == docType && doc.OrderRef == orderRef && doc.Status != StatusCancelled {
			cp := *doc
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeRepo) Insert(_ context.Context, doc *Document) error {
	if r.insertErrOnce != nil {
		err := r.insertErrOnce
		r.insertErrOnce = nil
		return err
	}
	for _, existing := range r.docs {
		if existing.Type == doc.Type && existing.OrderRef == doc.OrderRef && existing.Status != StatusCancelled {
			return shared.ErrDuplicate
		}
	}
	doc.ID = r.nextID
	r.nextID++
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *fakeRepo) Update(_ context.Context, doc *Document) error {
	if _, ok := r.docs[doc.ID]; !ok {
		return shared.ErrNotFound
	}
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *fakeRepo) ListOpenInvoicesWithRemoteID(_ context.Context) ([]Document, error) {
	var out []Document
	for id := int64(1); id < r.nextID; id++ {
		doc, ok := r.docs[id]
		if !ok {
			continue
		}
		if doc.Type == TypeInvoice && doc.RemoteID != "" && (doc.Status == StatusDraft || doc.Status == StatusIssued) {
			out = append(out, *doc)
		}
	}
	return out, nil
}

type fakeRemote struct {
	createInvoiceCalls  int
	createProformaCalls int
	convertCalls        int
	lastRequest         smartbill.CreateDocumentRequest

	createErr  error
	convertErr error

	statuses  map[string]*smartbill.PaymentStatus
	statusErr map[string]error
}

func (f *fakeRemote) CreateInvoice(_ context.Context, req smartbill.CreateDocumentRequest) (*smartbill.DocumentRef, error) {
	f.createInvoiceCalls++
	f.lastRequest = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &smartbill.DocumentRef{RemoteID: fmt.Sprintf("sb-inv-%d", f.createInvoiceCalls), Number: "0001", Series: req.Series}, nil
}

func (f *fakeRemote) CreateProforma(_ context.Context, req smartbill.CreateDocumentRequest) (*smartbill.DocumentRef, error) {
	f.createProformaCalls++
	f.lastRequest = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &smartbill.DocumentRef{RemoteID: fmt.Sprintf("sb-pf-%d", f.createProformaCalls), Number: "0100", Series: req.Series}, nil
}

func (f *fakeRemote) ConvertProforma(_ context.Context, series, number string) (*smartbill.DocumentRef, error) {
	f.convertCalls++
	if f.convertErr != nil {
		return nil, f.convertErr
	}
	return &smartbill.DocumentRef{RemoteID: "sb-conv-1", Number: "0500", Series: "FF"}, nil
}

func (f *fakeRemote) GetPaymentStatus(_ context.Context, remoteID string) (*smartbill.PaymentStatus, error) {
	if err := f.statusErr[remoteID]; err != nil {
		return nil, err
	}
	if status, ok := f.statuses[remoteID]; ok {
		return status, nil
	}
	return &smartbill.PaymentStatus{}, nil
}

type fakeOrders struct {
	known         map[string]bool
	attachErr     error
	attached      []string
	paidNotified  []string
	notifyPaidErr error
}

func (f *fakeOrders) GetOrder(_ context.Context, orderID string) (*OrderInfo, error) {
	if !f.known[orderID] {
		return nil, shared.ErrNotFound
	}
	return &OrderInfo{ID: orderID}, nil
}

func (f *fakeOrders) AttachRemoteDocument(_ context.Context, orderID, remoteID, number string) error {
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached = append(f.attached, orderID)
	return nil
}

func (f *fakeOrders) NotifyPaid(_ context.Context, orderID string, amount decimal.Decimal) error {
	if f.notifyPaidErr != nil {
		return f.notifyPaidErr
	}
	f.paidNotified = append(f.paidNotified, orderID)
	return nil
}

type fakeQuotes struct {
	quotes   map[string]*QuoteInfo
	attached []string
}

func (f *fakeQuotes) GetQuote(_ context.Context, quoteID string) (*QuoteInfo, error) {
	quote, ok := f.quotes[quoteID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return quote, nil
}

func (f *fakeQuotes) AttachProforma(_ context.Context, quoteID string, documentID int64) error {
	f.attached = append(f.attached, quoteID)
	return nil
}

type capturingPublisher struct {
	events []string
}

func (p *capturingPublisher) Publish(_ context.Context, name string, _ any) error {
	p.events = append(p.events, name)
	return nil
}

func testItems() []LineItem {
	return []LineItem{{
		Name:      "Widget",
		SKU:       "W-1",
		Quantity:  decimal.NewFromInt(2),
		UnitPrice: decimal.NewFromInt(50),
		TaxRate:   decimal.RequireFromString("0.19"),
	}}
}

func newTestService(repo *fakeRepo, remote *fakeRemote, orders *fakeOrders, cfg ServiceConfig) *Service {
	svc := NewService(repo, remote, orders, cfg, slog.New(slog.NewTextHandler(testWriter{}, nil)))
	svc.sleep = func(time.Duration) {}
	return svc
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestCreateInvoiceIsIdempotentPerOrder(t *testing.T) {
	repo := newFakeRepo()
	remote := &fakeRemote{}
	orders := &fakeOrders{known: map[string]bool{"ORD-1": true}}
	pub := &capturingPublisher{}
	svc := newTestService(repo, remote, orders, ServiceConfig{Events: pub})

	input := CreateDocumentInput{OrderID: "ORD-1", Customer: Customer{Name: "Acme SRL"}, Items: testItems(), Series: "FF", Currency: "RON"}

	first, err := svc.CreateInvoice(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, StatusIssued, first.Status)
	require.Equal(t, "sb-inv-1", first.RemoteID)
	require.True(t, first.Total.Equal(decimal.RequireFromString("119")), "total = %s", first.Total)

	second, err := svc.CreateInvoice(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, remote.createInvoiceCalls, "remote must be called exactly once per order")

	require.Equal(t, []string{"ORD-1"}, orders.attached)
	require.Equal(t, []string{shared.EventInvoiceCreated}, pub.events)
}

func TestCreateInvoiceUnknownOrderFails(t *testing.T) {
	repo := newFakeRepo()
	remote := &fakeRemote{}
	orders := &fakeOrders{known: map[string]bool{}}
	pub := &capturingPublisher{}
	svc := newTestService(repo, remote, orders, ServiceConfig{Events: pub})

	_, err := svc.CreateInvoice(context.Background(), CreateDocumentInput{OrderID: "ORD-missing", Items: testItems()})
	require.ErrorIs(t, err, ErrOrderNotFound)

	var creation *CreationError
	require.ErrorAs(t, err, &creation)
	require.Equal(t, "ORD-missing", creation.OrderRef)
	require.Zero(t, remote.createInvoiceCalls)
	require.Equal(t, []string{shared.EventInvoiceCreateFailed}, pub.events)
}

func TestCreateInvoiceInsertRaceRefetchesWinner(t *testing.T) {
	repo := newFakeRepo()
	remote := &fakeRemote{}
	orders := &fakeOrders{known: map[string]bool{"ORD-9": true}}
	svc := newTestService(repo, remote, orders, ServiceConfig{})

	winner := &Document{Type: TypeInvoice, OrderRef: "ORD-9", Status: StatusIssued, RemoteID: "sb-other"}
	require.NoError(t, repo.Insert(context.Background(), winner))
	// Simulate losing the race: the idempotency lookup misses, the insert
	// then collides with the concurrently persisted winner.
	repo.missLookupOnce = true
	repo.insertErrOnce = shared.ErrDuplicate

	doc, err := svc.CreateInvoice(context.Background(), CreateDocumentInput{OrderID: "ORD-9", Items: testItems()})
	require.NoError(t, err)
	require.Equal(t, "sb-other", doc.RemoteID)
}

func TestCreateInvoiceRemoteFailurePublishesFailure(t *testing.T) {
	repo := newFakeRepo()
	remote := &fakeRemote{createErr: &smartbill.APIError{Message: "boom", StatusCode: 500, Kind: smartbill.KindServerError}}
	orders := &fakeOrders{known: map[string]bool{"ORD-2": true}}
	pub := &capturingPublisher{}
	svc := newTestService(repo, remote, orders, ServiceConfig{Events: pub})

	_, err := svc.CreateInvoice(context.Background(), CreateDocumentInput{OrderID: "ORD-2", Items: testItems()})
	require.Error(t, err)

	var apiErr *smartbill.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, []string{shared.EventInvoiceCreateFailed}, pub.events)
	require.Empty(t, repo.docs, "nothing may be persisted when the remote call fails")
}

func TestCreateProformaFromQuote(t *testing.T) {
	repo := newFakeRepo()
	remote := &fakeRemote{}
	orders := &fakeOrders{}
	quotes := &fakeQuotes{quotes: map[string]*QuoteInfo{
		"Q-7": {ID: "Q-7", Status: "accepted", Customer: Customer{Name: "Beta SRL"}, Currency: "RON", Items: testItems()},
	}}
	pub := &capturingPublisher{}
	svc := newTestService(repo, remote, orders, ServiceConfig{Quotes: quotes, Events: pub})

	doc, err := svc.CreateProformaFromQuote(context.Background(), "Q-7", "PF", 15)
	require.NoError(t, err)
	require.Equal(t, TypeProforma, doc.Type)
	require.Equal(t, "QUOTE-Q-7", doc.OrderRef)
	require.Equal(t, StatusIssued, doc.Status)
	require.Equal(t, []string{"Q-7"}, quotes.attached)
	require.Empty(t, orders.attached, "quote-backed documents never touch the order system")
	require.Equal(t, []string{shared.EventProformaCreated}, pub.events)

	_, err = svc.CreateProformaFromQuote(context.Background(), "Q-7", "PF", 15)
	require.ErrorIs(t, err, ErrProformaExists)
	require.Equal(t, 1, remote.createProformaCalls)
}

func TestCreateProformaFromQuoteRejections(t *testing.T) {
	repo := newFakeRepo()
	remote := &fakeRemote{}
	quotes := &fakeQuotes{quotes: map[string]*QuoteInfo{
		"Q-declined": {ID: "Q-declined", Status: "declined", Items: testItems()},
		"Q-empty":    {ID: "Q-empty", Status: "accepted"},
	}}
	svc := newTestService(repo, remote, &fakeOrders{}, ServiceConfig{Quotes: quotes})

	_, err := svc.CreateProformaFromQuote(context.Background(), "Q-declined", "PF", 15)
	require.ErrorIs(t, err, ErrQuoteNotConvertible)

	_, err = svc.CreateProformaFromQuote(context.Background(), "Q-empty", "PF", 15)
	require.ErrorIs(t, err, ErrNoLineItems)

	_, err = svc.CreateProformaFromQuote(context.Background(), "Q-unknown", "PF", 15)
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.Zero(t, remote.createProformaCalls)
}

func TestCreateProformaFromQuoteUnconfigured(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeRemote{}, &fakeOrders{}, ServiceConfig{})
	_, err := svc.CreateProformaFromQuote(context.Background(), "Q-1", "PF", 15)
	require.ErrorIs(t, err, shared.ErrNotConfigured)
}

func TestConvertProformaToInvoice(t *testing.T) {
	repo := newFakeRepo()
	remote := &fakeRemote{}
	orders := &fakeOrders{known: map[string]bool{"ORD-5": true}}
	pub := &capturingPublisher{}
	svc := newTestService(repo, remote, orders, ServiceConfig{Events: pub})

	proforma := &Document{
		Type: TypeProforma, OrderRef: "ORD-5", RemoteID: "sb-pf-9", Number: "0100", Series: "PF",
		Status: StatusIssued, Currency: "RON", Total: decimal.NewFromInt(119),
	}
	require.NoError(t, repo.Insert(context.Background(), proforma))

	invoice, err := svc.ConvertProformaToInvoice(context.Background(), proforma.ID)
	require.NoError(t, err)
	require.Equal(t, TypeInvoice, invoice.Type)
	require.Equal(t, "ORD-5", invoice.OrderRef)
	require.Equal(t, StatusIssued, invoice.Status)
	require.Equal(t, "sb-conv-1", invoice.RemoteID)
	require.Equal(t, 1, remote.convertCalls)

	stored, err := repo.GetByID(context.Background(), proforma.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConverted, stored.Status)

	require.Equal(t, []string{shared.EventProformaConverted, shared.EventInvoiceCreated}, pub.events)
}

func TestConvertProformaGuardsRejectBeforeRemoteCall(t *testing.T) {
	repo := newFakeRepo()
	remote := &fakeRemote{}
	svc := newTestService(repo, remote, &fakeOrders{}, ServiceConfig{})

	seed := func(doc Document) int64 {
		doc.OrderRef = fmt.Sprintf("ORD-%d", repo.nextID)
		require.NoError(t, repo.Insert(context.Background(), &doc))
		return doc.ID
	}

	invoiceID := seed(Document{Type: TypeInvoice, Status: StatusIssued, RemoteID: "x"})
	_, err := svc.ConvertProformaToInvoice(context.Background(), invoiceID)
	require.Error(t, err)

	convertedID := seed(Document{Type: TypeProforma, Status: StatusConverted, RemoteID: "x"})
	_, err = svc.ConvertProformaToInvoice(context.Background(), convertedID)
	require.ErrorIs(t, err, ErrAlreadyConverted)

	draftID := seed(Document{Type: TypeProforma, Status: StatusDraft})
	_, err = svc.ConvertProformaToInvoice(context.Background(), draftID)
	require.ErrorIs(t, err, ErrNotIssued)

	_, err = svc.ConvertProformaToInvoice(context.Background(), 9999)
	require.ErrorIs(t, err, shared.ErrNotFound)

	var conversion *ConversionError
	require.ErrorAs(t, err, &conversion)
	require.Equal(t, int64(9999), conversion.ProformaID)

	require.Zero(t, remote.convertCalls, "guards must fire before any remote call")
}

func TestSyncInvoiceStatuses(t *testing.T) {
	repo := newFakeRepo()
	orders := &fakeOrders{known: map[string]bool{}}
	remote := &fakeRemote{
		statuses: map[string]*smartbill.PaymentStatus{
			"sb-paid": {Total: decimal.NewFromInt(100), PaidAmount: decimal.NewFromInt(100)},
			"sb-open": {Total: decimal.NewFromInt(100), PaidAmount: decimal.Zero},
		},
		statusErr: map[string]error{
			"sb-err": errors.New("remote unavailable"),
		},
	}
	svc := newTestService(repo, remote, orders, ServiceConfig{})

	for i, remoteID := range []string{"sb-paid", "sb-open", "sb-err"} {
		doc := &Document{
			Type: TypeInvoice, OrderRef: fmt.Sprintf("ORD-%d", i), RemoteID: remoteID,
			Status: StatusIssued, Total: decimal.NewFromInt(100),
		}
		require.NoError(t, repo.Insert(context.Background(), doc))
	}

	result, err := svc.SyncInvoiceStatuses(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, result.Checked)
	require.Equal(t, 1, result.Updated)
	require.Equal(t, 1, result.Errors)

	paid, err := repo.GetByOrderRef(context.Background(), TypeInvoice, "ORD-0")
	require.NoError(t, err)
	require.Equal(t, StatusPaid, paid.Status)
	require.Equal(t, []string{"ORD-0"}, orders.paidNotified)

	open, err := repo.GetByOrderRef(context.Background(), TypeInvoice, "ORD-1")
	require.NoError(t, err)
	require.Equal(t, StatusIssued, open.Status)
}

func TestSyncInvoiceStatusesCancelled(t *testing.T) {
	repo := newFakeRepo()
	remote := &fakeRemote{
		statuses: map[string]*smartbill.PaymentStatus{
			"sb-gone": {Cancelled: true},
		},
	}
	pub := &capturingPublisher{}
	svc := newTestService(repo, remote, &fakeOrders{}, ServiceConfig{Events: pub})

	doc := &Document{Type: TypeInvoice, OrderRef: "ORD-c", RemoteID: "sb-gone", Status: StatusIssued}
	require.NoError(t, repo.Insert(context.Background(), doc))

	result, err := svc.SyncInvoiceStatuses(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusSyncResult{Checked: 1, Updated: 1}, result)

	stored, err := repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, stored.Status)
	require.Equal(t, []string{shared.EventInvoiceStatusChanged}, pub.events)
}

func TestSyncInvoiceStatusesRecordsPartialPayment(t *testing.T) {
	repo := newFakeRepo()
	remote := &fakeRemote{
		statuses: map[string]*smartbill.PaymentStatus{
			"sb-half": {Total: decimal.NewFromInt(200), PaidAmount: decimal.NewFromInt(80)},
		},
	}
	svc := newTestService(repo, remote, &fakeOrders{}, ServiceConfig{})

	doc := &Document{Type: TypeInvoice, OrderRef: "ORD-h", RemoteID: "sb-half", Status: StatusIssued, Total: decimal.NewFromInt(200)}
	require.NoError(t, repo.Insert(context.Background(), doc))

	result, err := svc.SyncInvoiceStatuses(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Updated)

	stored, err := repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusIssued, stored.Status)
	require.True(t, stored.PaidAmount.Equal(decimal.NewFromInt(80)))
}

func TestCreateRemoteSendsPercentTaxRate(t *testing.T) {
	repo := newFakeRepo()
	remote := &fakeRemote{}
	orders := &fakeOrders{known: map[string]bool{"ORD-t": true}}
	svc := newTestService(repo, remote, orders, ServiceConfig{})

	_, err := svc.CreateInvoice(context.Background(), CreateDocumentInput{OrderID: "ORD-t", Items: testItems()})
	require.NoError(t, err)
	require.Len(t, remote.lastRequest.Products, 1)
	require.True(t, remote.lastRequest.Products[0].TaxPercent.Equal(decimal.NewFromInt(19)),
		"tax fraction must be sent as a percentage, got %s", remote.lastRequest.Products[0].TaxPercent)
}
