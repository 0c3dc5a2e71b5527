package billing

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/aurora-erp/aurora-sync/internal/platform/httpx"
)

// Handler manages billing endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices", h.createInvoice)
	r.Post("/proformas", h.createProforma)
	r.Post("/proformas/from-quote", h.createProformaFromQuote)
	r.Post("/proformas/{id}/convert", h.convertProforma)
	r.Get("/documents/{id}", h.getDocument)
	r.Post("/status-sync", h.runStatusSync)
}

type lineItemRequest struct {
	Name      string          `json:"name" validate:"required"`
	SKU       string          `json:"sku"`
	Quantity  decimal.Decimal `json:"quantity" validate:"required"`
	UnitPrice decimal.Decimal `json:"unitPrice" validate:"required"`
	TaxRate   decimal.Decimal `json:"taxRate"`
}

type createDocumentRequest struct {
	OrderID  string            `json:"orderId" validate:"required"`
	Series   string            `json:"series"`
	Currency string            `json:"currency"`
	DueDate  string            `json:"dueDate"`
	Customer customerRequest   `json:"customer" validate:"required"`
	Items    []lineItemRequest `json:"items" validate:"required,min=1,dive"`
}

type customerRequest struct {
	Name    string `json:"name" validate:"required"`
	TaxCode string `json:"taxCode"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
	Country string `json:"country"`
}

func (req createDocumentRequest) toInput() (CreateDocumentInput, error) {
	input := CreateDocumentInput{
		OrderID:  req.OrderID,
		Series:   req.Series,
		Currency: req.Currency,
		Customer: Customer{
			Name:    req.Customer.Name,
			TaxCode: req.Customer.TaxCode,
			Email:   req.Customer.Email,
			Phone:   req.Customer.Phone,
			Address: req.Customer.Address,
			City:    req.Customer.City,
			Country: req.Customer.Country,
		},
	}
	if req.DueDate != "" {
		due, err := time.Parse("2006-01-02", req.DueDate)
		if err != nil {
			return input, err
		}
		input.DueDate = due
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, LineItem{
			Name:      item.Name,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			TaxRate:   item.TaxRate,
		})
	}
	return input, nil
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	h.createDocument(w, r, h.service.CreateInvoice)
}

func (h *Handler) createProforma(w http.ResponseWriter, r *http.Request) {
	h.createDocument(w, r, h.service.CreateProforma)
}

func (h *Handler) createDocument(w http.ResponseWriter, r *http.Request, create func(ctx context.Context, input CreateDocumentInput) (*Document, error)) {
	var req createDocumentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, err.Error())
		return
	}
	input, err := req.toInput()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid due date, expected YYYY-MM-DD")
		return
	}

	doc, err := create(r.Context(), input)
	if err != nil {
		h.logger.Error("create document", slog.String("order_id", req.OrderID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, documentResponse(doc))
}

type proformaFromQuoteRequest struct {
	QuoteID   string `json:"quoteId" validate:"required"`
	Series    string `json:"series"`
	DueInDays int    `json:"dueInDays" validate:"gte=0"`
}

func (h *Handler) createProformaFromQuote(w http.ResponseWriter, r *http.Request) {
	var req proformaFromQuoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DueInDays == 0 {
		req.DueInDays = 15
	}

	doc, err := h.service.CreateProformaFromQuote(r.Context(), req.QuoteID, req.Series, req.DueInDays)
	if err != nil {
		h.logger.Error("create proforma from quote", slog.String("quote_id", req.QuoteID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, documentResponse(doc))
}

func (h *Handler) convertProforma(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid document id")
		return
	}

	invoice, err := h.service.ConvertProformaToInvoice(r.Context(), id)
	if err != nil {
		h.logger.Error("convert proforma", slog.Int64("proforma_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, documentResponse(invoice))
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid document id")
		return
	}

	doc, err := h.service.repo.GetByID(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, documentResponse(doc))
}

func (h *Handler) runStatusSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.SyncInvoiceStatuses(r.Context())
	if err != nil {
		h.logger.Error("status sync", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type documentView struct {
	ID         int64           `json:"id"`
	Type       DocumentType    `json:"type"`
	OrderRef   string          `json:"orderRef"`
	RemoteID   string          `json:"remoteId,omitempty"`
	Number     string          `json:"number,omitempty"`
	Series     string          `json:"series,omitempty"`
	Currency   string          `json:"currency,omitempty"`
	Status     Status          `json:"status"`
	TotalNet   decimal.Decimal `json:"totalNet"`
	TotalTax   decimal.Decimal `json:"totalTax"`
	Total      decimal.Decimal `json:"total"`
	DueDate    *time.Time      `json:"dueDate,omitempty"`
	PaidAmount decimal.Decimal `json:"paidAmount"`
	PaidAt     *time.Time      `json:"paidAt,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func documentResponse(doc *Document) documentView {
	view := documentView{
		ID:         doc.ID,
		Type:       doc.Type,
		OrderRef:   doc.OrderRef,
		RemoteID:   doc.RemoteID,
		Number:     doc.Number,
		Series:     doc.Series,
		Currency:   doc.Currency,
		Status:     doc.Status,
		TotalNet:   doc.TotalNet,
		TotalTax:   doc.TotalTax,
		Total:      doc.Total,
		PaidAmount: doc.PaidAmount,
		PaidAt:     doc.PaidAt,
		CreatedAt:  doc.CreatedAt,
	}
	if !doc.DueDate.IsZero() {
		due := doc.DueDate
		view.DueDate = &due
	}
	return view
}
