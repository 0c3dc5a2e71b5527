package custmatch

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aurora-erp/aurora-sync/internal/platform/httpx"
)

// Handler manages customer matching endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	links    LinkRepositoryPort
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, links LinkRepositoryPort) *Handler {
	return &Handler{logger: logger, service: service, links: links, validate: validator.New()}
}

// MountRoutes registers customer matching routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/links", h.listLinks)
	r.Post("/matches", h.findMatches)
	r.Post("/auto-link", h.autoLink)
	r.Post("/sync", h.runSync)
}

func (h *Handler) listLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.links.List(r.Context(), DefaultProvider, 200)
	if err != nil {
		h.logger.Error("list customer links", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"links": links})
}

type matchRequest struct {
	Name    string `json:"name" validate:"required"`
	TaxCode string `json:"taxCode"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
}

func (h *Handler) findMatches(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, err.Error())
		return
	}

	ext := ExternalIdentity{Name: req.Name, TaxCode: req.TaxCode, Email: req.Email, Phone: req.Phone}
	candidates, err := h.service.FindMatches(r.Context(), ext)
	if err != nil {
		h.logger.Error("find matches", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	suggestion, err := h.service.AutoMatchSuggestion(r.Context(), ext)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"candidates": candidates,
		"suggestion": suggestion,
	})
}

func (h *Handler) autoLink(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dryRun") == "true"
	result, err := h.service.AutoLinkHighConfidence(r.Context(), dryRun)
	if err != nil {
		h.logger.Error("auto link", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type syncRequest struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := time.Parse("2006-01-02", req.From)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid from date, expected YYYY-MM-DD")
		return
	}
	to, err := time.Parse("2006-01-02", req.To)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid to date, expected YYYY-MM-DD")
		return
	}

	result, err := h.service.SyncCustomers(r.Context(), from, to)
	if err != nil {
		h.logger.Error("customer sync", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
