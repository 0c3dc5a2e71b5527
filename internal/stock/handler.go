package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/aurora-erp/aurora-sync/internal/platform/httpx"
)

// Handler manages stock endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	syncSF  singleflight.Group
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sync", h.runSync)
	r.Get("/snapshot", h.latestSnapshot)
	r.Post("/prices/extract", h.extractPrices)
}

// runSync collapses concurrent manual triggers into one remote sync.
func (h *Handler) runSync(w http.ResponseWriter, r *http.Request) {
	v, err, _ := h.syncSF.Do("stock-sync", func() (any, error) {
		return h.service.SyncStock(r.Context())
	})
	result, _ := v.(SyncResult)
	if err != nil {
		var syncErr *SyncError
		if errors.As(err, &syncErr) {
			// Partial result: what succeeded is persisted, the failed
			// warehouses are listed in the body.
			httpx.JSON(w, http.StatusMultiStatus, result)
			return
		}
		h.logger.Error("stock sync", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) latestSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.LatestSnapshot(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if snapshot == nil {
		httpx.Problem(w, http.StatusNotFound, "no stock sync has completed yet")
		return
	}
	httpx.JSON(w, http.StatusOK, snapshot)
}

func (h *Handler) extractPrices(w http.ResponseWriter, r *http.Request) {
	strategy := PriceStrategy(r.URL.Query().Get("strategy"))
	if strategy == "" {
		strategy = StrategyLatest
	}
	if !strategy.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "strategy must be latest or average")
		return
	}
	preview := r.URL.Query().Get("preview") == "true"
	lookback := 0
	if v := r.URL.Query().Get("lookbackDays"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httpx.Problem(w, http.StatusBadRequest, "lookbackDays must be a non-negative integer")
			return
		}
		lookback = n
	}

	result, err := h.service.ExtractPrices(r.Context(), lookback, strategy, preview)
	if err != nil {
		h.logger.Error("price extraction", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
