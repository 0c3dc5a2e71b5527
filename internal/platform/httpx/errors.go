package httpx

import (
	"errors"
	"net/http"

	"github.com/aurora-erp/aurora-sync/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, err.Error())
	case errors.Is(err, shared.ErrDuplicate):
		Problem(w, http.StatusConflict, err.Error())
	case errors.Is(err, shared.ErrNotConfigured):
		Problem(w, http.StatusServiceUnavailable, err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "")
	}
}
