package httpx_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aurora-erp/aurora-sync/internal/platform/httpx"
	"github.com/aurora-erp/aurora-sync/internal/shared"
)

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var problem httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&problem))
	return problem
}

func TestProblemDerivesTitleFromStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	httpx.Problem(rec, http.StatusNotFound, "document 42 missing")

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	problem := decodeProblem(t, rec)
	require.Equal(t, "Not Found", problem.Title)
	require.Equal(t, http.StatusNotFound, problem.Status)
	require.Equal(t, "document 42 missing", problem.Detail)
}

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("order 9: %w", shared.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("link a/b: %w", shared.ErrDuplicate), http.StatusConflict},
		{shared.ErrNotConfigured, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		httpx.RespondError(rec, tc.err)

		require.Equal(t, tc.status, rec.Code)
		problem := decodeProblem(t, rec)
		require.Equal(t, http.StatusText(tc.status), problem.Title)
		require.Equal(t, tc.status, problem.Status)
	}
}
