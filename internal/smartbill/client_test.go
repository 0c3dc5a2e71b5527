package smartbill

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := New(Config{
		BaseURL:     srv.URL,
		Username:    "user",
		Token:       "token",
		CompanyVAT:  "RO12345678",
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		CallsPerMin: 1000,
	})
	var sleeps []time.Duration
	client.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return client, &sleeps
}

func TestRetryableErrorExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	client, sleeps := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.GetPaymentStatus(context.Background(), "42")
	require.Error(t, err)
	require.Equal(t, int32(3), calls.Load())

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, KindServerError, apiErr.Kind)
	require.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	// Two backoff sleeps between three attempts, doubling from the base.
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *sleeps)
}

func TestNonRetryableErrorFailsFast(t *testing.T) {
	var calls atomic.Int32
	client, sleeps := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.GetPaymentStatus(context.Background(), "42")
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
	require.Empty(t, *sleeps)

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, KindAuthenticationFailed, apiErr.Kind)
	require.False(t, apiErr.Retryable())
}

func TestRetryAfterHintIsFloor(t *testing.T) {
	var calls atomic.Int32
	client, sleeps := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(PaymentStatus{Number: "10"})
	}))

	status, err := client.GetPaymentStatus(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "10", status.Number)
	require.Equal(t, []time.Duration{2 * time.Second}, *sleeps)
}

func TestCreateInvoiceParsesSynonymousIDFields(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "user", user)
		require.Equal(t, "token", pass)

		var req CreateDocumentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "RO12345678", req.CompanyVAT)

		_, _ = w.Write([]byte(`{"smartbillInvoiceId":"abc-1","invoiceNumber":"0007","seriesName":"FACT"}`))
	}))

	ref, err := client.CreateInvoice(context.Background(), CreateDocumentRequest{Series: "FACT"})
	require.NoError(t, err)
	require.Equal(t, "abc-1", ref.RemoteID)
	require.Equal(t, "0007", ref.Number)
	require.Equal(t, "FACT", ref.Series)
}

func TestNetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from here on

	client := New(Config{BaseURL: srv.URL, MaxAttempts: 2, BaseDelay: time.Millisecond, CallsPerMin: 1000})
	client.sleep = func(time.Duration) {}

	_, err := client.ListStock(context.Background())
	require.Error(t, err)
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, KindNetworkError, apiErr.Kind)
	require.Zero(t, apiErr.StatusCode)
	require.True(t, apiErr.Retryable())
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   ErrorKind
	}{
		{401, "", KindAuthenticationFailed},
		{403, "", KindAuthenticationFailed},
		{404, "", KindDocumentNotFound},
		{429, "", KindRateLimited},
		{500, "", KindServerError},
		{503, "", KindServerError},
		{400, `{"errorText":"CIF invalid"}`, KindInvalidCompanyTaxID},
		{400, `{"errorText":"quantity is required"}`, KindValidation},
		{400, `{"errorText":"unbekannt"}`, KindInvalidRequest},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, classifyStatus(tc.status, tc.body), "status %d body %q", tc.status, tc.body)
	}
}

func TestListInvoicesAcceptsAlternateEnvelopes(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"list":[{"id":"1","number":"0001","issueDate":"2026-08-01","client":{"name":"ACME SRL","vatCode":"RO1"}}]}`))
	}))

	docs, err := client.ListInvoices(context.Background(), time.Now().AddDate(0, 0, -7), time.Now())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "ACME SRL", docs[0].Client.Name)
	require.Equal(t, "0001", docs[0].Ref.Number)
	require.Equal(t, 2026, docs[0].IssueDate.Year())
}

func TestListStockParsesWarehouseObject(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"list":[{"warehouse":{"warehouseName":"Central"},"products":[{"productCode":"SKU-1","quantity":"4"}]}]}`))
	}))

	stocks, err := client.ListStock(context.Background())
	require.NoError(t, err)
	require.Len(t, stocks, 1)
	require.Equal(t, "Central", stocks[0].Warehouse)
	require.Len(t, stocks[0].Items, 1)
	require.Equal(t, "4", stocks[0].Items[0].Quantity.String())
}
