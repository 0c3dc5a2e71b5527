// Package smartbill wraps outbound calls to the SmartBill accounting service.
// It owns retry with exponential backoff, advisory rate budgeting and the
// normalization of every failure into APIError; nothing above this package
// sees a raw transport error.
package smartbill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
	defaultTimeout     = 30 * time.Second
	defaultCallsPerMin = 10
)

// Config collects the client settings.
type Config struct {
	BaseURL     string
	Username    string
	Token       string
	CompanyVAT  string
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	CallsPerMin int
	Logger      *slog.Logger
	HTTPClient  *http.Client
}

// Client performs authenticated calls against the remote accounting API.
type Client struct {
	baseURL     string
	username    string
	token       string
	companyVAT  string
	http        *http.Client
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	limiter     *rate.Limiter
	sleep       func(time.Duration)
}

// New constructs a Client applying the default retry policy for unset fields.
func New(cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CallsPerMin <= 0 {
		cfg.CallsPerMin = defaultCallsPerMin
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		username:    cfg.Username,
		token:       cfg.Token,
		companyVAT:  cfg.CompanyVAT,
		http:        httpClient,
		logger:      cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.CallsPerMin)), cfg.CallsPerMin),
		sleep:       time.Sleep,
	}
}

// CreateInvoice creates a fiscal invoice and returns its remote identity.
func (c *Client) CreateInvoice(ctx context.Context, req CreateDocumentRequest) (*DocumentRef, error) {
	return c.createDocument(ctx, KindInvoice, req)
}

// CreateProforma creates a proforma invoice and returns its remote identity.
func (c *Client) CreateProforma(ctx context.Context, req CreateDocumentRequest) (*DocumentRef, error) {
	return c.createDocument(ctx, KindProforma, req)
}

func (c *Client) createDocument(ctx context.Context, kind DocumentKind, req CreateDocumentRequest) (*DocumentRef, error) {
	if req.CompanyVAT == "" {
		req.CompanyVAT = c.companyVAT
	}
	var ref DocumentRef
	if err := c.do(ctx, http.MethodPost, "/"+string(kind), nil, req, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// GetDocument fetches one document by series and number.
func (c *Client) GetDocument(ctx context.Context, kind DocumentKind, series, number string) (*RemoteDocument, error) {
	q := url.Values{}
	q.Set("cif", c.companyVAT)
	q.Set("seriesname", series)
	q.Set("number", number)
	var doc RemoteDocument
	if err := c.do(ctx, http.MethodGet, "/"+string(kind), q, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

type listResponse struct {
	Invoices []RemoteDocument `json:"invoices"`
	List     []RemoteDocument `json:"list"`
	Data     []RemoteDocument `json:"data"`
}

// ListInvoices returns every invoice issued inside the date range.
func (c *Client) ListInvoices(ctx context.Context, from, to time.Time) ([]RemoteDocument, error) {
	q := url.Values{}
	q.Set("cif", c.companyVAT)
	q.Set("startDate", from.Format("2006-01-02"))
	q.Set("endDate", to.Format("2006-01-02"))
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "/invoice/list", q, nil, &resp); err != nil {
		return nil, err
	}
	docs := resp.Invoices
	if len(docs) == 0 {
		docs = resp.List
	}
	if len(docs) == 0 {
		docs = resp.Data
	}
	return docs, nil
}

// GetPaymentStatus returns the payment state of an invoice by remote id.
func (c *Client) GetPaymentStatus(ctx context.Context, remoteID string) (*PaymentStatus, error) {
	q := url.Values{}
	q.Set("cif", c.companyVAT)
	q.Set("id", remoteID)
	var status PaymentStatus
	if err := c.do(ctx, http.MethodGet, "/invoice/paymentstatus", q, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

type stockResponse struct {
	List       []WarehouseStock `json:"list"`
	Warehouses []WarehouseStock `json:"warehouses"`
}

// ListStock returns the current stock of every warehouse in one call.
func (c *Client) ListStock(ctx context.Context) ([]WarehouseStock, error) {
	q := url.Values{}
	q.Set("cif", c.companyVAT)
	q.Set("date", time.Now().Format("2006-01-02"))
	var resp stockResponse
	if err := c.do(ctx, http.MethodGet, "/stocks", q, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.List) > 0 {
		return resp.List, nil
	}
	return resp.Warehouses, nil
}

// CancelDocument voids a document on the remote side.
func (c *Client) CancelDocument(ctx context.Context, kind DocumentKind, series, number string) error {
	q := url.Values{}
	q.Set("cif", c.companyVAT)
	q.Set("seriesname", series)
	q.Set("number", number)
	return c.do(ctx, http.MethodPut, "/"+string(kind)+"/cancel", q, nil, nil)
}

// ConvertProforma turns an issued proforma into a fiscal invoice.
func (c *Client) ConvertProforma(ctx context.Context, series, number string) (*DocumentRef, error) {
	body := map[string]string{
		"companyVatCode": c.companyVAT,
		"seriesName":     series,
		"number":         number,
	}
	var ref DocumentRef
	if err := c.do(ctx, http.MethodPost, "/estimate/invoice", nil, body, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// do runs one logical call through the retry loop. Each attempt rebuilds the
// request; on a retryable failure the delay doubles from baseDelay up to
// maxDelay, with a server Retry-After hint acting as a floor.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	// The call budget is advisory: over-budget calls are logged, never queued.
	if !c.limiter.Allow() {
		c.logger.Warn("smartbill call budget exceeded", slog.String("path", path))
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return &APIError{Message: fmt.Sprintf("encode request: %v", err), Kind: KindInvalidRequest}
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr *APIError
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		apiErr, retryAfter := c.attempt(ctx, method, endpoint, payload, out)
		if apiErr == nil {
			return nil
		}
		lastErr = apiErr

		if !apiErr.Retryable() || attempt == c.maxAttempts {
			break
		}

		delay := c.baseDelay << (attempt - 1)
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
		if retryAfter > delay {
			delay = retryAfter
		}
		c.logger.Warn("smartbill call failed, retrying",
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.String("kind", string(apiErr.Kind)),
			slog.Duration("delay", delay))
		c.sleep(delay)
	}

	c.logger.Error("smartbill call failed",
		slog.String("path", path),
		slog.String("kind", string(lastErr.Kind)),
		slog.Int("status", lastErr.StatusCode))
	return lastErr
}

// attempt performs a single HTTP exchange and normalizes its outcome.
func (c *Client) attempt(ctx context.Context, method, endpoint string, payload []byte, out any) (*APIError, time.Duration) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &APIError{Message: err.Error(), Kind: KindInvalidRequest}, 0
	}
	req.SetBasicAuth(c.username, c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Message: err.Error(), Kind: classifyTransport(err)}, 0
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return &APIError{
					Message:    fmt.Sprintf("decode response: %v", err),
					StatusCode: resp.StatusCode,
					Body:       string(raw),
					Kind:       KindUnknown,
				}, 0
			}
		}
		return nil, 0
	}

	return &APIError{
		Message:    extractMessage(raw, resp.StatusCode),
		StatusCode: resp.StatusCode,
		Body:       string(raw),
		Kind:       classifyStatus(resp.StatusCode, string(raw)),
	}, parseRetryAfter(resp.Header.Get("Retry-After"))
}

// extractMessage pulls a human message out of the error payload, falling back
// to the HTTP status text. The service is inconsistent about the field name.
func extractMessage(raw []byte, status int) string {
	var body struct {
		ErrorText string `json:"errorText"`
		Message   string `json:"message"`
		Err       string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if msg := firstNonEmpty(body.ErrorText, body.Message, body.Err); msg != "" {
			return msg
		}
	}
	return http.StatusText(status)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
