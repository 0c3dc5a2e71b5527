package smartbill

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind buckets remote failures into the categories the retry loop and
// the lifecycle layer care about.
type ErrorKind string

const (
	KindAuthenticationFailed ErrorKind = "authentication_failed"
	KindInvalidCompanyTaxID  ErrorKind = "invalid_company_tax_id"
	KindInvalidRequest       ErrorKind = "invalid_request"
	KindValidation           ErrorKind = "validation"
	KindDocumentNotFound     ErrorKind = "document_not_found"
	KindRateLimited          ErrorKind = "rate_limited"
	KindServerError          ErrorKind = "server_error"
	KindNetworkError         ErrorKind = "network_error"
	KindTimeout              ErrorKind = "timeout"
	KindUnknown              ErrorKind = "unknown"
)

// APIError is the single error type every remote failure is normalized into.
// StatusCode is 0 when no transport response was received.
type APIError struct {
	Message    string
	StatusCode int
	Body       string
	Kind       ErrorKind
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("smartbill: %s (kind=%s status=%d)", e.Message, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("smartbill: %s (kind=%s)", e.Message, e.Kind)
}

// Retryable reports whether the retry loop may attempt the call again.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServerError, KindNetworkError, KindTimeout:
		return true
	}
	return false
}

// AsAPIError unwraps err into an *APIError when possible.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// classifyTransport buckets connection-level failures.
func classifyTransport(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetworkError
}

// classifyStatus buckets an HTTP response by status code and body content.
func classifyStatus(status int, body string) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuthenticationFailed
	case status == 404:
		return KindDocumentNotFound
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindServerError
	case status == 400:
		lower := strings.ToLower(body)
		if strings.Contains(lower, "cif") || strings.Contains(lower, "cod fiscal") || strings.Contains(lower, "tax id") {
			return KindInvalidCompanyTaxID
		}
		if strings.Contains(lower, "invalid") || strings.Contains(lower, "required") || strings.Contains(lower, "must") {
			return KindValidation
		}
		return KindInvalidRequest
	case status >= 400:
		return KindInvalidRequest
	}
	return KindUnknown
}
