package types

import (
	"fmt"
	"net/http"
	"time"
)

// StatusCarrier is implemented by errors (or results) that know the HTTP
// status code of the response they describe. The interceptor uses it to
// build observations from failures without depending on any particular
// client library's error type.
type StatusCarrier interface {
	HTTPStatus() int
}

// HeaderCarrier is implemented by errors or results that retained the HTTP
// response headers. Headers are where most providers announce quota state,
// so carrying them through makes detection far more accurate.
type HeaderCarrier interface {
	HTTPHeaders() http.Header
}

// HTTPError is a ready-made error type callers can wrap provider failures in
// so the interceptor can observe status, type, and headers. Wrapping is
// optional; plain errors degrade to string inspection.
type HTTPError struct {
	Status  int
	Message string
	Type    string
	Header  http.Header
	Err     error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status=%d)", e.Message, e.Status)
	}
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As.
func (e *HTTPError) Unwrap() error { return e.Err }

// HTTPStatus implements StatusCarrier.
func (e *HTTPError) HTTPStatus() int { return e.Status }

// HTTPHeaders implements HeaderCarrier.
func (e *HTTPError) HTTPHeaders() http.Header { return e.Header }

// NewHTTPError creates an HTTPError from a status code and message.
func NewHTTPError(status int, message string) *HTTPError {
	return &HTTPError{Status: status, Message: message}
}

// RateLimitError is the synthetic error the interceptor returns when
// admission control blocks a request before it runs. It is always
// recoverable: back off for RetryAfter or try a different key.
type RateLimitError struct {
	Provider   string
	Credential string
	RetryAfter time.Duration
	Reason     string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %d seconds", int(e.RetryAfter.Seconds()))
}

// HTTPStatus implements StatusCarrier; an admission denial is reported as 429.
func (e *RateLimitError) HTTPStatus() int { return http.StatusTooManyRequests }

// IsRetryable always returns true; admission denials are transient.
func (e *RateLimitError) IsRetryable() bool { return true }

// NewRateLimitError creates a RateLimitError for a provider/credential pair.
func NewRateLimitError(provider, credential string, retryAfter time.Duration, reason string) *RateLimitError {
	return &RateLimitError{
		Provider:   provider,
		Credential: credential,
		RetryAfter: retryAfter,
		Reason:     reason,
	}
}
