// Package types defines the shared data model for the key health kit:
// observations of completed requests, detection results, admission decisions,
// and the small interfaces the other packages communicate through.
package types

import (
	"fmt"
	"net/http"
	"time"
)

// LimitType categorizes the kind of quota a rate limit applies to.
type LimitType string

const (
	// LimitRequestsPerMinute is a per-minute request quota (RPM).
	LimitRequestsPerMinute LimitType = "requests_per_minute"

	// LimitTokensPerMinute is a per-minute token quota (TPM).
	LimitTokensPerMinute LimitType = "tokens_per_minute"

	// LimitRequestsPerDay is a daily request quota.
	LimitRequestsPerDay LimitType = "requests_per_day"

	// LimitConcurrent is a concurrent-request cap.
	LimitConcurrent LimitType = "concurrent"
)

// Key health status values reported by HealthSummary.
const (
	StatusHealthy     = "healthy"
	StatusRateLimited = "rate_limited"
)

// ObservedError is the error portion of an Observation, reduced to the
// message and provider-assigned type string.
type ObservedError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// Observation captures the metadata of one completed request against an
// external API. It is built by the interceptor (or directly by a caller) and
// consumed exactly once by the health manager; only a bounded rolling window
// of past observations is retained.
type Observation struct {
	// Provider and Credential identify the key the request was made with.
	// Credentials are opaque; they are never transformed or hashed.
	Provider   string `json:"provider"`
	Credential string `json:"-"`

	// StatusCode is the HTTP-like status of the response (0 if unknown).
	StatusCode int `json:"status_code"`

	// Headers holds the response headers, if the caller captured them.
	Headers http.Header `json:"-"`

	// Err describes the failure, if the request failed.
	Err *ObservedError `json:"error,omitempty"`

	// ResponseTime is how long the request took.
	ResponseTime time.Duration `json:"response_time"`

	// RequestTime is when the request started.
	RequestTime time.Time `json:"request_time"`

	// RequestID is a unique identifier for the request, for log correlation.
	RequestID string `json:"request_id,omitempty"`

	// Metadata holds any additional caller-supplied context.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Success reports whether the observation represents a 2xx response.
func (o *Observation) Success() bool {
	return o.StatusCode >= 200 && o.StatusCode < 300
}

// Detection is the outcome of classifying a single Observation. Optional
// fields are pointers so that "not observed" is distinguishable from zero;
// a remaining count of 0 is a meaningful signal.
type Detection struct {
	// IsRateLimited reports whether the observation indicates rate limiting.
	IsRateLimited bool

	// Confidence is in [0, 1]; 0 when no signal fired.
	Confidence float64

	// Type of the limit that fired, when it could be classified.
	Type LimitType

	// LimitValue and LimitRemaining are quota numbers scraped from response
	// headers, present whenever the headers carried them, limited or not.
	LimitValue     *int
	LimitRemaining *int

	// ResetTime is the absolute time the quota resets, if announced.
	ResetTime *time.Time

	// RetryAfter is the announced wait before retrying, if any.
	RetryAfter *time.Duration
}

// HasQuotaInfo reports whether any header-derived quota numbers were captured.
func (d *Detection) HasQuotaInfo() bool {
	return d.LimitValue != nil || d.LimitRemaining != nil
}

// Decision is the result of an admission check for one prospective request.
type Decision struct {
	// CanProceed reports whether the request may be attempted now.
	CanProceed bool

	// RetryAfter is the suggested wait before retrying when denied.
	RetryAfter time.Duration

	// Reason is a human-readable explanation for a denial.
	Reason string
}

// KeySummary is a read-only diagnostic snapshot of one key's health, keyed by
// the masked credential in Manager.HealthSummary output.
type KeySummary struct {
	Provider    string  `json:"provider"`
	HealthScore float64 `json:"health_score"`
	Status      string  `json:"status"`
	RPMUsage    string  `json:"rpm_usage"`
	RetryAfter  string  `json:"retry_after"`
}

// MaskCredential returns a display-safe form of a credential showing only its
// first and last four characters. Short credentials are fully masked.
func MaskCredential(credential string) string {
	if len(credential) <= 8 {
		return "****"
	}
	return fmt.Sprintf("%s...%s", credential[:4], credential[len(credential)-4:])
}
