package detector

import (
	"testing"

	"github.com/cecil-the-coder/key-health-kit/pkg/types"
)

func TestMentionsRateLimit(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"Rate limit exceeded for requests", true},
		{"Too Many Requests", true},
		{"monthly quota exceeded", true},
		{"RATE LIMIT hit", true},
		{"connection refused", false},
		{"internal server error", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := mentionsRateLimit(tt.message); got != tt.want {
			t.Errorf("mentionsRateLimit(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

func TestConfirmsRateLimit(t *testing.T) {
	tests := []struct {
		errType string
		message string
		want    bool
	}{
		{"rate_limit_error", "", true},
		{"", "insufficient_quota remaining", true},
		{"invalid_request_error", "bad field", false},
		{"", "", false},
	}

	for _, tt := range tests {
		if got := confirmsRateLimit(tt.errType, tt.message); got != tt.want {
			t.Errorf("confirmsRateLimit(%q, %q) = %v, want %v", tt.errType, tt.message, got, tt.want)
		}
	}
}

func TestLimitTypeFromText(t *testing.T) {
	tests := []struct {
		text string
		want types.LimitType
	}{
		{"rate_limit_error: tokens per minute exceeded", types.LimitTokensPerMinute},
		{"TPM limit reached", types.LimitTokensPerMinute},
		{"too many concurrent requests", types.LimitConcurrent},
		{"RPM cap reached", types.LimitRequestsPerMinute},
		{"rate limit exceeded", types.LimitRequestsPerMinute},
	}

	for _, tt := range tests {
		if got := limitTypeFromText(tt.text); got != tt.want {
			t.Errorf("limitTypeFromText(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestLimitTypeFromHeader(t *testing.T) {
	tests := []struct {
		name string
		want types.LimitType
	}{
		{"x-ratelimit-remaining-tokens", types.LimitTokensPerMinute},
		{"x-ratelimit-limit-tpm", types.LimitTokensPerMinute},
		{"x-ratelimit-remaining-day", types.LimitRequestsPerDay},
		{"x-ratelimit-daily-limit", types.LimitRequestsPerDay},
		{"x-ratelimit-concurrent-limit", types.LimitConcurrent},
		{"x-ratelimit-remaining-minute", types.LimitRequestsPerMinute},
		{"x-ratelimit-remaining", types.LimitRequestsPerMinute},
	}

	for _, tt := range tests {
		if got := limitTypeFromHeader(tt.name); got != tt.want {
			t.Errorf("limitTypeFromHeader(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsRateLimitHeader(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"x-ratelimit-remaining", true},
		{"x-rate-limit-reset", true},
		{"anthropic-ratelimit-requests-remaining", true},
		{"content-type", false},
		{"x-request-id", false},
	}

	for _, tt := range tests {
		if got := isRateLimitHeader(tt.name); got != tt.want {
			t.Errorf("isRateLimitHeader(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
