package detector

import (
	"strings"

	"github.com/cecil-the-coder/key-health-kit/pkg/types"
)

// Heuristic text matching lives here as pure functions over small tables so
// it can be unit-tested without any request machinery.

// rateLimitPhrases are error-message substrings that indicate rate limiting
// even when the status code does not.
var rateLimitPhrases = []string{
	"rate limit",
	"too many requests",
	"quota exceeded",
}

// rateLimitErrorMarkers are substrings of a provider error type or message
// that confirm a 429 is a quota rejection rather than some other throttle.
var rateLimitErrorMarkers = []string{
	"rate_limit",
	"ratelimit",
	"quota",
}

// limitTypeRule maps a set of substrings to the limit type they imply.
// Rules are evaluated in order; the first hit wins.
type limitTypeRule struct {
	markers []string
	limit   types.LimitType
}

var textLimitTypeRules = []limitTypeRule{
	{markers: []string{"token", "tpm"}, limit: types.LimitTokensPerMinute},
	{markers: []string{"concurrent"}, limit: types.LimitConcurrent},
	{markers: []string{"rpm", "requests per minute"}, limit: types.LimitRequestsPerMinute},
}

var headerLimitTypeRules = []limitTypeRule{
	{markers: []string{"token", "tpm"}, limit: types.LimitTokensPerMinute},
	{markers: []string{"day", "daily"}, limit: types.LimitRequestsPerDay},
	{markers: []string{"concurrent"}, limit: types.LimitConcurrent},
	{markers: []string{"minute", "rpm"}, limit: types.LimitRequestsPerMinute},
}

// mentionsRateLimit reports whether an error message reads like a rate-limit
// rejection. Matching is case-insensitive.
func mentionsRateLimit(message string) bool {
	return containsAny(strings.ToLower(message), rateLimitPhrases)
}

// confirmsRateLimit reports whether the error type/message marks the failure
// as a quota or rate-limit error.
func confirmsRateLimit(errType, message string) bool {
	text := strings.ToLower(errType + " " + message)
	return containsAny(text, rateLimitErrorMarkers)
}

// limitTypeFromText classifies the limit type from error text, defaulting to
// requests-per-minute when nothing more specific appears.
func limitTypeFromText(text string) types.LimitType {
	return applyRules(strings.ToLower(text), textLimitTypeRules)
}

// limitTypeFromHeader classifies the limit type from a (lowercased) header
// name, defaulting to requests-per-minute.
func limitTypeFromHeader(name string) types.LimitType {
	return applyRules(name, headerLimitTypeRules)
}

// isRateLimitHeader reports whether a lowercased header name belongs to a
// rate-limit family (e.g. x-ratelimit-remaining, x-rate-limit-reset).
func isRateLimitHeader(name string) bool {
	return strings.Contains(name, "ratelimit") || strings.Contains(name, "rate-limit")
}

func applyRules(text string, rules []limitTypeRule) types.LimitType {
	for _, rule := range rules {
		if containsAny(text, rule.markers) {
			return rule.limit
		}
	}
	return types.LimitRequestsPerMinute
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
