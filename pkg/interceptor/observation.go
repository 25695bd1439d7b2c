package interceptor

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/cecil-the-coder/key-health-kit/pkg/types"
)

// statusCodePattern finds an HTTP-like 3-digit code inside error text, the
// last resort when a failure carries no structured status.
var statusCodePattern = regexp.MustCompile(`\b([1-5][0-9]{2})\b`)

// buildObservation assembles the request metadata for one completed call,
// successful or not. Extraction from errors is best-effort; anything
// unparsable simply stays unset and degrades to "no signal" downstream.
func buildObservation(opts CallOptions, start time.Time, elapsed time.Duration, result interface{}, err error) *types.Observation {
	obs := &types.Observation{
		Provider:     opts.Provider,
		Credential:   opts.Credential,
		RequestTime:  start,
		ResponseTime: elapsed,
		RequestID:    newRequestID(),
		Metadata:     opts.Metadata,
	}

	if err == nil {
		obs.StatusCode = http.StatusOK
		if carrier, ok := result.(types.StatusCarrier); ok {
			obs.StatusCode = carrier.HTTPStatus()
		}
		if carrier, ok := result.(types.HeaderCarrier); ok {
			obs.Headers = carrier.HTTPHeaders()
		}
		return obs
	}

	obs.Err = &types.ObservedError{Message: err.Error()}

	var httpErr *types.HTTPError
	if errors.As(err, &httpErr) {
		obs.StatusCode = httpErr.Status
		obs.Headers = httpErr.Header
		obs.Err.Message = httpErr.Message
		obs.Err.Type = httpErr.Type
		return obs
	}

	var statusCarrier types.StatusCarrier
	if errors.As(err, &statusCarrier) {
		obs.StatusCode = statusCarrier.HTTPStatus()
	} else if match := statusCodePattern.FindString(err.Error()); match != "" {
		if code, convErr := strconv.Atoi(match); convErr == nil {
			obs.StatusCode = code
		}
	}

	var headerCarrier types.HeaderCarrier
	if errors.As(err, &headerCarrier) {
		obs.Headers = headerCarrier.HTTPHeaders()
	}

	return obs
}
