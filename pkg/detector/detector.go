// Package detector classifies completed-request observations into rate-limit
// detections. It combines three signals, in priority order: explicit status
// codes and error text, quota numbers scraped from response headers, and a
// per-key response-time baseline that catches silent throttling.
package detector

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cecil-the-coder/key-health-kit/pkg/types"
)

// Config controls detection thresholds and buffer bounds.
type Config struct {
	// MaxHistory bounds the per-key rolling observation window (FIFO).
	MaxHistory int

	// BaselineMinSamples is how many successful responses must be seen
	// before the timing baseline is trusted. The baseline buffer holds
	// twice this many samples.
	BaselineMinSamples int

	// SlowResponseRatio is the multiple of the baseline mean at which a
	// response is considered anomalously slow.
	SlowResponseRatio float64

	// LowRemainingRatio is the remaining/limit fraction below which a key
	// is treated as rate limited even without an explicit signal.
	LowRemainingRatio float64
}

// DefaultConfig returns the standard detection thresholds.
func DefaultConfig() Config {
	return Config{
		MaxHistory:         100,
		BaselineMinSamples: 5,
		SlowResponseRatio:  2.5,
		LowRemainingRatio:  0.10,
	}
}

// Detector classifies observations and maintains the rolling per-key state
// the timing heuristic needs. All methods are safe for concurrent use.
type Detector struct {
	mu        sync.Mutex
	cfg       Config
	logger    types.Logger
	history   map[string][]*types.Observation
	baselines map[string][]time.Duration
}

// New creates a Detector. A nil logger disables logging.
func New(cfg Config, logger types.Logger) *Detector {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultConfig().MaxHistory
	}
	if cfg.BaselineMinSamples <= 0 {
		cfg.BaselineMinSamples = DefaultConfig().BaselineMinSamples
	}
	if cfg.SlowResponseRatio <= 1 {
		cfg.SlowResponseRatio = DefaultConfig().SlowResponseRatio
	}
	if cfg.LowRemainingRatio <= 0 {
		cfg.LowRemainingRatio = DefaultConfig().LowRemainingRatio
	}
	if logger == nil {
		logger = types.NewNopLogger()
	}
	return &Detector{
		cfg:       cfg,
		logger:    logger,
		history:   make(map[string][]*types.Observation),
		baselines: make(map[string][]time.Duration),
	}
}

// Analyze classifies one observation and records it in the rolling window.
// Classification runs against the baseline as it stood before this
// observation; the side effects happen afterwards.
func (d *Detector) Analyze(obs *types.Observation) types.Detection {
	if obs == nil {
		return types.Detection{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	det := d.classify(obs)
	d.record(obs)

	if det.IsRateLimited {
		d.logger.Debug("rate limit detected",
			"provider", obs.Provider,
			"credential", types.MaskCredential(obs.Credential),
			"confidence", det.Confidence,
			"limit_type", string(det.Type))
	}
	return det
}

// Reset discards all rolling history and baselines.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = make(map[string][]*types.Observation)
	d.baselines = make(map[string][]time.Duration)
}

// HistoryLen returns the number of retained observations for a key.
func (d *Detector) HistoryLen(provider, credential string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.history[keyID(provider, credential)])
}

// BaselineSamples returns the number of baseline samples for a key.
func (d *Detector) BaselineSamples(provider, credential string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.baselines[keyID(provider, credential)])
}

// classify runs the three detection signals in priority order. Header quota
// numbers are captured even when an explicit signal already fired; the
// timing heuristic only runs when the first two signals found nothing.
func (d *Detector) classify(obs *types.Observation) types.Detection {
	var det types.Detection

	d.checkExplicit(obs, &det)
	d.scanHeaders(obs, &det)
	if !det.IsRateLimited && !det.HasQuotaInfo() {
		d.checkTiming(obs, &det)
	}
	return det
}

// checkExplicit handles status 429 and rate-limit wording in error text.
func (d *Detector) checkExplicit(obs *types.Observation, det *types.Detection) {
	if obs.StatusCode == http.StatusTooManyRequests {
		det.IsRateLimited = true
		det.Confidence = 1.0
		det.Type = types.LimitRequestsPerMinute

		if retryAfter := parseRetryAfter(obs.Headers); retryAfter != nil {
			det.RetryAfter = retryAfter
		}
		if obs.Err != nil && confirmsRateLimit(obs.Err.Type, obs.Err.Message) {
			det.Type = limitTypeFromText(obs.Err.Type + " " + obs.Err.Message)
		}
		return
	}

	if obs.Err != nil && mentionsRateLimit(obs.Err.Message) {
		det.IsRateLimited = true
		det.Confidence = 0.9
		det.Type = limitTypeFromText(obs.Err.Message)
	}
}

// scanHeaders walks all response headers looking for rate-limit families and
// captures limit/remaining/reset values. A nearly exhausted quota flags the
// key even without a 429.
func (d *Detector) scanHeaders(obs *types.Observation, det *types.Detection) {
	if len(obs.Headers) == 0 {
		return
	}

	for name, values := range obs.Headers {
		lower := strings.ToLower(name)
		if !isRateLimitHeader(lower) || len(values) == 0 {
			continue
		}
		value := strings.TrimSpace(values[0])

		switch {
		case strings.Contains(lower, "remaining"):
			if n, err := strconv.Atoi(value); err == nil {
				det.LimitRemaining = intPtr(n)
				d.noteLimitType(det, lower)
			}
		case strings.Contains(lower, "reset"):
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				det.ResetTime = timePtr(resetToTime(f))
			}
		case strings.Contains(lower, "limit"):
			if n, err := strconv.Atoi(value); err == nil {
				det.LimitValue = intPtr(n)
				d.noteLimitType(det, lower)
			}
		}
	}

	if det.IsRateLimited || det.LimitValue == nil || det.LimitRemaining == nil {
		return
	}
	if *det.LimitValue > 0 {
		ratio := float64(*det.LimitRemaining) / float64(*det.LimitValue)
		if ratio < d.cfg.LowRemainingRatio {
			det.IsRateLimited = true
			det.Confidence = 0.7
			d.noteLimitType(det, "")
		}
	}
}

// checkTiming flags responses far slower than the key's success baseline.
func (d *Detector) checkTiming(obs *types.Observation, det *types.Detection) {
	samples := d.baselines[keyID(obs.Provider, obs.Credential)]
	if len(samples) < d.cfg.BaselineMinSamples {
		return
	}

	var total time.Duration
	for _, s := range samples {
		total += s
	}
	mean := total / time.Duration(len(samples))
	if mean <= 0 {
		return
	}

	ratio := float64(obs.ResponseTime) / float64(mean)
	if ratio <= d.cfg.SlowResponseRatio {
		return
	}

	det.IsRateLimited = true
	det.Confidence = 0.5 + math.Min(0.4, (ratio-d.cfg.SlowResponseRatio)/10)
	det.Type = types.LimitRequestsPerMinute
}

// noteLimitType fills in the limit type from a header name when it is still
// unset, so the most specific header seen wins.
func (d *Detector) noteLimitType(det *types.Detection, headerName string) {
	if det.Type != "" {
		return
	}
	det.Type = limitTypeFromHeader(headerName)
}

// record appends the observation to the bounded history and, for successful
// responses, to the timing baseline.
func (d *Detector) record(obs *types.Observation) {
	key := keyID(obs.Provider, obs.Credential)

	history := append(d.history[key], obs)
	if len(history) > d.cfg.MaxHistory {
		history = history[len(history)-d.cfg.MaxHistory:]
	}
	d.history[key] = history

	if !obs.Success() {
		return
	}
	maxBaseline := d.cfg.BaselineMinSamples * 2
	samples := append(d.baselines[key], obs.ResponseTime)
	if len(samples) > maxBaseline {
		samples = samples[len(samples)-maxBaseline:]
	}
	d.baselines[key] = samples
}

// parseRetryAfter reads a Retry-After style header as integer seconds.
func parseRetryAfter(headers http.Header) *time.Duration {
	if headers == nil {
		return nil
	}
	for _, name := range []string{"Retry-After", "X-Retry-After"} {
		value := strings.TrimSpace(headers.Get(name))
		if value == "" {
			continue
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			d := time.Duration(seconds) * time.Second
			return &d
		}
	}
	return nil
}

// resetToTime interprets a numeric reset value: values past 1e9 are absolute
// Unix timestamps, anything smaller is seconds from now.
func resetToTime(value float64) time.Time {
	if value > 1e9 {
		return time.Unix(int64(value), 0)
	}
	return time.Now().Add(time.Duration(value * float64(time.Second)))
}

func keyID(provider, credential string) string {
	return provider + ":" + credential
}

func intPtr(n int) *int              { return &n }
func timePtr(t time.Time) *time.Time { return &t }
