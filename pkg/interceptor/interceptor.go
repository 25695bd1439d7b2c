// Package interceptor wraps external API calls with key registration,
// admission control, timing capture, and outcome reporting. The wrapper is
// purely observational: the wrapped call's result or error always reaches
// the caller unchanged, and no retries happen here.
package interceptor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cecil-the-coder/key-health-kit/pkg/keyhealth"
	"github.com/cecil-the-coder/key-health-kit/pkg/types"
)

// WorkFunc is one unit of work representing an external API call.
type WorkFunc func(ctx context.Context) (interface{}, error)

// CallOptions identifies the key a call is made with and tunes the wrapper.
type CallOptions struct {
	// Provider and Credential identify the key.
	Provider   string
	Credential string

	// SkipAdmissionCheck bypasses the pre-call gate. The outcome is still
	// observed and reported.
	SkipAdmissionCheck bool

	// Metadata is attached to the resulting observation.
	Metadata map[string]interface{}
}

// Config tunes the interceptor.
type Config struct {
	// ClientRateLimitRPM enables a client-side per-key limiter when > 0,
	// smoothing outbound traffic before the provider ever sees it.
	ClientRateLimitRPM int

	// ClientRateLimitBurst caps the limiter burst; defaults to the RPM.
	ClientRateLimitBurst int

	// ClientRateLimitInterval is the limiter window; defaults to a minute.
	ClientRateLimitInterval time.Duration
}

// Interceptor is the public entry point of the kit. It delegates all state
// to the health manager it wraps.
type Interceptor struct {
	manager *keyhealth.Manager
	logger  types.Logger
	cfg     Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates an Interceptor around a manager. A nil logger disables logging.
func New(manager *keyhealth.Manager, cfg Config, logger types.Logger) *Interceptor {
	if logger == nil {
		logger = types.NewNopLogger()
	}
	return &Interceptor{
		manager:  manager,
		logger:   logger,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Intercept runs one wrapped call. The key is registered, admission is
// checked (unless skipped), the work is timed, and the outcome is reported
// back into the health manager. When admission denies the call, work never
// runs and a *types.RateLimitError carrying the retry hint is returned.
func (i *Interceptor) Intercept(ctx context.Context, opts CallOptions, work WorkFunc) (interface{}, error) {
	i.manager.RegisterKey(opts.Credential, opts.Provider)

	if !opts.SkipAdmissionCheck {
		decision := i.manager.Admit(opts.Credential, opts.Provider)
		if !decision.CanProceed {
			i.logger.Debug("request blocked by admission control",
				"provider", opts.Provider,
				"credential", types.MaskCredential(opts.Credential),
				"retry_after", decision.RetryAfter,
				"reason", decision.Reason)
			return nil, types.NewRateLimitError(opts.Provider, opts.Credential, decision.RetryAfter, decision.Reason)
		}
	}

	if limiter := i.limiter(opts.Provider, opts.Credential); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	result, err := work(ctx)
	elapsed := time.Since(start)

	i.manager.ReportOutcome(buildObservation(opts, start, elapsed, result, err))

	// The caller sees exactly what work produced.
	return result, err
}

// SelectBestKey picks the best credential for a provider from a pool.
func (i *Interceptor) SelectBestKey(provider string, candidates []string) string {
	return i.manager.SelectKey(provider, candidates)
}

// SetStrategy switches the key-selection strategy.
func (i *Interceptor) SetStrategy(strategy keyhealth.Strategy) {
	i.manager.SetStrategy(strategy)
}

// HealthSummary exposes the manager's diagnostic snapshot.
func (i *Interceptor) HealthSummary() map[string]types.KeySummary {
	return i.manager.HealthSummary()
}

// Reset clears all accumulated health state and client-side limiters.
func (i *Interceptor) Reset() {
	i.mu.Lock()
	i.limiters = make(map[string]*rate.Limiter)
	i.mu.Unlock()
	i.manager.Reset()
}

// limiter returns the per-key client-side limiter, creating it on first use.
// Returns nil when client-side limiting is disabled.
func (i *Interceptor) limiter(provider, credential string) *rate.Limiter {
	if i.cfg.ClientRateLimitRPM <= 0 {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	key := provider + ":" + credential
	if limiter, ok := i.limiters[key]; ok {
		return limiter
	}

	interval := i.cfg.ClientRateLimitInterval
	if interval == 0 {
		interval = time.Minute
	}
	burst := i.cfg.ClientRateLimitBurst
	if burst == 0 {
		burst = i.cfg.ClientRateLimitRPM
	}
	limiter := rate.NewLimiter(
		rate.Every(interval/time.Duration(i.cfg.ClientRateLimitRPM)),
		burst,
	)
	i.limiters[key] = limiter
	return limiter
}

// newRequestID tags observations that arrive without one.
func newRequestID() string {
	return uuid.NewString()
}
