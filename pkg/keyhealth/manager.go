// Package keyhealth tracks the health of API keys across providers. It owns
// the per-key health state, gates requests through admission control, selects
// the best key from a pool, and recovers health over time in the background.
package keyhealth

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cecil-the-coder/key-health-kit/pkg/detector"
	"github.com/cecil-the-coder/key-health-kit/pkg/types"
)

const (
	fullHealth       = 100.0
	lowHealthScore   = 20.0
	recoveredScore   = 50.0
	lowHealthBackoff = 30 * time.Second
	quotaBackoff     = 60 * time.Second
)

// KeyHealth is the tracked state of one (provider, credential) pair. Optional
// quota fields are nil until first observed.
type KeyHealth struct {
	Provider   string
	Credential string

	// HealthScore is a heuristic in [0, 100]; fresh keys start at 100.
	HealthScore float64

	// IsRateLimited marks a key that recently hit a limit.
	IsRateLimited bool

	// Observed quota state (requests/tokens per minute).
	RPMLimit     *int
	RPMRemaining *int
	TPMLimit     *int
	TPMRemaining *int

	// RetryAfter is a wait announced by the provider, relative to LastUpdated.
	RetryAfter *time.Duration

	// ResetTime is the absolute time the quota resets, if announced.
	ResetTime *time.Time

	// LastUpdated is the time of the last state mutation.
	LastUpdated time.Time
}

// Config controls manager behavior.
type Config struct {
	// Strategy is the key-selection strategy; defaults to health-aware.
	Strategy Strategy

	// RecoveryInterval is how often the background loop heals keys.
	RecoveryInterval time.Duration

	// RecoveryStep is how much health each pass restores.
	RecoveryStep float64

	// Detector configures the signal detector the manager owns.
	Detector detector.Config
}

// DefaultConfig returns the standard manager configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:         StrategyHealthAware,
		RecoveryInterval: time.Minute,
		RecoveryStep:     1,
		Detector:         detector.DefaultConfig(),
	}
}

// Manager owns all per-key health state. All methods are safe for concurrent
// use; callers never touch the internal maps directly.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	logger   types.Logger
	detector *detector.Detector

	keys  map[string]*KeyHealth
	usage map[string]int64

	// Recovery loop lifecycle.
	ticker   *time.Ticker
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool

	// now is the clock; replaceable in tests.
	now func() time.Time
}

// New creates a Manager. A nil logger disables logging.
func New(cfg Config, logger types.Logger) *Manager {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyHealthAware
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = DefaultConfig().RecoveryInterval
	}
	if cfg.RecoveryStep <= 0 {
		cfg.RecoveryStep = DefaultConfig().RecoveryStep
	}
	if logger == nil {
		logger = types.NewNopLogger()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		detector: detector.New(cfg.Detector, logger),
		keys:     make(map[string]*KeyHealth),
		usage:    make(map[string]int64),
		now:      time.Now,
	}
}

// RegisterKey creates health state for a key if it does not exist yet.
// Registering an already-known key is a no-op; accumulated state survives.
func (m *Manager) RegisterKey(credential, provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(credential, provider)
}

// Admit decides whether a request with this key may proceed right now. The
// decision is evaluated fresh on every call and must not be cached. Unknown
// keys are registered and admitted.
func (m *Manager) Admit(credential, provider string) types.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	health, existed := m.lookup(credential, provider)
	if !existed {
		m.getOrCreate(credential, provider)
		return types.Decision{CanProceed: true}
	}

	now := m.now()
	if health.IsRateLimited {
		var wait time.Duration
		if health.RetryAfter != nil {
			if until := health.LastUpdated.Add(*health.RetryAfter); until.After(now) {
				wait = until.Sub(now)
			}
		}
		if health.ResetTime != nil && health.ResetTime.After(now) {
			if w := health.ResetTime.Sub(now); w > wait {
				wait = w
			}
		}
		if wait > 0 {
			return types.Decision{
				RetryAfter: wait,
				Reason:     "key is rate limited",
			}
		}
		if health.RetryAfter == nil && health.ResetTime == nil && health.HealthScore < lowHealthScore {
			return types.Decision{
				RetryAfter: lowHealthBackoff,
				Reason:     fmt.Sprintf("health score too low (%.0f)", health.HealthScore),
			}
		}
	}

	// Quota exhaustion blocks regardless of the rate-limited flag.
	if health.RPMRemaining != nil && *health.RPMRemaining <= 0 {
		return types.Decision{
			RetryAfter: quotaBackoff,
			Reason:     "request quota exhausted",
		}
	}

	return types.Decision{CanProceed: true}
}

// ReportOutcome feeds one completed request back into the health model. The
// observation is classified by the detector and the key's score, flags, and
// quota fields are updated from the result.
func (m *Manager) ReportOutcome(obs *types.Observation) {
	if obs == nil {
		return
	}

	det := m.detector.Analyze(obs)

	m.mu.Lock()
	defer m.mu.Unlock()

	health := m.getOrCreate(obs.Credential, obs.Provider)
	m.usage[id(obs.Credential, obs.Provider)]++

	switch {
	case det.IsRateLimited:
		health.HealthScore = clampScore(health.HealthScore - 10*det.Confidence)
		health.IsRateLimited = true
		copyQuota(health, &det)
		if det.RetryAfter != nil {
			health.RetryAfter = det.RetryAfter
		}
		if det.ResetTime != nil {
			health.ResetTime = det.ResetTime
		}
		m.logger.Warn("key rate limited",
			"provider", obs.Provider,
			"credential", types.MaskCredential(obs.Credential),
			"health_score", health.HealthScore,
			"confidence", det.Confidence)

	case det.HasQuotaInfo():
		copyQuota(health, &det)
		health.HealthScore = clampScore(health.HealthScore + 1)
		if det.LimitRemaining != nil && *det.LimitRemaining > 0 {
			health.IsRateLimited = false
			health.RetryAfter = nil
		}

	default:
		health.HealthScore = clampScore(health.HealthScore + 1)
		health.IsRateLimited = false
		health.RetryAfter = nil
	}

	health.LastUpdated = m.now()
}

// Reset wipes all health state, usage counters, and detector history. If the
// recovery loop is running it is restarted on the fresh state.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.keys = make(map[string]*KeyHealth)
	m.usage = make(map[string]int64)
	wasRunning := m.running
	m.mu.Unlock()

	m.detector.Reset()

	if wasRunning {
		m.Stop()
		m.Start()
	}
}

// HealthSummary returns a diagnostic snapshot of every registered key, keyed
// by the masked credential. Intended for logging and metrics only.
func (m *Manager) HealthSummary() map[string]types.KeySummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := make(map[string]types.KeySummary, len(m.keys))
	for _, health := range m.keys {
		status := types.StatusHealthy
		if health.IsRateLimited {
			status = types.StatusRateLimited
		}

		rpm := "N/A"
		if health.RPMRemaining != nil && health.RPMLimit != nil {
			rpm = fmt.Sprintf("%d/%d", *health.RPMRemaining, *health.RPMLimit)
		}

		retryAfter := "N/A"
		if health.RetryAfter != nil {
			retryAfter = fmt.Sprintf("%ds", int(health.RetryAfter.Seconds()))
		}

		summary[types.MaskCredential(health.Credential)] = types.KeySummary{
			Provider:    health.Provider,
			HealthScore: health.HealthScore,
			Status:      status,
			RPMUsage:    rpm,
			RetryAfter:  retryAfter,
		}
	}
	return summary
}

// Snapshot returns a copy of a key's health state for diagnostics.
func (m *Manager) Snapshot(credential, provider string) (KeyHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health, ok := m.keys[id(credential, provider)]
	if !ok {
		return KeyHealth{}, false
	}
	return *health, true
}

// UsageCount returns how many outcomes have been reported for a key.
func (m *Manager) UsageCount(credential, provider string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usage[id(credential, provider)]
}

// getOrCreate returns the health record for a key, creating it at full
// health on first sight. Callers must hold the write lock.
func (m *Manager) getOrCreate(credential, provider string) *KeyHealth {
	key := id(credential, provider)
	if health, ok := m.keys[key]; ok {
		return health
	}
	health := &KeyHealth{
		Provider:    provider,
		Credential:  credential,
		HealthScore: fullHealth,
		LastUpdated: m.now(),
	}
	m.keys[key] = health
	m.logger.Debug("registered key",
		"provider", provider,
		"credential", types.MaskCredential(credential))
	return health
}

// lookup returns the health record without creating it. Callers must hold
// at least the read lock.
func (m *Manager) lookup(credential, provider string) (*KeyHealth, bool) {
	health, ok := m.keys[id(credential, provider)]
	return health, ok
}

// copyQuota moves detected limit/remaining values into the rpm or tpm fields
// matching the detected limit type. Non-token limit types land in the rpm
// fields, which is where admission control looks.
func copyQuota(health *KeyHealth, det *types.Detection) {
	if !det.HasQuotaInfo() {
		return
	}
	if det.Type == types.LimitTokensPerMinute {
		if det.LimitValue != nil {
			health.TPMLimit = det.LimitValue
		}
		if det.LimitRemaining != nil {
			health.TPMRemaining = det.LimitRemaining
		}
		return
	}
	if det.LimitValue != nil {
		health.RPMLimit = det.LimitValue
	}
	if det.LimitRemaining != nil {
		health.RPMRemaining = det.LimitRemaining
	}
}

func clampScore(score float64) float64 {
	return math.Max(0, math.Min(fullHealth, score))
}

func id(credential, provider string) string {
	return provider + ":" + credential
}
