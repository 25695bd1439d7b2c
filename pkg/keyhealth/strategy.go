package keyhealth

import (
	"fmt"
	"math"
)

// Strategy names a key-selection policy.
type Strategy string

const (
	// StrategyRoundRobin picks the candidate with the fewest prior uses.
	StrategyRoundRobin Strategy = "round_robin"

	// StrategyLeastUtilized picks the candidate with the most remaining
	// request quota, skipping rate-limited keys.
	StrategyLeastUtilized Strategy = "least_utilized"

	// StrategyHealthAware picks the healthiest non-rate-limited candidate.
	// This is the default.
	StrategyHealthAware Strategy = "health_aware"

	// StrategyPredictive is a named extension point for a smarter model.
	// It currently behaves exactly like StrategyHealthAware.
	StrategyPredictive Strategy = "predictive"
)

// ParseStrategy converts a config string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyRoundRobin, StrategyLeastUtilized, StrategyHealthAware, StrategyPredictive:
		return Strategy(s), nil
	case "":
		return StrategyHealthAware, nil
	default:
		return "", fmt.Errorf("unknown strategy %q", s)
	}
}

// SetStrategy changes the selection strategy for subsequent SelectKey calls.
func (m *Manager) SetStrategy(strategy Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Strategy = strategy
}

// SelectKey picks the best credential for a provider from the candidate
// pool using the configured strategy. Returns "" for an empty pool.
// Candidates that were never registered are treated as fresh keys.
func (m *Manager) SelectKey(provider string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	if len(candidates) == 1 {
		return candidates[0]
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.cfg.Strategy {
	case StrategyRoundRobin:
		return m.selectRoundRobin(provider, candidates)
	case StrategyLeastUtilized:
		return m.selectLeastUtilized(provider, candidates)
	default:
		// Health-aware, and predictive as its alias.
		return m.selectHealthAware(provider, candidates)
	}
}

// selectRoundRobin returns the candidate with the fewest reported outcomes.
func (m *Manager) selectRoundRobin(provider string, candidates []string) string {
	best := candidates[0]
	bestUses := m.usage[id(best, provider)]
	for _, credential := range candidates[1:] {
		if uses := m.usage[id(credential, provider)]; uses < bestUses {
			best = credential
			bestUses = uses
		}
	}
	return best
}

// selectLeastUtilized returns the non-rate-limited candidate with the most
// remaining request quota. Unknown quota counts as infinite. Falls back to
// health-aware selection when every candidate is rate limited.
func (m *Manager) selectLeastUtilized(provider string, candidates []string) string {
	best := ""
	bestRemaining := math.Inf(-1)
	for _, credential := range candidates {
		health, ok := m.keys[id(credential, provider)]
		if ok && health.IsRateLimited {
			continue
		}
		remaining := math.Inf(1)
		if ok && health.RPMRemaining != nil {
			remaining = float64(*health.RPMRemaining)
		}
		if remaining > bestRemaining {
			best = credential
			bestRemaining = remaining
		}
	}
	if best == "" {
		return m.selectHealthAware(provider, candidates)
	}
	return best
}

// selectHealthAware returns the highest-scoring non-rate-limited candidate,
// falling back to the highest score overall, then to the first candidate.
func (m *Manager) selectHealthAware(provider string, candidates []string) string {
	best := ""
	bestScore := -1.0
	for _, credential := range candidates {
		health, ok := m.keys[id(credential, provider)]
		score := fullHealth
		limited := false
		if ok {
			score = health.HealthScore
			limited = health.IsRateLimited
		}
		if limited {
			continue
		}
		if score > bestScore {
			best = credential
			bestScore = score
		}
	}
	if best != "" {
		return best
	}

	// Everything is rate limited; take the best score anyway.
	for _, credential := range candidates {
		health, ok := m.keys[id(credential, provider)]
		score := fullHealth
		if ok {
			score = health.HealthScore
		}
		if score > bestScore {
			best = credential
			bestScore = score
		}
	}
	if best != "" {
		return best
	}
	return candidates[0]
}
