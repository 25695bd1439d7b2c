package keyhealth

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cecil-the-coder/key-health-kit/pkg/types"
)

const (
	testProvider   = "openai"
	testCredential = "sk-test-key-abcdef1234"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return New(DefaultConfig(), nil)
}

func observation(status int) *types.Observation {
	return &types.Observation{
		Provider:     testProvider,
		Credential:   testCredential,
		StatusCode:   status,
		ResponseTime: 100 * time.Millisecond,
		RequestTime:  time.Now(),
	}
}

func rateLimited429(retryAfterSeconds string) *types.Observation {
	obs := observation(http.StatusTooManyRequests)
	obs.Headers = http.Header{"Retry-After": []string{retryAfterSeconds}}
	return obs
}

func TestRegisterKey_StartsAtFullHealth(t *testing.T) {
	m := newTestManager(t)
	m.RegisterKey(testCredential, testProvider)

	health, ok := m.Snapshot(testCredential, testProvider)
	require.True(t, ok)
	assert.Equal(t, 100.0, health.HealthScore)
	assert.False(t, health.IsRateLimited)
	assert.Nil(t, health.RPMRemaining)
}

func TestRegisterKey_Idempotent(t *testing.T) {
	m := newTestManager(t)
	m.RegisterKey(testCredential, testProvider)

	// Damage the key, then re-register; accumulated state must survive.
	m.ReportOutcome(rateLimited429("5"))
	damaged, ok := m.Snapshot(testCredential, testProvider)
	require.True(t, ok)
	require.Less(t, damaged.HealthScore, 100.0)

	m.RegisterKey(testCredential, testProvider)
	after, ok := m.Snapshot(testCredential, testProvider)
	require.True(t, ok)
	assert.Equal(t, damaged.HealthScore, after.HealthScore)
	assert.True(t, after.IsRateLimited)
}

func TestReportOutcome_RateLimitLowersScore(t *testing.T) {
	m := newTestManager(t)

	m.ReportOutcome(rateLimited429("5"))

	health, ok := m.Snapshot(testCredential, testProvider)
	require.True(t, ok)
	assert.Equal(t, 90.0, health.HealthScore) // 100 - 10*1.0
	assert.True(t, health.IsRateLimited)
	require.NotNil(t, health.RetryAfter)
	assert.Equal(t, 5*time.Second, *health.RetryAfter)
}

func TestReportOutcome_ScoreNeverLeavesRange(t *testing.T) {
	m := newTestManager(t)

	for i := 0; i < 25; i++ {
		m.ReportOutcome(rateLimited429("1"))
	}
	health, ok := m.Snapshot(testCredential, testProvider)
	require.True(t, ok)
	assert.Equal(t, 0.0, health.HealthScore)

	for i := 0; i < 250; i++ {
		m.ReportOutcome(observation(http.StatusOK))
	}
	health, ok = m.Snapshot(testCredential, testProvider)
	require.True(t, ok)
	assert.Equal(t, 100.0, health.HealthScore)
}

func TestReportOutcome_SuccessClearsFlag(t *testing.T) {
	m := newTestManager(t)

	m.ReportOutcome(rateLimited429("5"))
	m.ReportOutcome(observation(http.StatusOK))

	health, ok := m.Snapshot(testCredential, testProvider)
	require.True(t, ok)
	assert.False(t, health.IsRateLimited)
	assert.Nil(t, health.RetryAfter)
	assert.Equal(t, 91.0, health.HealthScore)
}

func TestReportOutcome_QuotaHeadersUpdateFields(t *testing.T) {
	m := newTestManager(t)

	obs := observation(http.StatusOK)
	obs.Headers = http.Header{
		"X-Ratelimit-Remaining": []string{"42"},
		"X-Ratelimit-Limit":     []string{"60"},
	}
	m.ReportOutcome(obs)

	health, ok := m.Snapshot(testCredential, testProvider)
	require.True(t, ok)
	require.NotNil(t, health.RPMRemaining)
	require.NotNil(t, health.RPMLimit)
	assert.Equal(t, 42, *health.RPMRemaining)
	assert.Equal(t, 60, *health.RPMLimit)
	assert.False(t, health.IsRateLimited)
}

func TestReportOutcome_TokenQuotaLandsInTPMFields(t *testing.T) {
	m := newTestManager(t)

	obs := observation(http.StatusOK)
	obs.Headers = http.Header{
		"X-Ratelimit-Remaining-Tokens": []string{"9000"},
		"X-Ratelimit-Limit-Tokens":     []string{"10000"},
	}
	m.ReportOutcome(obs)

	health, ok := m.Snapshot(testCredential, testProvider)
	require.True(t, ok)
	require.NotNil(t, health.TPMRemaining)
	assert.Equal(t, 9000, *health.TPMRemaining)
	assert.Nil(t, health.RPMRemaining)
}

func TestAdmit_UnknownKeyIsRegisteredAndAdmitted(t *testing.T) {
	m := newTestManager(t)

	decision := m.Admit("sk-brand-new-key-0000", testProvider)
	assert.True(t, decision.CanProceed)

	_, ok := m.Snapshot("sk-brand-new-key-0000", testProvider)
	assert.True(t, ok)
}

func TestAdmit_DeniesWithinRetryWindow(t *testing.T) {
	m := newTestManager(t)

	base := time.Now()
	m.now = func() time.Time { return base }

	m.ReportOutcome(rateLimited429("5"))

	decision := m.Admit(testCredential, testProvider)
	require.False(t, decision.CanProceed)
	assert.InDelta(t, 5, decision.RetryAfter.Seconds(), 0.01)
	assert.NotEmpty(t, decision.Reason)

	// Advance the clock past the window; the same key is admitted.
	m.now = func() time.Time { return base.Add(6 * time.Second) }
	decision = m.Admit(testCredential, testProvider)
	assert.True(t, decision.CanProceed)
}

func TestAdmit_DeniesOnResetTimeInFuture(t *testing.T) {
	m := newTestManager(t)
	base := time.Now()
	m.now = func() time.Time { return base }

	m.RegisterKey(testCredential, testProvider)
	m.mu.Lock()
	health := m.keys[id(testCredential, testProvider)]
	health.IsRateLimited = true
	reset := base.Add(90 * time.Second)
	health.ResetTime = &reset
	m.mu.Unlock()

	decision := m.Admit(testCredential, testProvider)
	require.False(t, decision.CanProceed)
	assert.InDelta(t, 90, decision.RetryAfter.Seconds(), 0.01)
}

func TestAdmit_UsesLargerOfRetryAndReset(t *testing.T) {
	m := newTestManager(t)
	base := time.Now()
	m.now = func() time.Time { return base }

	m.RegisterKey(testCredential, testProvider)
	m.mu.Lock()
	health := m.keys[id(testCredential, testProvider)]
	health.IsRateLimited = true
	health.LastUpdated = base
	retry := 10 * time.Second
	health.RetryAfter = &retry
	reset := base.Add(45 * time.Second)
	health.ResetTime = &reset
	m.mu.Unlock()

	decision := m.Admit(testCredential, testProvider)
	require.False(t, decision.CanProceed)
	assert.InDelta(t, 45, decision.RetryAfter.Seconds(), 0.01)
}

func TestAdmit_LowHealthBackoff(t *testing.T) {
	m := newTestManager(t)

	m.RegisterKey(testCredential, testProvider)
	m.mu.Lock()
	health := m.keys[id(testCredential, testProvider)]
	health.IsRateLimited = true
	health.HealthScore = 10
	m.mu.Unlock()

	decision := m.Admit(testCredential, testProvider)
	require.False(t, decision.CanProceed)
	assert.Equal(t, 30*time.Second, decision.RetryAfter)
}

func TestAdmit_QuotaExhaustionBlocksHealthyKey(t *testing.T) {
	m := newTestManager(t)

	m.RegisterKey(testCredential, testProvider)
	m.mu.Lock()
	health := m.keys[id(testCredential, testProvider)]
	zero := 0
	health.RPMRemaining = &zero
	m.mu.Unlock()

	decision := m.Admit(testCredential, testProvider)
	require.False(t, decision.CanProceed)
	assert.Equal(t, 60*time.Second, decision.RetryAfter)
}

func TestReset_WipesEverything(t *testing.T) {
	m := newTestManager(t)

	m.ReportOutcome(rateLimited429("5"))
	require.NotZero(t, m.UsageCount(testCredential, testProvider))

	m.Reset()

	_, ok := m.Snapshot(testCredential, testProvider)
	assert.False(t, ok)
	assert.Zero(t, m.UsageCount(testCredential, testProvider))

	m.RegisterKey(testCredential, testProvider)
	health, ok := m.Snapshot(testCredential, testProvider)
	require.True(t, ok)
	assert.Equal(t, 100.0, health.HealthScore)
	assert.False(t, health.IsRateLimited)
}

func TestHealthSummary_MasksCredentials(t *testing.T) {
	m := newTestManager(t)

	obs := observation(http.StatusOK)
	obs.Headers = http.Header{
		"X-Ratelimit-Remaining": []string{"58"},
		"X-Ratelimit-Limit":     []string{"60"},
	}
	m.ReportOutcome(obs)

	summary := m.HealthSummary()
	require.Len(t, summary, 1)

	masked := types.MaskCredential(testCredential)
	entry, ok := summary[masked]
	require.True(t, ok, "summary must be keyed by masked credential")
	assert.NotContains(t, masked, testCredential[4:len(testCredential)-4])

	assert.Equal(t, testProvider, entry.Provider)
	assert.Equal(t, types.StatusHealthy, entry.Status)
	assert.Equal(t, "58/60", entry.RPMUsage)
	assert.Equal(t, "N/A", entry.RetryAfter)
}

func TestHealthSummary_RateLimitedEntry(t *testing.T) {
	m := newTestManager(t)

	m.ReportOutcome(rateLimited429("30"))

	summary := m.HealthSummary()
	entry := summary[types.MaskCredential(testCredential)]
	assert.Equal(t, types.StatusRateLimited, entry.Status)
	assert.Equal(t, "30s", entry.RetryAfter)
}

// TestEndToEnd_429ThenRecovery: a 429 with Retry-After 5 blocks the key,
// and six simulated seconds later the same key is admitted again.
func TestEndToEnd_429ThenRecovery(t *testing.T) {
	m := newTestManager(t)
	base := time.Now()
	m.now = func() time.Time { return base }

	m.RegisterKey(testCredential, testProvider)
	m.ReportOutcome(rateLimited429("5"))

	decision := m.Admit(testCredential, testProvider)
	require.False(t, decision.CanProceed)
	assert.InDelta(t, 5, decision.RetryAfter.Seconds(), 0.01)

	m.now = func() time.Time { return base.Add(6 * time.Second) }
	decision = m.Admit(testCredential, testProvider)
	assert.True(t, decision.CanProceed)
}

// TestConcurrentReports hammers the manager from many goroutines; run with
// -race. The exact score is timing-dependent but must stay in range.
func TestConcurrentReports(t *testing.T) {
	m := newTestManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if (n+j)%5 == 0 {
					m.ReportOutcome(rateLimited429("1"))
				} else {
					m.ReportOutcome(observation(http.StatusOK))
				}
				m.Admit(testCredential, testProvider)
			}
		}(i)
	}
	wg.Wait()

	health, ok := m.Snapshot(testCredential, testProvider)
	require.True(t, ok)
	assert.GreaterOrEqual(t, health.HealthScore, 0.0)
	assert.LessOrEqual(t, health.HealthScore, 100.0)
	assert.Equal(t, int64(1000), m.UsageCount(testCredential, testProvider))
}
