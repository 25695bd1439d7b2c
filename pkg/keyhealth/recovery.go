package keyhealth

import "time"

// Start launches the background recovery loop. Keys not at full health and
// not inside an active retry/reset window gain RecoveryStep health per pass.
// Calling Start on a running manager is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.ticker = time.NewTicker(m.cfg.RecoveryInterval)
	m.stopChan = make(chan struct{})
	ticker := m.ticker
	stopChan := m.stopChan
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ticker.C:
				m.recoverHealth()
			case <-stopChan:
				return
			}
		}
	}()
}

// Stop halts the recovery loop and waits for its goroutine to exit. Calling
// Stop on a stopped manager is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	ticker := m.ticker
	stopChan := m.stopChan
	m.ticker = nil
	m.stopChan = nil
	m.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	if stopChan != nil {
		close(stopChan)
	}
	m.wg.Wait()
}

// recoverHealth performs one recovery pass over all keys.
func (m *Manager) recoverHealth() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, health := range m.keys {
		if health.HealthScore >= fullHealth {
			continue
		}
		// Keys still inside an announced wait window do not recover.
		if health.RetryAfter != nil && health.LastUpdated.Add(*health.RetryAfter).After(now) {
			continue
		}
		if health.ResetTime != nil && health.ResetTime.After(now) {
			continue
		}

		health.HealthScore = clampScore(health.HealthScore + m.cfg.RecoveryStep)
		if health.HealthScore > recoveredScore {
			health.IsRateLimited = false
			health.RetryAfter = nil
		}
	}
}
