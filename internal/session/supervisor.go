package session

import (
	"context"
	"fmt"
	"log"
	"time"
)

// reloginTimeout bounds one background reconnect attempt end to end.
var reloginTimeout = 60 * time.Second

// triggerRelogin starts a background reconnect for an account unless one is
// already in flight. The per-account lock is taken before the goroutine
// spawns so concurrent triggers (stream death racing the liveness probe)
// collapse into one attempt.
func (m *Manager) triggerRelogin(accountID, reason string) {
	m.supMu.Lock()
	if m.reloginLocks[accountID] {
		m.supMu.Unlock()
		log.Printf("[relogin] already in progress for account %s, dropping trigger (%s)", accountID, reason)
		return
	}
	m.reloginLocks[accountID] = true
	m.supMu.Unlock()

	go func() {
		defer func() {
			m.supMu.Lock()
			delete(m.reloginLocks, accountID)
			m.supMu.Unlock()
		}()
		m.handleRelogin(accountID, reason)
	}()
}

// handleRelogin runs one supervised reconnect attempt: cooldown gate, retry
// budget, then a credential-only background login. Failures schedule a
// linear-backoff retry; exhausting the budget abandons the account until a
// single counter-reset timer fires.
func (m *Manager) handleRelogin(accountID, reason string) {
	now := time.Now()

	m.supMu.Lock()
	rec := m.attempts[accountID]
	if rec == nil {
		rec = &attemptRecord{}
		m.attempts[accountID] = rec
	}
	if !rec.lastAttempt.IsZero() && now.Sub(rec.lastAttempt) < m.cfg.Cooldown {
		since := now.Sub(rec.lastAttempt)
		m.supMu.Unlock()
		log.Printf("[relogin] account %s attempted %.0fs ago, within %s cooldown, skipping",
			accountID, since.Seconds(), m.cfg.Cooldown)
		return
	}
	if rec.count >= m.cfg.MaxAttempts {
		m.scheduleCounterResetLocked(accountID)
		m.supMu.Unlock()
		m.states.setState(accountID, StateAbandoned,
			fmt.Sprintf("retry budget exhausted after %d attempts", m.cfg.MaxAttempts))
		log.Printf("[relogin] account %s exceeded %d attempts, abandoned until counter reset",
			accountID, m.cfg.MaxAttempts)
		return
	}
	rec.count++
	rec.lastAttempt = now
	attempt := rec.count
	m.supMu.Unlock()

	cred, ok, err := m.creds.Read(accountID)
	if err != nil {
		log.Printf("[relogin] read credential for account %s: %v", accountID, err)
		return
	}
	if !ok {
		log.Printf("[relogin] no stored credential for account %s, giving up", accountID)
		return
	}

	// Reuse the proxy the account was on; a superseded registry entry still
	// carries the last known proxy URL.
	proxyURL := ""
	if s := m.registry.Find(accountID); s != nil {
		proxyURL = s.ProxyURL
	}

	m.states.setState(accountID, StateReconnecting, reason)
	log.Printf("[relogin] reconnecting account %s (attempt %d/%d, proxy %q)",
		accountID, attempt, m.cfg.MaxAttempts, proxyURL)

	ctx, cancel := context.WithTimeout(context.Background(), reloginTimeout)
	defer cancel()
	if _, _, err := m.login(ctx, proxyURL, cred, nil, true); err != nil {
		log.Printf("[relogin] account %s attempt %d failed: %v", accountID, attempt, err)
		m.states.setState(accountID, StateDisconnected, "reconnect failed")
		delay := time.Duration(attempt) * m.cfg.Cooldown
		if delay > m.cfg.RetryDelayCap {
			delay = m.cfg.RetryDelayCap
		}
		m.scheduleRetry(accountID, delay)
	}
}

// scheduleRetry arms the next reconnect attempt, replacing any retry already
// scheduled for the account.
func (m *Manager) scheduleRetry(accountID string, delay time.Duration) {
	m.supMu.Lock()
	defer m.supMu.Unlock()
	if t := m.retryTimers[accountID]; t != nil {
		t.Stop()
	}
	log.Printf("[relogin] next attempt for account %s in %s", accountID, delay)
	m.retryTimers[accountID] = time.AfterFunc(delay, func() {
		m.supMu.Lock()
		delete(m.retryTimers, accountID)
		m.supMu.Unlock()
		m.triggerRelogin(accountID, "scheduled retry")
	})
}

// scheduleCounterResetLocked arms the one-shot attempt-counter reset for an
// abandoned account. Idempotent while a reset is already pending. Caller
// holds supMu.
func (m *Manager) scheduleCounterResetLocked(accountID string) {
	if m.resetTimers[accountID] != nil {
		return
	}
	m.resetTimers[accountID] = time.AfterFunc(m.cfg.ResetAfter, func() {
		m.supMu.Lock()
		delete(m.resetTimers, accountID)
		if rec := m.attempts[accountID]; rec != nil {
			rec.count = 0
		}
		m.supMu.Unlock()
		m.states.setState(accountID, StateDisconnected, "retry counter reset")
		log.Printf("[relogin] retry counter reset for account %s, eligible for reconnect again", accountID)
	})
}

// resetAttempts clears the retry bookkeeping after a successful login.
func (m *Manager) resetAttempts(accountID string) {
	m.supMu.Lock()
	defer m.supMu.Unlock()
	delete(m.attempts, accountID)
	if t := m.resetTimers[accountID]; t != nil {
		t.Stop()
		delete(m.resetTimers, accountID)
	}
}

func (m *Manager) clearRetryTimer(accountID string) {
	m.supMu.Lock()
	defer m.supMu.Unlock()
	if t := m.retryTimers[accountID]; t != nil {
		t.Stop()
		delete(m.retryTimers, accountID)
	}
}

// livenessLoop periodically probes one session's event stream and triggers
// a relogin when it has died. The loop exits when its session is superseded
// or torn down.
func (m *Manager) livenessLoop(ctx context.Context, accountID string, sess *Session) {
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.registry.Find(accountID) != sess {
				return
			}
			if !sess.IsActive() {
				log.Printf("[health] event stream down for account %s, triggering relogin", accountID)
				m.states.setState(accountID, StateDisconnected, "liveness check failed")
				m.triggerRelogin(accountID, "liveness check failed")
			}
		}
	}
}
