package session

import (
	"context"
	"testing"
	"time"
)

func TestReloginSkipsWithinCooldown(t *testing.T) {
	conn := &fakeConnector{}
	creds := newFakeCreds()
	creds.WriteIfAbsent("acct1", []byte("acct1"), "+84acct1")
	m, _ := newTestManager(t, testConfig(), conn, creds)

	m.supMu.Lock()
	m.attempts["acct1"] = &attemptRecord{lastAttempt: time.Now(), count: 1}
	m.supMu.Unlock()

	m.handleRelogin("acct1", "test")

	if credCalls, _ := conn.counts(); credCalls != 0 {
		t.Fatalf("connector called %d times within cooldown, want 0", credCalls)
	}
	m.supMu.Lock()
	count := m.attempts["acct1"].count
	m.supMu.Unlock()
	if count != 1 {
		t.Fatalf("attempt count = %d, want 1 (cooldown skip must not consume budget)", count)
	}
}

func TestReloginAbandonsAfterBudget(t *testing.T) {
	conn := &fakeConnector{}
	creds := newFakeCreds()
	creds.WriteIfAbsent("acct1", []byte("acct1"), "+84acct1")
	cfg := testConfig()
	cfg.MaxAttempts = 3
	m, _ := newTestManager(t, cfg, conn, creds)

	m.supMu.Lock()
	m.attempts["acct1"] = &attemptRecord{
		lastAttempt: time.Now().Add(-time.Hour),
		count:       cfg.MaxAttempts,
	}
	m.supMu.Unlock()

	m.handleRelogin("acct1", "test")

	if credCalls, _ := conn.counts(); credCalls != 0 {
		t.Fatalf("connector called %d times past budget, want 0", credCalls)
	}
	if got := m.states.state("acct1"); got != StateAbandoned {
		t.Fatalf("state = %s, want %s", got, StateAbandoned)
	}
	m.supMu.Lock()
	armed := m.resetTimers["acct1"] != nil
	m.supMu.Unlock()
	if !armed {
		t.Fatal("counter reset timer not armed")
	}

	// A second exhausted attempt must not arm a second timer.
	m.handleRelogin("acct1", "test")
	m.supMu.Lock()
	timer := m.resetTimers["acct1"]
	m.supMu.Unlock()
	if timer == nil {
		t.Fatal("reset timer disappeared")
	}
}

func TestCounterResetRestoresEligibility(t *testing.T) {
	conn := &fakeConnector{}
	creds := newFakeCreds()
	creds.WriteIfAbsent("acct1", []byte("acct1"), "+84acct1")
	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.ResetAfter = 20 * time.Millisecond
	m, _ := newTestManager(t, cfg, conn, creds)

	m.supMu.Lock()
	m.attempts["acct1"] = &attemptRecord{
		lastAttempt: time.Now().Add(-time.Hour),
		count:       cfg.MaxAttempts,
	}
	m.supMu.Unlock()

	m.handleRelogin("acct1", "test")
	if got := m.states.state("acct1"); got != StateAbandoned {
		t.Fatalf("state = %s, want %s", got, StateAbandoned)
	}

	deadline := time.After(2 * time.Second)
	for {
		m.supMu.Lock()
		rec := m.attempts["acct1"]
		reset := rec != nil && rec.count == 0
		m.supMu.Unlock()
		if reset {
			break
		}
		select {
		case <-deadline:
			t.Fatal("attempt counter never reset")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := m.states.state("acct1"); got != StateDisconnected {
		t.Fatalf("state after reset = %s, want %s", got, StateDisconnected)
	}
}

func TestReloginFailureSchedulesRetry(t *testing.T) {
	conn := &fakeConnector{failCreds: map[string]bool{"acct1": true}}
	creds := newFakeCreds()
	creds.WriteIfAbsent("acct1", []byte("acct1"), "+84acct1")
	m, _ := newTestManager(t, testConfig(), conn, creds)

	m.handleRelogin("acct1", "test")

	if credCalls, interactiveCalls := conn.counts(); credCalls != 1 || interactiveCalls != 0 {
		t.Fatalf("calls = %d cred / %d interactive, want 1/0 (no pairing fallback in background)",
			credCalls, interactiveCalls)
	}
	m.supMu.Lock()
	rec := m.attempts["acct1"]
	retryArmed := m.retryTimers["acct1"] != nil
	m.supMu.Unlock()
	if rec == nil || rec.count != 1 {
		t.Fatalf("attempt record = %+v, want count 1", rec)
	}
	if !retryArmed {
		t.Fatal("retry timer not armed after failed attempt")
	}
	if got := m.states.state("acct1"); got != StateDisconnected {
		t.Fatalf("state = %s, want %s", got, StateDisconnected)
	}
}

func TestReloginSuccessResetsAttempts(t *testing.T) {
	conn := &fakeConnector{}
	creds := newFakeCreds()
	creds.WriteIfAbsent("acct1", []byte("acct1"), "+84acct1")
	m, _ := newTestManager(t, testConfig(), conn, creds)

	m.supMu.Lock()
	m.attempts["acct1"] = &attemptRecord{lastAttempt: time.Now().Add(-time.Hour), count: 3}
	m.supMu.Unlock()

	m.handleRelogin("acct1", "test")

	if s := m.Registry().Find("acct1"); s == nil || !s.IsActive() {
		t.Fatal("relogin did not produce an active session")
	}
	m.supMu.Lock()
	_, hasAttempts := m.attempts["acct1"]
	m.supMu.Unlock()
	if hasAttempts {
		t.Fatal("attempt record survived a successful relogin")
	}
}

func TestTriggerReloginCollapsesConcurrentTriggers(t *testing.T) {
	gate := make(chan struct{})
	conn := &fakeConnector{gate: gate}
	creds := newFakeCreds()
	creds.WriteIfAbsent("acct1", []byte("acct1"), "+84acct1")
	cfg := testConfig()
	cfg.Cooldown = 0
	m, _ := newTestManager(t, cfg, conn, creds)

	m.triggerRelogin("acct1", "first")

	// Wait for the first attempt to reach the connector, then pile on
	// duplicate triggers while it is blocked there.
	deadline := time.After(2 * time.Second)
	for {
		if credCalls, _ := conn.counts(); credCalls == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first relogin never reached the connector")
		case <-time.After(5 * time.Millisecond):
		}
	}
	m.triggerRelogin("acct1", "second")
	m.triggerRelogin("acct1", "third")

	if credCalls, _ := conn.counts(); credCalls != 1 {
		t.Fatalf("connector calls = %d while locked, want 1", credCalls)
	}
	close(gate)

	// The in-flight attempt finishes and releases the lock.
	deadline = time.After(2 * time.Second)
	for {
		m.supMu.Lock()
		locked := m.reloginLocks["acct1"]
		m.supMu.Unlock()
		if !locked {
			break
		}
		select {
		case <-deadline:
			t.Fatal("relogin lock never released")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestLivenessLoopExitsWhenSuperseded(t *testing.T) {
	conn := &fakeConnector{}
	cfg := testConfig()
	cfg.HealthInterval = 10 * time.Millisecond
	m, _ := newTestManager(t, cfg, conn, newFakeCreds())

	if _, err := m.InitiateLogin(context.Background(), LoginOptions{Credential: []byte("acct1")}); err != nil {
		t.Fatalf("login: %v", err)
	}
	stale := m.Registry().Find("acct1")

	if _, err := m.InitiateLogin(context.Background(), LoginOptions{Credential: []byte("acct1")}); err != nil {
		t.Fatalf("second login: %v", err)
	}

	// The stale session's liveness probe must recognize it was replaced and
	// exit without triggering a relogin for it.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		m.livenessLoop(ctx, "acct1", stale)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("liveness loop did not exit")
	}
	if credCalls, _ := conn.counts(); credCalls != 2 {
		t.Fatalf("connector calls = %d, want 2 (no relogin for superseded session)", credCalls)
	}
}
