package session

import (
	"log"
	"sync"
	"time"
)

// State is the lifecycle phase of one account's connection.
type State string

const (
	StatePairing      State = "pairing"
	StateConnecting   State = "connecting"
	StateActive       State = "active"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	StateAbandoned    State = "abandoned"
)

// transitionHistorySize bounds the per-account transition ring buffer.
const transitionHistorySize = 20

// Transition records one state change for diagnostics.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

type accountState struct {
	current State
	history []Transition
}

// stateTracker keeps the current state and recent transition history per
// account. Callbacks registered with onChange run synchronously on every
// transition, outside the tracker lock.
type stateTracker struct {
	mu        sync.Mutex
	accounts  map[string]*accountState
	callbacks []func(accountID string, from, to State, reason string)
}

func newStateTracker() *stateTracker {
	return &stateTracker{accounts: make(map[string]*accountState)}
}

func (t *stateTracker) onChange(cb func(accountID string, from, to State, reason string)) {
	t.mu.Lock()
	t.callbacks = append(t.callbacks, cb)
	t.mu.Unlock()
}

func (t *stateTracker) setState(accountID string, to State, reason string) {
	t.mu.Lock()
	st := t.accounts[accountID]
	if st == nil {
		st = &accountState{}
		t.accounts[accountID] = st
	}
	from := st.current
	if from == to {
		t.mu.Unlock()
		return
	}
	st.current = to
	st.history = append(st.history, Transition{From: from, To: to, Reason: reason, At: time.Now()})
	if len(st.history) > transitionHistorySize {
		st.history = st.history[len(st.history)-transitionHistorySize:]
	}
	cbs := make([]func(string, State, State, string), len(t.callbacks))
	copy(cbs, t.callbacks)
	t.mu.Unlock()

	log.Printf("[state] account %s: %s -> %s (%s)", accountID, from, to, reason)
	for _, cb := range cbs {
		cb(accountID, from, to, reason)
	}
}

func (t *stateTracker) state(accountID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st := t.accounts[accountID]; st != nil {
		return st.current
	}
	return ""
}

func (t *stateTracker) transitions(accountID string) []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.accounts[accountID]
	if st == nil {
		return nil
	}
	out := make([]Transition, len(st.history))
	copy(out, st.history)
	return out
}

func (t *stateTracker) remove(accountID string) {
	t.mu.Lock()
	delete(t.accounts, accountID)
	t.mu.Unlock()
}
