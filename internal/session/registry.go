package session

import (
	"context"
	"sync"

	"github.com/zalogate/zalogate/internal/platform"
	"github.com/zalogate/zalogate/internal/proxypool"
)

// Session is one live account connection and its runtime resources. The
// identity fields are set once before the session is published to the
// registry; runtime fields (subscriptions, liveness cancel) are guarded by
// mu because teardown can race a health-triggered relogin.
type Session struct {
	AccountID     string
	DisplayName   string
	DisplayHandle string // phone number
	ProxyURL      string

	mu         sync.Mutex
	proxy      *proxypool.Entry
	client     platform.Client
	unsubs     []func()
	liveCancel context.CancelFunc
}

// Client returns the live platform client handle.
func (s *Session) Client() platform.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// IsActive reports whether the session's event stream is running.
func (s *Session) IsActive() bool {
	c := s.Client()
	return c != nil && c.Stream().IsStarted()
}

func (s *Session) addUnsubs(fns ...func()) {
	s.mu.Lock()
	s.unsubs = append(s.unsubs, fns...)
	s.mu.Unlock()
}

func (s *Session) setLivenessCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.liveCancel = cancel
	s.mu.Unlock()
}

// takeRuntime detaches and returns the session's runtime resources so the
// caller can dispose them exactly once.
func (s *Session) takeRuntime() (client platform.Client, proxy *proxypool.Entry, unsubs []func(), liveCancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	client, proxy, unsubs, liveCancel = s.client, s.proxy, s.unsubs, s.liveCancel
	s.client, s.proxy, s.unsubs, s.liveCancel = nil, nil, nil, nil
	return
}

// Registry is the in-memory index of active sessions: at most one per
// account id, enumerable in insertion order. Pure memory, no I/O.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Session)}
}

// Upsert publishes a session. An existing entry for the same account id is
// replaced atomically and keeps its position in the enumeration order;
// holders of the old pointer see a superseded record, never one mutated
// underneath them.
func (r *Registry) Upsert(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[s.AccountID]; !ok {
		r.order = append(r.order, s.AccountID)
	}
	r.byID[s.AccountID] = s
}

func (r *Registry) Find(accountID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[accountID]
}

// FindByHandle looks a session up by its display handle (phone number).
func (r *Registry) FindByHandle(handle string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if s := r.byID[id]; s != nil && s.DisplayHandle == handle {
			return s
		}
	}
	return nil
}

func (r *Registry) Remove(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[accountID]; !ok {
		return
	}
	delete(r.byID, accountID)
	for i, id := range r.order {
		if id == accountID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// List returns all sessions in insertion order.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
