// Package session owns the account session lifecycle: login and pairing,
// the live session registry, supervised reconnects, and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zalogate/zalogate/internal/platform"
	"github.com/zalogate/zalogate/internal/proxypool"
)

// ErrNoSession is returned by operations addressed to an account with no
// live session.
var ErrNoSession = errors.New("session: account not connected")

// ErrProfileFetch marks a login that completed the handshake but could not
// resolve the account's own profile. Such logins are always unwound.
var ErrProfileFetch = errors.New("session: profile fetch failed")

// CredentialStore is the durable credential storage the manager reads on
// reconnect and writes after first login.
type CredentialStore interface {
	Read(accountID string) ([]byte, bool, error)
	WriteIfAbsent(accountID string, blob []byte, phone string) (bool, error)
	Delete(accountID string) error
	ListKeys() ([]string, error)
}

// ListenerAttacher wires event-stream subscriptions for a freshly logged-in
// account and returns their unsubscribe functions.
type ListenerAttacher interface {
	Attach(accountID string, stream platform.EventStream) []func()
}

// LoginHook runs after every successful interactive login.
type LoginHook func(profile *platform.Profile, trackingID, proxyURL string)

// Config holds the reconnect policy tunables.
type Config struct {
	Cooldown       time.Duration // minimum spacing between relogin attempts per account
	MaxAttempts    int           // retry budget before an account is abandoned
	ResetAfter     time.Duration // how long an abandoned account waits for its counter reset
	RetryDelayCap  time.Duration // ceiling for the scheduled retry delay
	HealthInterval time.Duration // liveness probe period
}

type attemptRecord struct {
	lastAttempt time.Time
	count       int
}

// Manager coordinates logins, the session registry, and the reconnect
// supervisor for all accounts.
type Manager struct {
	cfg       Config
	connector platform.Connector
	creds     CredentialStore
	pool      *proxypool.Pool
	relay     ListenerAttacher

	registry *Registry
	states   *stateTracker

	supMu        sync.Mutex
	attempts     map[string]*attemptRecord
	reloginLocks map[string]bool
	retryTimers  map[string]*time.Timer
	resetTimers  map[string]*time.Timer

	loginHooks []LoginHook
}

func NewManager(cfg Config, connector platform.Connector, creds CredentialStore, pool *proxypool.Pool, relay ListenerAttacher) *Manager {
	return &Manager{
		cfg:          cfg,
		connector:    connector,
		creds:        creds,
		pool:         pool,
		relay:        relay,
		registry:     NewRegistry(),
		states:       newStateTracker(),
		attempts:     make(map[string]*attemptRecord),
		reloginLocks: make(map[string]bool),
		retryTimers:  make(map[string]*time.Timer),
		resetTimers:  make(map[string]*time.Timer),
	}
}

// Registry exposes the live session index for read paths (handlers).
func (m *Manager) Registry() *Registry {
	return m.registry
}

// OnLoginSuccess registers a hook invoked after each successful manual
// login. Must be called before the manager starts serving logins.
func (m *Manager) OnLoginSuccess(h LoginHook) {
	m.loginHooks = append(m.loginHooks, h)
}

// LoginOptions parameterizes one manual login.
type LoginOptions struct {
	ProxyURL   string             // optional caller-supplied proxy, pooled if new
	Credential []byte             // optional stored-session blob; absent means QR pairing
	TrackingID string             // opaque id echoed in the login-success notification
	OnQR       platform.QRCallback
}

// LoginResult describes a completed login.
type LoginResult struct {
	AccountID   string `json:"ownId"`
	DisplayName string `json:"displayName"`
	Phone       string `json:"phoneNumber"`
	ProxyURL    string `json:"proxy"`
}

// InitiateLogin performs a manual login. A supplied credential is tried
// first and falls back to QR pairing on rejection; background relogins never
// get that fallback.
func (m *Manager) InitiateLogin(ctx context.Context, opts LoginOptions) (*LoginResult, error) {
	res, profile, err := m.login(ctx, opts.ProxyURL, opts.Credential, opts.OnQR, false)
	if err != nil {
		return nil, err
	}
	for _, h := range m.loginHooks {
		h(profile, opts.TrackingID, res.ProxyURL)
	}
	return res, nil
}

// login is the shared login path. background suppresses the QR fallback and
// is used by the supervisor and the bootstrapper.
func (m *Manager) login(ctx context.Context, customProxy string, cred []byte, onQR platform.QRCallback, background bool) (*LoginResult, *platform.Profile, error) {
	entry, proxyURL, err := m.chooseProxy(customProxy)
	if err != nil {
		return nil, nil, err
	}

	opts := platform.ConnectOpts{ProxyURL: proxyURL, SelfListen: true}

	var client platform.Client
	switch {
	case len(cred) > 0:
		client, err = m.connector.ConnectWithCredential(ctx, cred, opts)
		if err != nil && !background {
			log.Printf("[login] credential login failed (%v), falling back to QR pairing", err)
			client, err = m.connector.ConnectInteractive(ctx, opts, onQR)
		}
	case background:
		return nil, nil, fmt.Errorf("no stored credential for background login")
	default:
		client, err = m.connector.ConnectInteractive(ctx, opts, onQR)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("platform handshake: %w", err)
	}

	return m.finishLogin(ctx, client, entry, proxyURL)
}

// chooseProxy resolves the proxy for a login: a caller-supplied URL joins
// the pool (idempotently), otherwise first-fit selection. No available proxy
// means a proxyless direct connection.
func (m *Manager) chooseProxy(customProxy string) (*proxypool.Entry, string, error) {
	if customProxy != "" {
		entry, err := m.pool.AddCustom(customProxy)
		if err != nil {
			return nil, "", err
		}
		return entry, entry.URL, nil
	}
	if entry := m.pool.SelectAvailable(); entry != nil {
		return entry, entry.URL, nil
	}
	log.Printf("[login] proxy pool saturated or empty, connecting without proxy")
	return nil, "", nil
}

// finishLogin runs the post-handshake sequence: resolve the profile,
// supersede any prior session for the account, publish the new one, persist
// the credential, attach relay listeners and the reconnect trigger, start
// the event stream and the liveness monitor.
func (m *Manager) finishLogin(ctx context.Context, client platform.Client, entry *proxypool.Entry, proxyURL string) (*LoginResult, *platform.Profile, error) {
	profile, err := client.FetchProfile(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}
	accountID := profile.UserID

	if old := m.registry.Find(accountID); old != nil {
		log.Printf("[login] superseding existing session for account %s", accountID)
		m.disposeRuntime(old)
	}

	m.pool.Bind(entry)
	sess := &Session{
		AccountID:     accountID,
		DisplayName:   profile.DisplayName,
		DisplayHandle: profile.PhoneNumber,
		ProxyURL:      proxyURL,
		proxy:         entry,
		client:        client,
	}
	m.registry.Upsert(sess)

	if blob, err := client.SessionContext(ctx); err != nil {
		log.Printf("[login] export session context for %s: %v", accountID, err)
	} else if wrote, err := m.creds.WriteIfAbsent(accountID, blob, profile.PhoneNumber); err != nil {
		log.Printf("[login] persist credential for %s: %v", accountID, err)
	} else if !wrote {
		log.Printf("[login] credential for %s already stored, keeping existing", accountID)
	}

	stream := client.Stream()
	if m.relay != nil {
		sess.addUnsubs(m.relay.Attach(accountID, stream)...)
	}
	sess.addUnsubs(stream.OnClosed(func() {
		m.states.setState(accountID, StateDisconnected, "event stream closed")
		m.triggerRelogin(accountID, "event stream closed")
	}))

	if err := stream.Start(ctx); err != nil {
		m.disposeRuntime(sess)
		m.registry.Remove(accountID)
		return nil, nil, fmt.Errorf("start event stream for %s: %w", accountID, err)
	}

	liveCtx, cancel := context.WithCancel(context.Background())
	sess.setLivenessCancel(cancel)
	go m.livenessLoop(liveCtx, accountID, sess)

	m.clearRetryTimer(accountID)
	m.resetAttempts(accountID)
	m.states.setState(accountID, StateActive, "login complete")

	log.Printf("[login] account %s (%s) active via proxy %q", accountID, profile.DisplayName, proxyURL)
	return &LoginResult{
		AccountID:   accountID,
		DisplayName: profile.DisplayName,
		Phone:       profile.PhoneNumber,
		ProxyURL:    proxyURL,
	}, profile, nil
}

// disposeRuntime releases a session's runtime resources: liveness monitor,
// stream subscriptions, platform client, proxy binding. Unsubscribing the
// closed-handler first keeps the deliberate close from triggering a relogin.
func (m *Manager) disposeRuntime(s *Session) {
	client, proxy, unsubs, liveCancel := s.takeRuntime()
	if liveCancel != nil {
		liveCancel()
	}
	for _, u := range unsubs {
		u()
	}
	if client != nil {
		if err := client.Close(); err != nil {
			log.Printf("[session] close client for %s: %v", s.AccountID, err)
		}
	}
	m.pool.Release(proxy)
}

// Logout tears an account down completely: runtime, registry entry, stored
// credential, supervisor bookkeeping.
func (m *Manager) Logout(accountID string) error {
	sess := m.registry.Find(accountID)
	if sess == nil {
		return ErrNoSession
	}

	m.supMu.Lock()
	if t := m.retryTimers[accountID]; t != nil {
		t.Stop()
		delete(m.retryTimers, accountID)
	}
	if t := m.resetTimers[accountID]; t != nil {
		t.Stop()
		delete(m.resetTimers, accountID)
	}
	delete(m.attempts, accountID)
	m.supMu.Unlock()

	m.disposeRuntime(sess)
	m.registry.Remove(accountID)
	if err := m.creds.Delete(accountID); err != nil {
		log.Printf("[session] delete credential for %s: %v", accountID, err)
	}
	m.states.remove(accountID)
	log.Printf("[session] account %s logged out", accountID)
	return nil
}

// Bootstrap restores every stored account at startup. Accounts are restored
// sequentially in storage order; one failure never blocks the rest.
func (m *Manager) Bootstrap(ctx context.Context) {
	keys, err := m.creds.ListKeys()
	if err != nil {
		log.Printf("[bootstrap] list stored credentials: %v", err)
		return
	}
	if len(keys) == 0 {
		log.Printf("[bootstrap] no stored accounts")
		return
	}
	log.Printf("[bootstrap] restoring %d stored accounts", len(keys))
	restored := 0
	for _, id := range keys {
		if m.registry.Find(id) != nil {
			continue
		}
		cred, ok, err := m.creds.Read(id)
		if err != nil {
			log.Printf("[bootstrap] read credential for %s: %v", id, err)
			continue
		}
		if !ok {
			continue
		}
		m.states.setState(id, StateConnecting, "bootstrap")
		if _, _, err := m.login(ctx, "", cred, nil, true); err != nil {
			log.Printf("[bootstrap] restore account %s: %v", id, err)
			m.states.setState(id, StateDisconnected, "bootstrap failed")
			continue
		}
		restored++
	}
	log.Printf("[bootstrap] restored %d/%d accounts", restored, len(keys))
}

// Info is one account's row in session listings.
type Info struct {
	AccountID   string `json:"ownId"`
	DisplayName string `json:"displayName"`
	Phone       string `json:"phoneNumber"`
	ProxyURL    string `json:"proxy"`
	IsActive    bool   `json:"isActive"`
	State       State  `json:"state"`
}

// ListSessions snapshots all sessions in login order.
func (m *Manager) ListSessions() []Info {
	sessions := m.registry.List()
	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, Info{
			AccountID:   s.AccountID,
			DisplayName: s.DisplayName,
			Phone:       s.DisplayHandle,
			ProxyURL:    s.ProxyURL,
			IsActive:    s.IsActive(),
			State:       m.states.state(s.AccountID),
		})
	}
	return out
}

// SessionDetail is the full per-account view including state history.
type SessionDetail struct {
	Info
	Transitions []Transition `json:"transitions"`
}

// Describe returns the detailed view of one account, or ErrNoSession.
func (m *Manager) Describe(accountID string) (*SessionDetail, error) {
	s := m.registry.Find(accountID)
	if s == nil {
		return nil, ErrNoSession
	}
	return &SessionDetail{
		Info: Info{
			AccountID:   s.AccountID,
			DisplayName: s.DisplayName,
			Phone:       s.DisplayHandle,
			ProxyURL:    s.ProxyURL,
			IsActive:    s.IsActive(),
			State:       m.states.state(s.AccountID),
		},
		Transitions: m.states.transitions(s.AccountID),
	}, nil
}

// Shutdown stops all supervision and closes every live session. Stored
// credentials survive for the next Bootstrap.
func (m *Manager) Shutdown() {
	m.supMu.Lock()
	for id, t := range m.retryTimers {
		t.Stop()
		delete(m.retryTimers, id)
	}
	for id, t := range m.resetTimers {
		t.Stop()
		delete(m.resetTimers, id)
	}
	m.supMu.Unlock()

	for _, s := range m.registry.List() {
		m.disposeRuntime(s)
		m.registry.Remove(s.AccountID)
	}
	log.Printf("[session] all sessions closed")
}
