package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zalogate/zalogate/internal/auth"
	"github.com/zalogate/zalogate/internal/config"
	"github.com/zalogate/zalogate/internal/database"
	"github.com/zalogate/zalogate/internal/platform"
	"github.com/zalogate/zalogate/internal/proxypool"
	"github.com/zalogate/zalogate/internal/session"
)

// setupTestDB creates a fresh in-memory SQLite database for each test.
func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&database.Credential{}, &database.Proxy{}, &database.Setting{}, &database.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	database.DB = db
	SessionStore = auth.NewSessionStore()
}

func withAPIKey(t *testing.T, key string) {
	t.Helper()
	prev := config.Cfg.APIKey
	config.Cfg.APIKey = key
	t.Cleanup(func() { config.Cfg.APIKey = prev })
}

func seedUser(t *testing.T, username, password, role string) *database.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := &database.User{Username: username, PasswordHash: hash, Role: role}
	if err := database.CreateUser(u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// fakeStream / fakeClient / fakeConnector are a minimal in-memory platform
// for driving the session manager from handler tests.

type fakeStream struct {
	mu       sync.Mutex
	started  bool
	onClosed []func()
}

func (s *fakeStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

func (s *fakeStream) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *fakeStream) On(category platform.Category, h platform.Handler) func() {
	return func() {}
}

func (s *fakeStream) OnClosed(h func()) func() {
	s.mu.Lock()
	s.onClosed = append(s.onClosed, h)
	s.mu.Unlock()
	return func() {}
}

type fakeClient struct {
	profile *platform.Profile
	stream  *fakeStream
}

func (c *fakeClient) FetchProfile(ctx context.Context) (*platform.Profile, error) {
	return c.profile, nil
}

func (c *fakeClient) SessionContext(ctx context.Context) ([]byte, error) {
	return []byte(c.profile.UserID), nil
}

func (c *fakeClient) Stream() platform.EventStream { return c.stream }

func (c *fakeClient) FindUser(ctx context.Context, phone string) (map[string]interface{}, error) {
	return map[string]interface{}{"uid": "u-" + phone}, nil
}

func (c *fakeClient) SendMessage(ctx context.Context, threadID, threadType, text string) (map[string]interface{}, error) {
	return map[string]interface{}{"msgId": "m1", "threadId": threadID}, nil
}

func (c *fakeClient) Close() error {
	c.stream.Stop()
	return nil
}

type fakeConnector struct {
	mu       sync.Mutex
	qr       string // when set, interactive logins emit this before pairing
	pairHold chan struct{}
	nextID   string
}

func (c *fakeConnector) build(id string) *fakeClient {
	return &fakeClient{
		profile: &platform.Profile{UserID: id, DisplayName: "User " + id, PhoneNumber: "+84" + id},
		stream:  &fakeStream{},
	}
}

func (c *fakeConnector) ConnectWithCredential(ctx context.Context, cred []byte, opts platform.ConnectOpts) (platform.Client, error) {
	return c.build(string(cred)), nil
}

func (c *fakeConnector) ConnectInteractive(ctx context.Context, opts platform.ConnectOpts, onQR platform.QRCallback) (platform.Client, error) {
	c.mu.Lock()
	qr := c.qr
	hold := c.pairHold
	id := c.nextID
	c.mu.Unlock()

	if qr != "" && onQR != nil {
		onQR(qr)
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if id == "" {
		id = "acct1"
	}
	return c.build(id), nil
}

// fakeCreds satisfies session.CredentialStore.
type fakeCreds struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeCreds() *fakeCreds {
	return &fakeCreds{blobs: make(map[string][]byte)}
}

func (f *fakeCreds) Read(accountID string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, ok := f.blobs[accountID]
	return blob, ok, nil
}

func (f *fakeCreds) WriteIfAbsent(accountID string, blob []byte, phone string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.blobs[accountID]; ok {
		return false, nil
	}
	f.blobs[accountID] = blob
	return true, nil
}

func (f *fakeCreds) Delete(accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, accountID)
	return nil
}

func (f *fakeCreds) ListKeys() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.blobs))
	for k := range f.blobs {
		keys = append(keys, k)
	}
	return keys, nil
}

type memProxyStore struct {
	mu   sync.Mutex
	urls []string
}

func (m *memProxyStore) Load() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.urls...), nil
}

func (m *memProxyStore) Save(urls []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls = append([]string(nil), urls...)
	return nil
}

// setupManager wires the handler globals to a manager over the fake platform.
func setupManager(t *testing.T, conn platform.Connector) *session.Manager {
	t.Helper()
	pool, err := proxypool.New(&memProxyStore{}, 3)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	m := session.NewManager(session.Config{
		Cooldown:       3 * time.Minute,
		MaxAttempts:    5,
		ResetAfter:     30 * time.Minute,
		RetryDelayCap:  10 * time.Minute,
		HealthInterval: time.Hour,
	}, conn, newFakeCreds(), pool, nil)
	t.Cleanup(m.Shutdown)
	Sessions = m
	Proxies = pool
	return m
}
