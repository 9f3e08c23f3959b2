package proxypool

import (
	"errors"
	"sync"
	"testing"
)

type memStore struct {
	mu      sync.Mutex
	urls    []string
	saveErr error
	saves   int
}

func (m *memStore) Load() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.urls...), nil
}

func (m *memStore) Save(urls []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.urls = append([]string(nil), urls...)
	m.saves++
	return nil
}

func newTestPool(t *testing.T, capacity int, urls ...string) (*Pool, *memStore) {
	t.Helper()
	store := &memStore{urls: urls}
	p, err := New(store, capacity)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, store
}

func TestSelectAvailableFirstFit(t *testing.T) {
	p, _ := newTestPool(t, 2, "http://p1:8080", "http://p2:8080")

	e := p.SelectAvailable()
	if e == nil || e.URL != "http://p1:8080" {
		t.Fatalf("SelectAvailable = %v, want p1", e)
	}
	p.Bind(e)

	// p1 still has capacity, stays first-fit
	if e2 := p.SelectAvailable(); e2 != e {
		t.Fatalf("SelectAvailable = %v, want p1 again", e2)
	}
	p.Bind(e)

	// p1 full now
	if e3 := p.SelectAvailable(); e3 == nil || e3.URL != "http://p2:8080" {
		t.Fatalf("SelectAvailable = %v, want p2", e3)
	}
}

func TestSelectAvailableSaturated(t *testing.T) {
	p, _ := newTestPool(t, 1, "http://p1:8080")
	p.Bind(p.SelectAvailable())
	if e := p.SelectAvailable(); e != nil {
		t.Fatalf("SelectAvailable = %v, want nil when saturated", e)
	}
}

func TestAddCustomValidatesAndPersists(t *testing.T) {
	p, store := newTestPool(t, 3)

	if _, err := p.AddCustom("not a url"); err == nil {
		t.Fatal("AddCustom accepted garbage")
	}
	if _, err := p.AddCustom("/relative/path"); err == nil {
		t.Fatal("AddCustom accepted a relative URL")
	}

	e, err := p.AddCustom("http://p1:8080")
	if err != nil {
		t.Fatalf("AddCustom: %v", err)
	}
	if e.Capacity != 3 {
		t.Fatalf("capacity = %d, want 3", e.Capacity)
	}
	if len(store.urls) != 1 || store.urls[0] != "http://p1:8080" {
		t.Fatalf("store urls = %v", store.urls)
	}

	// adding the same URL again returns the existing entry
	again, err := p.AddCustom("http://p1:8080")
	if err != nil {
		t.Fatalf("AddCustom (dup): %v", err)
	}
	if again != e {
		t.Fatal("duplicate AddCustom created a new entry")
	}
	if store.saves != 1 {
		t.Fatalf("saves = %d, want 1", store.saves)
	}
}

func TestAddCustomRollsBackOnSaveFailure(t *testing.T) {
	p, store := newTestPool(t, 3)
	store.saveErr = errors.New("disk full")

	if _, err := p.AddCustom("http://p1:8080"); err == nil {
		t.Fatal("AddCustom succeeded despite save failure")
	}
	if len(p.Snapshot()) != 0 {
		t.Fatal("failed add left an entry in the pool")
	}
}

func TestRemove(t *testing.T) {
	p, store := newTestPool(t, 3, "http://p1:8080", "http://p2:8080")

	if err := p.Remove("http://p1:8080"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := p.Remove("http://p1:8080"); err == nil {
		t.Fatal("second Remove succeeded")
	}
	if len(store.urls) != 1 || store.urls[0] != "http://p2:8080" {
		t.Fatalf("store urls = %v", store.urls)
	}
}

func TestBindAndReleaseFloor(t *testing.T) {
	p, _ := newTestPool(t, 3, "http://p1:8080")
	e := p.Find("http://p1:8080")
	if e == nil {
		t.Fatal("Find returned nil")
	}

	p.Bind(e)
	p.Bind(e)
	if got := e.Load(); got != 2 {
		t.Fatalf("load = %d, want 2", got)
	}
	p.Release(e)
	p.Release(e)
	p.Release(e) // extra release must not go negative
	if got := e.Load(); got != 0 {
		t.Fatalf("load = %d, want 0", got)
	}

	// nil entries are no-ops
	p.Bind(nil)
	p.Release(nil)
}

func TestSnapshotOrder(t *testing.T) {
	p, _ := newTestPool(t, 3, "http://p1:8080", "http://p2:8080")
	p.Bind(p.Find("http://p2:8080"))

	snap := p.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d", len(snap))
	}
	if snap[0].URL != "http://p1:8080" || snap[1].URL != "http://p2:8080" {
		t.Fatalf("snapshot order = %v", snap)
	}
	if snap[1].Load != 1 {
		t.Fatalf("p2 load = %d, want 1", snap[1].Load)
	}
}
