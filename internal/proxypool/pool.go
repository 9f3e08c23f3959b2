// Package proxypool tracks outbound proxies and how many account sessions
// each currently serves. Selection is first-fit in insertion order; callers
// needing fairness must rotate externally.
package proxypool

import (
	"fmt"
	"log"
	"net/url"
	"sync"

	"github.com/zalogate/zalogate/internal/logutil"
)

// ListStore is the durable proxy list. Save is called synchronously from
// AddCustom and Remove so a crash right after cannot lose the change.
type ListStore interface {
	Load() ([]string, error)
	Save(urls []string) error
}

// Entry is one outbound proxy and its current allocation.
type Entry struct {
	URL      string
	Capacity int

	mu   sync.Mutex
	load int
}

// Load returns the number of sessions currently bound to this proxy.
func (e *Entry) Load() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.load
}

// EntryInfo is a snapshot of one entry for listing endpoints.
type EntryInfo struct {
	URL      string `json:"url"`
	Capacity int    `json:"capacity"`
	Load     int    `json:"load"`
}

type Pool struct {
	mu       sync.Mutex
	entries  []*Entry
	capacity int
	store    ListStore
}

// New loads the durable list and builds the pool with all loads at zero.
func New(store ListStore, capacity int) (*Pool, error) {
	urls, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load proxy list: %w", err)
	}
	p := &Pool{capacity: capacity, store: store}
	for _, u := range urls {
		p.entries = append(p.entries, &Entry{URL: u, Capacity: capacity})
	}
	log.Printf("[proxy] loaded %d proxies (capacity %d accounts each)", len(p.entries), capacity)
	return p, nil
}

// SelectAvailable returns the earliest-inserted proxy with spare capacity,
// or nil if none exists. Existing over-capacity (from manual list edits) is
// tolerated; it only blocks new allocations on that entry.
func (p *Pool) SelectAvailable() *Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.Load() < e.Capacity {
			return e
		}
	}
	return nil
}

// AddCustom validates and appends a caller-supplied proxy URL. Adding a URL
// already in the pool is a no-op returning the existing entry. The durable
// list is persisted before returning.
func (p *Pool) AddCustom(rawURL string) (*Entry, error) {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy url %q", rawURL)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		if e.URL == rawURL {
			return e, nil
		}
	}

	entry := &Entry{URL: rawURL, Capacity: p.capacity}
	p.entries = append(p.entries, entry)
	if err := p.store.Save(p.urlsLocked()); err != nil {
		p.entries = p.entries[:len(p.entries)-1]
		return nil, fmt.Errorf("persist proxy list: %w", err)
	}
	log.Printf("[proxy] added custom proxy %s", logutil.SanitizeForLog(rawURL))
	return entry, nil
}

// Remove deletes a proxy from the pool and the durable list. Sessions still
// bound to it keep running; they simply stop counting anywhere.
func (p *Pool) Remove(rawURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := -1
	for i, e := range p.entries {
		if e.URL == rawURL {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("proxy %q not found", rawURL)
	}
	p.entries = append(p.entries[:idx], p.entries[idx+1:]...)
	if err := p.store.Save(p.urlsLocked()); err != nil {
		return fmt.Errorf("persist proxy list: %w", err)
	}
	return nil
}

// Find returns the entry for a URL, or nil.
func (p *Pool) Find(rawURL string) *Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.URL == rawURL {
			return e
		}
	}
	return nil
}

// Bind counts one session against the entry. Nil entries (proxyless logins)
// are a no-op.
func (p *Pool) Bind(e *Entry) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.load++
	e.mu.Unlock()
}

// Release undoes a Bind, floored at zero.
func (p *Pool) Release(e *Entry) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.load > 0 {
		e.load--
	}
	e.mu.Unlock()
}

// Snapshot lists all entries in insertion order.
func (p *Pool) Snapshot() []EntryInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EntryInfo, len(p.entries))
	for i, e := range p.entries {
		out[i] = EntryInfo{URL: e.URL, Capacity: e.Capacity, Load: e.Load()}
	}
	return out
}

func (p *Pool) urlsLocked() []string {
	urls := make([]string, len(p.entries))
	for i, e := range p.entries {
		urls[i] = e.URL
	}
	return urls
}
