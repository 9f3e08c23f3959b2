// Package webhook resolves event categories to destination URLs and
// delivers JSON payloads to them.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zalogate/zalogate/internal/platform"
)

// RouteTable maps event categories to webhook URLs: global defaults from
// the environment, with optional per-account overrides loaded from a YAML
// file.
type RouteTable struct {
	mu         sync.RWMutex
	defaults   map[platform.Category]string
	perAccount map[string]map[platform.Category]string
}

func NewRouteTable(messageURL, groupEventURL, reactionURL string) *RouteTable {
	return &RouteTable{
		defaults: map[platform.Category]string{
			platform.CategoryMessage:    messageURL,
			platform.CategoryGroupEvent: groupEventURL,
			platform.CategoryReaction:   reactionURL,
		},
		perAccount: make(map[string]map[platform.Category]string),
	}
}

type routesFile struct {
	Accounts map[string]map[string]string `yaml:"accounts"`
}

// LoadFile overlays per-account routes from a YAML file. Category keys are
// the wire names (message, group_event, reaction); unknown keys are
// rejected so typos do not silently unroute events.
func (t *RouteTable) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read webhook routes: %w", err)
	}
	var f routesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse webhook routes: %w", err)
	}

	overlay := make(map[string]map[platform.Category]string, len(f.Accounts))
	for accountID, routes := range f.Accounts {
		m := make(map[platform.Category]string, len(routes))
		for key, url := range routes {
			cat := platform.Category(key)
			switch cat {
			case platform.CategoryMessage, platform.CategoryGroupEvent, platform.CategoryReaction:
				m[cat] = url
			default:
				return fmt.Errorf("webhook routes: unknown category %q for account %s", key, accountID)
			}
		}
		overlay[accountID] = m
	}

	t.mu.Lock()
	t.perAccount = overlay
	t.mu.Unlock()
	log.Printf("[webhook] loaded per-account routes for %d accounts from %s", len(overlay), path)
	return nil
}

// Resolve returns the webhook URL for a category, preferring the account's
// override. Empty means unrouted.
func (t *RouteTable) Resolve(category platform.Category, accountID string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if routes := t.perAccount[accountID]; routes != nil {
		if url, ok := routes[category]; ok && url != "" {
			return url
		}
	}
	return t.defaults[category]
}

// Client posts JSON payloads to webhook endpoints.
type Client struct {
	http            *http.Client
	loginSuccessURL string
}

func NewClient(timeout time.Duration, loginSuccessURL string) *Client {
	return &Client{
		http:            &http.Client{Timeout: timeout},
		loginSuccessURL: loginSuccessURL,
	}
}

// Post delivers one payload synchronously. Non-2xx responses are errors.
func (c *Client) Post(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s returned %s", url, resp.Status)
	}
	return nil
}

// Deliver posts fire-and-forget: a slow or failing endpoint never blocks
// the event stream, failures are only logged.
func (c *Client) Deliver(url string, payload map[string]interface{}) {
	go func() {
		if err := c.Post(context.Background(), url, payload); err != nil {
			log.Printf("[webhook] deliver to %s: %v", url, err)
		}
	}()
}

type loginSuccessPayload struct {
	Event     string           `json:"event"`
	ID        *string          `json:"id"`
	Data      loginSuccessData `json:"data"`
	Timestamp int64            `json:"timestamp"`
}

type loginSuccessData struct {
	OwnID       string `json:"ownId"`
	DisplayName string `json:"displayName"`
	PhoneNumber string `json:"phoneNumber"`
	Proxy       string `json:"proxy"`
}

// NotifyLoginSuccess posts the login_success notification, if a destination
// is configured. The tracking id round-trips so the caller's workflow can
// correlate the login it initiated; absent ids are sent as null.
func (c *Client) NotifyLoginSuccess(profile *platform.Profile, trackingID, proxyURL string) {
	if c.loginSuccessURL == "" {
		return
	}
	var id *string
	if trackingID != "" {
		id = &trackingID
	}
	payload := loginSuccessPayload{
		Event: "login_success",
		ID:    id,
		Data: loginSuccessData{
			OwnID:       profile.UserID,
			DisplayName: profile.DisplayName,
			PhoneNumber: profile.PhoneNumber,
			Proxy:       proxyURL,
		},
		Timestamp: time.Now().UnixMilli(),
	}

	go func() {
		if err := c.Post(context.Background(), c.loginSuccessURL, payload); err != nil {
			log.Printf("[webhook] login_success notification for %s: %v", profile.UserID, err)
			return
		}
		log.Printf("[webhook] login_success notification sent for %s (%s)", profile.UserID, profile.DisplayName)
	}()
}
