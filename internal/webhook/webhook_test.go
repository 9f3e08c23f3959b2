package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zalogate/zalogate/internal/platform"
)

func TestRouteTableDefaults(t *testing.T) {
	rt := NewRouteTable("http://hook/msg", "http://hook/group", "")

	if got := rt.Resolve(platform.CategoryMessage, "any"); got != "http://hook/msg" {
		t.Fatalf("message route = %q", got)
	}
	if got := rt.Resolve(platform.CategoryReaction, "any"); got != "" {
		t.Fatalf("reaction route = %q, want empty", got)
	}
}

func TestRouteTableOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	content := `accounts:
  "acct1":
    message: http://special/msg
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write routes file: %v", err)
	}

	rt := NewRouteTable("http://hook/msg", "http://hook/group", "http://hook/react")
	if err := rt.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if got := rt.Resolve(platform.CategoryMessage, "acct1"); got != "http://special/msg" {
		t.Fatalf("override route = %q", got)
	}
	// categories without an override fall through to the default
	if got := rt.Resolve(platform.CategoryReaction, "acct1"); got != "http://hook/react" {
		t.Fatalf("fallthrough route = %q", got)
	}
	if got := rt.Resolve(platform.CategoryMessage, "acct2"); got != "http://hook/msg" {
		t.Fatalf("other-account route = %q", got)
	}
}

func TestRouteTableRejectsUnknownCategory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	content := `accounts:
  "acct1":
    mesage: http://typo/msg
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write routes file: %v", err)
	}

	rt := NewRouteTable("", "", "")
	if err := rt.LoadFile(path); err == nil {
		t.Fatal("LoadFile accepted an unknown category")
	}
}

func TestClientPost(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, "")
	if err := c.Post(context.Background(), srv.URL, map[string]string{"k": "v"}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got["k"] != "v" {
		t.Fatalf("server received %v", got)
	}
}

func TestClientPostNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, "")
	if err := c.Post(context.Background(), srv.URL, map[string]string{}); err == nil {
		t.Fatal("Post returned nil for 502 response")
	}
}

func TestNotifyLoginSuccessPayload(t *testing.T) {
	received := make(chan loginSuccessPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p loginSuccessPayload
		json.NewDecoder(r.Body).Decode(&p)
		received <- p
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, srv.URL)
	c.NotifyLoginSuccess(&platform.Profile{
		UserID:      "own1",
		DisplayName: "Alice",
		PhoneNumber: "+84123",
	}, "track-7", "http://proxy:8080")

	select {
	case p := <-received:
		if p.Event != "login_success" {
			t.Fatalf("event = %q", p.Event)
		}
		if p.ID == nil || *p.ID != "track-7" {
			t.Fatalf("id = %v", p.ID)
		}
		if p.Data.OwnID != "own1" || p.Data.Proxy != "http://proxy:8080" {
			t.Fatalf("data = %+v", p.Data)
		}
		if p.Timestamp == 0 {
			t.Fatal("timestamp missing")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
	}
}

func TestNotifyLoginSuccessWithoutURLIsNoop(t *testing.T) {
	c := NewClient(5*time.Second, "")
	// must not panic or block
	c.NotifyLoginSuccess(&platform.Profile{UserID: "own1"}, "", "")
}
