// Package bridge implements platform.Connector against a zca bridge sidecar.
//
// The sidecar wraps the Zalo SDK and exposes a small JSON API: POST
// /v1/sessions performs a credential handshake, a websocket at /v1/pair
// drives interactive QR pairing, and per-session endpoints serve profile
// fetches, context export and message operations. Inbound events arrive on a
// per-session websocket (stream.go).
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/zalogate/zalogate/internal/platform"
)

// Connect timeout for credential handshakes. Interactive pairing is bounded
// by the caller's context instead (a human may take minutes to scan).
var connectTimeout = 60 * time.Second

type Connector struct {
	baseURL string
	http    *http.Client
}

func NewConnector(baseURL string) *Connector {
	return &Connector{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

type connectRequest struct {
	Credential json.RawMessage `json:"credential,omitempty"`
	Proxy      string          `json:"proxy,omitempty"`
	SelfListen bool            `json:"self_listen"`
}

type connectResponse struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
}

// ConnectWithCredential performs a cookie-based handshake via the sidecar.
func (c *Connector) ConnectWithCredential(ctx context.Context, cred []byte, opts platform.ConnectOpts) (platform.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	body, err := json.Marshal(connectRequest{
		Credential: json.RawMessage(cred),
		Proxy:      opts.ProxyURL,
		SelfListen: opts.SelfListen,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal connect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge connect: %w", err)
	}
	defer resp.Body.Close()

	var cr connectResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("decode connect response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %s", platform.ErrAuthRejected, cr.Error)
	}
	if resp.StatusCode != http.StatusOK || cr.SessionID == "" {
		return nil, fmt.Errorf("bridge connect: status %d: %s", resp.StatusCode, cr.Error)
	}

	return c.newClient(cr.SessionID), nil
}

type pairFrame struct {
	Type      string `json:"type"` // "qr" | "paired" | "error"
	Image     string `json:"image,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ConnectInteractive opens the pairing websocket and relays QR artifacts to
// onQR until the sidecar reports the account as paired.
func (c *Connector) ConnectInteractive(ctx context.Context, opts platform.ConnectOpts, onQR platform.QRCallback) (platform.Client, error) {
	u, err := c.wsURL("/v1/pair")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if opts.ProxyURL != "" {
		q.Set("proxy", opts.ProxyURL)
	}
	if opts.SelfListen {
		q.Set("self_listen", "1")
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPClient: c.http})
	if err != nil {
		return nil, fmt.Errorf("pair dial: %w", err)
	}
	defer conn.CloseNow()

	for {
		var frame pairFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return nil, fmt.Errorf("pairing aborted: %w", err)
		}
		switch frame.Type {
		case "qr":
			if frame.Image != "" && onQR != nil {
				onQR("data:image/png;base64," + frame.Image)
			}
		case "paired":
			if frame.SessionID == "" {
				return nil, fmt.Errorf("pairing completed without session id")
			}
			conn.Close(websocket.StatusNormalClosure, "paired")
			return c.newClient(frame.SessionID), nil
		case "error":
			return nil, fmt.Errorf("pairing failed: %s", frame.Message)
		}
	}
}

func (c *Connector) newClient(sessionID string) *Client {
	cl := &Client{connector: c, sessionID: sessionID}
	cl.stream = newStream(c, sessionID)
	return cl
}

func (c *Connector) wsURL(path string) (*url.URL, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u, nil
}

// Client is one bridge-backed session handle.
type Client struct {
	connector *Connector
	sessionID string
	stream    *stream
}

func (cl *Client) sessionPath(suffix string) string {
	return fmt.Sprintf("%s/v1/sessions/%s%s", cl.connector.baseURL, cl.sessionID, suffix)
}

func (cl *Client) doJSON(ctx context.Context, method, url string, body interface{}, out interface{}) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := cl.connector.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// FetchProfile returns the account profile. A handshake whose profile cannot
// be retrieved is treated by callers as a failed login.
func (cl *Client) FetchProfile(ctx context.Context) (*platform.Profile, error) {
	var out struct {
		Profile *platform.Profile `json:"profile"`
	}
	if err := cl.doJSON(ctx, http.MethodGet, cl.sessionPath("/profile"), nil, &out); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	if out.Profile == nil || out.Profile.UserID == "" {
		return nil, fmt.Errorf("fetch profile: no profile in response")
	}
	return out.Profile, nil
}

// SessionContext exports the reusable credential blob for this session.
func (cl *Client) SessionContext(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cl.sessionPath("/context"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := cl.connector.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session context: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("session context: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (cl *Client) Stream() platform.EventStream {
	return cl.stream
}

func (cl *Client) FindUser(ctx context.Context, phone string) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := cl.doJSON(ctx, http.MethodPost, cl.sessionPath("/findUser"),
		map[string]string{"phone": phone}, &out)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return out, nil
}

func (cl *Client) SendMessage(ctx context.Context, threadID, threadType, text string) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := cl.doJSON(ctx, http.MethodPost, cl.sessionPath("/message"), map[string]string{
		"threadId":   threadID,
		"threadType": threadType,
		"message":    text,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return out, nil
}

// Close releases the sidecar session. The event stream is stopped first so
// its closed-callbacks do not fire for a deliberate teardown.
func (cl *Client) Close() error {
	cl.stream.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return cl.doJSON(ctx, http.MethodDelete, cl.sessionPath(""), nil, nil)
}
