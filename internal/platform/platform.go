// Package platform defines the contract for the remote Zalo client
// capability. The wire protocol itself lives in an external zca bridge
// sidecar; internal/bridge implements these interfaces against it, and tests
// substitute fakes.
package platform

import (
	"context"
	"errors"
)

// Category identifies one inbound event stream category.
type Category string

const (
	CategoryMessage    Category = "message"
	CategoryGroupEvent Category = "group_event"
	CategoryReaction   Category = "reaction"
)

// Profile is the account profile fetched after a successful handshake.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PhoneNumber string `json:"phoneNumber"`
}

// Handler receives the decoded JSON payload of one inbound event.
type Handler func(payload map[string]interface{})

// EventStream is the per-session inbound event subscription. On and OnClosed
// return explicit unsubscribe functions; disposing a subscription must not
// affect other subscribers.
type EventStream interface {
	Start(ctx context.Context) error
	Stop()
	IsStarted() bool
	On(category Category, h Handler) (unsubscribe func())
	OnClosed(h func()) (unsubscribe func())
}

// Client is one live authenticated connection to the platform.
type Client interface {
	FetchProfile(ctx context.Context) (*Profile, error)
	// SessionContext returns the opaque credential blob (device identity,
	// cookies, user agent) that allows reconnecting without pairing.
	SessionContext(ctx context.Context) ([]byte, error)
	Stream() EventStream
	FindUser(ctx context.Context, phone string) (map[string]interface{}, error)
	SendMessage(ctx context.Context, threadID, threadType, text string) (map[string]interface{}, error)
	Close() error
}

// ConnectOpts carries per-connection parameters.
type ConnectOpts struct {
	// ProxyURL routes platform traffic through an outbound proxy. Empty
	// means direct.
	ProxyURL string
	// SelfListen includes the account's own outbound messages in the stream.
	SelfListen bool
}

// QRCallback delivers a pairing artifact (data-URI PNG) to show to a human.
// It may be invoked zero or more times before pairing completes.
type QRCallback func(artifact string)

// Connector establishes sessions. ConnectInteractive blocks until pairing
// completes, fails, or ctx is cancelled.
type Connector interface {
	ConnectWithCredential(ctx context.Context, cred []byte, opts ConnectOpts) (Client, error)
	ConnectInteractive(ctx context.Context, opts ConnectOpts, onQR QRCallback) (Client, error)
}

// ErrAuthRejected indicates the platform refused the stored credential.
// A caller-initiated login may fall back to interactive pairing on this;
// background reconnects must not.
var ErrAuthRejected = errors.New("platform: credential rejected")
