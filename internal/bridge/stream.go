package bridge

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/zalogate/zalogate/internal/platform"
)

// eventFrame is one inbound event from the sidecar's event websocket.
type eventFrame struct {
	Category platform.Category      `json:"category"`
	Payload  map[string]interface{} `json:"payload"`
}

// stream implements platform.EventStream over the sidecar's per-session
// event websocket. Handlers are keyed so unsubscribing one does not disturb
// the others; the read loop exits when the socket dies or Stop is called,
// and a death (not a deliberate Stop) fires the closed-handlers.
type stream struct {
	connector *Connector
	sessionID string

	mu        sync.Mutex
	started   bool
	stopping  bool
	cancel    context.CancelFunc
	nextID    int
	handlers  map[platform.Category]map[int]platform.Handler
	onClosed  map[int]func()
}

func newStream(c *Connector, sessionID string) *stream {
	return &stream{
		connector: c,
		sessionID: sessionID,
		handlers:  make(map[platform.Category]map[int]platform.Handler),
		onClosed:  make(map[int]func()),
	}
}

func (s *stream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	u, err := s.connector.wsURL("/v1/sessions/" + s.sessionID + "/events")
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPClient: s.connector.http})
	if err != nil {
		return fmt.Errorf("event stream dial: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.started = true
	s.stopping = false
	s.cancel = cancel
	s.mu.Unlock()

	go s.readLoop(loopCtx, conn)
	return nil
}

func (s *stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.CloseNow()

	for {
		var frame eventFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			s.mu.Lock()
			s.started = false
			deliberate := s.stopping
			closed := make([]func(), 0, len(s.onClosed))
			for _, h := range s.onClosed {
				closed = append(closed, h)
			}
			s.mu.Unlock()

			if !deliberate {
				log.Printf("[stream] session %s: event stream closed: %v", s.sessionID, err)
				for _, h := range closed {
					h()
				}
			}
			return
		}
		s.dispatch(frame)
	}
}

func (s *stream) dispatch(frame eventFrame) {
	s.mu.Lock()
	hs := make([]platform.Handler, 0, len(s.handlers[frame.Category]))
	for _, h := range s.handlers[frame.Category] {
		hs = append(hs, h)
	}
	s.mu.Unlock()

	for _, h := range hs {
		h(frame.Payload)
	}
}

func (s *stream) Stop() {
	s.mu.Lock()
	s.stopping = true
	s.started = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *stream) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *stream) On(category platform.Category, h platform.Handler) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handlers[category] == nil {
		s.handlers[category] = make(map[int]platform.Handler)
	}
	id := s.nextID
	s.nextID++
	s.handlers[category][id] = h

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers[category], id)
	}
}

func (s *stream) OnClosed(h func()) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.onClosed[id] = h

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.onClosed, id)
	}
}
