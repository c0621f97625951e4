// Package overlay serves the live caption feed to presentation clients over
// WebSocket. The rendering side (an overlay window, an OBS browser source, a
// web page) is external; this package only guarantees that every connected
// client observes caption events in order.
package overlay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/livecap-io/livecap/internal/pipeline"
)

// defaultReplay is the number of recent captions sent to a newly connected
// client so its overlay is not blank until the next utterance.
const defaultReplay = 10

// clientBuffer is the per-client send queue depth. A client that falls this
// far behind is disconnected rather than allowed to stall the pipeline.
const clientBuffer = 32

// Server broadcasts caption events to WebSocket clients. It implements
// [pipeline.Sink], so it can be handed directly to the Supervisor.
type Server struct {
	log    *slog.Logger
	replay int

	mu      sync.Mutex
	clients map[*client]struct{}
	recent  []pipeline.CaptionEvent
	closed  bool
}

type client struct {
	events chan pipeline.CaptionEvent
	kicked chan struct{}
	once   sync.Once
}

func (c *client) kick() {
	c.once.Do(func() { close(c.kicked) })
}

// Compile-time interface assertion.
var _ pipeline.Sink = (*Server)(nil)

// NewServer creates an overlay Server. A replay of 0 selects the default;
// negative disables replay.
func NewServer(log *slog.Logger, replay int) *Server {
	if log == nil {
		log = slog.Default()
	}
	if replay == 0 {
		replay = defaultReplay
	}
	if replay < 0 {
		replay = 0
	}
	return &Server{
		log:     log.With("component", "overlay"),
		replay:  replay,
		clients: make(map[*client]struct{}),
	}
}

// Publish implements [pipeline.Sink]. It never blocks: a client whose send
// queue is full is disconnected.
func (s *Server) Publish(event pipeline.CaptionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.recent = append(s.recent, event)
	if len(s.recent) > s.replay {
		s.recent = s.recent[len(s.recent)-s.replay:]
	}

	for c := range s.clients {
		select {
		case c.events <- event:
		default:
			s.log.Warn("disconnecting slow overlay client")
			delete(s.clients, c)
			c.kick()
		}
	}
}

// ClientCount returns the number of connected overlay clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects all clients and rejects future connections.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for c := range s.clients {
		delete(s.clients, c)
		c.kick()
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams caption events
// as JSON text messages until the client disconnects or the server closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Overlay clients are local tools (OBS, a desktop overlay), not
		// browsers on foreign origins.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("overlay websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "server closed")

	c := &client{
		events: make(chan pipeline.CaptionEvent, clientBuffer),
		kicked: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	backlog := make([]pipeline.CaptionEvent, len(s.recent))
	copy(backlog, s.recent)
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		c.kick()
	}()

	s.log.Info("overlay client connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Clients only listen; a read loop is still needed to notice closure.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for _, ev := range backlog {
		if err := writeEvent(ctx, conn, ev); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.kicked:
			conn.Close(websocket.StatusPolicyViolation, "client too slow")
			return
		case ev := <-c.events:
			if err := writeEvent(ctx, conn, ev); err != nil {
				s.log.Debug("overlay client write failed", "error", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev pipeline.CaptionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
