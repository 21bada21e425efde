// Package events fans generation progress out to websocket subscribers.
package events

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"storyreel/internal/domain"
	"storyreel/internal/infra"
)

const writeWait = 5 * time.Second

// Conn is the subset of *websocket.Conn the hub writes to.
type Conn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type subscriber struct {
	mu   sync.Mutex
	conn Conn
}

func (s *subscriber) send(event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(event)
}

// Hub keeps the set of live subscribers. Delivery is best-effort: a
// subscriber whose write fails is dropped.
type Hub struct {
	mu       sync.Mutex
	subs     map[*subscriber]struct{}
	upgrader websocket.Upgrader
	logger   infra.Logger
}

func NewHub(logger *infra.Logger) *Hub {
	return &Hub{
		subs: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: infra.LoggerOrNop(logger),
	}
}

// Subscribe registers conn and returns a function that removes it.
func (h *Hub) Subscribe(conn Conn) func() {
	sub := &subscriber{conn: conn}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return func() { h.drop(sub) }
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast writes event to every subscriber and prunes the ones that fail.
func (h *Hub) Broadcast(ctx context.Context, event domain.Event) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		if err := s.send(event); err != nil {
			h.logger.Debug().Err(err).Interface("type", event["type"]).Msg("events: dropping subscriber")
			h.drop(s)
		}
	}
}

func (h *Hub) drop(s *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	h.mu.Unlock()
	if ok {
		_ = s.conn.Close()
	}
}

// ServeHTTP upgrades the request to a websocket and keeps it subscribed until
// the client goes away. Inbound messages are read and discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("events: websocket upgrade failed")
		return
	}
	unsubscribe := h.Subscribe(conn)
	defer unsubscribe()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

var _ domain.Broadcaster = (*Hub)(nil)
