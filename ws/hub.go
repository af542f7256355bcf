// server/ws/hub.go
package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

const (
	EventFileChanged    = "file_changed"
	EventFileDeleted    = "file_deleted"
	EventFolderChanged  = "folder_changed"
	EventTodoChanged    = "todo_changed"
	EventHistoryChanged = "history_changed"
	EventInboxChanged   = "inbox_changed"

	// EventPing is the keepalive clients send; it is never broadcast.
	EventPing = "ping"
)

// Event tells a user's other sessions that something changed. Origin is the
// session that caused it so it can skip its own echo.
type Event struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Origin string `json:"origin,omitempty"`
}

// Conn is the part of a websocket connection the hub uses.
type Conn interface {
	WriteJSON(v interface{}) error
	ReadMessage() (int, []byte, error)
	Close() error
}

type client struct {
	userID string
	conn   Conn
}

type envelope struct {
	userID string
	event  Event
}

type Hub struct {
	clients    map[string]map[Conn]bool
	broadcast  chan envelope
	register   chan client
	unregister chan client
	done       chan struct{}
	mu         sync.RWMutex
	log        zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[Conn]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan client),
		unregister: make(chan client, 16),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "ws").Logger(),
	}
}

// Run serves the hub until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, conns := range h.clients {
				for conn := range conns {
					conn.Close()
				}
			}
			h.clients = make(map[string]map[Conn]bool)
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.userID] == nil {
				h.clients[c.userID] = make(map[Conn]bool)
			}
			h.clients[c.userID][c.conn] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			var failed []Conn
			h.mu.RLock()
			for conn := range h.clients[msg.userID] {
				if err := conn.WriteJSON(msg.event); err != nil {
					h.log.Warn().Err(err).Str("user", msg.userID).Msg("websocket write failed")
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range failed {
				h.drop(client{userID: msg.userID, conn: conn})
			}
		}
	}
}

func (h *Hub) drop(c client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.clients[c.userID]
	if _, ok := conns[c.conn]; !ok {
		return
	}
	delete(conns, c.conn)
	if len(conns) == 0 {
		delete(h.clients, c.userID)
	}
	c.conn.Close()
}

// Broadcast queues e for every connection of userID.
// Events sent after the hub stopped are dropped.
func (h *Hub) Broadcast(userID string, e Event) {
	select {
	case h.broadcast <- envelope{userID: userID, event: e}:
	case <-h.done:
	}
}

func (h *Hub) Register(userID string, conn Conn) {
	select {
	case h.register <- client{userID: userID, conn: conn}:
	case <-h.done:
		conn.Close()
	}
}

func (h *Hub) Unregister(userID string, conn Conn) {
	select {
	case h.unregister <- client{userID: userID, conn: conn}:
	case <-h.done:
	}
}

// Connections returns the number of open connections of userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// HandleConnection registers conn and blocks reading from it until it fails.
// Clients only send keepalives; anything else is logged and ignored.
func (h *Hub) HandleConnection(userID string, conn Conn) {
	h.Register(userID, conn)
	defer h.Unregister(userID, conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.log.Debug().Err(err).Msg("unparseable client message")
			continue
		}
		if msg.Type != EventPing {
			h.log.Debug().Str("type", msg.Type).Str("user", userID).Msg("ignoring client message")
		}
	}
}
