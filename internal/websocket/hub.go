package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Presence receives the session lifecycle hooks.
type Presence interface {
	Register(connID string)
	Bind(connID, username string) bool
	Unregister(connID string) string
	ConnectedCount() int
}

// TokenVerifier resolves a login token to a username.
type TokenVerifier interface {
	VerifyUsername(token string) (string, error)
}

// ServerFrame is every message the server writes to a socket.
type ServerFrame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// ClientFrame is every message a socket may send.
type ClientFrame struct {
	Type  string `json:"type"` // login | subscribe | unsubscribe
	Token string `json:"token,omitempty"`
	Room  string `json:"room,omitempty"`
}

var ErrUnknownConnection = errors.New("connection not registered")

// Hub maintains the set of active clients and the rooms they subscribed to.
type Hub struct {
	// Registered clients by connection id.
	clients map[string]*Client

	// Room name to subscribed clients.
	rooms map[string]map[string]*Client

	// Unregister requests from clients.
	Unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once
	stopped  bool

	upgrader         websocket.Upgrader
	presence         Presence
	verifier         TokenVerifier
	onSessionsChange func(n int)
	logger           *slog.Logger

	// Mutex to protect concurrent access to the clients and rooms maps.
	mu sync.RWMutex
}

type HubOptions struct {
	// OnSessionsChange is called with the connected count after every connect and disconnect.
	OnSessionsChange func(n int)
	Logger           *slog.Logger

	// CheckOrigin vets the Origin of upgrade requests. Nil accepts every origin.
	CheckOrigin func(r *http.Request) bool
}

func NewHub(presence Presence, verifier TokenVerifier, opts HubOptions) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		clients:          make(map[string]*Client),
		rooms:            make(map[string]map[string]*Client),
		Unregister:       make(chan *Client),
		stop:             make(chan struct{}),
		presence:         presence,
		verifier:         verifier,
		onSessionsChange: opts.OnSessionsChange,
		logger:           opts.Logger.With("component", "websocket"),
	}
}

// Run starts the hub's processing loop. It returns after Stop.
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				for room, members := range h.rooms {
					delete(members, client.ID)
					if len(members) == 0 {
						delete(h.rooms, room)
					}
				}
				close(client.Send)
			}
			h.mu.Unlock()
			username := h.presence.Unregister(client.ID)
			h.logger.Debug("client disconnected", "conn", client.ID, "user", username)
			h.sessionsChanged()

		case <-h.stop:
			h.mu.Lock()
			h.stopped = true
			for id, client := range h.clients {
				close(client.Send)
				delete(h.clients, id)
				h.presence.Unregister(id)
			}
			h.rooms = make(map[string]map[string]*Client)
			h.mu.Unlock()
			h.sessionsChanged()
			h.logger.Info("websocket hub stopped")
			return
		}
	}
}

// Stop closes every client and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Attach registers a client so it can be addressed before its pumps start.
func (h *Hub) Attach(client *Client) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return errors.New("hub stopped")
	}
	h.clients[client.ID] = client
	h.mu.Unlock()

	h.presence.Register(client.ID)
	h.logger.Debug("client connected", "conn", client.ID)
	h.sessionsChanged()
	return nil
}

func (h *Hub) detach(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.stop:
	}
}

func (h *Hub) sessionsChanged() {
	if h.onSessionsChange != nil {
		h.onSessionsChange(h.presence.ConnectedCount())
	}
}

func (h *Hub) join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.ID] = c
}

func (h *Hub) leave(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// RoomSize counts the subscribers of a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(ServerFrame{Event: event, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", event, err)
	}
	return data, nil
}

// EmitTo queues one event for a single connection without blocking.
func (h *Hub) EmitTo(connID, event string, payload any) error {
	data, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[connID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	return client.queue(data)
}

// BroadcastRoom queues one event for every subscriber of room. Slow subscribers
// are skipped and reported in the returned error.
func (h *Hub) BroadcastRoom(room, event string, payload any) error {
	data, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[room]
	dropped := 0
	for _, client := range members {
		if err := client.queue(data); err != nil {
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("room %s: %d of %d subscribers dropped %s", room, dropped, len(members), event)
	}
	return nil
}
