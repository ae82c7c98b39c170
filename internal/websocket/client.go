package websocket

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 2048

	sendBufferSize = 256
)

// Event names this package emits itself.
const (
	EventLoggedIn = "loggedIn"
	EventError    = "error"
)

var errSendBufferFull = errors.New("send buffer full")

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	Hub *Hub

	// Connection id, also the presence key.
	ID string

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		Hub:  hub,
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, sendBufferSize),
	}
}

// queue must be called with the hub lock held so Send cannot be closed underneath it.
func (c *Client) queue(data []byte) error {
	select {
	case c.Send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

type errorPayload struct {
	Message string `json:"message"`
}

func (c *Client) reply(event string, payload any) {
	if err := c.Hub.EmitTo(c.ID, event, payload); err != nil {
		c.Hub.logger.Debug("reply dropped", "conn", c.ID, "event", event, "error", err)
	}
}

// Login binds the connection to the username inside token.
func (c *Client) Login(token string) error {
	username, err := c.Hub.verifier.VerifyUsername(token)
	if err != nil {
		return err
	}
	if !c.Hub.presence.Bind(c.ID, username) {
		return ErrUnknownConnection
	}
	c.Hub.logger.Debug("client logged in", "conn", c.ID, "user", username)
	c.reply(EventLoggedIn, map[string]string{"username": username, "connectionId": c.ID})
	return nil
}

func (c *Client) handleFrame(raw []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.reply(EventError, errorPayload{"malformed frame"})
		return
	}

	switch frame.Type {
	case "login":
		if err := c.Login(frame.Token); err != nil {
			c.reply(EventError, errorPayload{"login failed: " + err.Error()})
		}
	case "subscribe":
		if frame.Room == "" {
			c.reply(EventError, errorPayload{"room is required"})
			return
		}
		c.Hub.join(frame.Room, c)
	case "unsubscribe":
		c.Hub.leave(frame.Room, c)
	default:
		c.reply(EventError, errorPayload{"unknown frame type: " + frame.Type})
	}
}

// ReadPump pumps frames from the websocket connection to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.detach(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("websocket read error", "conn", c.ID, "error", err)
			}
			break
		}
		c.handleFrame(message)
	}
}

// WritePump pumps messages from the hub to the websocket connection. Each
// frame goes out as its own text message.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Hub.logger.Warn("websocket write error", "conn", c.ID, "error", err)
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
