package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/charlieegan3/social-relay/internal/apperr"
	"github.com/charlieegan3/social-relay/internal/auth"
	"github.com/charlieegan3/social-relay/internal/types"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer. JSON may escape each content
	// byte to six, and Relay.Send enforces the content length itself.
	maxFrameSize = 6*MaxContentLength + 512
)

// Event types exchanged over a socket
const (
	EventSendMessage    = "sendMessage"
	EventReceiveMessage = "receiveMessage"
	EventMessageSent    = "messageSent"
	EventError          = "error"
)

// Incoming is an event sent by a client.
type Incoming struct {
	Type     string `json:"type"`
	Receiver string `json:"receiver"`
	Message  string `json:"message"`
}

// Outgoing is an event sent to a client.
type Outgoing struct {
	Type    string         `json:"type"`
	Message *types.Message `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Kind    apperr.Kind    `json:"kind,omitempty"`
}

// Client is a websocket connection bound to a verified identity. It is the
// Channel the registry forwards to.
type Client struct {
	id       string
	identity auth.Identity
	conn     *websocket.Conn
	relay    *Relay

	send      chan Outgoing
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps an upgraded connection. buffer bounds the number of
// events queued for writing.
func NewClient(conn *websocket.Conn, identity auth.Identity, relay *Relay, buffer int) *Client {
	return &Client{
		id:       uuid.NewString(),
		identity: identity,
		conn:     conn,
		relay:    relay,
		send:     make(chan Outgoing, buffer),
		done:     make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Deliver queues a receiveMessage event.
func (c *Client) Deliver(msg types.Message) bool {
	return c.enqueue(Outgoing{Type: EventReceiveMessage, Message: &msg})
}

func (c *Client) enqueue(ev Outgoing) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Serve binds the client in the registry and pumps events until the
// connection drops, then unbinds it. It blocks for the life of the
// connection.
func (c *Client) Serve() {
	registry := c.relay.Registry()
	registry.Bind(c.identity.UserID, c)

	logrus.WithFields(logrus.Fields{
		"function": "Serve",
		"user":     c.identity.UserID,
		"client":   c.id,
	}).Info("Client connected")

	go c.writePump()
	c.readPump()

	registry.Unbind(c.identity.UserID, c)
	c.close()

	logrus.WithFields(logrus.Fields{
		"function": "Serve",
		"user":     c.identity.UserID,
		"client":   c.id,
	}).Info("Client disconnected")
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// readPump handles events from the connection in the order they arrive
func (c *Client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithFields(logrus.Fields{
					"function": "readPump",
					"client":   c.id,
					"error":    err,
				}).Warn("WebSocket read error")
			}
			return
		}

		var ev Incoming
		if err := json.Unmarshal(data, &ev); err != nil {
			c.enqueue(errorEvent(apperr.Invalid("malformed event")))
			continue
		}

		c.handle(ev)
	}
}

func (c *Client) handle(ev Incoming) {
	switch ev.Type {
	case EventSendMessage:
		// the sender is always the verified identity of this connection
		msg, err := c.relay.Send(context.Background(), c.identity.UserID, ev.Receiver, ev.Message)
		if err != nil {
			c.enqueue(errorEvent(err))
			return
		}
		c.enqueue(Outgoing{Type: EventMessageSent, Message: &msg})

	default:
		c.enqueue(errorEvent(apperr.Invalid("unknown event type %q", ev.Type)))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "writePump",
					"client":   c.id,
					"error":    err,
				}).Warn("Failed to write event")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func errorEvent(err error) Outgoing {
	return Outgoing{
		Type:  EventError,
		Error: apperr.Message(err),
		Kind:  apperr.KindOf(err),
	}
}
