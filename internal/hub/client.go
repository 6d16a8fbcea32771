package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	opTimeout = 5 * time.Second
)

// Client is one authenticated websocket connection. Identity and the
// initial room set are bound before registration; a connection that never
// authenticates never reaches the hub.
type Client struct {
	id       uuid.UUID
	userID   int64
	username string

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger zerolog.Logger

	// Rooms resolved at session bind time, subscribed on registration.
	initialRooms []int64

	mu     sync.Mutex
	closed bool
}

// enqueue hands a frame to the client's write pump without blocking.
// Returns false if the client is gone or its buffer is full.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeSend shuts the send channel exactly once. Called only by the hub.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) sendError(message string) {
	c.enqueue(mustEncode(EventError, ErrorPayload{Message: message}))
}

// readPump reads events off the connection until it drops. On exit the
// client is unconditionally unregistered so no stale subscription remains.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("invalid event")
			continue
		}
		c.dispatch(&env)
	}
}

func (c *Client) dispatch(env *Envelope) {
	switch env.Event {
	case EventJoinRoom:
		var p RoomPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == 0 {
			c.sendError("invalid room")
			return
		}
		c.hub.Join(c, p.RoomID)

	case EventLeaveRoom:
		var p RoomPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == 0 {
			c.sendError("invalid room")
			return
		}
		c.hub.Leave(c, p.RoomID)

	case EventSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == 0 || p.MessageID == 0 {
			c.sendError("Invalid message data")
			return
		}
		c.handleSendMessage(&p)

	default:
		c.sendError("unknown event: " + env.Event)
	}
}

// handleSendMessage validates and broadcasts an already-persisted message.
// Membership is re-checked against the store here: it can change while the
// connection is up, and the check must be fresh at publish time.
func (c *Client) handleSendMessage(p *SendMessagePayload) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// The sender may be logically joined but not yet socket-subscribed
	// (e.g. it was invited after connecting and raced the admit). Joining
	// is idempotent, so always subscribe before publishing.
	c.hub.Join(c, p.RoomID)

	member, err := c.hub.store.IsMember(ctx, p.RoomID, c.userID)
	if err != nil {
		c.logger.Error().Err(err).Int64("room_id", p.RoomID).Msg("membership check failed")
		c.sendError("Failed to send message")
		return
	}
	if !member {
		c.sendError("Access denied to this room")
		return
	}

	msg, err := c.hub.store.GetMessage(ctx, p.MessageID)
	if err != nil {
		c.logger.Error().Err(err).Int64("message_id", p.MessageID).Msg("message hydration failed")
		c.sendError("Failed to send message")
		return
	}
	if msg == nil || msg.RoomID != p.RoomID {
		// The caller claims to have persisted this id; a missing row is a
		// bug signal, fatal to this publish only.
		c.logger.Error().
			Int64("message_id", p.MessageID).
			Int64("room_id", p.RoomID).
			Msg("publish for unknown message id")
		c.sendError("Message not found")
		return
	}

	c.hub.BroadcastMessage(p.RoomID, msg)
}

// writePump serializes all frames to the connection and keeps it alive
// with pings. One writer per connection; ordering is the channel order.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
