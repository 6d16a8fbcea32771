package hub

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/r11922135/chat/internal/metrics"
	"github.com/r11922135/chat/internal/models"
	"github.com/r11922135/chat/internal/store"
)

type subscription struct {
	client *Client
	roomID int64
}

type broadcast struct {
	roomID int64
	frame  []byte
}

type admission struct {
	roomID  int64
	userIDs map[int64]struct{}
	frame   []byte
}

// Hub is the room broadcast router. It owns the bidirectional mapping of
// rooms to connections; all map mutations happen synchronously inside Run,
// so no operation can observe a half-updated fan-out set.
//
// Membership validation for publishes happens in the sender's goroutine
// (Client.handleSendMessage) before the broadcast is posted here: the hub
// loop itself never touches the store.
type Hub struct {
	store  store.DataStore
	logger zerolog.Logger

	register   chan *Client
	unregister chan *Client
	joins      chan subscription
	leaves     chan subscription
	broadcasts chan broadcast
	admissions chan admission

	rooms   map[int64]map[*Client]struct{}
	clients map[*Client]map[int64]struct{}
}

// New creates a hub. Construct one at process start and pass it to every
// component that publishes or admits connections.
func New(dataStore store.DataStore, logger zerolog.Logger) *Hub {
	return &Hub{
		store:      dataStore,
		logger:     logger.With().Str("component", "hub").Logger(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		joins:      make(chan subscription),
		leaves:     make(chan subscription),
		broadcasts: make(chan broadcast, 64),
		admissions: make(chan admission, 16),
		rooms:      make(map[int64]map[*Client]struct{}),
		clients:    make(map[*Client]map[int64]struct{}),
	}
}

// Run processes hub commands until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case sub := <-h.joins:
			h.subscribe(sub.client, sub.roomID)

		case sub := <-h.leaves:
			h.unsubscribe(sub.client, sub.roomID)

		case b := <-h.broadcasts:
			h.fanOut(b.roomID, b.frame)

		case a := <-h.admissions:
			h.admit(a)
		}
	}
}

// Join idempotently subscribes the connection to the room's fan-out set.
// Membership was validated when the session was bound or when the room was
// created; it is not re-checked here.
func (h *Hub) Join(c *Client, roomID int64) {
	h.joins <- subscription{client: c, roomID: roomID}
}

// Leave idempotently removes the connection from the room's fan-out set.
func (h *Hub) Leave(c *Client, roomID int64) {
	h.leaves <- subscription{client: c, roomID: roomID}
}

// BroadcastMessage fans a hydrated message out to every connection
// currently subscribed to the room, including the sender.
func (h *Hub) BroadcastMessage(roomID int64, msg *models.Message) {
	frame, err := encodeMessage(msg)
	if err != nil {
		h.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("failed to encode broadcast")
		return
	}
	h.broadcasts <- broadcast{roomID: roomID, frame: frame}
}

// Admit subscribes every currently-connected session belonging to one of
// the given users to the room and pushes the room summary, so online users
// see rooms created out-of-band without reconnecting.
func (h *Hub) Admit(roomID int64, userIDs []int64, summary *models.RoomSummary) {
	frame, err := encode(EventNewRoomCreated, summary)
	if err != nil {
		h.logger.Error().Err(err).Int64("room_id", roomID).Msg("failed to encode room summary")
		return
	}

	ids := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		ids[id] = struct{}{}
	}
	h.admissions <- admission{roomID: roomID, userIDs: ids, frame: frame}
}

func (h *Hub) addClient(c *Client) {
	h.clients[c] = make(map[int64]struct{})
	for _, roomID := range c.initialRooms {
		h.subscribe(c, roomID)
	}
	c.enqueue(mustEncode(EventAutoJoinedRooms, AutoJoinedRoomsPayload{RoomIDs: c.initialRooms}))

	metrics.WSConnections.Inc()
	h.logger.Info().
		Str("conn_id", c.id.String()).
		Int64("user_id", c.userID).
		Int("rooms", len(c.initialRooms)).
		Msg("client connected")
}

// removeClient drops the connection from every room it is subscribed to.
// Removal is unconditional: a disconnect must never leave a stale
// subscription behind.
func (h *Hub) removeClient(c *Client) {
	roomSet, ok := h.clients[c]
	if !ok {
		return
	}
	for roomID := range roomSet {
		delete(h.rooms[roomID], c)
		if len(h.rooms[roomID]) == 0 {
			delete(h.rooms, roomID)
		}
	}
	delete(h.clients, c)
	c.closeSend()

	metrics.WSConnections.Dec()
	h.logger.Info().
		Str("conn_id", c.id.String()).
		Int64("user_id", c.userID).
		Msg("client disconnected")
}

func (h *Hub) subscribe(c *Client, roomID int64) {
	roomSet, ok := h.clients[c]
	if !ok {
		return // never registered or already gone
	}
	roomSet[roomID] = struct{}{}

	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, roomID int64) {
	if roomSet, ok := h.clients[c]; ok {
		delete(roomSet, roomID)
	}
	delete(h.rooms[roomID], c)
	if len(h.rooms[roomID]) == 0 {
		delete(h.rooms, roomID)
	}
}

func (h *Hub) fanOut(roomID int64, frame []byte) {
	subscribers := h.rooms[roomID]
	for c := range subscribers {
		if !c.enqueue(frame) {
			// Send buffer full: the client is too slow to keep, drop it.
			h.logger.Warn().
				Str("conn_id", c.id.String()).
				Int64("user_id", c.userID).
				Msg("send buffer full, dropping client")
			h.removeClient(c)
		}
	}
	metrics.BroadcastsTotal.Inc()
}

func (h *Hub) admit(a admission) {
	joined := 0
	for c := range h.clients {
		if _, ok := a.userIDs[c.userID]; !ok {
			continue
		}
		h.subscribe(c, a.roomID)
		c.enqueue(a.frame)
		joined++
	}
	h.logger.Info().
		Int64("room_id", a.roomID).
		Int("online_members", joined).
		Msg("admitted online users to room")
}
