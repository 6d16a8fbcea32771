package hub

import (
	"encoding/json"

	"github.com/r11922135/chat/internal/models"
)

// Wire event names, shared with the browser client.
const (
	EventJoinRoom        = "join-room"
	EventLeaveRoom       = "leave-room"
	EventSendMessage     = "send-message"
	EventNewMessage      = "new-message"
	EventAutoJoinedRooms = "auto-joined-rooms"
	EventNewRoomCreated  = "new-room-created"
	EventError           = "error"
)

// Envelope frames every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomPayload carries the room id for join-room and leave-room.
type RoomPayload struct {
	RoomID int64 `json:"roomId"`
}

// SendMessagePayload requests broadcast of an already-persisted message.
// The message id comes from the sender's prior POST; the hub never
// persists.
type SendMessagePayload struct {
	RoomID    int64 `json:"roomId"`
	MessageID int64 `json:"messageId"`
	UserID    int64 `json:"userId"`
}

// AutoJoinedRoomsPayload is pushed once right after a successful handshake.
type AutoJoinedRoomsPayload struct {
	RoomIDs []int64 `json:"roomIds"`
}

// ErrorPayload reports an operation-level failure; the connection stays
// open.
type ErrorPayload struct {
	Message string `json:"message"`
}

// encode marshals an event envelope for the wire.
func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// mustEncode is encode for payload types that cannot fail to marshal.
func mustEncode(event string, data any) []byte {
	frame, err := encode(event, data)
	if err != nil {
		panic(err)
	}
	return frame
}

// encodeMessage frames a hydrated message as a new-message event.
func encodeMessage(msg *models.Message) ([]byte, error) {
	return encode(EventNewMessage, msg)
}
