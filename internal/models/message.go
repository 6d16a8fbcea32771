package models

import (
	"encoding/json"
	"time"
)

// MessageKind distinguishes user-authored messages from system-generated ones.
type MessageKind string

const (
	KindUser   MessageKind = "user"
	KindSystem MessageKind = "system"
)

// System event types carried in SystemData.
const (
	SystemUserJoined = "user_joined"
	SystemUserLeft   = "user_left"
)

// Message is a chat message. IDs are assigned by the durable store on insert
// and are strictly increasing within a room; id order equals creation order.
type Message struct {
	ID         int64           `json:"id"`
	RoomID     int64           `json:"roomId"`
	UserID     *int64          `json:"userId"` // nil for system messages
	Content    string          `json:"content"`
	Kind       MessageKind     `json:"type"`
	SystemData json.RawMessage `json:"systemData,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`

	// Hydrated summaries, present on API responses and broadcasts.
	Author *UserRef `json:"user,omitempty"`
	Room   *RoomRef `json:"room,omitempty"`
}

// UserRef is the author summary attached to hydrated messages.
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// RoomRef is the room summary attached to hydrated messages.
type RoomRef struct {
	ID   int64   `json:"id"`
	Name *string `json:"name"`
}
