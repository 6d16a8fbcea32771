package models

import "time"

// Room is a chat channel with an explicit membership list.
// Name is nil for direct rooms; clients resolve a display name from the
// other member. UpdatedAt is bumped on every new message and orders the
// room list.
type Room struct {
	ID        int64     `json:"id"`
	Name      *string   `json:"name"`
	IsGroup   bool      `json:"isGroup"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Member is a user's membership entry within a room.
type Member struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

// RoomSummary is a room as returned by the room list and pushed to newly
// admitted members: the room plus the caller-specific read state, the
// member list and the most recent message.
type RoomSummary struct {
	Room
	LastReadAt  *time.Time `json:"lastReadAt"`
	UnreadCount int        `json:"unreadCount"`
	Members     []Member   `json:"members"`
	LastMessage *Message   `json:"lastMessage,omitempty"`
}
