package store

import (
	"context"
	"errors"

	"github.com/r11922135/chat/internal/models"
)

// ErrDuplicate is returned when a unique constraint is violated
// (username taken, membership already present).
var ErrDuplicate = errors.New("store: duplicate record")

// DataStore defines the interface for durable storage of users, rooms,
// memberships and messages. Both PostgresStore and SQLiteStore implement
// this interface. Not-found lookups return (nil, nil).
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error)

	// Room operations
	CreateRoom(ctx context.Context, name *string, isGroup bool) (*models.Room, error)
	GetRoom(ctx context.Context, id int64) (*models.Room, error)
	FindDirectRoom(ctx context.Context, userA, userB int64) (*models.Room, error)
	TouchRoomActivity(ctx context.Context, id int64) error
	RoomSummary(ctx context.Context, roomID, userID int64) (*models.RoomSummary, error)
	ListUserRooms(ctx context.Context, userID int64) ([]models.RoomSummary, error)

	// Membership operations. Membership existence is the sole authorization
	// check for read/write/broadcast access to a room.
	AddMembers(ctx context.Context, roomID int64, userIDs []int64) ([]int64, error)
	RemoveMember(ctx context.Context, roomID, userID int64) error
	IsMember(ctx context.Context, roomID, userID int64) (bool, error)
	ListRoomMembers(ctx context.Context, roomID int64) ([]models.Member, error)
	ListUserRoomIDs(ctx context.Context, userID int64) ([]int64, error)
	MarkRead(ctx context.Context, roomID, userID int64) error

	// Message operations. InsertMessage assigns the id: a strictly
	// increasing integer that is the ordering key for the whole system.
	InsertMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	ListMessagesBefore(ctx context.Context, roomID, beforeID int64, limit int) ([]models.Message, error)
}
