package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/r11922135/chat/internal/models"
)

// SQLiteStore handles SQLite database operations for single-node and
// development deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT,
		is_group INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS room_users (
		room_id INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_read_at DATETIME,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
		content TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'user',
		system_data TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room_id ON messages(room_id, id DESC);
	CREATE INDEX IF NOT EXISTS idx_room_users_user ON room_users(user_id);
	CREATE INDEX IF NOT EXISTS idx_rooms_updated_at ON rooms(updated_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash) VALUES (?, ?)
	`, username, passwordHash)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM users WHERE id = ?
	`, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM users WHERE username = ?
	`, username))
}

// SearchUsers finds users whose username contains the query string.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username LIKE '%' || ? || '%'
		ORDER BY username
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// CreateRoom creates a new room.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name *string, isGroup bool) (*models.Room, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (name, is_group) VALUES (?, ?)
	`, name, isGroup)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, id)
}

func (s *SQLiteStore) scanRoom(row *sql.Row) (*models.Room, error) {
	room := &models.Room{}
	err := row.Scan(&room.ID, &room.Name, &room.IsGroup, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	return s.scanRoom(s.db.QueryRowContext(ctx, `
		SELECT id, name, is_group, created_at, updated_at FROM rooms WHERE id = ?
	`, id))
}

// FindDirectRoom finds an existing one-to-one room shared by both users.
func (s *SQLiteStore) FindDirectRoom(ctx context.Context, userA, userB int64) (*models.Room, error) {
	return s.scanRoom(s.db.QueryRowContext(ctx, `
		SELECT r.id, r.name, r.is_group, r.created_at, r.updated_at
		FROM rooms r
		JOIN room_users ru1 ON r.id = ru1.room_id AND ru1.user_id = ?
		JOIN room_users ru2 ON r.id = ru2.room_id AND ru2.user_id = ?
		WHERE r.is_group = 0
		LIMIT 1
	`, userA, userB))
}

// TouchRoomActivity updates the room's updated_at timestamp.
func (s *SQLiteStore) TouchRoomActivity(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, id)
	return err
}

// AddMembers adds users to a room, skipping memberships that already exist.
// Returns the ids of the users actually added.
func (s *SQLiteStore) AddMembers(ctx context.Context, roomID int64, userIDs []int64) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var added []int64
	for _, userID := range userIDs {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO room_users (room_id, user_id) VALUES (?, ?)
		`, roomID, userID)
		if err != nil {
			return nil, err
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			added = append(added, userID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return added, nil
}

// RemoveMember deletes a user's membership in a room.
func (s *SQLiteStore) RemoveMember(ctx context.Context, roomID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM room_users WHERE room_id = ? AND user_id = ?
	`, roomID, userID)
	return err
}

// IsMember reports whether the user belongs to the room.
func (s *SQLiteStore) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM room_users WHERE room_id = ? AND user_id = ?
		)
	`, roomID, userID).Scan(&exists)
	return exists, err
}

// ListRoomMembers returns the room's members ordered by join time.
func (s *SQLiteStore) ListRoomMembers(ctx context.Context, roomID int64) ([]models.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, ru.created_at
		FROM users u
		JOIN room_users ru ON u.id = ru.user_id
		WHERE ru.room_id = ?
		ORDER BY ru.created_at ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.ID, &m.Username, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListUserRoomIDs returns the ids of all rooms the user belongs to.
func (s *SQLiteStore) ListUserRoomIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id FROM room_users WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkRead sets the user's last-read marker for the room to now.
func (s *SQLiteStore) MarkRead(ctx context.Context, roomID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE room_users SET last_read_at = CURRENT_TIMESTAMP
		WHERE room_id = ? AND user_id = ?
	`, roomID, userID)
	return err
}

// RoomSummary returns the room with the caller's read state, member list
// and most recent message.
func (s *SQLiteStore) RoomSummary(ctx context.Context, roomID, userID int64) (*models.RoomSummary, error) {
	summary := &models.RoomSummary{}
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.name, r.is_group, r.created_at, r.updated_at,
		       ru.last_read_at,
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.room_id = r.id
		          AND m.created_at > COALESCE(ru.last_read_at, '1970-01-01'))
		FROM rooms r
		JOIN room_users ru ON r.id = ru.room_id AND ru.user_id = ?
		WHERE r.id = ?
	`, userID, roomID).Scan(
		&summary.ID,
		&summary.Name,
		&summary.IsGroup,
		&summary.CreatedAt,
		&summary.UpdatedAt,
		&summary.LastReadAt,
		&summary.UnreadCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := s.fillSummary(ctx, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// ListUserRooms returns summaries for every room the user belongs to,
// most recently active first.
func (s *SQLiteStore) ListUserRooms(ctx context.Context, userID int64) ([]models.RoomSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.is_group, r.created_at, r.updated_at,
		       ru.last_read_at,
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.room_id = r.id
		          AND m.created_at > COALESCE(ru.last_read_at, '1970-01-01'))
		FROM rooms r
		JOIN room_users ru ON r.id = ru.room_id
		WHERE ru.user_id = ?
		ORDER BY r.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.RoomSummary
	for rows.Next() {
		var summary models.RoomSummary
		err := rows.Scan(
			&summary.ID,
			&summary.Name,
			&summary.IsGroup,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&summary.LastReadAt,
			&summary.UnreadCount,
		)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range summaries {
		if err := s.fillSummary(ctx, &summaries[i]); err != nil {
			return nil, err
		}
	}
	return summaries, nil
}

func (s *SQLiteStore) fillSummary(ctx context.Context, summary *models.RoomSummary) error {
	members, err := s.ListRoomMembers(ctx, summary.ID)
	if err != nil {
		return err
	}
	summary.Members = members

	latest, err := s.ListMessagesBefore(ctx, summary.ID, 0, 1)
	if err != nil {
		return err
	}
	if len(latest) > 0 {
		summary.LastMessage = &latest[0]
	}
	return nil
}

// InsertMessage persists a message and assigns its id and creation time.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	var systemData any
	if msg.SystemData != nil {
		systemData = string(msg.SystemData)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (room_id, user_id, content, kind, system_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.RoomID, msg.UserID, msg.Content, msg.Kind, systemData, now)
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	msg.ID = id
	msg.CreatedAt = now
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var (
		systemData sql.NullString
		authorID   sql.NullInt64
		authorName sql.NullString
		roomID     int64
		roomName   *string
	)
	err := row.Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.UserID,
		&msg.Content,
		&msg.Kind,
		&systemData,
		&msg.CreatedAt,
		&authorID,
		&authorName,
		&roomID,
		&roomName,
	)
	if err != nil {
		return nil, err
	}
	if systemData.Valid {
		msg.SystemData = []byte(systemData.String)
	}
	if authorID.Valid && authorName.Valid {
		msg.Author = &models.UserRef{ID: authorID.Int64, Username: authorName.String}
	}
	msg.Room = &models.RoomRef{ID: roomID, Name: roomName}
	return msg, nil
}

const sqliteMessageColumns = `
	m.id, m.room_id, m.user_id, m.content, m.kind, m.system_data, m.created_at,
	u.id, u.username, r.id, r.name
`

// GetMessage retrieves a message by id, hydrated with author and room
// summaries.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteMessageColumns+`
		FROM messages m
		LEFT JOIN users u ON m.user_id = u.id
		JOIN rooms r ON m.room_id = r.id
		WHERE m.id = ?
	`, id)

	msg, err := scanSQLiteMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// ListMessagesBefore returns up to limit hydrated messages in descending id
// order. A beforeID of 0 means no upper bound.
func (s *SQLiteStore) ListMessagesBefore(ctx context.Context, roomID, beforeID int64, limit int) ([]models.Message, error) {
	query := `
		SELECT ` + sqliteMessageColumns + `
		FROM messages m
		LEFT JOIN users u ON m.user_id = u.id
		JOIN rooms r ON m.room_id = r.id
		WHERE m.room_id = ?
	`
	args := []any{roomID}
	if beforeID > 0 {
		query += ` AND m.id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY m.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}
