package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/r11922135/chat/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash)
		VALUES ($1, $2)
		RETURNING id, username, password_hash, created_at
	`, username, passwordHash).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users WHERE id = $1
	`, id).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users WHERE username = $1
	`, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// SearchUsers finds users whose username contains the query string.
func (s *PostgresStore) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username ILIKE '%' || $1 || '%'
		ORDER BY username
		LIMIT $2
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
func (s *PostgresStore) CreateRoom(ctx context.Context, name *string, isGroup bool) (*models.Room, error) {
	room := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rooms (name, is_group)
		VALUES ($1, $2)
		RETURNING id, name, is_group, created_at, updated_at
	`, name, isGroup).Scan(
		&room.ID,
		&room.Name,
		&room.IsGroup,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *PostgresStore) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	room := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, is_group, created_at, updated_at
		FROM rooms WHERE id = $1
	`, id).Scan(
		&room.ID,
		&room.Name,
		&room.IsGroup,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// FindDirectRoom finds an existing one-to-one room shared by both users.
func (s *PostgresStore) FindDirectRoom(ctx context.Context, userA, userB int64) (*models.Room, error) {
	room := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		SELECT r.id, r.name, r.is_group, r.created_at, r.updated_at
		FROM rooms r
		JOIN room_users ru1 ON r.id = ru1.room_id AND ru1.user_id = $1
		JOIN room_users ru2 ON r.id = ru2.room_id AND ru2.user_id = $2
		WHERE r.is_group = FALSE
		LIMIT 1
	`, userA, userB).Scan(
		&room.ID,
		&room.Name,
		&room.IsGroup,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// TouchRoomActivity updates the room's updated_at timestamp, which orders
// the room list.
func (s *PostgresStore) TouchRoomActivity(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rooms SET updated_at = NOW() WHERE id = $1
	`, id)
	return err
}

// AddMembers adds users to a room, skipping memberships that already exist.
// Returns the ids of the users actually added.
func (s *PostgresStore) AddMembers(ctx context.Context, roomID int64, userIDs []int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		INSERT INTO room_users (room_id, user_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT (room_id, user_id) DO NOTHING
		RETURNING user_id
	`, roomID, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var added []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		added = append(added, id)
	}
	return added, rows.Err()
}

// RemoveMember deletes a user's membership in a room.
func (s *PostgresStore) RemoveMember(ctx context.Context, roomID, userID int64) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM room_users WHERE room_id = $1 AND user_id = $2
	`, roomID, userID)
	return err
}

// IsMember reports whether the user belongs to the room.
func (s *PostgresStore) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM room_users WHERE room_id = $1 AND user_id = $2
		)
	`, roomID, userID).Scan(&exists)
	return exists, err
}

// ListRoomMembers returns the room's members ordered by join time.
func (s *PostgresStore) ListRoomMembers(ctx context.Context, roomID int64) ([]models.Member, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT u.id, u.username, ru.created_at
		FROM users u
		JOIN room_users ru ON u.id = ru.user_id
		WHERE ru.room_id = $1
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
func (s *PostgresStore) ListUserRoomIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT room_id FROM room_users WHERE user_id = $1
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
func (s *PostgresStore) MarkRead(ctx context.Context, roomID, userID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE room_users SET last_read_at = NOW()
		WHERE room_id = $1 AND user_id = $2
	`, roomID, userID)
	return err
}

// RoomSummary returns the room with the caller's read state, member list
// and most recent message.
func (s *PostgresStore) RoomSummary(ctx context.Context, roomID, userID int64) (*models.RoomSummary, error) {
	summary := &models.RoomSummary{}
	err := s.pool.QueryRow(ctx, `
		SELECT r.id, r.name, r.is_group, r.created_at, r.updated_at,
		       ru.last_read_at,
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.room_id = r.id
		          AND m.created_at > COALESCE(ru.last_read_at, 'epoch'::timestamptz))
		FROM rooms r
		JOIN room_users ru ON r.id = ru.room_id AND ru.user_id = $2
		WHERE r.id = $1
	`, roomID, userID).Scan(
		&summary.ID,
		&summary.Name,
		&summary.IsGroup,
		&summary.CreatedAt,
		&summary.UpdatedAt,
		&summary.LastReadAt,
		&summary.UnreadCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
func (s *PostgresStore) ListUserRooms(ctx context.Context, userID int64) ([]models.RoomSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.name, r.is_group, r.created_at, r.updated_at,
		       ru.last_read_at,
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.room_id = r.id
		          AND m.created_at > COALESCE(ru.last_read_at, 'epoch'::timestamptz))
		FROM rooms r
		JOIN room_users ru ON r.id = ru.room_id
		WHERE ru.user_id = $1
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

func (s *PostgresStore) fillSummary(ctx context.Context, summary *models.RoomSummary) error {
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
// The id is a strictly increasing integer; it is the single ordering key
// for pagination and delivery.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO messages (room_id, user_id, content, kind, system_data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, msg.RoomID, msg.UserID, msg.Content, msg.Kind, msg.SystemData).Scan(
		&msg.ID,
		&msg.CreatedAt,
	)
}

const hydratedMessageColumns = `
	m.id, m.room_id, m.user_id, m.content, m.kind, m.system_data, m.created_at,
	u.id, u.username, r.id, r.name
`

func scanHydratedMessage(row pgx.Row) (*models.Message, error) {
	msg := &models.Message{}
	var (
		authorID   *int64
		authorName *string
		roomID     int64
		roomName   *string
	)
	err := row.Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.UserID,
		&msg.Content,
		&msg.Kind,
		&msg.SystemData,
		&msg.CreatedAt,
		&authorID,
		&authorName,
		&roomID,
		&roomName,
	)
	if err != nil {
		return nil, err
	}
	if authorID != nil && authorName != nil {
		msg.Author = &models.UserRef{ID: *authorID, Username: *authorName}
	}
	msg.Room = &models.RoomRef{ID: roomID, Name: roomName}
	return msg, nil
}

// GetMessage retrieves a message by id, hydrated with author and room
// summaries.
func (s *PostgresStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+hydratedMessageColumns+`
		FROM messages m
		LEFT JOIN users u ON m.user_id = u.id
		JOIN rooms r ON m.room_id = r.id
		WHERE m.id = $1
	`, id)

	msg, err := scanHydratedMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// ListMessagesBefore returns up to limit hydrated messages in descending id
// order. A beforeID of 0 means no upper bound (latest messages); otherwise
// only messages with id strictly less than beforeID are returned.
func (s *PostgresStore) ListMessagesBefore(ctx context.Context, roomID, beforeID int64, limit int) ([]models.Message, error) {
	query := `
		SELECT ` + hydratedMessageColumns + `
		FROM messages m
		LEFT JOIN users u ON m.user_id = u.id
		JOIN rooms r ON m.room_id = r.id
		WHERE m.room_id = $1
	`
	args := []any{roomID}
	if beforeID > 0 {
		query += ` AND m.id < $2 ORDER BY m.id DESC LIMIT $3`
		args = append(args, beforeID, limit)
	} else {
		query += ` ORDER BY m.id DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanHydratedMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}
