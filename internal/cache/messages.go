package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/r11922135/chat/internal/metrics"
	"github.com/r11922135/chat/internal/models"
)

// messageTTL bounds how long a message stays cached. The room index shares
// the TTL and has it refreshed on every write, so the index expires as a
// sliding window while value records expire independently.
const messageTTL = 24 * time.Hour

// MessageCache is the write-through pagination cache. Per room it keeps a
// sorted index of message ids (score = id) plus one JSON value record per
// message id. Absence from the index is not proof a message doesn't exist;
// callers fall back to the durable store on any short result.
type MessageCache struct {
	backend *Backend
	logger  zerolog.Logger
}

// NewMessageCache creates a message cache on top of the backend.
func NewMessageCache(backend *Backend, logger zerolog.Logger) *MessageCache {
	return &MessageCache{
		backend: backend,
		logger:  logger.With().Str("component", "message-cache").Logger(),
	}
}

// roomIndexKey returns the key for a room's message id index.
func roomIndexKey(roomID int64) string {
	return fmt.Sprintf("room:%d:msgs", roomID)
}

// messageKey returns the key for a message value record.
func messageKey(msgID int64) string {
	return fmt.Sprintf("msg:%d", msgID)
}

// WriteThrough caches a freshly persisted message. Fire-and-forget: a
// caching failure must never fail or delay the persist/broadcast path, so
// errors are logged and swallowed.
func (c *MessageCache) WriteThrough(ctx context.Context, msg *models.Message) {
	if !c.backend.Available() {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("failed to marshal message for cache")
		return
	}

	pipe := c.backend.Client().Pipeline()
	pipe.Set(ctx, messageKey(msg.ID), data, messageTTL)
	pipe.ZAdd(ctx, roomIndexKey(msg.RoomID), redis.Z{
		Score:  float64(msg.ID),
		Member: strconv.FormatInt(msg.ID, 10),
	})
	pipe.Expire(ctx, roomIndexKey(msg.RoomID), messageTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		c.backend.Fail(err)
		c.logger.Warn().Err(err).Int64("message_id", msg.ID).Msg("failed to cache message")
	}
}

// Latest returns up to limit messages in descending id order from the top
// of the room's index. A nil result is a cache miss (distinct from "zero
// messages exist"); a short result means the caller should consult the
// durable store for the remainder.
func (c *MessageCache) Latest(ctx context.Context, roomID int64, limit int) []models.Message {
	if !c.backend.Available() {
		metrics.CacheMisses.Inc()
		return nil
	}

	ids, err := c.backend.Client().ZRevRange(ctx, roomIndexKey(roomID), 0, int64(limit)-1).Result()
	if err != nil {
		c.backend.Fail(err)
		metrics.CacheMisses.Inc()
		return nil
	}
	if len(ids) == 0 {
		metrics.CacheMisses.Inc()
		return nil
	}

	return c.resolve(ctx, ids)
}

// Before returns up to limit messages with id strictly less than beforeID,
// in descending id order. Same miss and partial-hit semantics as Latest.
func (c *MessageCache) Before(ctx context.Context, roomID, beforeID int64, limit int) []models.Message {
	if !c.backend.Available() {
		metrics.CacheMisses.Inc()
		return nil
	}

	ids, err := c.backend.Client().ZRevRangeByScore(ctx, roomIndexKey(roomID), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("(%d", beforeID), // exclusive
		Count: int64(limit),
	}).Result()
	if err != nil {
		c.backend.Fail(err)
		metrics.CacheMisses.Inc()
		return nil
	}
	if len(ids) == 0 {
		metrics.CacheMisses.Inc()
		return nil
	}

	return c.resolve(ctx, ids)
}

// resolve maps indexed ids to their value records. Ids whose value record
// has independently expired are skipped silently; corrupt records are
// logged and skipped, and the page is assembled from the rest.
func (c *MessageCache) resolve(ctx context.Context, ids []string) []models.Message {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = "msg:" + id
	}

	values, err := c.backend.Client().MGet(ctx, keys...).Result()
	if err != nil {
		c.backend.Fail(err)
		metrics.CacheMisses.Inc()
		return nil
	}

	messages := make([]models.Message, 0, len(values))
	for i, value := range values {
		if value == nil {
			continue // value record expired ahead of the index
		}
		data, ok := value.(string)
		if !ok {
			continue
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			c.logger.Error().Err(err).Str("message_id", ids[i]).Msg("corrupt cached message, skipping")
			continue
		}
		messages = append(messages, msg)
	}

	metrics.CacheHits.Inc()
	return messages
}

// Backfill writes a batch fetched from the durable store through to the
// cache and refreshes the index expiration. Idempotent: re-caching an id
// is a harmless overwrite, so backfill may race with concurrent
// WriteThrough calls for newly created messages.
func (c *MessageCache) Backfill(ctx context.Context, roomID int64, messages []models.Message) {
	if !c.backend.Available() || len(messages) == 0 {
		return
	}

	entries := make([]redis.Z, 0, len(messages))
	pipe := c.backend.Client().Pipeline()
	for i := range messages {
		msg := &messages[i]
		data, err := json.Marshal(msg)
		if err != nil {
			c.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("failed to marshal message for backfill")
			continue
		}
		pipe.Set(ctx, messageKey(msg.ID), data, messageTTL)
		entries = append(entries, redis.Z{
			Score:  float64(msg.ID),
			Member: strconv.FormatInt(msg.ID, 10),
		})
	}
	if len(entries) == 0 {
		return
	}
	key := roomIndexKey(roomID)
	pipe.ZAdd(ctx, key, entries...)
	pipe.Expire(ctx, key, messageTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		c.backend.Fail(err)
		c.logger.Warn().Err(err).Int64("room_id", roomID).Msg("failed to backfill cache")
		return
	}

	metrics.CacheBackfills.Inc()
}
