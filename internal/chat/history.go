package chat

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/r11922135/chat/internal/models"
)

const (
	// PageLimit is the fixed page size for history reads.
	PageLimit = 15

	// backfillFetchFactor over-fetches from the store on a cache miss so
	// the backfill amortizes the next page's read.
	backfillFetchFactor = 15
)

// Cache is the slice of the message cache the resolver depends on.
// A nil/short result signals a miss or partial hit, never an error.
type Cache interface {
	Latest(ctx context.Context, roomID int64, limit int) []models.Message
	Before(ctx context.Context, roomID, beforeID int64, limit int) []models.Message
	Backfill(ctx context.Context, roomID int64, messages []models.Message)
}

// Store is the slice of the durable store the resolver depends on.
type Store interface {
	ListMessagesBefore(ctx context.Context, roomID, beforeID int64, limit int) ([]models.Message, error)
}

// Page is one page of history, newest first.
type Page struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

// History resolves paginated history reads: cache first, durable store for
// the remainder, backfilling the cache along the way. It owns no state.
type History struct {
	store  Store
	cache  Cache
	logger zerolog.Logger
}

// NewHistory creates a pagination resolver.
func NewHistory(store Store, cache Cache, logger zerolog.Logger) *History {
	return &History{
		store:  store,
		cache:  cache,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// Latest returns the newest page for the room.
func (h *History) Latest(ctx context.Context, roomID int64) (*Page, error) {
	return h.page(ctx, roomID, 0)
}

// Before returns the page of messages with id strictly less than beforeID.
func (h *History) Before(ctx context.Context, roomID, beforeID int64) (*Page, error) {
	return h.page(ctx, roomID, beforeID)
}

func (h *History) page(ctx context.Context, roomID, beforeID int64) (*Page, error) {
	var cached []models.Message
	if beforeID > 0 {
		cached = h.cache.Before(ctx, roomID, beforeID, PageLimit)
	} else {
		cached = h.cache.Latest(ctx, roomID, PageLimit)
	}

	if len(cached) == PageLimit {
		return &Page{Messages: cached, HasMore: true}, nil
	}

	// Short page: consult the store from just below what the cache already
	// produced, so the seam has neither a gap nor a duplicate.
	boundary := beforeID
	if len(cached) > 0 {
		minCachedID := cached[len(cached)-1].ID
		if boundary == 0 || minCachedID < boundary {
			boundary = minCachedID
		}
	}

	h.logger.Debug().
		Int64("room_id", roomID).
		Int64("before_id", beforeID).
		Int("cached", len(cached)).
		Msg("cache short, falling back to store")

	fetched, err := h.store.ListMessagesBefore(ctx, roomID, boundary, PageLimit*backfillFetchFactor)
	if err != nil {
		return nil, err
	}
	if len(fetched) > 0 {
		h.cache.Backfill(ctx, roomID, fetched)
	}

	messages := append(cached, fetched...)
	if len(messages) > PageLimit {
		messages = messages[:PageLimit]
	}
	if messages == nil {
		messages = []models.Message{}
	}

	return &Page{Messages: messages, HasMore: len(messages) == PageLimit}, nil
}
