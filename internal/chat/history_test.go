package chat

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/r11922135/chat/internal/models"
)

// fakeStore holds messages in descending id order, the order the real
// store returns them in.
type fakeStore struct {
	messages []models.Message
	calls    int
}

func (s *fakeStore) ListMessagesBefore(_ context.Context, roomID, beforeID int64, limit int) ([]models.Message, error) {
	s.calls++
	var out []models.Message
	for _, m := range s.messages {
		if m.RoomID != roomID {
			continue
		}
		if beforeID > 0 && m.ID >= beforeID {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeCache struct {
	latest     []models.Message
	before     []models.Message
	backfilled []models.Message
}

func (c *fakeCache) Latest(_ context.Context, _ int64, _ int) []models.Message {
	return c.latest
}

func (c *fakeCache) Before(_ context.Context, _, _ int64, _ int) []models.Message {
	return c.before
}

func (c *fakeCache) Backfill(_ context.Context, _ int64, messages []models.Message) {
	c.backfilled = append(c.backfilled, messages...)
}

// msgs builds test messages for room 1 with the given ids.
func msgs(ids ...int64) []models.Message {
	out := make([]models.Message, len(ids))
	for i, id := range ids {
		out[i] = models.Message{ID: id, RoomID: 1, Content: "m", Kind: models.KindUser}
	}
	return out
}

// descending returns ids n, n-1, ..., 1.
func descending(n int64) []models.Message {
	ids := make([]int64, 0, n)
	for id := n; id >= 1; id-- {
		ids = append(ids, id)
	}
	return msgs(ids...)
}

func assertIDs(t *testing.T, got []models.Message, want ...int64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i, m := range got {
		if m.ID != want[i] {
			t.Errorf("messages[%d].ID = %d, want %d", i, m.ID, want[i])
		}
	}
}

func TestLatestServedFromCache(t *testing.T) {
	store := &fakeStore{}
	cache := &fakeCache{latest: msgs(30, 29, 28, 27, 26, 25, 24, 23, 22, 21, 20, 19, 18, 17, 16)}
	h := NewHistory(store, cache, zerolog.Nop())

	page, err := h.Latest(context.Background(), 1)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	assertIDs(t, page.Messages, 30, 29, 28, 27, 26, 25, 24, 23, 22, 21, 20, 19, 18, 17, 16)
	if !page.HasMore {
		t.Error("HasMore = false, want true for a full page")
	}
	if store.calls != 0 {
		t.Errorf("store consulted %d times on a full cache hit", store.calls)
	}
}

func TestLatestFallsBackOnEmptyCache(t *testing.T) {
	store := &fakeStore{messages: descending(20)}
	cache := &fakeCache{}
	h := NewHistory(store, cache, zerolog.Nop())

	page, err := h.Latest(context.Background(), 1)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	assertIDs(t, page.Messages, 20, 19, 18, 17, 16, 15, 14, 13, 12, 11, 10, 9, 8, 7, 6)
	if !page.HasMore {
		t.Error("HasMore = false, want true")
	}
	if len(cache.backfilled) != 20 {
		t.Errorf("backfilled %d messages, want 20", len(cache.backfilled))
	}
}

func TestPartialHitSeamHasNoGapOrDuplicate(t *testing.T) {
	// Cache covers the newest 9 ids, the store has everything.
	store := &fakeStore{messages: descending(50)}
	cache := &fakeCache{latest: msgs(50, 49, 48, 47, 46, 45, 44, 43, 42)}
	h := NewHistory(store, cache, zerolog.Nop())

	page, err := h.Latest(context.Background(), 1)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	assertIDs(t, page.Messages, 50, 49, 48, 47, 46, 45, 44, 43, 42, 41, 40, 39, 38, 37, 36)
	if !page.HasMore {
		t.Error("HasMore = false, want true")
	}
	if store.calls != 1 {
		t.Errorf("store consulted %d times, want 1", store.calls)
	}
}

func TestBeforeIsExclusive(t *testing.T) {
	store := &fakeStore{messages: descending(20)}
	cache := &fakeCache{}
	h := NewHistory(store, cache, zerolog.Nop())

	page, err := h.Before(context.Background(), 1, 11)
	if err != nil {
		t.Fatalf("Before: %v", err)
	}
	assertIDs(t, page.Messages, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1)
	if page.HasMore {
		t.Error("HasMore = true on the final partial page")
	}
}

func TestBeforeUsesCacheBoundaryOnPartialHit(t *testing.T) {
	store := &fakeStore{messages: descending(40)}
	cache := &fakeCache{before: msgs(29, 28)}
	h := NewHistory(store, cache, zerolog.Nop())

	page, err := h.Before(context.Background(), 1, 30)
	if err != nil {
		t.Fatalf("Before: %v", err)
	}
	// Store picks up strictly below the lowest cached id.
	assertIDs(t, page.Messages, 29, 28, 27, 26, 25, 24, 23, 22, 21, 20, 19, 18, 17, 16, 15)
	if !page.HasMore {
		t.Error("HasMore = false, want true")
	}
}

func TestEmptyRoom(t *testing.T) {
	h := NewHistory(&fakeStore{}, &fakeCache{}, zerolog.Nop())

	page, err := h.Latest(context.Background(), 1)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if page.Messages == nil {
		t.Fatal("Messages is nil, want empty slice")
	}
	if len(page.Messages) != 0 || page.HasMore {
		t.Errorf("got %d messages, hasMore=%v; want empty page", len(page.Messages), page.HasMore)
	}
}
