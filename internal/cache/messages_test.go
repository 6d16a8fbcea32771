package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/r11922135/chat/internal/models"
)

func newTestCache(t *testing.T) (*MessageCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	backend := NewBackendFromClient(client, zerolog.Nop())
	return NewMessageCache(backend, zerolog.Nop()), mr
}

func cachedMsg(id, roomID int64) *models.Message {
	userID := int64(7)
	return &models.Message{
		ID:        id,
		RoomID:    roomID,
		UserID:    &userID,
		Content:   "hello " + strconv.FormatInt(id, 10),
		Kind:      models.KindUser,
		CreatedAt: time.Unix(1700000000+id, 0).UTC(),
	}
}

func TestWriteThroughAndLatest(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		c.WriteThrough(ctx, cachedMsg(id, 1))
	}

	got := c.Latest(ctx, 1, 15)
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for i, want := range []int64{3, 2, 1} {
		if got[i].ID != want {
			t.Errorf("messages[%d].ID = %d, want %d", i, got[i].ID, want)
		}
	}
	if got[0].Content != "hello 3" {
		t.Errorf("Content = %q, want %q", got[0].Content, "hello 3")
	}
}

func TestLatestRespectsLimit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for id := int64(1); id <= 20; id++ {
		c.WriteThrough(ctx, cachedMsg(id, 1))
	}

	got := c.Latest(ctx, 1, 15)
	if len(got) != 15 {
		t.Fatalf("got %d messages, want 15", len(got))
	}
	if got[0].ID != 20 || got[14].ID != 6 {
		t.Errorf("page spans %d..%d, want 20..6", got[0].ID, got[14].ID)
	}
}

func TestBeforeIsExclusive(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for id := int64(1); id <= 5; id++ {
		c.WriteThrough(ctx, cachedMsg(id, 1))
	}

	got := c.Before(ctx, 1, 4, 15)
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for i, want := range []int64{3, 2, 1} {
		if got[i].ID != want {
			t.Errorf("messages[%d].ID = %d, want %d", i, got[i].ID, want)
		}
	}
}

func TestLatestMissOnEmptyRoom(t *testing.T) {
	c, _ := newTestCache(t)

	if got := c.Latest(context.Background(), 99, 15); got != nil {
		t.Fatalf("got %d messages, want nil miss", len(got))
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.WriteThrough(ctx, cachedMsg(1, 1))
	c.WriteThrough(ctx, cachedMsg(2, 2))

	got := c.Latest(ctx, 1, 15)
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("room 1 page = %v, want just message 1", got)
	}
}

func TestExpiredValueRecordSkipped(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	c.WriteThrough(ctx, cachedMsg(1, 1))
	c.WriteThrough(ctx, cachedMsg(2, 1))

	// Value record gone, index entry still present.
	mr.Del("msg:1")

	got := c.Latest(ctx, 1, 15)
	if len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("got %v, want just message 2", got)
	}
}

func TestCorruptValueRecordSkipped(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	c.WriteThrough(ctx, cachedMsg(1, 1))
	c.WriteThrough(ctx, cachedMsg(2, 1))

	mr.Set("msg:1", "{not json")

	got := c.Latest(ctx, 1, 15)
	if len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("got %v, want just message 2", got)
	}
}

func TestBackfillIsIdempotent(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	batch := []models.Message{*cachedMsg(3, 1), *cachedMsg(2, 1), *cachedMsg(1, 1)}
	c.Backfill(ctx, 1, batch)
	c.Backfill(ctx, 1, batch)

	got := c.Latest(ctx, 1, 15)
	if len(got) != 3 {
		t.Fatalf("got %d messages after double backfill, want 3", len(got))
	}
}

func TestBackfillMergesWithWriteThrough(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.WriteThrough(ctx, cachedMsg(10, 1))
	c.Backfill(ctx, 1, []models.Message{*cachedMsg(9, 1), *cachedMsg(8, 1)})

	got := c.Latest(ctx, 1, 15)
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for i, want := range []int64{10, 9, 8} {
		if got[i].ID != want {
			t.Errorf("messages[%d].ID = %d, want %d", i, got[i].ID, want)
		}
	}
}

func TestUnavailableBackendIsAMiss(t *testing.T) {
	c := NewMessageCache(nil, zerolog.Nop())
	ctx := context.Background()

	if got := c.Latest(ctx, 1, 15); got != nil {
		t.Fatal("Latest on unavailable backend should be nil")
	}
	if got := c.Before(ctx, 1, 10, 15); got != nil {
		t.Fatal("Before on unavailable backend should be nil")
	}
	// No-ops, must not panic.
	c.WriteThrough(ctx, cachedMsg(1, 1))
	c.Backfill(ctx, 1, []models.Message{*cachedMsg(1, 1)})
}
