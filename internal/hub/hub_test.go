package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/r11922135/chat/internal/models"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := New(nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func newTestClient(userID int64, rooms ...int64) *Client {
	return &Client{
		id:           uuid.New(),
		userID:       userID,
		username:     fmt.Sprintf("user%d", userID),
		send:         make(chan []byte, 16),
		initialRooms: rooms,
		logger:       zerolog.Nop(),
	}
}

func recvEvent(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case frame, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed while expecting a frame")
		}
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("bad frame %q: %v", frame, err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return Envelope{}
}

func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case frame, ok := <-c.send:
		if ok {
			t.Fatalf("unexpected frame: %s", frame)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func register(t *testing.T, h *Hub, c *Client) {
	t.Helper()
	h.register <- c
	env := recvEvent(t, c)
	if env.Event != EventAutoJoinedRooms {
		t.Fatalf("first frame event = %q, want %q", env.Event, EventAutoJoinedRooms)
	}
}

func TestRegisterPushesAutoJoinedRooms(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(1, 10, 20)

	h.register <- c
	env := recvEvent(t, c)
	if env.Event != EventAutoJoinedRooms {
		t.Fatalf("event = %q, want %q", env.Event, EventAutoJoinedRooms)
	}
	var p AutoJoinedRoomsPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if len(p.RoomIDs) != 2 || p.RoomIDs[0] != 10 || p.RoomIDs[1] != 20 {
		t.Errorf("RoomIDs = %v, want [10 20]", p.RoomIDs)
	}
}

func TestBroadcastReachesOnlyRoomSubscribers(t *testing.T) {
	h := newTestHub(t)
	inRoom := newTestClient(1, 10)
	outside := newTestClient(2, 20)
	register(t, h, inRoom)
	register(t, h, outside)

	h.BroadcastMessage(10, &models.Message{ID: 7, RoomID: 10, Content: "hi", Kind: models.KindUser})

	env := recvEvent(t, inRoom)
	if env.Event != EventNewMessage {
		t.Fatalf("event = %q, want %q", env.Event, EventNewMessage)
	}
	var msg models.Message
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if msg.ID != 7 || msg.Content != "hi" {
		t.Errorf("got message %+v, want id 7 content hi", msg)
	}

	expectNoFrame(t, outside)
}

func TestBroadcastIncludesSender(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient(1, 10)
	b := newTestClient(2, 10)
	register(t, h, a)
	register(t, h, b)

	h.BroadcastMessage(10, &models.Message{ID: 1, RoomID: 10, Kind: models.KindUser})

	for _, c := range []*Client{a, b} {
		if env := recvEvent(t, c); env.Event != EventNewMessage {
			t.Errorf("event = %q, want %q", env.Event, EventNewMessage)
		}
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(1, 10)
	register(t, h, c)

	h.Join(c, 10)
	h.BroadcastMessage(10, &models.Message{ID: 1, RoomID: 10, Kind: models.KindUser})

	recvEvent(t, c)
	expectNoFrame(t, c)
}

func TestLeaveStopsDelivery(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(1, 10)
	register(t, h, c)

	h.Leave(c, 10)
	h.BroadcastMessage(10, &models.Message{ID: 1, RoomID: 10, Kind: models.KindUser})

	expectNoFrame(t, c)
}

func TestLeaveIsIdempotent(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(1, 10)
	register(t, h, c)

	h.Leave(c, 10)
	h.Leave(c, 10)
	h.Leave(c, 99) // never joined

	h.BroadcastMessage(10, &models.Message{ID: 1, RoomID: 10, Kind: models.KindUser})
	expectNoFrame(t, c)
}

func TestUnregisterClosesSendAndCleansUp(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(1, 10)
	register(t, h, c)

	h.unregister <- c

	select {
	case _, ok := <-c.send:
		if ok {
			t.Fatal("expected closed send channel")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed after unregister")
	}

	// A broadcast after removal must not resurrect the client.
	h.BroadcastMessage(10, &models.Message{ID: 1, RoomID: 10, Kind: models.KindUser})
	h.Leave(c, 10) // sync with the hub loop; must not panic
}

func TestAdmitSubscribesOnlineMembers(t *testing.T) {
	h := newTestHub(t)
	member := newTestClient(42)
	other := newTestClient(99)
	register(t, h, member)
	register(t, h, other)

	name := "plans"
	summary := &models.RoomSummary{Room: models.Room{ID: 3, Name: &name, IsGroup: true}}
	h.Admit(3, []int64{42}, summary)

	env := recvEvent(t, member)
	if env.Event != EventNewRoomCreated {
		t.Fatalf("event = %q, want %q", env.Event, EventNewRoomCreated)
	}
	var got models.RoomSummary
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if got.ID != 3 || got.Name == nil || *got.Name != "plans" {
		t.Errorf("summary = %+v, want room 3 named plans", got)
	}

	// The admitted member now receives room broadcasts; the other user
	// was never subscribed.
	h.BroadcastMessage(3, &models.Message{ID: 1, RoomID: 3, Kind: models.KindUser})
	if env := recvEvent(t, member); env.Event != EventNewMessage {
		t.Errorf("event = %q, want %q", env.Event, EventNewMessage)
	}
	expectNoFrame(t, other)
}
