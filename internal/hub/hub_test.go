package hub

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/railgrid/server/internal/game"
	"github.com/railgrid/server/internal/room"
	"github.com/railgrid/server/internal/rules"
	"github.com/railgrid/server/internal/session"
)

type nopStore struct{}

func (nopStore) SaveSession(context.Context, *session.Session, game.State) error { return nil }

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := New(ctx, nopStore{}, rules.NewRail(), zap.NewNop())
	t.Cleanup(func() { h.Inbox() <- ShutdownHub{} })
	return h
}

func recvRoom(t *testing.T, ch <-chan *room.Room) *room.Room {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for room")
		return nil // unreachable
	}
}

func TestHub_EnsureRoomIsIdempotent(t *testing.T) {
	h := newTestHub(t)
	sess := session.New("u1", "alice", 4, true)
	st := game.NewState()

	reply := make(chan *room.Room, 1)
	h.Inbox() <- EnsureRoom{Session: sess, State: st, Reply: reply}
	first := recvRoom(t, reply)
	if first == nil {
		t.Fatalf("ensure returned nil room")
	}

	h.Inbox() <- EnsureRoom{Session: sess, State: st, Reply: reply}
	second := recvRoom(t, reply)
	if first != second {
		t.Fatalf("ensure must return the running room, got a new one")
	}
}

func TestHub_GetByCodeIsCaseInsensitive(t *testing.T) {
	h := newTestHub(t)
	sess := session.New("u1", "alice", 4, true)

	reply := make(chan *room.Room, 1)
	h.Inbox() <- EnsureRoom{Session: sess, State: game.NewState(), Reply: reply}
	created := recvRoom(t, reply)

	h.Inbox() <- GetByCode{JoinCode: strings.ToLower(sess.JoinCode), Reply: reply}
	if got := recvRoom(t, reply); got != created {
		t.Fatalf("lowercased code should resolve to the same room")
	}

	h.Inbox() <- GetByCode{JoinCode: "NOPE1234", Reply: reply}
	if got := recvRoom(t, reply); got != nil {
		t.Fatalf("unknown code should resolve to nil, got %v", got)
	}
}

func TestHub_RemoveRoom(t *testing.T) {
	h := newTestHub(t)
	sess := session.New("u1", "alice", 4, true)

	reply := make(chan *room.Room, 1)
	h.Inbox() <- EnsureRoom{Session: sess, State: game.NewState(), Reply: reply}
	_ = recvRoom(t, reply)

	h.Inbox() <- RemoveRoom{SessionID: sess.ID}

	h.Inbox() <- GetRoom{SessionID: sess.ID, Reply: reply}
	if got := recvRoom(t, reply); got != nil {
		t.Fatalf("removed room still resolvable")
	}
	h.Inbox() <- GetByCode{JoinCode: sess.JoinCode, Reply: reply}
	if got := recvRoom(t, reply); got != nil {
		t.Fatalf("removed room still resolvable by code")
	}
}
