package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/railgrid/server/internal/game"
	"github.com/railgrid/server/internal/hub"
	"github.com/railgrid/server/internal/protocol"
	"github.com/railgrid/server/internal/room"
	"github.com/railgrid/server/internal/rules"
	"github.com/railgrid/server/internal/session"
	"github.com/railgrid/server/internal/store"
)

// newTestManager wires a real store, hub, and evaluator over in-memory
// sqlite, so these tests exercise the full server stack minus transport.
func newTestManager(t *testing.T) (*Manager, *hub.Hub) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	st, err := store.NewGorm(db)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := hub.New(ctx, st, rules.NewRail(), zap.NewNop())
	t.Cleanup(func() { h.Inbox() <- hub.ShutdownHub{} })
	return NewManager(st, h, rules.NewRail(), zap.NewNop()), h
}

func recvAs[T protocol.ServerMessage](t *testing.T, ch <-chan protocol.ServerMessage) T {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case msg, ok := <-ch:
			require.True(t, ok, "outbox closed")
			if typed, ok := msg.(T); ok {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero // unreachable
		}
	}
}

func attach(t *testing.T, r *room.Room, connID, userID string) chan protocol.ServerMessage {
	t.Helper()
	out := make(chan protocol.ServerMessage, 16)
	r.Inbox() <- room.Attach{ConnID: connID, UserID: userID, Outbox: out}
	return out
}

func TestManager_CreateJoinStartFlow(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, "u-alice", "alice", 4, true)
	require.NoError(t, err)
	require.Len(t, sess.JoinCode, session.JoinCodeLength)

	// Join codes resolve case-insensitively with surrounding whitespace.
	sloppy := "  " + strings.ToLower(sess.JoinCode) + " "
	sessionID, player, err := m.JoinByCode(ctx, sloppy, "u-bob", "bob", "blue")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, sessionID)
	assert.Equal(t, "blue", player.Color)

	r, err := m.Room(ctx, sess.ID)
	require.NoError(t, err)
	aliceOut := attach(t, r, "c1", "u-alice")
	bobOut := attach(t, r, "c2", "u-bob")
	r.Inbox() <- room.JoinGame{ConnID: "c1"}
	r.Inbox() <- room.JoinGame{ConnID: "c2"}
	recvAs[protocol.StateInit](t, aliceOut)
	recvAs[protocol.StateInit](t, bobOut)

	require.NoError(t, m.Start(ctx, sess.ID, "u-alice"))

	recvAs[protocol.GameStarted](t, aliceOut)
	recvAs[protocol.GameStarted](t, bobOut)
	aliceInit := recvAs[protocol.StateInit](t, aliceOut)
	bobInit := recvAs[protocol.StateInit](t, bobOut)
	assert.Equal(t, aliceInit.ServerSeq, bobInit.ServerSeq)
	assert.Equal(t, aliceInit.State, bobInit.State)
	assert.Equal(t, game.PhaseInitialBuild, bobInit.State.Phase)

	// A second start bounces regardless of who asks.
	assert.ErrorIs(t, m.Start(ctx, sess.ID, "u-alice"), session.ErrGameAlreadyStarted)
}

func TestManager_JoinRejectsUnknownCode(t *testing.T) {
	m, _ := newTestManager(t)
	_, _, err := m.JoinByCode(context.Background(), "NOSUCH12", "u-x", "x", "")
	assert.ErrorIs(t, err, session.ErrInvalidJoinCode)
}

func TestManager_JoinRejectsWhenFull(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, "u-alice", "alice", 2, true)
	require.NoError(t, err)
	_, _, err = m.JoinByCode(ctx, sess.JoinCode, "u-bob", "bob", "")
	require.NoError(t, err)
	_, _, err = m.JoinByCode(ctx, sess.JoinCode, "u-carol", "carol", "")
	assert.ErrorIs(t, err, session.ErrGameFull)
}

func TestManager_RoomRevivesFromStore(t *testing.T) {
	m, h := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, "u-alice", "alice", 4, true)
	require.NoError(t, err)
	_, _, err = m.JoinByCode(ctx, sess.JoinCode, "u-bob", "bob", "")
	require.NoError(t, err)

	// Simulate a restart: the room disappears, the row survives.
	h.Inbox() <- hub.RemoveRoom{SessionID: sess.ID}

	r, err := m.Room(ctx, sess.ID)
	require.NoError(t, err)
	reply := make(chan room.View, 1)
	r.Inbox() <- room.GetView{Reply: reply}
	view := <-reply
	require.Len(t, view.State.Players, 2)
	for _, p := range view.State.Players {
		assert.False(t, p.IsOnline, "revived members start offline")
	}

	// The revived code index works too.
	sessionID, _, err := m.JoinByCode(ctx, sess.JoinCode, "u-carol", "carol", "")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, sessionID)
}

func TestManager_LeaveAbandons(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, "u-alice", "alice", 4, false)
	require.NoError(t, err)
	require.NoError(t, m.Leave(ctx, sess.ID, "u-alice"))

	assert.Nil(t, m.getRoom(sess.ID), "abandoned room should be torn down")
	got, _, err := m.store.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusAbandoned, got.Status)
}

func TestManager_DeleteModes(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, "u-alice", "alice", 4, true)
	require.NoError(t, err)
	_, _, err = m.JoinByCode(ctx, sess.JoinCode, "u-bob", "bob", "")
	require.NoError(t, err)

	// Soft: hidden for bob, still there for alice.
	require.NoError(t, m.Delete(ctx, sess.ID, "u-bob", DeleteSoft, ""))
	visible, err := m.ListVisible(ctx, "u-bob")
	require.NoError(t, err)
	assert.Empty(t, visible)
	visible, err = m.ListVisible(ctx, "u-alice")
	require.NoError(t, err)
	require.Len(t, visible, 1)

	// Transfer to an offline member bounces.
	err = m.Delete(ctx, sess.ID, "u-alice", DeleteTransfer, "u-bob")
	assert.ErrorIs(t, err, session.ErrNewOwnerNotOnline)

	// Hard: owner-only, then gone for everyone.
	err = m.Delete(ctx, sess.ID, "u-bob", DeleteHard, "")
	assert.ErrorIs(t, err, session.ErrNotGameCreator)
	require.NoError(t, m.Delete(ctx, sess.ID, "u-alice", DeleteHard, ""))
	_, _, err = m.store.LoadSession(ctx, sess.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, m.Delete(ctx, sess.ID, "u-alice", "nope", ""), ErrBadDeleteMode)
}
