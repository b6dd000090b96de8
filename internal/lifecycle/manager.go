// Package lifecycle orchestrates sessions across the store and the hub:
// creating games, resolving join codes, reviving rooms for persisted
// sessions, and the three deletion modes.
package lifecycle

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/railgrid/server/internal/game"
	"github.com/railgrid/server/internal/hub"
	"github.com/railgrid/server/internal/room"
	"github.com/railgrid/server/internal/rules"
	"github.com/railgrid/server/internal/session"
	"github.com/railgrid/server/internal/store"
)

// joinCodeRetries bounds regeneration when a fresh code collides with an
// existing session.
const joinCodeRetries = 5

type DeleteMode string

const (
	DeleteSoft     DeleteMode = "soft"     // hide from the requester's list only
	DeleteHard     DeleteMode = "hard"     // owner removes the session for everyone
	DeleteTransfer DeleteMode = "transfer" // owner hands off and walks away
)

var ErrBadDeleteMode = errors.New("unknown delete mode")

type Manager struct {
	store store.Store
	hub   *hub.Hub
	eval  rules.Evaluator
	log   *zap.Logger
}

func NewManager(st store.Store, h *hub.Hub, eval rules.Evaluator, log *zap.Logger) *Manager {
	return &Manager{store: st, hub: h, eval: eval, log: log}
}

// Create persists a new session and spins up its room. Join codes are
// random, so collisions are regenerated rather than surfaced.
func (m *Manager) Create(ctx context.Context, ownerID, ownerName string, maxPlayers int, isPublic bool) (*session.Session, error) {
	sess := session.New(ownerID, ownerName, maxPlayers, isPublic)
	st := game.NewState()
	st.Players = sess.PlayerViews()

	var err error
	for range joinCodeRetries {
		err = m.store.CreateSession(ctx, sess, st)
		if !errors.Is(err, store.ErrDuplicateJoinCode) {
			break
		}
		sess.JoinCode = session.NewJoinCode()
	}
	if err != nil {
		return nil, err
	}

	m.ensureRoom(sess, st)
	m.log.Info("session created",
		zap.String("session", sess.ID), zap.String("owner", ownerID))
	return sess, nil
}

// Room returns the live room for a session, reviving it from the store if
// the process restarted since the session was last active. Revived
// members start offline.
func (m *Manager) Room(ctx context.Context, sessionID string) (*room.Room, error) {
	if r := m.getRoom(sessionID); r != nil {
		return r, nil
	}
	sess, st, err := m.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, p := range sess.Players {
		p.IsOnline = false
	}
	st.Players = sess.PlayerViews()
	return m.ensureRoom(sess, st), nil
}

// JoinByCode resolves a join code case-insensitively and seats the user.
func (m *Manager) JoinByCode(ctx context.Context, code, userID, name, preferredColor string) (string, *session.Player, error) {
	r := m.getRoomByCode(code)
	if r == nil {
		sessionID, err := m.store.FindByJoinCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, session.ErrInvalidJoinCode
		}
		if err != nil {
			return "", nil, err
		}
		r, err = m.Room(ctx, sessionID)
		if err != nil {
			return "", nil, err
		}
	}

	reply := make(chan room.JoinReply, 1)
	r.Inbox() <- room.JoinSession{UserID: userID, Name: name, PreferredColor: preferredColor, Reply: reply}
	jr := <-reply
	if jr.Err != nil {
		return "", nil, jr.Err
	}
	return r.SessionID(), jr.Player, nil
}

func (m *Manager) Start(ctx context.Context, sessionID, userID string) error {
	r, err := m.Room(ctx, sessionID)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	r.Inbox() <- room.StartGame{UserID: userID, Reply: reply}
	return <-reply
}

// Leave removes the user's membership. When the last human leaves, the
// session is abandoned and its room torn down.
func (m *Manager) Leave(ctx context.Context, sessionID, userID string) error {
	r, err := m.Room(ctx, sessionID)
	if err != nil {
		return err
	}
	reply := make(chan room.LeaveReply, 1)
	r.Inbox() <- room.LeaveSession{UserID: userID, Reply: reply}
	lr := <-reply
	if lr.Err != nil {
		return lr.Err
	}
	if lr.Abandoned {
		m.hub.Inbox() <- hub.RemoveRoom{SessionID: sessionID}
		m.log.Info("session abandoned", zap.String("session", sessionID))
	}
	return nil
}

func (m *Manager) AddBot(ctx context.Context, sessionID, userID, name, difficulty, archetype string) error {
	r, err := m.Room(ctx, sessionID)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	r.Inbox() <- room.AddBot{UserID: userID, Name: name, Difficulty: difficulty, Archetype: archetype, Reply: reply}
	return <-reply
}

func (m *Manager) RemoveBot(ctx context.Context, sessionID, userID, playerID string) error {
	r, err := m.Room(ctx, sessionID)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	r.Inbox() <- room.RemoveBot{UserID: userID, PlayerID: playerID, Reply: reply}
	return <-reply
}

// Complete records an external victory signal: owner-only, valid from
// any state.
func (m *Manager) Complete(ctx context.Context, sessionID, userID, winnerUserID string) error {
	r, err := m.Room(ctx, sessionID)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	r.Inbox() <- room.CompleteGame{UserID: userID, WinnerUserID: winnerUserID, Reply: reply}
	return <-reply
}

// Delete applies one of the three removal modes. Soft deletes hide the
// session from the requester only; hard deletes are owner-only and
// destroy it for everyone; transfer hands ownership to another online
// member and removes the requester.
func (m *Manager) Delete(ctx context.Context, sessionID, userID string, mode DeleteMode, newOwnerID string) error {
	switch mode {
	case DeleteSoft:
		if _, _, err := m.store.LoadSession(ctx, sessionID); err != nil {
			return err
		}
		return m.store.Hide(ctx, sessionID, userID)

	case DeleteHard:
		sess, _, err := m.store.LoadSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.OwnerID != userID {
			return session.ErrNotGameCreator
		}
		m.hub.Inbox() <- hub.RemoveRoom{SessionID: sessionID}
		if err := m.store.HardDelete(ctx, sessionID); err != nil {
			return err
		}
		m.log.Info("session deleted", zap.String("session", sessionID))
		return nil

	case DeleteTransfer:
		r, err := m.Room(ctx, sessionID)
		if err != nil {
			return err
		}
		reply := make(chan error, 1)
		r.Inbox() <- room.TransferOwner{UserID: userID, NewOwnerID: newOwnerID, Reply: reply}
		return <-reply

	default:
		return ErrBadDeleteMode
	}
}

func (m *Manager) ListVisible(ctx context.Context, userID string) ([]*session.Session, error) {
	return m.store.ListVisible(ctx, userID)
}

func (m *Manager) ensureRoom(sess *session.Session, st game.State) *room.Room {
	reply := make(chan *room.Room, 1)
	m.hub.Inbox() <- hub.EnsureRoom{Session: sess, State: st, Reply: reply}
	return <-reply
}

func (m *Manager) getRoom(sessionID string) *room.Room {
	reply := make(chan *room.Room, 1)
	m.hub.Inbox() <- hub.GetRoom{SessionID: sessionID, Reply: reply}
	return <-reply
}

func (m *Manager) getRoomByCode(code string) *room.Room {
	reply := make(chan *room.Room, 1)
	m.hub.Inbox() <- hub.GetByCode{JoinCode: code, Reply: reply}
	return <-reply
}
