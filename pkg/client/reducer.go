// Package client is the Go client for the railgrid server: a websocket
// transport with automatic reconnect and room replay, and a reducer that
// maintains a local state mirror from the server's sequenced stream.
package client

import (
	"errors"
	"fmt"

	"github.com/railgrid/server/internal/game"
	"github.com/railgrid/server/internal/protocol"
)

// ErrNoBaseline is returned when a patch arrives before any state:init.
var ErrNoBaseline = errors.New("patch received before baseline")

// Gap reports a hole in the sequence stream. The caller must resync with
// a fresh baseline; the reducer refuses to apply anything past a gap.
type Gap struct {
	Expected uint64
	Received uint64
}

func (g *Gap) Error() string {
	return fmt.Sprintf("sequence gap: expected %d, received %d", g.Expected, g.Received)
}

// Reducer folds the server stream into a local state mirror. Sequenced
// messages apply only when they arrive exactly one past the last applied
// seq; a state:init re-baselines unconditionally.
type Reducer struct {
	state       *game.State
	lastApplied uint64
}

func NewReducer() *Reducer { return &Reducer{} }

// Apply folds one server message into the mirror. Messages outside the
// sequence stream (presence, lobby, chat) pass through untouched.
func (r *Reducer) Apply(msg protocol.ServerMessage) error {
	switch m := msg.(type) {
	case protocol.StateInit:
		st := m.State.Clone()
		r.state = &st
		r.lastApplied = m.ServerSeq
		return nil

	case protocol.StatePatch:
		if r.state == nil {
			return ErrNoBaseline
		}
		if m.ServerSeq != r.lastApplied+1 {
			return &Gap{Expected: r.lastApplied + 1, Received: m.ServerSeq}
		}
		r.state.Apply(m.Patch)
		r.lastApplied = m.ServerSeq
		return nil

	case protocol.TurnChange:
		if r.state == nil {
			return ErrNoBaseline
		}
		if m.ServerSeq != r.lastApplied+1 {
			return &Gap{Expected: r.lastApplied + 1, Received: m.ServerSeq}
		}
		r.state.CurrentTurnUserID = m.CurrentTurnUserID
		r.lastApplied = m.ServerSeq
		return nil

	case protocol.PresenceUpdate:
		if r.state == nil {
			return nil
		}
		for i := range r.state.Players {
			if r.state.Players[i].UserID == m.UserID {
				r.state.Players[i].IsOnline = m.IsOnline
			}
		}
		return nil

	default:
		return nil
	}
}

// State returns a copy of the mirror; ok is false before the baseline.
func (r *Reducer) State() (game.State, bool) {
	if r.state == nil {
		return game.State{}, false
	}
	return r.state.Clone(), true
}

// LastApplied is the seq of the newest applied sequenced message.
func (r *Reducer) LastApplied() uint64 { return r.lastApplied }
