// Package rules hosts the game-rule evaluator behind an interface. The
// synchronization core only consumes its delta and turn-advance signal;
// the reference rail evaluator here is enough for end-to-end play and for
// tests, and can be swapped out without touching the room.
package rules

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/railgrid/server/internal/game"
	"github.com/railgrid/server/internal/session"
)

var ErrUnsupportedAction = errors.New("unsupported action")
var ErrIllegalBuild = errors.New("illegal track build")
var ErrUnknownLoad = errors.New("unknown load")
var ErrInsufficientCash = errors.New("insufficient cash")
var ErrBadPayload = errors.New("malformed action payload")

// Action is one accepted gateway submission handed to the evaluator.
type Action struct {
	ActorUserID string
	Type        string
	Payload     json.RawMessage
}

// Outcome is what the evaluator reports back. Delta is the minimal patch
// the broadcaster ships; TurnAdvance moves the turn cursor to
// NextTurnUserID; PhaseComplete asks the lifecycle to enter active play;
// Completed carries a victory signal.
type Outcome struct {
	State          game.State
	Delta          game.Patch
	TurnAdvance    bool
	NextTurnUserID string
	PhaseComplete  bool
	Completed      bool
	WinnerUserID   string
}

// Evaluator owns game-specific legality and scoring.
type Evaluator interface {
	Apply(ctx context.Context, sess *session.Session, state game.State, act Action) (Outcome, error)
	InitialState(sess *session.Session) game.State
}

// TurnIndependent reports action types that bypass turn gating entirely.
func TurnIndependent(actionType string) bool {
	switch actionType {
	case "chat":
		return true
	default:
		return false
	}
}
