package rules

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/railgrid/server/internal/game"
	"github.com/railgrid/server/internal/session"
)

const (
	startingCash = 50
	deliveryPay  = 10

	// Each player gets this many initial-build rounds before active play.
	initialBuildRounds = 2

	winningCash = 250
)

// Rail is the reference evaluator: build track, haul loads, end turns.
type Rail struct{}

func NewRail() *Rail { return &Rail{} }

type buildTrackPayload struct {
	FromCity string `json:"fromCity"`
	ToCity   string `json:"toCity"`
	Cost     int    `json:"cost"`
}

type deliverLoadPayload struct {
	LoadID string `json:"loadId"`
}

// InitialState seats everyone with starting cash and seeds the load deck.
func (r *Rail) InitialState(sess *session.Session) game.State {
	st := game.NewState()
	st.Phase = game.PhaseInitialBuild
	st.Round = 1
	st.Players = sess.PlayerViews()
	for _, p := range sess.Players {
		st.Cash[p.ID] = startingCash
	}
	st.Loads = seedLoads()
	if len(sess.Players) > 0 {
		st.CurrentTurnUserID = firstHuman(sess)
	}
	return st
}

func seedLoads() []game.Load {
	seeds := []struct{ kind, from, to string }{
		{"coal", "Duluth", "Chicago"},
		{"grain", "Omaha", "Detroit"},
		{"steel", "Pittsburgh", "Kansas City"},
		{"timber", "Portland", "Denver"},
	}
	loads := make([]game.Load, 0, len(seeds))
	for _, s := range seeds {
		loads = append(loads, game.Load{
			ID:       uuid.NewString(),
			Kind:     s.kind,
			FromCity: s.from,
			ToCity:   s.to,
		})
	}
	return loads
}

// Apply validates one action against the current state and returns the
// new state plus its delta. It never mutates its input: the room keeps the
// old state when persistence fails.
func (r *Rail) Apply(ctx context.Context, sess *session.Session, state game.State, act Action) (Outcome, error) {
	next := state.Clone()
	actor := sess.PlayerByUserID(act.ActorUserID)
	if actor == nil {
		return Outcome{}, session.ErrNotMember
	}

	switch act.Type {
	case "build-track":
		var p buildTrackPayload
		if err := json.Unmarshal(act.Payload, &p); err != nil {
			return Outcome{}, ErrBadPayload
		}
		if p.FromCity == "" || p.ToCity == "" || p.FromCity == p.ToCity || p.Cost <= 0 {
			return Outcome{}, ErrIllegalBuild
		}
		if hasSegment(next.Tracks, p.FromCity, p.ToCity) {
			return Outcome{}, ErrIllegalBuild
		}
		if next.Cash[actor.ID] < p.Cost {
			return Outcome{}, ErrInsufficientCash
		}
		next.Tracks = append(next.Tracks, game.TrackSegment{
			ID:       uuid.NewString(),
			OwnerID:  actor.ID,
			FromCity: p.FromCity,
			ToCity:   p.ToCity,
			Cost:     p.Cost,
		})
		next.Cash[actor.ID] -= p.Cost
		return r.outcome(sess, state, next, false), nil

	case "deliver-load":
		var p deliverLoadPayload
		if err := json.Unmarshal(act.Payload, &p); err != nil {
			return Outcome{}, ErrBadPayload
		}
		idx := -1
		for i, l := range next.Loads {
			if l.ID == p.LoadID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return Outcome{}, ErrUnknownLoad
		}
		// Delivery requires the actor to own track reaching the destination.
		if !reaches(next.Tracks, actor.ID, next.Loads[idx].ToCity) {
			return Outcome{}, ErrIllegalBuild
		}
		next.Loads = append(next.Loads[:idx:idx], next.Loads[idx+1:]...)
		next.Cash[actor.ID] += deliveryPay
		out := r.outcome(sess, state, next, false)
		if next.Cash[actor.ID] >= winningCash {
			out.Completed = true
			out.WinnerUserID = actor.UserID
		}
		return out, nil

	case "end-turn":
		return r.endTurn(sess, state, next, actor)

	default:
		return Outcome{}, ErrUnsupportedAction
	}
}

func (r *Rail) endTurn(sess *session.Session, prev, next game.State, actor *session.Player) (Outcome, error) {
	nextUser, wrapped := nextTurnUser(sess, actor.UserID)
	if wrapped {
		next.Round++
		if next.Phase == game.PhaseInitialBuild && next.Round > initialBuildRounds {
			next.Phase = game.PhaseActive
		}
	}
	out := r.outcome(sess, prev, next, true)
	out.NextTurnUserID = nextUser
	out.PhaseComplete = prev.Phase == game.PhaseInitialBuild && next.Phase == game.PhaseActive
	return out, nil
}

func (r *Rail) outcome(sess *session.Session, prev, next game.State, turnAdvance bool) Outcome {
	return Outcome{
		State:       next,
		Delta:       game.Diff(prev, next),
		TurnAdvance: turnAdvance,
	}
}

func hasSegment(tracks []game.TrackSegment, from, to string) bool {
	for _, t := range tracks {
		if (t.FromCity == from && t.ToCity == to) || (t.FromCity == to && t.ToCity == from) {
			return true
		}
	}
	return false
}

func reaches(tracks []game.TrackSegment, ownerID, city string) bool {
	for _, t := range tracks {
		if t.OwnerID == ownerID && (t.FromCity == city || t.ToCity == city) {
			return true
		}
	}
	return false
}

func firstHuman(sess *session.Session) string {
	for _, p := range sess.Players {
		if !p.IsBot() {
			return p.UserID
		}
	}
	return ""
}

// nextTurnUser rotates seat order, skipping bot seats (bots pass their
// turns until a dedicated bot driver takes them). wrapped is true when the
// rotation passed the first seat, i.e. a round ended.
func nextTurnUser(sess *session.Session, current string) (string, bool) {
	players := sess.Players
	if len(players) == 0 {
		return "", false
	}
	cur := 0
	for i, p := range players {
		if p.UserID == current {
			cur = i
			break
		}
	}
	wrapped := false
	for step := 1; step <= len(players); step++ {
		i := (cur + step) % len(players)
		if i <= cur {
			wrapped = true
		}
		if !players[i].IsBot() {
			return players[i].UserID, wrapped
		}
	}
	return current, wrapped
}
