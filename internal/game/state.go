package game

import (
	"maps"
	"slices"
)

// Phase tracks how far the board has progressed. It mirrors the session
// status for the in-play portion of the lifecycle so clients can render
// without a second lookup.
type Phase string

const (
	PhaseLobby        Phase = "lobby"
	PhaseInitialBuild Phase = "initialBuild"
	PhaseActive       Phase = "active"
	PhaseCompleted    Phase = "completed"
)

// PlayerView is the client-facing slice of a player. Collections of these
// are replaced wholesale in patches, never merged element-wise.
type PlayerView struct {
	ID       string `json:"id"`
	UserID   string `json:"userId,omitempty"` // empty for bots
	Name     string `json:"name"`
	Color    string `json:"color"`
	IsOnline bool   `json:"isOnline"`
	IsBot    bool   `json:"isBot,omitempty"`
}

// TrackSegment is one owned link between two cities.
type TrackSegment struct {
	ID       string `json:"id"`
	OwnerID  string `json:"ownerId"` // player id
	FromCity string `json:"fromCity"`
	ToCity   string `json:"toCity"`
	Cost     int    `json:"cost"`
}

// Load is a shipment sitting on the board or riding a player's train.
type Load struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	FromCity  string `json:"fromCity"`
	ToCity    string `json:"toCity"`
	CarrierID string `json:"carrierId,omitempty"` // player id when picked up
}

// State is the authoritative game state mirror shared with clients.
// Every field is a top-level patch unit: the broadcaster diffs field by
// field and ships changed fields whole.
type State struct {
	Phase             Phase          `json:"phase"`
	Round             int            `json:"round"`
	CurrentTurnUserID string         `json:"currentTurnUserId,omitempty"`
	Players           []PlayerView   `json:"players"`
	Tracks            []TrackSegment `json:"tracks"`
	Loads             []Load         `json:"loads"`
	Cash              map[string]int `json:"cash"` // by player id
}

// NewState returns an empty lobby-phase state.
func NewState() State {
	return State{
		Phase:   PhaseLobby,
		Players: []PlayerView{},
		Tracks:  []TrackSegment{},
		Loads:   []Load{},
		Cash:    map[string]int{},
	}
}

// Clone deep-copies the state so the room loop can hand snapshots to
// other goroutines without sharing mutable slices.
func (s State) Clone() State {
	out := s
	out.Players = slices.Clone(s.Players)
	out.Tracks = slices.Clone(s.Tracks)
	out.Loads = slices.Clone(s.Loads)
	out.Cash = maps.Clone(s.Cash)
	if out.Cash == nil {
		out.Cash = map[string]int{}
	}
	return out
}

// Patch describes changed top-level fields only. Nil means "unchanged";
// collections are replaced wholesale to avoid ambiguous array-merge
// semantics. The turn cursor travels on its own turn:change event and is
// deliberately absent here.
type Patch struct {
	Phase   *Phase          `json:"phase,omitempty"`
	Round   *int            `json:"round,omitempty"`
	Players *[]PlayerView   `json:"players,omitempty"`
	Tracks  *[]TrackSegment `json:"tracks,omitempty"`
	Loads   *[]Load         `json:"loads,omitempty"`
	Cash    *map[string]int `json:"cash,omitempty"`
}

// IsEmpty reports whether the patch carries no changes.
func (p Patch) IsEmpty() bool {
	return p.Phase == nil && p.Round == nil && p.Players == nil &&
		p.Tracks == nil && p.Loads == nil && p.Cash == nil
}

// Diff computes the minimal top-level patch that turns prev into next.
func Diff(prev, next State) Patch {
	var p Patch
	if prev.Phase != next.Phase {
		phase := next.Phase
		p.Phase = &phase
	}
	if prev.Round != next.Round {
		round := next.Round
		p.Round = &round
	}
	if !slices.Equal(prev.Players, next.Players) {
		players := slices.Clone(next.Players)
		p.Players = &players
	}
	if !slices.Equal(prev.Tracks, next.Tracks) {
		tracks := slices.Clone(next.Tracks)
		p.Tracks = &tracks
	}
	if !slices.Equal(prev.Loads, next.Loads) {
		loads := slices.Clone(next.Loads)
		p.Loads = &loads
	}
	if !maps.Equal(prev.Cash, next.Cash) {
		cash := maps.Clone(next.Cash)
		p.Cash = &cash
	}
	return p
}

// Apply merges a patch into the state in place. Collections are replaced,
// matching how Diff produced them.
func (s *State) Apply(p Patch) {
	if p.Phase != nil {
		s.Phase = *p.Phase
	}
	if p.Round != nil {
		s.Round = *p.Round
	}
	if p.Players != nil {
		s.Players = slices.Clone(*p.Players)
	}
	if p.Tracks != nil {
		s.Tracks = slices.Clone(*p.Tracks)
	}
	if p.Loads != nil {
		s.Loads = slices.Clone(*p.Loads)
	}
	if p.Cash != nil {
		s.Cash = maps.Clone(*p.Cash)
	}
}
