// Package session owns the game lifecycle state machine and membership
// invariants. Everything here is pure in-memory bookkeeping; the room loop
// serializes access and the store persists the result.
package session

import (
	"crypto/rand"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/railgrid/server/internal/game"
)

type Status string

const (
	StatusSetup        Status = "setup"
	StatusInitialBuild Status = "initialBuild"
	StatusActive       Status = "active"
	StatusCompleted    Status = "completed"
	StatusAbandoned    Status = "abandoned"
)

const (
	MinPlayers = 2
	MaxPlayers = 6

	JoinCodeLength = 8
)

// Palette is the finite set of player colors, assigned uniquely per
// session in declaration order when the client's preference is taken.
var Palette = []string{"red", "blue", "green", "yellow", "purple", "orange"}

// BotProfile describes an AI seat. Cosmetic text and decision quality live
// elsewhere; the session only needs the descriptor.
type BotProfile struct {
	Difficulty string
	Archetype  string
}

// Player is one membership in a session. UserID is empty for bots.
type Player struct {
	ID       string
	UserID   string
	Name     string
	Color    string
	IsOnline bool
	Bot      *BotProfile
}

func (p *Player) IsBot() bool { return p.Bot != nil }

// Session is one game instance.
type Session struct {
	ID         string
	JoinCode   string // stored uppercase, resolved case-insensitively
	OwnerID    string
	Status     Status
	MaxPlayers int
	IsPublic   bool
	Players    []*Player
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// New creates a session in setup with the owner already seated.
func New(ownerID, ownerName string, maxPlayers int, isPublic bool) *Session {
	if maxPlayers < MinPlayers {
		maxPlayers = MinPlayers
	}
	if maxPlayers > MaxPlayers {
		maxPlayers = MaxPlayers
	}
	now := time.Now().UTC()
	s := &Session{
		ID:         uuid.NewString(),
		JoinCode:   NewJoinCode(),
		OwnerID:    ownerID,
		Status:     StatusSetup,
		MaxPlayers: maxPlayers,
		IsPublic:   isPublic,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.Players = append(s.Players, &Player{
		ID:     uuid.NewString(),
		UserID: ownerID,
		Name:   ownerName,
		Color:  Palette[0],
	})
	return s
}

// NewJoinCode returns a fresh human-shareable code. Uniqueness is enforced
// by the store; callers regenerate on collision.
func NewJoinCode() string {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	code := make([]byte, JoinCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			// crypto/rand only fails when the platform source is broken
			panic(err)
		}
		code[i] = charset[n.Int64()]
	}
	return string(code)
}

// NormalizeJoinCode folds a user-supplied code for case-insensitive lookup.
func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// PlayerByUserID finds the membership for a user, nil if none.
func (s *Session) PlayerByUserID(userID string) *Player {
	if userID == "" {
		return nil
	}
	for _, p := range s.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (s *Session) playerByID(id string) *Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *Session) colorTaken(color string) bool {
	for _, p := range s.Players {
		if p.Color == color {
			return true
		}
	}
	return false
}

// freeColor honors the suggestion when available, otherwise hands out the
// first palette color nobody holds. First request wins on races because
// the room loop serializes joins.
func (s *Session) freeColor(preferred string) (string, bool) {
	if preferred != "" && slices.Contains(Palette, preferred) && !s.colorTaken(preferred) {
		return preferred, true
	}
	for _, c := range Palette {
		if !s.colorTaken(c) {
			return c, true
		}
	}
	return "", false
}

// Join seats a user. The returned bool is false when the user was already
// a member, in which case no membership event should fire.
func (s *Session) Join(userID, name, preferredColor string) (*Player, bool, error) {
	if existing := s.PlayerByUserID(userID); existing != nil {
		return existing, false, nil
	}
	if s.Status != StatusSetup {
		return nil, false, ErrInvalidJoinCode
	}
	if len(s.Players) >= s.MaxPlayers {
		return nil, false, ErrGameFull
	}
	color, ok := s.freeColor(preferredColor)
	if !ok {
		return nil, false, ErrGameFull
	}
	p := &Player{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   name,
		Color:  color,
	}
	s.Players = append(s.Players, p)
	s.touch()
	return p, true, nil
}

// AddBot seats an AI player. Owner-only, setup-only.
func (s *Session) AddBot(requesterID, name, difficulty, archetype string) (*Player, error) {
	if requesterID != s.OwnerID {
		return nil, ErrNotGameCreator
	}
	if s.Status != StatusSetup {
		return nil, ErrGameAlreadyStarted
	}
	if len(s.Players) >= s.MaxPlayers {
		return nil, ErrGameFull
	}
	color, ok := s.freeColor("")
	if !ok {
		return nil, ErrGameFull
	}
	p := &Player{
		ID:    uuid.NewString(),
		Name:  name,
		Color: color,
		Bot:   &BotProfile{Difficulty: difficulty, Archetype: archetype},
	}
	s.Players = append(s.Players, p)
	s.touch()
	return p, nil
}

// RemoveBot unseats an AI player. Owner-only, setup-only.
func (s *Session) RemoveBot(requesterID, playerID string) (*Player, error) {
	if requesterID != s.OwnerID {
		return nil, ErrNotGameCreator
	}
	if s.Status != StatusSetup {
		return nil, ErrGameAlreadyStarted
	}
	p := s.playerByID(playerID)
	if p == nil || !p.IsBot() {
		return nil, ErrNotMember
	}
	s.removePlayer(p)
	return p, nil
}

// Start moves setup into initialBuild. Terminal once past setup: a second
// start fails with GameAlreadyStarted no matter who asks.
func (s *Session) Start(requesterID string) error {
	if s.Status != StatusSetup {
		return ErrGameAlreadyStarted
	}
	if requesterID != s.OwnerID {
		return ErrNotGameCreator
	}
	if len(s.Players) < MinPlayers {
		return ErrInsufficientPlayers
	}
	s.Status = StatusInitialBuild
	s.touch()
	return nil
}

// EnterActive moves initialBuild into active play, driven by the rule
// evaluator's phase-completion signal.
func (s *Session) EnterActive() {
	if s.Status == StatusInitialBuild {
		s.Status = StatusActive
		s.touch()
	}
}

// Complete records an external victory signal. Valid from any state.
func (s *Session) Complete() {
	s.Status = StatusCompleted
	s.touch()
}

// Accepting reports whether the Action Gateway may take turn-gated actions.
func (s *Session) Accepting() bool {
	return s.Status == StatusInitialBuild || s.Status == StatusActive
}

// Leave removes a user's membership. The second return is true when the
// departure abandoned the session (last human member left before
// completion).
func (s *Session) Leave(userID string) (*Player, bool, error) {
	p := s.PlayerByUserID(userID)
	if p == nil {
		return nil, false, ErrNotMember
	}
	s.removePlayer(p)

	abandoned := false
	if s.humanCount() == 0 && s.Status != StatusCompleted && s.Status != StatusAbandoned {
		s.Status = StatusAbandoned
		abandoned = true
	}
	return p, abandoned, nil
}

// TransferOwnership reassigns the session to a currently-online member and
// removes the requesting owner as a side effect.
func (s *Session) TransferOwnership(requesterID, newOwnerID string) error {
	if requesterID != s.OwnerID {
		return ErrNotGameCreator
	}
	next := s.PlayerByUserID(newOwnerID)
	if next == nil {
		return ErrNotMember
	}
	if !next.IsOnline {
		return ErrNewOwnerNotOnline
	}
	s.OwnerID = newOwnerID
	if p := s.PlayerByUserID(requesterID); p != nil {
		s.removePlayer(p)
	}
	s.touch()
	return nil
}

// SetPresence flips a member's online flag, reporting whether it changed.
func (s *Session) SetPresence(userID string, online bool) bool {
	p := s.PlayerByUserID(userID)
	if p == nil || p.IsOnline == online {
		return false
	}
	p.IsOnline = online
	s.touch()
	return true
}

func (s *Session) humanCount() int {
	n := 0
	for _, p := range s.Players {
		if !p.IsBot() {
			n++
		}
	}
	return n
}

func (s *Session) removePlayer(target *Player) {
	s.Players = slices.DeleteFunc(s.Players, func(p *Player) bool { return p == target })
	s.touch()
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now().UTC()
}

// PlayerViews renders the member list for the wire.
func (s *Session) PlayerViews() []game.PlayerView {
	views := make([]game.PlayerView, 0, len(s.Players))
	for _, p := range s.Players {
		views = append(views, game.PlayerView{
			ID:       p.ID,
			UserID:   p.UserID,
			Name:     p.Name,
			Color:    p.Color,
			IsOnline: p.IsOnline,
			IsBot:    p.IsBot(),
		})
	}
	return views
}
