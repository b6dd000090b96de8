// Package protocol defines the wire messages exchanged over the websocket
// as a closed tagged union keyed by event name. Both sides decode into
// concrete types so the dispatch switch over message kind is exhaustive.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/railgrid/server/internal/game"
)

// ClientMessage is anything a client may send to the server.
type ClientMessage interface {
	isClientMsg()
	Event() string
}

// JoinGame enters the game room for a session and requests a state:init
// baseline.
type JoinGame struct {
	SessionID string `json:"sessionId"`
}

// JoinLobby enters the pre-game lobby room for a session.
type JoinLobby struct {
	SessionID string `json:"sessionId"`
}

// LeaveLobby exits the pre-game lobby room.
type LeaveLobby struct {
	SessionID string `json:"sessionId"`
}

// Action submits a play. ClientSeq is a per-connection counter used for
// retry de-duplication and correlation; it never orders anything
// server-side.
type Action struct {
	SessionID string          `json:"sessionId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ClientSeq uint64          `json:"clientSeq"`
}

func (JoinGame) isClientMsg()   {}
func (JoinLobby) isClientMsg()  {}
func (LeaveLobby) isClientMsg() {}
func (Action) isClientMsg()     {}

func (JoinGame) Event() string   { return "join" }
func (JoinLobby) Event() string  { return "join-lobby" }
func (LeaveLobby) Event() string { return "leave-lobby" }
func (Action) Event() string     { return "action" }

// ServerMessage is anything the server may push to a client.
type ServerMessage interface {
	isServerMsg()
	Event() string
}

// StateInit carries the full authoritative state and re-baselines the
// receiving client's sequence expectation. It is the only message allowed
// to arrive out of the increment-by-1 order.
type StateInit struct {
	State     game.State `json:"state"`
	ServerSeq uint64     `json:"serverSeq"`
}

// StatePatch is one incremental delta. Ack echoes the clientSeq of the
// action that produced it, when there was one.
type StatePatch struct {
	Patch     game.Patch `json:"patch"`
	ServerSeq uint64     `json:"serverSeq"`
	Ack       uint64     `json:"ack,omitempty"`
}

// TurnChange advances the turn cursor. It occupies its own slot in the
// serverSeq stream so clients can gate input without inspecting state.
type TurnChange struct {
	CurrentTurnUserID string `json:"currentTurnUserId"`
	ServerSeq         uint64 `json:"serverSeq"`
}

// PresenceUpdate reports a member going on- or offline. Not part of the
// serverSeq stream.
type PresenceUpdate struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// LobbyUpdated announces a membership change to lobby observers with the
// full member list. Ordered only by delivery.
type LobbyUpdated struct {
	SessionID string            `json:"sessionId"`
	Players   []game.PlayerView `json:"players"`
	Action    string            `json:"action"` // "roster" | "player-joined" | "player-left"
	Timestamp time.Time         `json:"timestamp"`
}

// GameStarted is the lifecycle transition notice broadcast on start.
type GameStarted struct {
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}

// Chat relays a turn-independent chat action to the room.
type Chat struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorReply is a protocol-level failure scoped to one requester. Code is
// stable so callers can branch on it.
type ErrorReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (StateInit) isServerMsg()      {}
func (StatePatch) isServerMsg()     {}
func (TurnChange) isServerMsg()     {}
func (PresenceUpdate) isServerMsg() {}
func (LobbyUpdated) isServerMsg()   {}
func (GameStarted) isServerMsg()    {}
func (Chat) isServerMsg()           {}
func (ErrorReply) isServerMsg()     {}

func (StateInit) Event() string      { return "state:init" }
func (StatePatch) Event() string     { return "state:patch" }
func (TurnChange) Event() string     { return "turn:change" }
func (PresenceUpdate) Event() string { return "presence:update" }
func (LobbyUpdated) Event() string   { return "lobby-updated" }
func (GameStarted) Event() string    { return "game-started" }
func (Chat) Event() string           { return "chat" }
func (ErrorReply) Event() string     { return "error" }
