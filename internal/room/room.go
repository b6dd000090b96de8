// Package room runs one goroutine per live session. The loop owns the
// session, the authoritative state, and the serverSeq counter; every
// mutation enters through the inbox and runs to completion before the
// next, which is the whole concurrency story for a session.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/railgrid/server/internal/game"
	"github.com/railgrid/server/internal/protocol"
	"github.com/railgrid/server/internal/rules"
	"github.com/railgrid/server/internal/session"
)

const saveTimeout = 5 * time.Second

// Store is the slice of persistence the room needs. Saves happen before
// any broadcast referencing the new state.
type Store interface {
	SaveSession(ctx context.Context, sess *session.Session, st game.State) error
}

type Msg interface{ isRoomMsg() }

// Attach registers a connection's outbox. Presence flips online.
type Attach struct {
	ConnID string
	UserID string
	Outbox chan protocol.ServerMessage
}

// Detach unregisters a connection. Presence flips offline once the user's
// last connection is gone.
type Detach struct{ ConnID string }

// JoinGame subscribes a connection to the game stream and answers with a
// full state:init baseline. Sending it again is how a client resyncs.
type JoinGame struct{ ConnID string }

// JoinLobby subscribes a connection to membership events and replays the
// current roster to it.
type JoinLobby struct{ ConnID string }

type LeaveLobby struct{ ConnID string }

// SubmitAction is a gameplay submission from one connection.
type SubmitAction struct {
	ConnID    string
	UserID    string
	Type      string
	Payload   json.RawMessage
	ClientSeq uint64
}

// JoinSession seats a user as a member (the HTTP join path).
type JoinSession struct {
	UserID         string
	Name           string
	PreferredColor string
	Reply          chan JoinReply
}

type JoinReply struct {
	Player *session.Player
	Err    error
}

// StartGame moves setup into initial build and deals the opening state.
type StartGame struct {
	UserID string
	Reply  chan error
}

// LeaveSession removes a user's membership.
type LeaveSession struct {
	UserID string
	Reply  chan LeaveReply
}

type LeaveReply struct {
	Abandoned bool
	Err       error
}

type AddBot struct {
	UserID     string
	Name       string
	Difficulty string
	Archetype  string
	Reply      chan error
}

type RemoveBot struct {
	UserID   string
	PlayerID string
	Reply    chan error
}

type TransferOwner struct {
	UserID     string
	NewOwnerID string
	Reply      chan error
}

// CompleteGame records an external victory signal. Owner-only.
type CompleteGame struct {
	UserID       string
	WinnerUserID string
	Reply        chan error
}

// GetView reflects internal state without data races. Test-only.
type GetView struct{ Reply chan View }

type Shutdown struct{}

func (Attach) isRoomMsg()        {}
func (Detach) isRoomMsg()        {}
func (JoinGame) isRoomMsg()      {}
func (JoinLobby) isRoomMsg()     {}
func (LeaveLobby) isRoomMsg()    {}
func (SubmitAction) isRoomMsg()  {}
func (JoinSession) isRoomMsg()   {}
func (StartGame) isRoomMsg()     {}
func (LeaveSession) isRoomMsg()  {}
func (AddBot) isRoomMsg()        {}
func (RemoveBot) isRoomMsg()     {}
func (TransferOwner) isRoomMsg() {}
func (CompleteGame) isRoomMsg()  {}
func (GetView) isRoomMsg()       {}
func (Shutdown) isRoomMsg()      {}

type View struct {
	ServerSeq  uint64
	Status     session.Status
	State      game.State
	NumClients int
}

type client struct {
	userID  string
	outbox  chan protocol.ServerMessage
	inGame  bool
	inLobby bool
}

type Room struct {
	inbox     chan Msg
	sess      *session.Session
	state     game.State
	serverSeq uint64

	clients map[string]*client // by connection id
	acked   map[string]uint64  // last successful clientSeq, by connection id

	store Store
	eval  rules.Evaluator
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, sess *session.Session, st game.State, store Store, eval rules.Evaluator, log *zap.Logger) *Room {
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		inbox:   make(chan Msg, 64),
		sess:    sess,
		state:   st,
		clients: make(map[string]*client),
		acked:   make(map[string]uint64),
		store:   store,
		eval:    eval,
		log:     log.With(zap.String("session", sess.ID)),
		ctx:     ctx,
		cancel:  cancel,
	}
	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) SessionID() string { return r.sess.ID }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Attach:
				r.handleAttach(msg)
			case Detach:
				r.handleDetach(msg)
			case JoinGame:
				r.handleJoinGame(msg)
			case JoinLobby:
				r.handleJoinLobby(msg)
			case LeaveLobby:
				if c := r.clients[msg.ConnID]; c != nil {
					c.inLobby = false
				}
			case SubmitAction:
				r.handleAction(msg)
			case JoinSession:
				msg.Reply <- r.handleJoinSession(msg)
			case StartGame:
				msg.Reply <- r.handleStart(msg)
			case LeaveSession:
				msg.Reply <- r.handleLeave(msg)
			case AddBot:
				msg.Reply <- r.handleAddBot(msg)
			case RemoveBot:
				msg.Reply <- r.handleRemoveBot(msg)
			case TransferOwner:
				msg.Reply <- r.handleTransfer(msg)
			case CompleteGame:
				msg.Reply <- r.handleComplete(msg)
			case GetView:
				msg.Reply <- View{
					ServerSeq:  r.serverSeq,
					Status:     r.sess.Status,
					State:      r.state.Clone(),
					NumClients: len(r.clients),
				}
			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handleAttach(msg Attach) {
	r.clients[msg.ConnID] = &client{userID: msg.UserID, outbox: msg.Outbox}
	if r.sess.SetPresence(msg.UserID, true) {
		r.state.Players = r.sess.PlayerViews()
		r.persistBestEffort("presence online")
		r.broadcastAll(protocol.PresenceUpdate{UserID: msg.UserID, IsOnline: true})
	}
}

func (r *Room) handleDetach(msg Detach) {
	c := r.clients[msg.ConnID]
	if c == nil {
		return
	}
	delete(r.clients, msg.ConnID)
	delete(r.acked, msg.ConnID)
	close(c.outbox)

	for _, other := range r.clients {
		if other.userID == c.userID {
			return // still connected elsewhere
		}
	}
	if r.sess.SetPresence(c.userID, false) {
		r.state.Players = r.sess.PlayerViews()
		r.persistBestEffort("presence offline")
		r.broadcastAll(protocol.PresenceUpdate{UserID: c.userID, IsOnline: false})
	}
}

func (r *Room) handleJoinGame(msg JoinGame) {
	c := r.clients[msg.ConnID]
	if c == nil {
		return
	}
	if r.sess.PlayerByUserID(c.userID) == nil {
		r.send(msg.ConnID, c, errorReply(session.ErrNotMember))
		return
	}
	c.inGame = true
	r.send(msg.ConnID, c, protocol.StateInit{State: r.state.Clone(), ServerSeq: r.serverSeq})
}

func (r *Room) handleJoinLobby(msg JoinLobby) {
	c := r.clients[msg.ConnID]
	if c == nil {
		return
	}
	c.inLobby = true
	r.send(msg.ConnID, c, protocol.LobbyUpdated{
		SessionID: r.sess.ID,
		Players:   r.sess.PlayerViews(),
		Action:    "roster",
		Timestamp: time.Now().UTC(),
	})
}

// handleAction is the action gateway: membership, lifecycle, and turn
// gates run before the evaluator, and nothing is committed or broadcast
// unless the save succeeds.
func (r *Room) handleAction(msg SubmitAction) {
	c := r.clients[msg.ConnID]
	if c == nil {
		return
	}
	// Retries of an already-applied action are dropped, not re-applied.
	// acked only advances on success so a failed action may retry with
	// the same clientSeq.
	if msg.ClientSeq != 0 && msg.ClientSeq <= r.acked[msg.ConnID] {
		return
	}
	if r.sess.PlayerByUserID(msg.UserID) == nil {
		r.send(msg.ConnID, c, errorReply(session.ErrNotMember))
		return
	}

	if msg.Type == "chat" {
		r.handleChat(msg, c)
		return
	}

	if !r.sess.Accepting() {
		r.send(msg.ConnID, c, errorReply(session.ErrGameNotActive))
		return
	}
	if !rules.TurnIndependent(msg.Type) && r.state.CurrentTurnUserID != msg.UserID {
		r.send(msg.ConnID, c, errorReply(session.ErrNotYourTurn))
		return
	}

	out, err := r.eval.Apply(r.ctx, r.sess, r.state, rules.Action{
		ActorUserID: msg.UserID,
		Type:        msg.Type,
		Payload:     msg.Payload,
	})
	if err != nil {
		r.send(msg.ConnID, c, errorReply(err))
		return
	}

	if out.PhaseComplete {
		r.sess.EnterActive()
	}
	if out.Completed {
		r.sess.Complete()
		out.State.Phase = game.PhaseCompleted
		phase := out.State.Phase
		out.Delta.Phase = &phase
		r.log.Info("game completed", zap.String("winner", out.WinnerUserID))
	}
	if out.TurnAdvance {
		out.State.CurrentTurnUserID = out.NextTurnUserID
	}

	if err := r.persist(out.State); err != nil {
		r.log.Error("save failed, action not committed",
			zap.String("type", msg.Type), zap.Error(err))
		r.send(msg.ConnID, c, errorReply(err))
		return
	}

	r.state = out.State
	r.acked[msg.ConnID] = msg.ClientSeq

	if !out.Delta.IsEmpty() {
		r.serverSeq++
		r.broadcastGame(protocol.StatePatch{
			Patch:     out.Delta,
			ServerSeq: r.serverSeq,
			Ack:       msg.ClientSeq,
		})
	}
	if out.TurnAdvance {
		r.serverSeq++
		r.broadcastGame(protocol.TurnChange{
			CurrentTurnUserID: out.NextTurnUserID,
			ServerSeq:         r.serverSeq,
		})
	}
}

func (r *Room) handleChat(msg SubmitAction, c *client) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(msg.Payload, &body); err != nil || body.Text == "" {
		r.send(msg.ConnID, c, errorReply(rules.ErrBadPayload))
		return
	}
	r.acked[msg.ConnID] = msg.ClientSeq
	r.broadcastGame(protocol.Chat{
		SessionID: r.sess.ID,
		UserID:    msg.UserID,
		Text:      body.Text,
		Timestamp: time.Now().UTC(),
	})
}

func (r *Room) handleJoinSession(msg JoinSession) JoinReply {
	p, created, err := r.sess.Join(msg.UserID, msg.Name, msg.PreferredColor)
	if err != nil {
		return JoinReply{Err: err}
	}
	if !created {
		return JoinReply{Player: p}
	}
	prev := r.state
	r.state = r.state.Clone()
	r.state.Players = r.sess.PlayerViews()
	if err := r.persist(r.state); err != nil {
		r.sess.Players = slices.DeleteFunc(r.sess.Players, func(q *session.Player) bool { return q == p })
		r.state = prev
		return JoinReply{Err: err}
	}
	r.announceMembership("player-joined", prev)
	return JoinReply{Player: p}
}

func (r *Room) handleStart(msg StartGame) error {
	if err := r.sess.Start(msg.UserID); err != nil {
		return err
	}
	next := r.eval.InitialState(r.sess)
	if err := r.persist(next); err != nil {
		r.sess.Status = session.StatusSetup
		return err
	}
	r.state = next
	r.serverSeq++ // the transition occupies one slot in the stream

	r.broadcastAll(protocol.GameStarted{SessionID: r.sess.ID, Timestamp: time.Now().UTC()})
	init := protocol.StateInit{State: r.state.Clone(), ServerSeq: r.serverSeq}
	for id, c := range r.clients {
		if c.inGame {
			r.send(id, c, init)
		}
	}
	return nil
}

func (r *Room) handleLeave(msg LeaveSession) LeaveReply {
	prevPlayers := slices.Clone(r.sess.Players)
	prevStatus := r.sess.Status
	prevState := r.state

	_, abandoned, err := r.sess.Leave(msg.UserID)
	if err != nil {
		return LeaveReply{Err: err}
	}
	r.state = r.state.Clone()
	r.state.Players = r.sess.PlayerViews()

	turnPassed := false
	if r.sess.Accepting() && r.state.CurrentTurnUserID == msg.UserID {
		r.state.CurrentTurnUserID = r.firstHuman()
		turnPassed = true
	}

	if err := r.persist(r.state); err != nil {
		r.sess.Players = prevPlayers
		r.sess.Status = prevStatus
		r.state = prevState
		return LeaveReply{Err: err}
	}

	r.announceMembership("player-left", prevState)
	if turnPassed {
		r.serverSeq++
		r.broadcastGame(protocol.TurnChange{
			CurrentTurnUserID: r.state.CurrentTurnUserID,
			ServerSeq:         r.serverSeq,
		})
	}
	return LeaveReply{Abandoned: abandoned}
}

func (r *Room) handleAddBot(msg AddBot) error {
	prev := r.state
	_, err := r.sess.AddBot(msg.UserID, msg.Name, msg.Difficulty, msg.Archetype)
	if err != nil {
		return err
	}
	r.state = r.state.Clone()
	r.state.Players = r.sess.PlayerViews()
	if err := r.persist(r.state); err != nil {
		r.sess.Players = r.sess.Players[:len(r.sess.Players)-1]
		r.state = prev
		return err
	}
	r.announceMembership("player-joined", prev)
	return nil
}

func (r *Room) handleRemoveBot(msg RemoveBot) error {
	prevPlayers := slices.Clone(r.sess.Players)
	prev := r.state
	if _, err := r.sess.RemoveBot(msg.UserID, msg.PlayerID); err != nil {
		return err
	}
	r.state = r.state.Clone()
	r.state.Players = r.sess.PlayerViews()
	if err := r.persist(r.state); err != nil {
		r.sess.Players = prevPlayers
		r.state = prev
		return err
	}
	r.announceMembership("player-left", prev)
	return nil
}

func (r *Room) handleTransfer(msg TransferOwner) error {
	prevPlayers := slices.Clone(r.sess.Players)
	prevOwner := r.sess.OwnerID
	prev := r.state
	if err := r.sess.TransferOwnership(msg.UserID, msg.NewOwnerID); err != nil {
		return err
	}
	r.state = r.state.Clone()
	r.state.Players = r.sess.PlayerViews()
	if err := r.persist(r.state); err != nil {
		r.sess.Players = prevPlayers
		r.sess.OwnerID = prevOwner
		r.state = prev
		return err
	}
	r.announceMembership("player-left", prev)
	return nil
}

func (r *Room) handleComplete(msg CompleteGame) error {
	if msg.UserID != r.sess.OwnerID {
		return session.ErrNotGameCreator
	}
	prevStatus := r.sess.Status
	prev := r.state
	r.sess.Complete()
	r.state = r.state.Clone()
	r.state.Phase = game.PhaseCompleted
	if err := r.persist(r.state); err != nil {
		r.sess.Status = prevStatus
		r.state = prev
		return err
	}
	if delta := game.Diff(prev, r.state); !delta.IsEmpty() {
		r.serverSeq++
		r.broadcastGame(protocol.StatePatch{Patch: delta, ServerSeq: r.serverSeq})
	}
	r.log.Info("game completed", zap.String("winner", msg.WinnerUserID))
	return nil
}

// announceMembership ships the roster to lobby observers and, when the
// membership change altered visible state, a patch to game observers.
func (r *Room) announceMembership(action string, prev game.State) {
	r.broadcastLobby(protocol.LobbyUpdated{
		SessionID: r.sess.ID,
		Players:   r.sess.PlayerViews(),
		Action:    action,
		Timestamp: time.Now().UTC(),
	})
	if delta := game.Diff(prev, r.state); !delta.IsEmpty() {
		r.serverSeq++
		r.broadcastGame(protocol.StatePatch{Patch: delta, ServerSeq: r.serverSeq})
	}
}

// firstHuman picks the turn holder when the player holding the turn
// leaves mid-game. Seat order is stable so the pick is deterministic.
func (r *Room) firstHuman() string {
	for _, p := range r.sess.Players {
		if p.UserID != "" {
			return p.UserID
		}
	}
	return ""
}

func (r *Room) persist(st game.State) error {
	ctx, cancel := context.WithTimeout(r.ctx, saveTimeout)
	defer cancel()
	if err := r.store.SaveSession(ctx, r.sess, st); err != nil {
		return errors.Join(session.ErrInternal, err)
	}
	return nil
}

// persistBestEffort saves without failing the triggering event. Presence
// flips are ephemeral and must not block the connection path.
func (r *Room) persistBestEffort(what string) {
	if err := r.persist(r.state); err != nil {
		r.log.Warn("best-effort save failed", zap.String("cause", what), zap.Error(err))
	}
}

func errorReply(err error) protocol.ErrorReply {
	switch {
	case errors.Is(err, rules.ErrBadPayload):
		return protocol.ErrorReply{Code: "BadRequest", Message: err.Error()}
	case errors.Is(err, rules.ErrUnsupportedAction),
		errors.Is(err, rules.ErrIllegalBuild),
		errors.Is(err, rules.ErrUnknownLoad),
		errors.Is(err, rules.ErrInsufficientCash):
		return protocol.ErrorReply{Code: "IllegalAction", Message: err.Error()}
	}
	code := session.Code(err)
	msg := err.Error()
	if code == "Internal" {
		msg = "internal error"
	}
	return protocol.ErrorReply{Code: code, Message: msg}
}

func (r *Room) send(connID string, c *client, msg protocol.ServerMessage) {
	select {
	case c.outbox <- msg:
	default:
		// Slow or stuck client: drop it rather than stall the loop.
		close(c.outbox)
		delete(r.clients, connID)
		delete(r.acked, connID)
	}
}

func (r *Room) broadcastGame(msg protocol.ServerMessage) {
	for id, c := range r.clients {
		if c.inGame {
			r.send(id, c, msg)
		}
	}
}

func (r *Room) broadcastLobby(msg protocol.ServerMessage) {
	for id, c := range r.clients {
		if c.inLobby {
			r.send(id, c, msg)
		}
	}
}

func (r *Room) broadcastAll(msg protocol.ServerMessage) {
	for id, c := range r.clients {
		r.send(id, c, msg)
	}
}

func (r *Room) shutdown() {
	for id, c := range r.clients {
		close(c.outbox)
		delete(r.clients, id)
	}
	r.cancel()
}
