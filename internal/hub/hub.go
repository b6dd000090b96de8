// Package hub owns the registry of live rooms. Like the rooms it manages,
// it is a single goroutine fed by a typed inbox, so registry reads and
// writes never race.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/railgrid/server/internal/game"
	"github.com/railgrid/server/internal/room"
	"github.com/railgrid/server/internal/rules"
	"github.com/railgrid/server/internal/session"
)

type HubMsg interface{ isHubMsg() }

// EnsureRoom returns the live room for a session, spinning one up from
// the given snapshot if none is running.
type EnsureRoom struct {
	Session *session.Session // only used if creation happens
	State   game.State
	Reply   chan *room.Room
}

// GetRoom looks up a running room by session id.
type GetRoom struct {
	SessionID string
	Reply     chan *room.Room // may receive nil
}

// GetByCode looks up a running room by normalized join code.
type GetByCode struct {
	JoinCode string
	Reply    chan *room.Room // may receive nil
}

type RemoveRoom struct {
	SessionID string
}

type ShutdownHub struct{}

func (EnsureRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (GetByCode) isHubMsg()   {}
func (RemoveRoom) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*room.Room // by session id
	byCode map[string]string     // join code -> session id

	store  room.Store
	eval   rules.Evaluator
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, store room.Store, eval rules.Evaluator, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		byCode: make(map[string]string),
		store:  store,
		eval:   eval,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureRoom:
				if r := h.rooms[msg.Session.ID]; r != nil {
					msg.Reply <- r
					break
				}
				r := room.New(h.ctx, msg.Session, msg.State, h.store, h.eval, h.log)
				h.rooms[msg.Session.ID] = r
				h.byCode[session.NormalizeJoinCode(msg.Session.JoinCode)] = msg.Session.ID
				msg.Reply <- r

			case GetRoom:
				msg.Reply <- h.rooms[msg.SessionID] // may be nil

			case GetByCode:
				msg.Reply <- h.rooms[h.byCode[session.NormalizeJoinCode(msg.JoinCode)]]

			case RemoveRoom:
				if r := h.rooms[msg.SessionID]; r != nil {
					r.Inbox() <- room.Shutdown{}
				}
				delete(h.rooms, msg.SessionID)
				for code, id := range h.byCode {
					if id == msg.SessionID {
						delete(h.byCode, code)
					}
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for _, r := range h.rooms {
		r.Inbox() <- room.Shutdown{}
	}
	clear(h.rooms)
	clear(h.byCode)
	h.cancel()
}
