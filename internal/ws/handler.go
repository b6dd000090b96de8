// Package ws bridges websocket connections onto room inboxes. Each
// connection gets a reader loop and a writer goroutine; the room is the
// only place state lives.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/railgrid/server/internal/auth"
	"github.com/railgrid/server/internal/lifecycle"
	"github.com/railgrid/server/internal/protocol"
	"github.com/railgrid/server/internal/room"
)

const (
	writeTimeout = 3 * time.Second
	idleTimeout  = 5 * time.Minute

	outboxSize = 32
)

// Handler upgrades GET /ws?session=<id>&token=<jwt>. The connection is
// bound to one session; join/leave messages for any other session id are
// rejected.
func Handler(m *lifecycle.Manager, secret []byte, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session")
		if sessionID == "" {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}
		claims, err := auth.Verify(secret, auth.TokenFromRequest(r))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		rm, err := m.Room(r.Context(), sessionID)
		if err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := uuid.NewString()
		out := make(chan protocol.ServerMessage, outboxSize)
		rm.Inbox() <- room.Attach{ConnID: connID, UserID: claims.UserID, Outbox: out}
		defer func() { rm.Inbox() <- room.Detach{ConnID: connID} }()

		clog := log.With(
			zap.String("session", sessionID),
			zap.String("user", claims.UserID),
			zap.String("conn", connID),
		)
		clog.Debug("connection attached")

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go writer(writeCtx, conn, out, clog)

		readLoop(r.Context(), conn, rm, connID, claims.UserID, sessionID, clog)
	}
}

// writer drains the room outbox onto the socket. The room closes the
// outbox when it drops or shuts down the client.
func writer(ctx context.Context, conn *websocket.Conn, out <-chan protocol.ServerMessage, log *zap.Logger) {
	for msg := range out {
		data, err := protocol.EncodeServer(msg)
		if err != nil {
			log.Error("encode server message", zap.Error(err))
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err = conn.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			return
		}
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, rm *room.Room, connID, userID, sessionID string, log *zap.Logger) {
	for {
		rctx, cancel := context.WithTimeout(ctx, idleTimeout)
		_, data, err := conn.Read(rctx)
		cancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			// Read error or idle timeout; Detach in defer handles presence.
			return
		}

		msg, err := protocol.DecodeClient(data)
		if err != nil {
			log.Debug("bad client frame", zap.Error(err))
			writeError(ctx, conn, "BadMessage", "malformed message")
			continue
		}

		switch cm := msg.(type) {
		case protocol.JoinGame:
			if cm.SessionID != sessionID {
				writeError(ctx, conn, "Forbidden", "connection is bound to another session")
				continue
			}
			rm.Inbox() <- room.JoinGame{ConnID: connID}

		case protocol.JoinLobby:
			if cm.SessionID != sessionID {
				writeError(ctx, conn, "Forbidden", "connection is bound to another session")
				continue
			}
			rm.Inbox() <- room.JoinLobby{ConnID: connID}

		case protocol.LeaveLobby:
			rm.Inbox() <- room.LeaveLobby{ConnID: connID}

		case protocol.Action:
			if cm.SessionID != sessionID {
				writeError(ctx, conn, "Forbidden", "connection is bound to another session")
				continue
			}
			rm.Inbox() <- room.SubmitAction{
				ConnID:    connID,
				UserID:    userID,
				Type:      cm.Type,
				Payload:   cm.Payload,
				ClientSeq: cm.ClientSeq,
			}
		}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, code, message string) {
	data, err := protocol.EncodeServer(protocol.ErrorReply{Code: code, Message: message})
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, data)
}
