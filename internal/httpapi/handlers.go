package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/railgrid/server/internal/auth"
	"github.com/railgrid/server/internal/game"
	"github.com/railgrid/server/internal/lifecycle"
	"github.com/railgrid/server/internal/session"
	"github.com/railgrid/server/internal/store"
)

type sessionView struct {
	ID         string            `json:"id"`
	JoinCode   string            `json:"joinCode"`
	OwnerID    string            `json:"ownerId"`
	Status     session.Status    `json:"status"`
	MaxPlayers int               `json:"maxPlayers"`
	IsPublic   bool              `json:"isPublic"`
	Players    []game.PlayerView `json:"players"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

func toView(s *session.Session) sessionView {
	return sessionView{
		ID:         s.ID,
		JoinCode:   s.JoinCode,
		OwnerID:    s.OwnerID,
		Status:     s.Status,
		MaxPlayers: s.MaxPlayers,
		IsPublic:   s.IsPublic,
		Players:    s.PlayerViews(),
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func CreateSession(m *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := auth.FromContext(r.Context())
		var body struct {
			MaxPlayers int  `json:"maxPlayers"`
			IsPublic   bool `json:"isPublic"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "BadRequest", "malformed body")
			return
		}
		sess, err := m.Create(r.Context(), claims.UserID, claims.Name, body.MaxPlayers, body.IsPublic)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toView(sess))
	}
}

func ListSessions(m *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := auth.FromContext(r.Context())
		sessions, err := m.ListVisible(r.Context(), claims.UserID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		views := make([]sessionView, 0, len(sessions))
		for _, s := range sessions {
			views = append(views, toView(s))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func JoinSession(m *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := auth.FromContext(r.Context())
		var body struct {
			JoinCode       string `json:"joinCode"`
			PreferredColor string `json:"preferredColor"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "BadRequest", "malformed body")
			return
		}
		sessionID, player, err := m.JoinByCode(r.Context(), body.JoinCode, claims.UserID, claims.Name, body.PreferredColor)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			SessionID string `json:"sessionId"`
			PlayerID  string `json:"playerId"`
			Color     string `json:"color"`
		}{sessionID, player.ID, player.Color})
	}
}

func StartSession(m *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := auth.FromContext(r.Context())
		if err := m.Start(r.Context(), chi.URLParam(r, "id"), claims.UserID); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func LeaveSession(m *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := auth.FromContext(r.Context())
		if err := m.Leave(r.Context(), chi.URLParam(r, "id"), claims.UserID); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func CompleteSession(m *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := auth.FromContext(r.Context())
		var body struct {
			WinnerUserID string `json:"winnerUserId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "BadRequest", "malformed body")
			return
		}
		if err := m.Complete(r.Context(), chi.URLParam(r, "id"), claims.UserID, body.WinnerUserID); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func AddBot(m *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := auth.FromContext(r.Context())
		var body struct {
			Name       string `json:"name"`
			Difficulty string `json:"difficulty"`
			Archetype  string `json:"archetype"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "BadRequest", "malformed body")
			return
		}
		err := m.AddBot(r.Context(), chi.URLParam(r, "id"), claims.UserID, body.Name, body.Difficulty, body.Archetype)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func RemoveBot(m *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := auth.FromContext(r.Context())
		err := m.RemoveBot(r.Context(), chi.URLParam(r, "id"), claims.UserID, chi.URLParam(r, "playerID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeleteSession honors ?mode=soft|hard|transfer, defaulting to soft.
// Transfers take the new owner from ?newOwner=<userID>.
func DeleteSession(m *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := auth.FromContext(r.Context())
		mode := lifecycle.DeleteMode(r.URL.Query().Get("mode"))
		if mode == "" {
			mode = lifecycle.DeleteSoft
		}
		err := m.Delete(r.Context(), chi.URLParam(r, "id"), claims.UserID, mode, r.URL.Query().Get("newOwner"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{code, message}})
}

// writeDomainError maps domain errors onto HTTP statuses with their
// stable wire codes.
func writeDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NotFound", "session not found")
		return
	}
	if errors.Is(err, lifecycle.ErrBadDeleteMode) {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	code := session.Code(err)
	message := err.Error()
	var status int
	switch code {
	case "InvalidJoinCode":
		status = http.StatusNotFound
	case "NotGameCreator", "NotMember", "Forbidden":
		status = http.StatusForbidden
	case "GameFull", "GameAlreadyStarted", "InsufficientPlayers",
		"NewOwnerNotOnline", "NotYourTurn", "GameNotActive":
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
		message = "internal error"
	}
	writeError(w, status, code, message)
}
