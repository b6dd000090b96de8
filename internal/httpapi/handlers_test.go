package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/railgrid/server/internal/auth"
	"github.com/railgrid/server/internal/hub"
	"github.com/railgrid/server/internal/lifecycle"
	"github.com/railgrid/server/internal/rules"
	"github.com/railgrid/server/internal/store"
)

var secret = []byte("test-secret")

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	st, err := store.NewGorm(db)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := hub.New(ctx, st, rules.NewRail(), zap.NewNop())
	t.Cleanup(func() { h.Inbox() <- hub.ShutdownHub{} })
	m := lifecycle.NewManager(st, h, rules.NewRail(), zap.NewNop())

	srv := httptest.NewServer(SetupRoutes(m, secret, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv
}

func token(t *testing.T, userID, name string) string {
	t.Helper()
	tok, err := auth.Sign(secret, userID, name, time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, srv *httptest.Server, method, path, tok, body string) *http.Response {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("{}")
	} else {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSessionEndpoints(t *testing.T) {
	srv := newTestServer(t)
	alice := token(t, "u-alice", "alice")
	bob := token(t, "u-bob", "bob")

	resp := do(t, srv, http.MethodPost, "/sessions", alice, `{"maxPlayers":4,"isPublic":true}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[sessionView](t, resp)
	require.NotEmpty(t, created.ID)
	require.Len(t, created.JoinCode, 8)
	assert.Equal(t, "u-alice", created.OwnerID)

	resp = do(t, srv, http.MethodPost, "/sessions/join", bob,
		fmt.Sprintf(`{"joinCode":%q}`, strings.ToLower(created.JoinCode)))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	joined := decodeBody[struct {
		SessionID string `json:"sessionId"`
		PlayerID  string `json:"playerId"`
		Color     string `json:"color"`
	}](t, resp)
	assert.Equal(t, created.ID, joined.SessionID)
	assert.NotEmpty(t, joined.Color)

	resp = do(t, srv, http.MethodGet, "/sessions", bob, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decodeBody[[]sessionView](t, resp)
	require.Len(t, listed, 1)
	assert.Len(t, listed[0].Players, 2)

	// Only the owner may start.
	resp = do(t, srv, http.MethodPost, "/sessions/"+created.ID+"/start", bob, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = do(t, srv, http.MethodPost, "/sessions/"+created.ID+"/start", alice, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, srv, http.MethodPost, "/sessions/"+created.ID+"/start", alice, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestJoinUnknownCodeIs404(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, srv, http.MethodPost, "/sessions/join", token(t, "u-x", "x"), `{"joinCode":"NOSUCH12"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeBody[struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}](t, resp)
	assert.Equal(t, "InvalidJoinCode", body.Error.Code)
}

func TestBotManagement(t *testing.T) {
	srv := newTestServer(t)
	alice := token(t, "u-alice", "alice")
	bob := token(t, "u-bob", "bob")

	resp := do(t, srv, http.MethodPost, "/sessions", alice, `{"maxPlayers":4,"isPublic":true}`)
	created := decodeBody[sessionView](t, resp)

	resp = do(t, srv, http.MethodPost, "/sessions/"+created.ID+"/bots", bob,
		`{"name":"Casey","difficulty":"easy","archetype":"builder"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "bots are owner-only")

	resp = do(t, srv, http.MethodPost, "/sessions/"+created.ID+"/bots", alice,
		`{"name":"Casey","difficulty":"easy","archetype":"builder"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/sessions", alice, "")
	listed := decodeBody[[]sessionView](t, resp)
	require.Len(t, listed, 1)
	require.Len(t, listed[0].Players, 2)
	var botID string
	for _, p := range listed[0].Players {
		if p.IsBot {
			botID = p.ID
		}
	}
	require.NotEmpty(t, botID)

	resp = do(t, srv, http.MethodDelete, "/sessions/"+created.ID+"/bots/"+botID, alice, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestDeleteModesOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	alice := token(t, "u-alice", "alice")
	bob := token(t, "u-bob", "bob")

	resp := do(t, srv, http.MethodPost, "/sessions", alice, `{"maxPlayers":4,"isPublic":true}`)
	created := decodeBody[sessionView](t, resp)
	resp = do(t, srv, http.MethodPost, "/sessions/join", bob, fmt.Sprintf(`{"joinCode":%q}`, created.JoinCode))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodDelete, "/sessions/"+created.ID+"?mode=soft", bob, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, srv, http.MethodDelete, "/sessions/"+created.ID+"?mode=hard", bob, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, srv, http.MethodDelete, "/sessions/"+created.ID+"?mode=bogus", alice, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodDelete, "/sessions/"+created.ID+"?mode=hard", alice, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/sessions", alice, "")
	listed := decodeBody[[]sessionView](t, resp)
	assert.Empty(t, listed)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, srv, http.MethodGet, "/sessions", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
