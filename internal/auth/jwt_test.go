package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestSignVerifyRoundtrip(t *testing.T) {
	token, err := Sign(secret, "u-1", "alice", time.Hour)
	require.NoError(t, err)

	claims, err := Verify(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "alice", claims.Name)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	token, err := Sign(secret, "u-1", "alice", time.Hour)
	require.NoError(t, err)

	_, err = Verify([]byte("other-secret"), token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Verify(secret, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := Sign(secret, "u-1", "alice", -time.Minute)
	require.NoError(t, err)
	_, err = Verify(secret, expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	var gotUser string
	handler := Middleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := FromContext(r.Context())
		require.True(t, ok)
		gotUser = claims.UserID
	}))

	token, err := Sign(secret, "u-7", "bob", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-7", gotUser)

	// query token path used by websocket dials
	req = httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}
