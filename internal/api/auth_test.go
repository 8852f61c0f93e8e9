package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/taskhive/realtime/internal/config"
	"github.com/taskhive/realtime/internal/database"
	"github.com/taskhive/realtime/internal/server"
	"github.com/taskhive/realtime/internal/stats"
	"github.com/taskhive/realtime/internal/testutil"
)

var testSigningKey = []byte("test-signing-key")

func newTestApp(t *testing.T, db database.Repository, su *stats.MockStatsUpdater) (*RealtimeApp, *http.ServeMux) {
	t.Helper()
	su.On("RegisterMetric", mock.Anything).Return().Times(6)

	logger := testutil.TestLogger(t)
	ss, err := server.NewSyncServer(logger, db, su, time.Hour)
	require.NoError(t, err)

	mux := http.NewServeMux()
	app := NewRealtimeApp(mux, logger, ss, db, su, &config.Config{
		ServerAddr:     "localhost:0",
		SigningKey:     testSigningKey,
		AllowedOrigins: []string{"http://localhost:3000"},
	})

	return app, mux
}

func signToken(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func Test_authMiddleware(t *testing.T) {
	app, _ := newTestApp(t, &database.MockRealtimeRepository{}, &stats.MockStatsUpdater{})

	var gotUserId int
	var nextCalled bool
	handler := app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		gotUserId, _ = UserId(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("missing cookie", func(t *testing.T) {
		nextCalled = false
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		rec := httptest.NewRecorder()

		handler(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, nextCalled)
	})

	t.Run("malformed token", func(t *testing.T) {
		nextCalled = false
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "not-a-jwt"})
		rec := httptest.NewRecorder()

		handler(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, nextCalled)
	})

	t.Run("token signed with the wrong key", func(t *testing.T) {
		nextCalled = false
		token := signToken(t, []byte("some-other-key"), jwt.MapClaims{userIdClaim: 42})
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: token})
		rec := httptest.NewRecorder()

		handler(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, nextCalled)
	})

	t.Run("token without a user id claim", func(t *testing.T) {
		nextCalled = false
		token := signToken(t, testSigningKey, jwt.MapClaims{"sub": "alice"})
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: token})
		rec := httptest.NewRecorder()

		handler(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, nextCalled)
	})

	t.Run("valid token", func(t *testing.T) {
		nextCalled = false
		token := signToken(t, testSigningKey, jwt.MapClaims{userIdClaim: 42})
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: token})
		rec := httptest.NewRecorder()

		handler(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, nextCalled)
		assert.Equal(t, 42, gotUserId)
		assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
	})
}

func TestUserId(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := UserId(req.Context())
	assert.False(t, ok, "expected no user id on a bare context")

	ctx := WithUserId(req.Context(), 7)
	id, ok := UserId(ctx)
	assert.True(t, ok)
	assert.Equal(t, 7, id)
}
