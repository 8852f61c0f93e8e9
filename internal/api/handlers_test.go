package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/taskhive/realtime/internal/database"
	"github.com/taskhive/realtime/internal/stats"
)

func wsUrl(httpUrl string) string {
	return "ws" + strings.TrimPrefix(httpUrl, "http") + "/ws"
}

func authHeader(t *testing.T) http.Header {
	t.Helper()
	token := signToken(t, testSigningKey, jwt.MapClaims{userIdClaim: 42})
	return http.Header{"Cookie": {tokenCookieKey + "=" + token}}
}

func Test_serveWs(t *testing.T) {
	t.Run("upgrades and serves the connection", func(t *testing.T) {
		db := &database.MockRealtimeRepository{}
		db.On("GetAccountById", 42).Return(database.Account{
			Id:           42,
			Username:     "alice",
			EmailAddress: "alice@example.com",
			Role:         "member",
		}, nil)
		db.On("ListOnlineAccounts").Return([]database.Account{
			{Id: 42, Username: "alice", Online: true},
		}, nil)
		db.On("CreateActivity", mock.AnythingOfType("database.Activity")).Return(database.Activity{Id: 1}, nil).Maybe()

		su := &stats.MockStatsUpdater{}
		su.On("Incr", "ActiveConnections").Return().Once()
		su.On("Decr", "ActiveConnections").Return().Maybe()

		_, mux := newTestApp(t, db, su)
		srv := httptest.NewServer(mux)
		defer srv.Close()

		conn, resp, err := websocket.DefaultDialer.Dial(wsUrl(srv.URL), authHeader(t))
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

		// round-trip a request through the served connection
		require.NoError(t, conn.WriteJSON(map[string]any{
			"id":           1,
			"online_users": map[string]any{},
		}))

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)

		var reply map[string]any
		require.NoError(t, json.Unmarshal(raw, &reply))
		require.Contains(t, reply, "online_users_list")
		users := reply["online_users_list"].([]any)
		require.Len(t, users, 1)
		assert.Equal(t, "alice", users[0].(map[string]any)["name"])

		su.AssertExpectations(t)
	})

	t.Run("rejects requests without a session", func(t *testing.T) {
		_, mux := newTestApp(t, &database.MockRealtimeRepository{}, &stats.MockStatsUpdater{})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		_, resp, err := websocket.DefaultDialer.Dial(wsUrl(srv.URL), nil)
		require.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unknown account", func(t *testing.T) {
		db := &database.MockRealtimeRepository{}
		db.On("GetAccountById", 42).Return(database.Account{}, sql.ErrNoRows)

		_, mux := newTestApp(t, db, &stats.MockStatsUpdater{})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		_, resp, err := websocket.DefaultDialer.Dial(wsUrl(srv.URL), authHeader(t))
		require.Error(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("rejects a disallowed origin", func(t *testing.T) {
		db := &database.MockRealtimeRepository{}
		db.On("GetAccountById", 42).Return(database.Account{Id: 42, Username: "alice"}, nil)

		_, mux := newTestApp(t, db, &stats.MockStatsUpdater{})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		header := authHeader(t)
		header.Set("Origin", "http://evil.example.com")

		_, resp, err := websocket.DefaultDialer.Dial(wsUrl(srv.URL), header)
		require.Error(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}
