package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"pyrechat/internal/chat"
	"pyrechat/internal/storage"
)

const testSecret = "test-secret"

func newTestRelay(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := storage.NewStore("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(t.Context()))
	server, err := NewServer(store, Options{Secret: testSecret, AuthBurst: 100}, zerolog.Nop())
	require.NoError(t, err)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		srv.Close()
		server.Close()
		_ = store.Close()
	})
	return srv
}

func register(t *testing.T, base, username, password string) *http.Response {
	t.Helper()
	q := url.Values{"username": {username}, "password": {password}}
	resp, err := http.Post(base+"/register?"+q.Encode(), "", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func login(t *testing.T, base, username, password string) (*http.Response, tokenResponse) {
	t.Helper()
	resp, err := http.PostForm(base+"/token", url.Values{"username": {username}, "password": {password}})
	require.NoError(t, err)
	defer resp.Body.Close()
	var body tokenResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func TestAccountFlow(t *testing.T) {
	srv := newTestRelay(t)

	require.Equal(t, http.StatusOK, register(t, srv.URL, "ada", "lovelace").StatusCode)
	dup := register(t, srv.URL, "ada", "other")
	require.Equal(t, http.StatusBadRequest, dup.StatusCode)
	var detail map[string]string
	require.NoError(t, json.NewDecoder(dup.Body).Decode(&detail))
	require.Equal(t, "Username already exists", detail["detail"])

	resp, _ := login(t, srv.URL, "ada", "wrong")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, token := login(t, srv.URL, "ada", "lovelace")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "bearer", token.TokenType)
	subject, err := ValidateAccessToken(testSecret, token.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "ada", subject)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/users/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	me, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer me.Body.Close()
	require.Equal(t, http.StatusOK, me.StatusCode)
	var profile profileResponse
	require.NoError(t, json.NewDecoder(me.Body).Decode(&profile))
	require.Equal(t, "ada", profile.Username)

	anon, err := http.Get(srv.URL + "/users/me")
	require.NoError(t, err)
	defer anon.Body.Close()
	require.Equal(t, http.StatusUnauthorized, anon.StatusCode)
}

func dialRelay(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + DefaultPath + "?token=" + url.QueryEscape(token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev wireEvent
	require.NoError(t, json.Unmarshal(payload, &ev))
	return ev
}

func tokenFor(t *testing.T, srv *httptest.Server, username string) string {
	t.Helper()
	require.Equal(t, http.StatusOK, register(t, srv.URL, username, "pw-"+username).StatusCode)
	_, token := login(t, srv.URL, username, "pw-"+username)
	require.NotEmpty(t, token.AccessToken)
	return token.AccessToken
}

func TestWebsocketBroadcast(t *testing.T) {
	srv := newTestRelay(t)
	ada := dialRelay(t, srv, tokenFor(t, srv, "ada"))
	require.Equal(t, wireEvent{Type: "user_joined", Username: "ada", Content: "ada Joined the chat!"}, readEvent(t, ada))

	bob := dialRelay(t, srv, tokenFor(t, srv, "bob"))
	require.Equal(t, "user_joined", string(readEvent(t, ada).Type))
	require.Equal(t, "bob", readEvent(t, bob).Username)

	require.NoError(t, ada.WriteMessage(websocket.TextMessage, []byte("hello")))
	want := wireEvent{Type: "message", Username: "ada", Content: "hello"}
	require.Equal(t, want, readEvent(t, ada))
	require.Equal(t, want, readEvent(t, bob))

	require.NoError(t, bob.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	left := readEvent(t, ada)
	require.Equal(t, "user_left", string(left.Type))
	require.Equal(t, "bob", left.Username)

	require.Eventually(t, func() bool {
		counters := readMetrics(t, srv)
		return counters["registrations_total"] == 2 && counters["messages_relayed"] == 1 && counters["active_connections"] == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func readMetrics(t *testing.T, srv *httptest.Server) map[string]float64 {
	t.Helper()
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var counters map[string]float64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&counters))
	return counters
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	srv := newTestRelay(t)
	for _, token := range []string{"", "garbage"} {
		conn := dialRelay(t, srv, token)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "token %q: %v", token, err)
	}
}

func TestExpiredTokenIsInvalid(t *testing.T) {
	token, err := IssueAccessToken(testSecret, "ada", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateAccessToken(testSecret, token)
	require.ErrorIs(t, err, errInvalidToken)

	token, err = IssueAccessToken("other-secret", "ada", time.Minute)
	require.NoError(t, err)
	_, err = ValidateAccessToken(testSecret, token)
	require.ErrorIs(t, err, errInvalidToken)
}

func TestEncodeEventKeepsMarkup(t *testing.T) {
	payload := encodeEvent(chat.KindMessage, "bob", "<b>&</b>")
	require.Equal(t, `{"type":"message","username":"bob","content":"<b>&</b>"}`, string(payload))
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(2, time.Hour)
	require.True(t, limiter.Allow("10.0.0.1"))
	require.True(t, limiter.Allow("10.0.0.1"))
	require.False(t, limiter.Allow("10.0.0.1"))
	require.True(t, limiter.Allow("10.0.0.2"))
}

func TestPresenceTracker(t *testing.T) {
	p := NewPresenceTracker()
	require.Equal(t, 1, p.Increment("ada"))
	require.Equal(t, 2, p.Increment("ada"))
	require.Equal(t, 1, p.Increment("bob"))
	require.Equal(t, 2, p.ActiveCount())
	require.Equal(t, 1, p.Decrement("ada"))
	require.Equal(t, 0, p.Decrement("ada"))
	require.Equal(t, 1, p.ActiveCount())
	require.Equal(t, 0, p.Decrement("nobody"))
}
