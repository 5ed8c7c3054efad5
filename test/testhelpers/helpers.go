// Package testhelpers provides common utilities for the gateway's integration tests.
//
// It starts a gateway behind an httptest server with a real JWT verifier and an
// in-memory user directory, mints tokens for the seeded users, and wraps the
// gorilla dialer with helpers for reading presence and chat events.
package testhelpers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/presencegw/internal/auth"
	"github.com/Tyrowin/presencegw/internal/directory"
	"github.com/Tyrowin/presencegw/internal/server"
)

// TestSecret signs every token minted by an Env.
const TestSecret = "integration-test-secret"

// Users seeded into every Env's directory.
var Users = []directory.User{
	{ID: "u1", FullName: "Ada Lovelace", Active: true},
	{ID: "u2", FullName: "Grace Hopper", Active: true},
	{ID: "u3", FullName: "Alan Turing", Active: true},
	{ID: "u4", FullName: "Retired User", Active: false},
}

// Env is a running gateway reachable over HTTP.
type Env struct {
	Server  *httptest.Server
	Gateway *server.Gateway
	Signer  *auth.Signer
	Config  server.Config
	WSURL   string
}

// StartEnv starts a gateway and HTTP server. mutate may adjust the
// configuration before it is applied; the server's own URL is always an
// allowed origin. Everything is torn down when the test ends.
func StartEnv(t *testing.T, mutate func(*server.Config)) *Env {
	t.Helper()

	cfg := server.NewConfig()
	cfg.Auth.Secret = TestSecret
	if mutate != nil {
		mutate(cfg)
	}

	opts := auth.Options{Secret: []byte(cfg.Auth.Secret), Alg: cfg.Auth.Algorithm, Leeway: cfg.Auth.Leeway}
	verifier, err := auth.NewJWTVerifier(opts)
	require.NoError(t, err)
	signer, err := auth.NewSigner(opts)
	require.NoError(t, err)

	dir := directory.NewMemory(Users...)
	gw := server.NewGateway(server.NewRegistry(dir, nil), verifier, dir, nil, server.GatewayOptions{
		RequireActiveUser: cfg.RequireActiveUser,
		ExclusiveSessions: cfg.ExclusiveSessions,
	})
	server.StartGateway(gw)

	ts := httptest.NewServer(server.SetupRoutes(gw))

	cfg.AllowedOrigins = append(cfg.AllowedOrigins, ts.URL)
	server.SetConfig(cfg)

	t.Cleanup(func() {
		ts.CloseClientConnections()
		ts.Close()
		_ = gw.Shutdown(2 * time.Second)
		server.SetConfig(nil)
	})

	return &Env{
		Server:  ts,
		Gateway: gw,
		Signer:  signer,
		Config:  server.CurrentConfig(),
		WSURL:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

// Token mints a valid token for userID.
func (e *Env) Token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := e.Signer.Sign(userID)
	require.NoError(t, err, "sign token for %s", userID)
	return token
}

// Dial opens a WebSocket to the gateway with the given token in the
// configured header and the server's own origin.
func (e *Env) Dial(token string) (*websocket.Conn, *http.Response, error) {
	header := http.Header{}
	header.Set("Origin", e.Server.URL)
	if token != "" {
		header.Set(e.Config.Auth.TokenHeader, token)
	}
	return e.DialWithHeader(header)
}

// DialWithHeader opens a WebSocket with caller-supplied handshake headers.
func (e *Env) DialWithHeader(header http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(e.WSURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Connect dials as userID and consumes the presence event caused by its own
// arrival, returning that snapshot.
func (e *Env) Connect(t *testing.T, userID string) (*websocket.Conn, []string) {
	t.Helper()
	conn, _, err := e.Dial(e.Token(t, userID))
	require.NoError(t, err, "connect %s", userID)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, ReadPresence(t, conn)
}

// ReadEvent reads the next event, failing the test after a second.
func ReadEvent(t *testing.T, conn *websocket.Conn) server.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var evt server.Event
	require.NoError(t, conn.ReadJSON(&evt), "read event")
	return evt
}

// ReadPresence reads the next event and requires it to be a presence update.
func ReadPresence(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	evt := ReadEvent(t, conn)
	require.Equal(t, server.EventClientsUpdated, evt.Event, "payload %s", evt.Data)
	var ids []string
	require.NoError(t, json.Unmarshal(evt.Data, &ids))
	return ids
}

// ReadChat reads the next event and requires it to be a chat message.
func ReadChat(t *testing.T, conn *websocket.Conn) server.ChatMessage {
	t.Helper()
	evt := ReadEvent(t, conn)
	require.Equal(t, server.EventMessageFromServer, evt.Event, "payload %s", evt.Data)
	var msg server.ChatMessage
	require.NoError(t, json.Unmarshal(evt.Data, &msg))
	return msg
}

// SendChat sends a chat message carrying text.
func SendChat(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(server.IncomingMessage{Message: text}), "send message")
}

// ExpectNoEvent fails the test if an event arrives within wait. A gorilla
// connection stays failed after a read timeout, so conn must not be read
// again afterwards.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "expected no event, got %s", data)
}

// ExpectClosed fails the test unless the connection ends within a second.
// Events still in flight are skipped.
func ExpectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr net.Error
			require.False(t, errors.As(err, &netErr) && netErr.Timeout(), "connection was not closed")
			return
		}
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	assert.Equal(t, expected, resp.StatusCode, "status code")
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	assert.Equal(t, expected, resp.Header.Get("Content-Type"), "content type")
}
