// Package integration exercises the gateway end to end over real WebSocket
// connections: authentication, presence broadcasts and chat fan-out.
package integration

import (
	"encoding/json"
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/presencegw/internal/auth"
	"github.com/Tyrowin/presencegw/internal/server"
	"github.com/Tyrowin/presencegw/test/testhelpers"
)

const quietPeriod = 200 * time.Millisecond

func assertPresence(t *testing.T, got, want []string) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected presence %v, got %v", want, got)
	}
}

// TestConnectAndChat covers a valid connection joining and chatting: every
// socket, the sender included, receives the presence snapshot and the message.
func TestConnectAndChat(t *testing.T) {
	env := testhelpers.StartEnv(t, nil)

	c1, presence := env.Connect(t, "u1")
	assertPresence(t, presence, []string{"u1"})

	c2, presence := env.Connect(t, "u2")
	assertPresence(t, presence, []string{"u1", "u2"})
	assertPresence(t, testhelpers.ReadPresence(t, c1), []string{"u1", "u2"})

	testhelpers.SendChat(t, c1, "hi")

	want := server.ChatMessage{FullName: "Ada Lovelace", Message: "hi"}
	for i, conn := range []*websocket.Conn{c1, c2} {
		if got := testhelpers.ReadChat(t, conn); got != want {
			t.Errorf("Client %d: expected %+v, got %+v", i+1, want, got)
		}
	}
}

// TestInvalidTokenIsClosed verifies that a connection with a bad token is
// dropped without a payload and without disturbing anyone else.
func TestInvalidTokenIsClosed(t *testing.T) {
	env := testhelpers.StartEnv(t, nil)
	c1, _ := env.Connect(t, "u1")

	foreign, err := auth.NewSigner(auth.Options{Secret: []byte("someone-else")})
	if err != nil {
		t.Fatalf("Failed to build signer: %v", err)
	}
	forged, _, err := foreign.Sign("u2")
	if err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}

	tokens := map[string]string{
		"missing":     "",
		"garbage":     "not-a-jwt",
		"wrong key":   forged,
		"truncated":   env.Token(t, "u2")[:20],
		"unsigned":    "eyJhbGciOiJub25lIn0.eyJpZCI6InUyIn0.",
		"wrong shape": "a.b",
	}

	for name, token := range tokens {
		t.Run(name, func(t *testing.T) {
			conn, _, err := env.Dial(token)
			if err != nil {
				t.Fatalf("Handshake should succeed before the token is rejected: %v", err)
			}
			defer func() { _ = conn.Close() }()

			testhelpers.ExpectClosed(t, conn)
		})
	}

	testhelpers.ExpectNoEvent(t, c1, quietPeriod)
	if n := env.Gateway.Registry().Len(); n != 1 {
		t.Errorf("Expected registry size 1, got %d", n)
	}
}

// TestDisconnectRebroadcastsPresence verifies that a closed connection is
// removed and the remaining sockets get a snapshot without it.
func TestDisconnectRebroadcastsPresence(t *testing.T) {
	env := testhelpers.StartEnv(t, nil)
	c1, _ := env.Connect(t, "u1")
	c2, _ := env.Connect(t, "u2")
	testhelpers.ReadPresence(t, c1)

	if err := testhelpers.CloseWebSocket(c1); err != nil {
		t.Fatalf("Failed to close c1: %v", err)
	}

	assertPresence(t, testhelpers.ReadPresence(t, c2), []string{"u2"})
	assertPresence(t, env.Gateway.Registry().ConnectedUserIDs(), []string{"u2"})
}

// TestMessageWithoutBodyUsesPlaceholder verifies that `{}` still produces a
// broadcast carrying the placeholder text.
func TestMessageWithoutBodyUsesPlaceholder(t *testing.T) {
	env := testhelpers.StartEnv(t, nil)
	c1, _ := env.Connect(t, "u1")

	if err := c1.WriteMessage(websocket.TextMessage, []byte(`{}`)); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	got := testhelpers.ReadChat(t, c1)
	want := server.ChatMessage{FullName: "Ada Lovelace", Message: server.PlaceholderMessage}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

// TestInvalidJSONIsDropped verifies that a malformed frame produces no event
// and leaves the sender connected: the next event every socket sees is the
// following valid message.
func TestInvalidJSONIsDropped(t *testing.T) {
	env := testhelpers.StartEnv(t, nil)
	c1, _ := env.Connect(t, "u1")
	c2, _ := env.Connect(t, "u2")
	testhelpers.ReadPresence(t, c1)

	if err := c1.WriteMessage(websocket.TextMessage, []byte(`{"message":`)); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	testhelpers.SendChat(t, c1, "after")

	want := server.ChatMessage{FullName: "Ada Lovelace", Message: "after"}
	for i, conn := range []*websocket.Conn{c1, c2} {
		if got := testhelpers.ReadChat(t, conn); got != want {
			t.Errorf("Client %d: expected %+v, got %+v", i+1, want, got)
		}
	}
}

// TestWronglyTypedMessageUsesPlaceholder verifies that a non-string message
// field is broadcast with the placeholder text rather than dropped.
func TestWronglyTypedMessageUsesPlaceholder(t *testing.T) {
	env := testhelpers.StartEnv(t, nil)
	c1, _ := env.Connect(t, "u1")

	if err := c1.WriteMessage(websocket.TextMessage, []byte(`{"message":42}`)); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	want := server.ChatMessage{FullName: "Ada Lovelace", Message: server.PlaceholderMessage}
	if got := testhelpers.ReadChat(t, c1); got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestUserMissingFromDirectoryHasEmptyName(t *testing.T) {
	env := testhelpers.StartEnv(t, nil)
	ghost, presence := env.Connect(t, "ghost")
	assertPresence(t, presence, []string{"ghost"})

	testhelpers.SendChat(t, ghost, "boo")
	got := testhelpers.ReadChat(t, ghost)
	if got.FullName != "" || got.Message != "boo" {
		t.Errorf("Expected anonymous message, got %+v", got)
	}
}

func TestTokenLocations(t *testing.T) {
	env := testhelpers.StartEnv(t, nil)
	token := env.Token(t, "u3")

	t.Run("bearer", func(t *testing.T) {
		header := http.Header{}
		header.Set("Origin", env.Server.URL)
		header.Set("Authorization", "Bearer "+token)
		conn, _, err := env.DialWithHeader(header)
		if err != nil {
			t.Fatalf("Dial failed: %v", err)
		}
		defer func() { _ = conn.Close() }()
		assertPresence(t, testhelpers.ReadPresence(t, conn), []string{"u3"})
	})

	t.Run("query", func(t *testing.T) {
		header := http.Header{}
		header.Set("Origin", env.Server.URL)
		dialer := *env
		dialer.WSURL = env.WSURL + "?" + server.TokenQueryParam + "=" + token
		conn, _, err := dialer.DialWithHeader(header)
		if err != nil {
			t.Fatalf("Dial failed: %v", err)
		}
		defer func() { _ = conn.Close() }()
		assertPresence(t, testhelpers.ReadPresence(t, conn), []string{"u3"})
	})
}

func TestCustomTokenHeader(t *testing.T) {
	env := testhelpers.StartEnv(t, func(cfg *server.Config) {
		cfg.Auth.TokenHeader = "X-Session-Token"
	})

	_, presence := env.Connect(t, "u1")
	assertPresence(t, presence, []string{"u1"})
}

func TestSameUserTwiceListedOnce(t *testing.T) {
	env := testhelpers.StartEnv(t, nil)
	first, _ := env.Connect(t, "u1")
	_, presence := env.Connect(t, "u1")

	assertPresence(t, presence, []string{"u1"})
	assertPresence(t, testhelpers.ReadPresence(t, first), []string{"u1"})
	if n := env.Gateway.Registry().Len(); n != 2 {
		t.Errorf("Expected two registered connections, got %d", n)
	}
}

func TestExclusiveSessions(t *testing.T) {
	env := testhelpers.StartEnv(t, func(cfg *server.Config) {
		cfg.ExclusiveSessions = true
	})
	older, _ := env.Connect(t, "u1")
	_, presence := env.Connect(t, "u1")

	assertPresence(t, presence, []string{"u1"})
	testhelpers.ExpectClosed(t, older)
	if n := env.Gateway.Registry().Len(); n != 1 {
		t.Errorf("Expected one registered connection, got %d", n)
	}
}

func TestRequireActiveUser(t *testing.T) {
	env := testhelpers.StartEnv(t, func(cfg *server.Config) {
		cfg.RequireActiveUser = true
	})
	c1, _ := env.Connect(t, "u1")

	for _, userID := range []string{"u4", "ghost"} {
		conn, _, err := env.Dial(env.Token(t, userID))
		if err != nil {
			t.Fatalf("Dial failed for %s: %v", userID, err)
		}
		testhelpers.ExpectClosed(t, conn)
		_ = conn.Close()
	}

	testhelpers.ExpectNoEvent(t, c1, quietPeriod)
}

func TestPresenceEndpoint(t *testing.T) {
	env := testhelpers.StartEnv(t, nil)
	env.Connect(t, "u2")
	env.Connect(t, "u1")

	resp := testhelpers.MakeRequest(t, http.MethodGet, env.Server.URL+"/presence")
	defer func() { _ = resp.Body.Close() }()

	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "application/json")

	var ids []string
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		t.Fatalf("Failed to decode presence: %v", err)
	}
	assertPresence(t, ids, []string{"u1", "u2"})
}
