package integration

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/presencegw/internal/server"
	"github.com/Tyrowin/presencegw/test/testhelpers"
)

func dialWithOrigin(t *testing.T, env *testhelpers.Env, origin string, set bool) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if set {
		header.Set("Origin", origin)
	}
	header.Set(env.Config.Auth.TokenHeader, env.Token(t, "u1"))
	return env.DialWithHeader(header)
}

// TestOriginValidation verifies the upgrade is refused with 403 unless the
// Origin header matches the allow-list, compared case-insensitively.
func TestOriginValidation(t *testing.T) {
	env := testhelpers.StartEnv(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = []string{"http://example.com"}
	})

	rejected := map[string]struct {
		origin string
		set    bool
	}{
		"missing":        {set: false},
		"empty":          {origin: "", set: true},
		"not allowed":    {origin: "http://evil.example", set: true},
		"other port":     {origin: "http://example.com:8081", set: true},
		"malformed":      {origin: "not-a-url", set: true},
		"missing scheme": {origin: "://example.com", set: true},
	}
	for name, tc := range rejected {
		t.Run(name, func(t *testing.T) {
			conn, resp, err := dialWithOrigin(t, env, tc.origin, tc.set)
			if err == nil {
				_ = conn.Close()
				t.Fatalf("Expected origin %q to be rejected", tc.origin)
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Errorf("Expected status %d, got %v", http.StatusForbidden, resp)
			}
		})
	}

	for _, origin := range []string{"http://EXAMPLE.COM", "HTTP://example.com", "http://Example.Com"} {
		conn, _, err := dialWithOrigin(t, env, origin, true)
		if err != nil {
			t.Errorf("Expected origin %q to be allowed: %v", origin, err)
			continue
		}
		testhelpers.ReadPresence(t, conn)
		_ = conn.Close()
	}
}

func TestWildcardOrigin(t *testing.T) {
	env := testhelpers.StartEnv(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = []string{"*"}
	})

	conn, _, err := dialWithOrigin(t, env, "http://anywhere.test", true)
	if err != nil {
		t.Fatalf("Expected wildcard to allow any origin: %v", err)
	}
	defer func() { _ = conn.Close() }()
	testhelpers.ReadPresence(t, conn)
}

// TestMessageSizeLimit verifies that an oversized frame ends the sender's
// connection and the others see it leave.
func TestMessageSizeLimit(t *testing.T) {
	env := testhelpers.StartEnv(t, func(cfg *server.Config) {
		cfg.MaxMessageSize = 64
	})
	c1, _ := env.Connect(t, "u1")
	c2, _ := env.Connect(t, "u2")
	testhelpers.ReadPresence(t, c1)

	testhelpers.SendChat(t, c1, "short")
	testhelpers.ReadChat(t, c1)
	testhelpers.ReadChat(t, c2)

	testhelpers.SendChat(t, c1, strings.Repeat("x", 128))

	testhelpers.ExpectClosed(t, c1)
	assertPresence(t, testhelpers.ReadPresence(t, c2), []string{"u2"})
}

// TestRateLimiting verifies that messages beyond the burst are discarded
// while the connection stays open.
func TestRateLimiting(t *testing.T) {
	env := testhelpers.StartEnv(t, func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Burst: 2, RefillInterval: time.Minute}
	})
	c1, _ := env.Connect(t, "u1")
	c2, _ := env.Connect(t, "u2")
	testhelpers.ReadPresence(t, c1)

	for i := 0; i < 5; i++ {
		testhelpers.SendChat(t, c1, "burst")
	}

	for i := 0; i < 2; i++ {
		if got := testhelpers.ReadChat(t, c2); got.Message != "burst" {
			t.Errorf("Unexpected message %+v", got)
		}
	}
	testhelpers.ExpectNoEvent(t, c2, quietPeriod)

	if n := env.Gateway.Registry().Len(); n != 2 {
		t.Errorf("Expected rate-limited client to stay connected, registry size %d", n)
	}
}
