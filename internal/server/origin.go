// Package server validates the Origin header of WebSocket upgrade requests
// against the configured allow-list.
package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// wildcardOrigin in the allow-list admits every well-formed origin.
const wildcardOrigin = "*"

// originPolicy is the compiled form of Config.AllowedOrigins.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	// normalized keeps configuration order for CurrentConfig.
	normalized []string
	// rejected holds entries that are not scheme://host origins.
	rejected []string
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, entry := range origins {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
		case entry == wildcardOrigin:
			p.allowAll = true
		default:
			origin, ok := canonicalOrigin(entry)
			if !ok {
				p.rejected = append(p.rejected, entry)
				continue
			}
			if _, dup := p.allowed[origin]; dup {
				continue
			}
			p.allowed[origin] = struct{}{}
			p.normalized = append(p.normalized, origin)
		}
	}
	return p
}

// canonicalOrigin lowercases scheme and host so comparisons ignore case.
func canonicalOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

func (p originPolicy) permits(origin string) bool {
	if origin == "" {
		return false
	}
	canonical, ok := canonicalOrigin(origin)
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	_, ok = p.allowed[canonical]
	return ok
}

func activeOriginPolicy() originPolicy {
	configMu.RLock()
	defer configMu.RUnlock()
	return activeOrigins
}

// checkOrigin returns the upgrader's CheckOrigin. Configuration entries that
// could not be parsed are reported once, when the check is built.
func checkOrigin(log *zap.Logger) func(r *http.Request) bool {
	if rejected := activeOriginPolicy().rejected; len(rejected) > 0 {
		log.Warn("Ignoring invalid origins in configuration", zap.Strings("origins", rejected))
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if activeOriginPolicy().permits(origin) {
			return true
		}
		log.Warn("Blocked WebSocket connection from disallowed origin",
			zap.String("origin", origin),
			zap.String("addr", r.RemoteAddr))
		return false
	}
}
