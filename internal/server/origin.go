package server

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

var errOriginShape = errors.New("origin must be scheme://host[:port]")

// originPolicy decides which browser origins may open a WebSocket.
type originPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
	log      *slog.Logger
}

// newOriginPolicy builds a policy from configured origins. "*" admits every
// well-formed origin; blank and malformed entries are skipped.
func newOriginPolicy(origins []string, logger *slog.Logger) *originPolicy {
	p := &originPolicy{allowed: make(map[string]struct{}, len(origins)), log: logger}
	for _, raw := range origins {
		switch entry := strings.TrimSpace(raw); entry {
		case "":
		case "*":
			p.allowAll = true
		default:
			origin, err := canonicalOrigin(entry)
			if err != nil {
				logger.Warn("ignoring invalid origin in configuration", "origin", raw, "err", err)
				continue
			}
			p.allowed[origin] = struct{}{}
		}
	}
	return p
}

// canonicalOrigin reduces raw to lower-case scheme://host, dropping any path.
func canonicalOrigin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errOriginShape
	}
	return u.Scheme + "://" + strings.ToLower(u.Host), nil
}

func (p *originPolicy) allows(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return false
	}
	origin, err := canonicalOrigin(header)
	if err != nil {
		return false
	}
	if p.allowAll {
		return true
	}
	_, ok := p.allowed[origin]
	return ok
}

// checkOrigin is the websocket.Upgrader hook.
func (p *originPolicy) checkOrigin(r *http.Request) bool {
	if p.allows(r) {
		return true
	}
	p.log.Warn("blocked websocket connection from disallowed origin", "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
	return false
}
