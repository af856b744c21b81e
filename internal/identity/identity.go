// Package identity derives the caller's identity from request headers.
package identity

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"

	"gemchat/internal/config"
)

const (
	devEmailHeader = "X-Dev-Email"
	devNameHeader  = "X-Dev-Name"
)

type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
}

type Resolver struct {
	cfg config.Config
}

func NewResolver(cfg config.Config) Resolver {
	return Resolver{cfg: cfg}
}

// Resolve returns the caller's identity, or ok=false for anonymous
// requests. The trusted-proxy email header wins; the dev override pair
// is honored only when dev mode is enabled.
func (r Resolver) Resolve(headers http.Header) (Identity, bool) {
	if r.cfg.TrustedEmailHeader != "" {
		if email := strings.TrimSpace(headers.Get(r.cfg.TrustedEmailHeader)); email != "" {
			return FromEmail(email, ""), true
		}
	}

	if r.cfg.DevMode {
		if email := strings.TrimSpace(headers.Get(devEmailHeader)); email != "" {
			return FromEmail(email, headers.Get(devNameHeader)), true
		}
	}

	return Identity{}, false
}

// FromEmail builds the identity for an authenticated email. The user id
// is a non-cryptographic hash of the lowercased email, so the same
// address always maps to the same id. Collisions are possible in theory
// and accepted at this scale.
func FromEmail(email, name string) Identity {
	normalized := strings.ToLower(strings.TrimSpace(email))

	h := fnv.New64a()
	_, _ = h.Write([]byte(normalized))

	return Identity{
		UserID: fmt.Sprintf("u-%016x", h.Sum64()),
		Email:  normalized,
		Name:   strings.TrimSpace(name),
	}
}
