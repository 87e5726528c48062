package relay

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential holds the bearer token used for both REST calls and the realtime
// handshake. Tokens issued by the Relay API are JWTs; the expiry claim is
// read without signature verification (the client has no key and does not
// need one — the server re-validates every request) so callers can refresh
// proactively instead of waiting for a 401.
type Credential struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewCredential wraps a bearer token. Opaque (non-JWT) tokens are accepted;
// they simply never report as expired locally.
func NewCredential(token string) *Credential {
	c := &Credential{}
	c.Set(token)
	return c
}

// Token returns the current bearer token.
func (c *Credential) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Set replaces the token, re-reading its expiry claim.
func (c *Credential) Set(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = time.Time{}

	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return
	}
	if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
		c.expiresAt = exp.Time
	}
}

// ExpiresAt returns the token expiry, or the zero time when unknown.
func (c *Credential) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiresAt
}

// Expired reports whether the token's expiry claim has passed.
func (c *Credential) Expired() bool {
	return c.ExpiresWithin(0)
}

// ExpiresWithin reports whether the token expires within d. Tokens with no
// expiry claim never expire locally.
func (c *Credential) ExpiresWithin(d time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.expiresAt.IsZero() {
		return false
	}
	return !time.Now().Add(d).Before(c.expiresAt)
}
