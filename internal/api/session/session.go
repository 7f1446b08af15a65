// Package session issues and reads the owner token cookie.
package session

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
)

const (
	// CookieName is the cookie carrying the owner token.
	CookieName = "image_transform_session_id"
	// MaxAge is how long the browser keeps the cookie.
	MaxAge = 30 * 24 * time.Hour
)

// Sessions reads and lazily issues owner tokens.
type Sessions struct {
	secure bool
}

// New creates Sessions. secure marks the cookie Secure, which production
// deployments behind TLS need.
func New(secure bool) *Sessions {
	return &Sessions{secure: secure}
}

// Token returns the caller's owner token, or "" when the request has none.
// Values that are not UUIDs are treated as absent.
func (s *Sessions) Token(c *ginext.Context) string {
	v, err := c.Cookie(CookieName)
	if err != nil {
		return ""
	}

	if _, err := uuid.Parse(v); err != nil {
		return ""
	}

	return v
}

// Ensure returns the caller's owner token, issuing a new one when absent.
func (s *Sessions) Ensure(c *ginext.Context) string {
	if token := s.Token(c); token != "" {
		return token
	}

	token := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, int(MaxAge.Seconds()), "/", "", s.secure, true)

	return token
}
