package session

import (
	"context"
	"time"
)

// SSOSession is the record of one authenticated principal. Sessions are
// immutable after creation; a re-authentication creates a new session rather
// than updating an old one.
type SSOSession struct {
	// SessionID is the opaque identifier stored in the browser cookie.
	SessionID string `json:"session_id"`
	// UserID is the local identifier of the authenticated principal.
	UserID string `json:"user_id"`
	// AuthnRef names the authentication method class used at login.
	AuthnRef string `json:"authn_ref"`
	// AuthnClassRef is the SAML AuthnContextClassRef asserted for AuthnRef.
	AuthnClassRef string `json:"authn_class_ref"`
	// AuthnRequestID is the ID of the request that triggered the login.
	// Used to detect ForceAuthn loops from the same request.
	AuthnRequestID string `json:"authn_request_id"`
	// AuthnInstant is when the credential was actually verified.
	AuthnInstant time.Time `json:"authn_instant"`
	// CreatedAt is when the session record was stored.
	CreatedAt time.Time `json:"created_at"`
}

// Age returns how long ago the credential behind this session was verified.
func (s *SSOSession) Age(now time.Time) time.Duration {
	return now.Sub(s.AuthnInstant)
}

// Store persists SSO sessions with an expiration policy. Lookups of expired
// or unknown sessions return (nil, nil); errors are reserved for backend
// failures.
type Store interface {
	// AddSession stores a new session and returns its generated SessionID.
	AddSession(ctx context.Context, sess *SSOSession) (string, error)
	// GetSession fetches a live session by ID, or (nil, nil) on a miss.
	GetSession(ctx context.Context, sessionID string) (*SSOSession, error)
	// RemoveSession deletes a session, reporting whether it existed.
	RemoveSession(ctx context.Context, sessionID string) (bool, error)
	// SessionsForUser returns every live session belonging to userID.
	SessionsForUser(ctx context.Context, userID string) ([]*SSOSession, error)
	// ExpireOldSessions evicts sessions older than the store's lifetime.
	// Implementations may throttle repeated calls; force bypasses that.
	ExpireOldSessions(ctx context.Context, force bool) error
}
