// Package httputil maps engine results onto HTTP: status codes for error
// kinds, JSON helpers and the session cookie.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/idperror"
)

// StatusLoginTimeout is the non-standard code browsers and SP integrations
// use to distinguish an expired login window from a plain client error.
const StatusLoginTimeout = 440

// StatusForKind maps an error kind to its HTTP status code.
func StatusForKind(kind idperror.Kind) int {
	switch kind {
	case idperror.KindBadRequest:
		return http.StatusBadRequest
	case idperror.KindLoginTimeout:
		return StatusLoginTimeout
	case idperror.KindUnauthorized:
		return http.StatusUnauthorized
	case idperror.KindForbidden:
		return http.StatusForbidden
	case idperror.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// StatusForError maps any error to its HTTP status via its kind.
func StatusForError(err error) int {
	return StatusForKind(idperror.KindOf(err))
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteJSONError writes a JSON error body with the status for err.
func WriteJSONError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusForError(err), map[string]string{
		"error": err.Error(),
	})
}

// SessionCookie manages the browser's SSO session cookie.
type SessionCookie struct {
	// Name of the cookie, "idpauthn" by default.
	Name string
	// Secure marks the cookie HTTPS-only. Disabled only in local testing.
	Secure bool
}

// Read returns the session ID carried by the request, or "".
func (c *SessionCookie) Read(r *http.Request) string {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Set stores a session ID in the browser.
func (c *SessionCookie) Set(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear drops the session cookie.
func (c *SessionCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
