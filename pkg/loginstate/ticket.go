package loginstate

import (
	"github.com/platinummonkey/gatehouse/pkg/cache"
	"github.com/platinummonkey/gatehouse/pkg/saml"
)

// Ticket is one pending login.
type Ticket struct {
	// Key is the hash of the encoded request, as produced by NewKey.
	Key string `json:"key"`
	// Request is the parsed authentication request.
	Request *saml.AuthnRequest `json:"request"`
	// EncodedRequest is the request exactly as it arrived on the wire, so
	// the ticket can be re-derived and the login form can replay it.
	EncodedRequest string `json:"encoded_request"`
	RelayState     string `json:"relay_state,omitempty"`
	// Binding is the binding the request arrived over.
	Binding string `json:"binding"`
	// FailCount is how many failed login attempts this ticket has seen.
	// It only ever grows.
	FailCount int `json:"fail_count"`
}

// NewKey derives the ticket key for an encoded request.
func NewKey(encodedRequest string) string {
	return cache.Key(encodedRequest)
}

// RequestInfo is what a browser interaction carries to identify its pending
// login: either the ticket key (posted back by the login form) or the
// still-encoded request itself (on first arrival), or both.
type RequestInfo struct {
	Key            string
	EncodedRequest string
	RelayState     string
	// Signature carries the detached HTTP-Redirect signature parameters
	// when the request arrived signed over that binding.
	Signature *saml.RedirectSignature
}
