// Package action describes what the HTTP layer should do after an engine
// call: redirect the browser, render a page, or deliver a SAML response
// over a binding. Engines return actions instead of writing responses so
// they can be tested without HTTP plumbing.
package action

import "github.com/platinummonkey/gatehouse/pkg/saml"

// Action is a marker for engine outcomes.
type Action interface {
	isAction()
}

// Redirect sends the browser elsewhere. SessionID, when set, is a freshly
// established SSO session the HTTP layer must set the cookie for.
type Redirect struct {
	URL       string
	SessionID string
}

// RenderForm displays the login form.
type RenderForm struct {
	// Args are the template values: ticket key, failure count, redirect
	// target and whatever else the form displays.
	Args map[string]interface{}
}

// Respond delivers a SAML message back to a service provider over the
// binding it registered. SessionID, when set, is a freshly established SSO
// session; ClearSession asks the HTTP layer to drop the session cookie.
type Respond struct {
	Bound        *saml.BoundResponse
	SessionID    string
	ClearSession bool
}

func (Redirect) isAction()   {}
func (RenderForm) isAction() {}
func (Respond) isAction()    {}
