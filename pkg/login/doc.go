// Package login implements the single sign-on flow: receiving
// authentication requests, deciding whether an existing session can answer
// them, prompting for credentials when it cannot, and issuing the signed
// assertion once the principal is authenticated.
package login
