// Package saml implements the wire-level pieces of the SAML 2.0 protocol
// this service speaks: binding encode/decode for HTTP-Redirect, HTTP-POST
// and SOAP, parsing of AuthnRequest and LogoutRequest messages, request
// signature verification, and construction of signed Response and
// LogoutResponse documents.
package saml
