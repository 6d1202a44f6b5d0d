package saml

import "encoding/xml"

// Issuer identifies the entity that produced a message.
type Issuer struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Issuer"`
	Value   string   `xml:",chardata"`
}

// NameIDPolicy constrains how the subject is to be identified in the
// response.
type NameIDPolicy struct {
	XMLName     xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol NameIDPolicy"`
	Format      string   `xml:"Format,attr,omitempty"`
	AllowCreate string   `xml:"AllowCreate,attr,omitempty"`
}

// RequestedAuthnContext carries the authentication strength a service
// provider asks for.
type RequestedAuthnContext struct {
	XMLName              xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol RequestedAuthnContext"`
	Comparison           string   `xml:"Comparison,attr,omitempty"`
	AuthnContextClassRef []string `xml:"urn:oasis:names:tc:SAML:2.0:assertion AuthnContextClassRef"`
}

// AuthnRequest is an inbound single sign-on request.
type AuthnRequest struct {
	XMLName                     xml.Name               `xml:"urn:oasis:names:tc:SAML:2.0:protocol AuthnRequest"`
	ID                          string                 `xml:"ID,attr"`
	Version                     string                 `xml:"Version,attr"`
	IssueInstant                string                 `xml:"IssueInstant,attr"`
	Destination                 string                 `xml:"Destination,attr,omitempty"`
	ProtocolBinding             string                 `xml:"ProtocolBinding,attr,omitempty"`
	AssertionConsumerServiceURL string                 `xml:"AssertionConsumerServiceURL,attr,omitempty"`
	ForceAuthn                  bool                   `xml:"ForceAuthn,attr,omitempty"`
	IsPassive                   bool                   `xml:"IsPassive,attr,omitempty"`
	Issuer                      *Issuer                `xml:"urn:oasis:names:tc:SAML:2.0:assertion Issuer"`
	NameIDPolicy                *NameIDPolicy          `xml:"urn:oasis:names:tc:SAML:2.0:protocol NameIDPolicy"`
	RequestedAuthnContext       *RequestedAuthnContext `xml:"urn:oasis:names:tc:SAML:2.0:protocol RequestedAuthnContext"`
}

// IssuerEntityID returns the entity ID of the requesting service provider,
// or "" when the request carries no Issuer.
func (r *AuthnRequest) IssuerEntityID() string {
	if r.Issuer == nil {
		return ""
	}
	return r.Issuer.Value
}

// RequestedClassRefs returns the AuthnContextClassRef values the service
// provider asked for, in request order.
func (r *AuthnRequest) RequestedClassRefs() []string {
	if r.RequestedAuthnContext == nil {
		return nil
	}
	return r.RequestedAuthnContext.AuthnContextClassRef
}

// NameID identifies the subject of a logout request.
type NameID struct {
	XMLName         xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion NameID"`
	Format          string   `xml:"Format,attr,omitempty"`
	SPNameQualifier string   `xml:"SPNameQualifier,attr,omitempty"`
	NameQualifier   string   `xml:"NameQualifier,attr,omitempty"`
	Value           string   `xml:",chardata"`
}

// LogoutRequest is an inbound single logout request.
type LogoutRequest struct {
	XMLName      xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol LogoutRequest"`
	ID           string   `xml:"ID,attr"`
	Version      string   `xml:"Version,attr"`
	IssueInstant string   `xml:"IssueInstant,attr"`
	Destination  string   `xml:"Destination,attr,omitempty"`
	Issuer       *Issuer  `xml:"urn:oasis:names:tc:SAML:2.0:assertion Issuer"`
	NameID       *NameID  `xml:"urn:oasis:names:tc:SAML:2.0:assertion NameID"`
	SessionIndex []string `xml:"urn:oasis:names:tc:SAML:2.0:protocol SessionIndex"`
}

// IssuerEntityID returns the entity ID of the requesting service provider,
// or "" when the request carries no Issuer.
func (r *LogoutRequest) IssuerEntityID() string {
	if r.Issuer == nil {
		return ""
	}
	return r.Issuer.Value
}

// Attribute is a single attribute asserted about a subject.
type Attribute struct {
	Name   string
	Values []string
}
