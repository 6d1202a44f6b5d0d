package saml

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	dsig "github.com/russellhaering/goxmldsig"
)

const timeFormat = "2006-01-02T15:04:05Z"

// ResponseBuilder constructs signed Response and LogoutResponse documents
// issued by this identity provider.
type ResponseBuilder struct {
	entityID string
	keyPair  tls.Certificate
	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewResponseBuilder creates a builder signing with keyPair and naming
// entityID as the issuer of every message.
func NewResponseBuilder(entityID string, keyPair tls.Certificate) *ResponseBuilder {
	return &ResponseBuilder{
		entityID: entityID,
		keyPair:  keyPair,
		now:      time.Now,
	}
}

// LoginResponseInput carries everything needed to assert a login.
type LoginResponseInput struct {
	InResponseTo  string
	Destination   string
	SPEntityID    string
	NameID        string
	NameIDFormat  string
	SessionIndex  string
	AuthnInstant  time.Time
	AuthnClassRef string
	// SessionLifetime bounds SessionNotOnOrAfter and the subject
	// confirmation window.
	SessionLifetime time.Duration
	Attributes      []Attribute
}

func newMessageID() string {
	return "_" + uuid.NewString()
}

func (b *ResponseBuilder) signingContext() (*dsig.SigningContext, error) {
	keyStore := dsig.TLSCertKeyStore(b.keyPair)
	ctx := dsig.NewDefaultSigningContext(keyStore)
	if err := ctx.SetSignatureMethod(dsig.RSASHA256SignatureMethod); err != nil {
		return nil, fmt.Errorf("failed to configure signing: %w", err)
	}
	return ctx, nil
}

func (b *ResponseBuilder) issuerElement() *etree.Element {
	issuer := etree.NewElement("saml:Issuer")
	issuer.SetText(b.entityID)
	return issuer
}

func statusElement(code, secondLevel string) *etree.Element {
	status := etree.NewElement("samlp:Status")
	sc := status.CreateElement("samlp:StatusCode")
	sc.CreateAttr("Value", code)
	if secondLevel != "" {
		inner := sc.CreateElement("samlp:StatusCode")
		inner.CreateAttr("Value", secondLevel)
	}
	return status
}

// BuildLoginResponse constructs a Response carrying one signed assertion
// about the authenticated subject.
func (b *ResponseBuilder) BuildLoginResponse(in *LoginResponseInput) (*etree.Element, error) {
	now := b.now().UTC()
	notOnOrAfter := now.Add(in.SessionLifetime).Format(timeFormat)

	assertion := etree.NewElement("saml:Assertion")
	assertion.CreateAttr("xmlns:saml", NSAssertion)
	assertion.CreateAttr("ID", newMessageID())
	assertion.CreateAttr("Version", "2.0")
	assertion.CreateAttr("IssueInstant", now.Format(timeFormat))
	assertion.AddChild(b.issuerElement())

	subject := assertion.CreateElement("saml:Subject")
	nameID := subject.CreateElement("saml:NameID")
	nameID.CreateAttr("Format", in.NameIDFormat)
	nameID.SetText(in.NameID)
	confirmation := subject.CreateElement("saml:SubjectConfirmation")
	confirmation.CreateAttr("Method", "urn:oasis:names:tc:SAML:2.0:cm:bearer")
	confData := confirmation.CreateElement("saml:SubjectConfirmationData")
	confData.CreateAttr("InResponseTo", in.InResponseTo)
	confData.CreateAttr("Recipient", in.Destination)
	confData.CreateAttr("NotOnOrAfter", notOnOrAfter)

	conditions := assertion.CreateElement("saml:Conditions")
	conditions.CreateAttr("NotBefore", now.Format(timeFormat))
	conditions.CreateAttr("NotOnOrAfter", notOnOrAfter)
	audience := conditions.CreateElement("saml:AudienceRestriction").CreateElement("saml:Audience")
	audience.SetText(in.SPEntityID)

	authnStatement := assertion.CreateElement("saml:AuthnStatement")
	authnStatement.CreateAttr("AuthnInstant", in.AuthnInstant.UTC().Format(timeFormat))
	authnStatement.CreateAttr("SessionIndex", in.SessionIndex)
	authnStatement.CreateAttr("SessionNotOnOrAfter", notOnOrAfter)
	classRef := authnStatement.CreateElement("saml:AuthnContext").CreateElement("saml:AuthnContextClassRef")
	classRef.SetText(in.AuthnClassRef)

	if len(in.Attributes) > 0 {
		attrStatement := assertion.CreateElement("saml:AttributeStatement")
		for _, attr := range in.Attributes {
			el := attrStatement.CreateElement("saml:Attribute")
			el.CreateAttr("Name", attr.Name)
			el.CreateAttr("NameFormat", "urn:oasis:names:tc:SAML:2.0:attrname-format:uri")
			for _, v := range attr.Values {
				val := el.CreateElement("saml:AttributeValue")
				val.SetText(v)
			}
		}
	}

	signingCtx, err := b.signingContext()
	if err != nil {
		return nil, err
	}
	signedAssertion, err := signingCtx.SignEnveloped(assertion)
	if err != nil {
		return nil, fmt.Errorf("failed to sign assertion: %w", err)
	}

	response := etree.NewElement("samlp:Response")
	response.CreateAttr("xmlns:samlp", NSProtocol)
	response.CreateAttr("xmlns:saml", NSAssertion)
	response.CreateAttr("ID", newMessageID())
	response.CreateAttr("Version", "2.0")
	response.CreateAttr("IssueInstant", now.Format(timeFormat))
	response.CreateAttr("Destination", in.Destination)
	response.CreateAttr("InResponseTo", in.InResponseTo)
	response.AddChild(b.issuerElement())
	response.AddChild(statusElement(StatusSuccess, ""))
	response.AddChild(signedAssertion)

	return response, nil
}

// BuildLogoutResponse constructs a signed LogoutResponse with the given
// top-level status and optional second-level status code.
func (b *ResponseBuilder) BuildLogoutResponse(inResponseTo, destination, statusCode, secondLevel string) (*etree.Element, error) {
	now := b.now().UTC()

	response := etree.NewElement("samlp:LogoutResponse")
	response.CreateAttr("xmlns:samlp", NSProtocol)
	response.CreateAttr("xmlns:saml", NSAssertion)
	response.CreateAttr("ID", newMessageID())
	response.CreateAttr("Version", "2.0")
	response.CreateAttr("IssueInstant", now.Format(timeFormat))
	response.CreateAttr("Destination", destination)
	response.CreateAttr("InResponseTo", inResponseTo)
	response.AddChild(b.issuerElement())
	response.AddChild(statusElement(statusCode, secondLevel))

	signingCtx, err := b.signingContext()
	if err != nil {
		return nil, err
	}
	signed, err := signingCtx.SignEnveloped(response)
	if err != nil {
		return nil, fmt.Errorf("failed to sign LogoutResponse: %w", err)
	}
	return signed, nil
}

// BoundResponse is a response prepared for delivery over one binding.
type BoundResponse struct {
	Binding     string
	Destination string
	// RedirectURL is set for the HTTP-Redirect binding.
	RedirectURL string
	// FormFields is set for the HTTP-POST binding.
	FormFields map[string]string
	// SOAPBody is set for the SOAP binding.
	SOAPBody []byte
}

// Bind prepares a response document for transport. paramName is the form or
// query parameter carrying the message, normally "SAMLResponse".
func Bind(binding, destination, paramName, relayState string, message *etree.Element) (*BoundResponse, error) {
	doc := etree.NewDocument()
	doc.SetRoot(message.Copy())
	xmlData, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response: %w", err)
	}

	switch binding {
	case BindingHTTPRedirect:
		encoded, err := EncodeRedirect(xmlData)
		if err != nil {
			return nil, fmt.Errorf("failed to encode redirect response: %w", err)
		}
		u, err := url.Parse(destination)
		if err != nil {
			return nil, fmt.Errorf("invalid destination %q: %w", destination, err)
		}
		q := u.Query()
		q.Set(paramName, encoded)
		if relayState != "" {
			q.Set("RelayState", relayState)
		}
		u.RawQuery = q.Encode()
		return &BoundResponse{
			Binding:     binding,
			Destination: destination,
			RedirectURL: u.String(),
		}, nil
	case BindingHTTPPost:
		fields := map[string]string{paramName: EncodePost(xmlData)}
		if relayState != "" {
			fields["RelayState"] = relayState
		}
		return &BoundResponse{
			Binding:     binding,
			Destination: destination,
			FormFields:  fields,
		}, nil
	case BindingSOAP:
		body, err := WrapSOAPResponse(message)
		if err != nil {
			return nil, err
		}
		return &BoundResponse{
			Binding:     binding,
			Destination: destination,
			SOAPBody:    body,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported binding %q", binding)
	}
}
