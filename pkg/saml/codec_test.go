package saml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleAuthnRequest = `<?xml version="1.0" encoding="UTF-8"?>
<samlp:AuthnRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol"
    xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion"
    ID="id-2972c8b5" Version="2.0" IssueInstant="2026-08-26T10:00:00Z"
    Destination="https://idp.example.org/sso/redirect"
    AssertionConsumerServiceURL="https://sp.example.com/acs"
    ProtocolBinding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
    ForceAuthn="true">
  <saml:Issuer>https://sp.example.com/metadata</saml:Issuer>
  <samlp:NameIDPolicy Format="urn:oasis:names:tc:SAML:2.0:nameid-format:persistent" AllowCreate="true"/>
  <samlp:RequestedAuthnContext Comparison="exact">
    <saml:AuthnContextClassRef>urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport</saml:AuthnContextClassRef>
  </samlp:RequestedAuthnContext>
</samlp:AuthnRequest>`

const sampleLogoutRequest = `<?xml version="1.0" encoding="UTF-8"?>
<samlp:LogoutRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol"
    xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion"
    ID="id-slo-1" Version="2.0" IssueInstant="2026-08-26T10:05:00Z"
    Destination="https://idp.example.org/slo/redirect">
  <saml:Issuer>https://sp.example.com/metadata</saml:Issuer>
  <saml:NameID Format="urn:oasis:names:tc:SAML:2.0:nameid-format:persistent">user-1234</saml:NameID>
  <samlp:SessionIndex>session-idx-1</samlp:SessionIndex>
</samlp:LogoutRequest>`

func TestParseAuthnRequest(t *testing.T) {
	req, err := ParseAuthnRequest([]byte(sampleAuthnRequest))
	require.NoError(t, err)

	assert.Equal(t, "id-2972c8b5", req.ID)
	assert.Equal(t, "2.0", req.Version)
	assert.True(t, req.ForceAuthn)
	assert.False(t, req.IsPassive)
	assert.Equal(t, "https://sp.example.com/metadata", req.IssuerEntityID())
	assert.Equal(t, "https://sp.example.com/acs", req.AssertionConsumerServiceURL)
	assert.Equal(t, BindingHTTPPost, req.ProtocolBinding)
	require.NotNil(t, req.NameIDPolicy)
	assert.Equal(t, NameIDFormatPersistent, req.NameIDPolicy.Format)
	assert.Equal(t, []string{ClassRefPasswordProtected}, req.RequestedClassRefs())
}

func TestParseAuthnRequestRejectsBadInput(t *testing.T) {
	_, err := ParseAuthnRequest([]byte("not xml at all"))
	assert.Error(t, err)

	_, err = ParseAuthnRequest([]byte(`<samlp:AuthnRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" Version="2.0"/>`))
	assert.Error(t, err, "missing ID must be rejected")

	_, err = ParseAuthnRequest([]byte(`<samlp:AuthnRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" ID="x" Version="1.1"/>`))
	assert.Error(t, err, "non-2.0 version must be rejected")
}

func TestParseLogoutRequest(t *testing.T) {
	req, err := ParseLogoutRequest([]byte(sampleLogoutRequest))
	require.NoError(t, err)

	assert.Equal(t, "id-slo-1", req.ID)
	assert.Equal(t, "https://sp.example.com/metadata", req.IssuerEntityID())
	require.NotNil(t, req.NameID)
	assert.Equal(t, "user-1234", req.NameID.Value)
	assert.Equal(t, []string{"session-idx-1"}, req.SessionIndex)
}

func TestParseLogoutRequestRequiresNameID(t *testing.T) {
	_, err := ParseLogoutRequest([]byte(`<samlp:LogoutRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" ID="x" Version="2.0"/>`))
	assert.Error(t, err)
}

func TestRedirectEncodingRoundTrip(t *testing.T) {
	encoded, err := EncodeRedirect([]byte(sampleAuthnRequest))
	require.NoError(t, err)

	decoded, err := DecodeRequest(BindingHTTPRedirect, encoded)
	require.NoError(t, err)
	assert.Equal(t, sampleAuthnRequest, string(decoded))
}

func TestPostEncodingRoundTrip(t *testing.T) {
	encoded := EncodePost([]byte(sampleAuthnRequest))

	decoded, err := DecodeRequest(BindingHTTPPost, encoded)
	require.NoError(t, err)
	assert.Equal(t, sampleAuthnRequest, string(decoded))
}

func TestDecodeRequestRejectsUnknownBinding(t *testing.T) {
	_, err := DecodeRequest("urn:example:nonsense", "data")
	assert.Error(t, err)
}

func TestDecodeRequestRejectsBadBase64(t *testing.T) {
	_, err := DecodeRequest(BindingHTTPPost, "!!! not base64 !!!")
	assert.Error(t, err)
}

func TestExtractSOAPRequest(t *testing.T) {
	body := `<samlp:LogoutRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol"
    xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion"
    ID="id-slo-1" Version="2.0" IssueInstant="2026-08-26T10:05:00Z">
  <saml:Issuer>https://sp.example.com/metadata</saml:Issuer>
  <saml:NameID Format="urn:oasis:names:tc:SAML:2.0:nameid-format:persistent">user-1234</saml:NameID>
</samlp:LogoutRequest>`
	envelope := `<?xml version="1.0"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/">
  <SOAP-ENV:Body>` + body + `</SOAP-ENV:Body>
</SOAP-ENV:Envelope>`

	inner, err := ExtractSOAPRequest([]byte(envelope))
	require.NoError(t, err)

	req, err := ParseLogoutRequest(inner)
	require.NoError(t, err)
	assert.Equal(t, "id-slo-1", req.ID)
	assert.Equal(t, "user-1234", req.NameID.Value)
}

func TestExtractSOAPRequestRejectsNonEnvelope(t *testing.T) {
	_, err := ExtractSOAPRequest([]byte(sampleLogoutRequest))
	assert.Error(t, err)

	_, err = ExtractSOAPRequest([]byte(`<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/"><SOAP-ENV:Body/></SOAP-ENV:Envelope>`))
	assert.Error(t, err, "empty body must be rejected")
}
