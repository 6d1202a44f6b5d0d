package saml

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPair(t *testing.T) (tls.Certificate, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "idp.example.org"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, cert
}

func testBuilder(t *testing.T) (*ResponseBuilder, *x509.Certificate) {
	keyPair, cert := testKeyPair(t)
	b := NewResponseBuilder("https://idp.example.org/idp.xml", keyPair)
	return b, cert
}

func loginInput() *LoginResponseInput {
	return &LoginResponseInput{
		InResponseTo:    "id-2972c8b5",
		Destination:     "https://sp.example.com/acs",
		SPEntityID:      "https://sp.example.com/metadata",
		NameID:          "user-1234",
		NameIDFormat:    NameIDFormatPersistent,
		SessionIndex:    "sess-1",
		AuthnInstant:    time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC),
		AuthnClassRef:   ClassRefPasswordProtected,
		SessionLifetime: time.Hour,
		Attributes: []Attribute{
			{Name: "eduPersonPrincipalName", Values: []string{"jsmith@example.org"}},
			{Name: "mail", Values: []string{"j@example.org", "js@example.org"}},
		},
	}
}

func TestBuildLoginResponse(t *testing.T) {
	b, cert := testBuilder(t)

	resp, err := b.BuildLoginResponse(loginInput())
	require.NoError(t, err)

	assert.Equal(t, "id-2972c8b5", resp.SelectAttrValue("InResponseTo", ""))
	assert.Equal(t, "https://sp.example.com/acs", resp.SelectAttrValue("Destination", ""))

	status := resp.FindElement("./Status/StatusCode")
	require.NotNil(t, status)
	assert.Equal(t, StatusSuccess, status.SelectAttrValue("Value", ""))

	assertion := resp.FindElement("./Assertion")
	require.NotNil(t, assertion)
	nameID := assertion.FindElement("./Subject/NameID")
	require.NotNil(t, nameID)
	assert.Equal(t, "user-1234", nameID.Text())
	assert.Equal(t, NameIDFormatPersistent, nameID.SelectAttrValue("Format", ""))

	classRef := assertion.FindElement("./AuthnStatement/AuthnContext/AuthnContextClassRef")
	require.NotNil(t, classRef)
	assert.Equal(t, ClassRefPasswordProtected, classRef.Text())

	audience := assertion.FindElement("./Conditions/AudienceRestriction/Audience")
	require.NotNil(t, audience)
	assert.Equal(t, "https://sp.example.com/metadata", audience.Text())

	attrs := assertion.FindElements("./AttributeStatement/Attribute")
	require.Len(t, attrs, 2)
	assert.Equal(t, "eduPersonPrincipalName", attrs[0].SelectAttrValue("Name", ""))
	assert.Len(t, attrs[1].FindElements("./AttributeValue"), 2)

	// The assertion signature must validate against the builder's cert
	// after a serialize/reparse round trip.
	doc := etree.NewDocument()
	doc.SetRoot(assertion.Copy())
	xmlData, err := doc.WriteToBytes()
	require.NoError(t, err)
	assert.True(t, HasEnvelopedSignature(xmlData))
	assert.NoError(t, VerifyEnvelopedSignature(xmlData, []*x509.Certificate{cert}))
}

func TestLoginResponseSignatureRejectsWrongCert(t *testing.T) {
	b, _ := testBuilder(t)
	_, otherCert := testKeyPair(t)

	resp, err := b.BuildLoginResponse(loginInput())
	require.NoError(t, err)

	doc := etree.NewDocument()
	doc.SetRoot(resp.FindElement("./Assertion").Copy())
	xmlData, err := doc.WriteToBytes()
	require.NoError(t, err)

	assert.Error(t, VerifyEnvelopedSignature(xmlData, []*x509.Certificate{otherCert}))
}

func TestBuildLogoutResponse(t *testing.T) {
	b, cert := testBuilder(t)

	resp, err := b.BuildLogoutResponse("id-slo-1", "https://sp.example.com/slo", StatusResponder, StatusPartialLogout)
	require.NoError(t, err)

	assert.Equal(t, "id-slo-1", resp.SelectAttrValue("InResponseTo", ""))
	outer := resp.FindElement("./Status/StatusCode")
	require.NotNil(t, outer)
	assert.Equal(t, StatusResponder, outer.SelectAttrValue("Value", ""))
	inner := outer.FindElement("./StatusCode")
	require.NotNil(t, inner)
	assert.Equal(t, StatusPartialLogout, inner.SelectAttrValue("Value", ""))

	doc := etree.NewDocument()
	doc.SetRoot(resp.Copy())
	xmlData, err := doc.WriteToBytes()
	require.NoError(t, err)
	assert.NoError(t, VerifyEnvelopedSignature(xmlData, []*x509.Certificate{cert}))
}

func TestBindRedirect(t *testing.T) {
	b, _ := testBuilder(t)
	resp, err := b.BuildLogoutResponse("id-slo-1", "https://sp.example.com/slo", StatusSuccess, "")
	require.NoError(t, err)

	bound, err := Bind(BindingHTTPRedirect, "https://sp.example.com/slo", "SAMLResponse", "relay-123", resp)
	require.NoError(t, err)
	require.NotEmpty(t, bound.RedirectURL)

	u, err := url.Parse(bound.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "sp.example.com", u.Host)
	assert.Equal(t, "relay-123", u.Query().Get("RelayState"))

	decoded, err := DecodeRequest(BindingHTTPRedirect, u.Query().Get("SAMLResponse"))
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "LogoutResponse")
}

func TestBindPost(t *testing.T) {
	b, _ := testBuilder(t)
	resp, err := b.BuildLogoutResponse("id-slo-1", "https://sp.example.com/slo", StatusSuccess, "")
	require.NoError(t, err)

	bound, err := Bind(BindingHTTPPost, "https://sp.example.com/slo", "SAMLResponse", "relay-123", resp)
	require.NoError(t, err)
	require.NotNil(t, bound.FormFields)
	assert.Equal(t, "relay-123", bound.FormFields["RelayState"])

	decoded, err := DecodeRequest(BindingHTTPPost, bound.FormFields["SAMLResponse"])
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "LogoutResponse")
}

func TestBindSOAP(t *testing.T) {
	b, _ := testBuilder(t)
	resp, err := b.BuildLogoutResponse("id-slo-1", "https://sp.example.com/slo", StatusSuccess, "")
	require.NoError(t, err)

	bound, err := Bind(BindingSOAP, "https://sp.example.com/slo", "SAMLResponse", "", resp)
	require.NoError(t, err)
	require.NotEmpty(t, bound.SOAPBody)

	inner, err := ExtractSOAPRequest(bound.SOAPBody)
	require.NoError(t, err)
	assert.Contains(t, string(inner), "LogoutResponse")
}

func TestVerifyRedirectSignature(t *testing.T) {
	keyPair, cert := testKeyPair(t)
	key := keyPair.PrivateKey.(*rsa.PrivateKey)

	encoded, err := EncodeRedirect([]byte(sampleAuthnRequest))
	require.NoError(t, err)

	sig := &RedirectSignature{
		SAMLRequest: encoded,
		RelayState:  "relay-123",
		SigAlg:      SigAlgRSASHA256,
	}
	digest := sha256.Sum256(sig.signedQuery())
	raw, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	sig.Signature = base64.StdEncoding.EncodeToString(raw)

	assert.NoError(t, VerifyRedirectSignature(sig, []*x509.Certificate{cert}))

	// Any tampering with the signed parameters must break verification.
	tampered := *sig
	tampered.RelayState = "relay-456"
	assert.Error(t, VerifyRedirectSignature(&tampered, []*x509.Certificate{cert}))

	_, otherCert := testKeyPair(t)
	assert.Error(t, VerifyRedirectSignature(sig, []*x509.Certificate{otherCert}))

	unsigned := &RedirectSignature{SAMLRequest: encoded, SigAlg: SigAlgRSASHA256}
	assert.False(t, unsigned.Present())
	assert.Error(t, VerifyRedirectSignature(unsigned, []*x509.Certificate{cert}))
}

func TestVerifyRedirectSignaturePreservesSenderEncoding(t *testing.T) {
	keyPair, cert := testKeyPair(t)
	key := keyPair.PrivateKey.(*rsa.PrivateKey)

	encoded, err := EncodeRedirect([]byte(sampleAuthnRequest))
	require.NoError(t, err)

	// The sender encodes the space in RelayState as %20 where this side
	// would produce "+". The signature covers the sender's bytes, so
	// verification must run over the query as received.
	rawQuery := "SAMLRequest=" + url.QueryEscape(encoded) +
		"&RelayState=relay%20state" +
		"&SigAlg=" + url.QueryEscape(SigAlgRSASHA256)
	digest := sha256.Sum256([]byte(rawQuery))
	raw, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)

	sig := &RedirectSignature{
		SAMLRequest: encoded,
		RelayState:  "relay state",
		SigAlg:      SigAlgRSASHA256,
		Signature:   base64.StdEncoding.EncodeToString(raw),
	}
	// Re-encoding the decoded values produces different bytes and fails.
	assert.Error(t, VerifyRedirectSignature(sig, []*x509.Certificate{cert}))

	sig.RawQuery = rawQuery + "&Signature=" + url.QueryEscape(sig.Signature)
	assert.NoError(t, VerifyRedirectSignature(sig, []*x509.Certificate{cert}))

	// Tampering with the raw parameter bytes still breaks verification.
	tampered := *sig
	tampered.RawQuery = strings.Replace(sig.RawQuery, "relay%20state", "relay%20other", 1)
	assert.Error(t, VerifyRedirectSignature(&tampered, []*x509.Certificate{cert}))
}

func TestVerifyRedirectSignatureRejectsUnknownAlgorithm(t *testing.T) {
	_, cert := testKeyPair(t)
	sig := &RedirectSignature{
		SAMLRequest: "x",
		SigAlg:      "http://www.w3.org/2001/04/xmldsig-more#hmac-md5",
		Signature:   base64.StdEncoding.EncodeToString([]byte("sig")),
	}
	err := VerifyRedirectSignature(sig, []*x509.Certificate{cert})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unsupported signature algorithm"))
}
