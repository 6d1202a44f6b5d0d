package login

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/action"
	"github.com/platinummonkey/gatehouse/pkg/assurance"
	"github.com/platinummonkey/gatehouse/pkg/idperror"
	"github.com/platinummonkey/gatehouse/pkg/loginstate"
	"github.com/platinummonkey/gatehouse/pkg/metadata"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/saml"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/user"
)

const spEntityID = "https://sp.example.com/metadata"

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.DebugLevel, io.Discard)
}

func selfSignedCert(t *testing.T, cn string) (tls.Certificate, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key},
		base64.StdEncoding.EncodeToString(der)
}

func testRegistry(t *testing.T, policyYAML string) *metadata.Registry {
	t.Helper()
	_, certB64 := selfSignedCert(t, "sp.example.com")
	dir := t.TempDir()
	descriptor := fmt.Sprintf(`<?xml version="1.0"?>
<md:EntityDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata" entityID="%s">
  <md:SPSSODescriptor protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <md:KeyDescriptor use="signing">
      <ds:KeyInfo xmlns:ds="http://www.w3.org/2000/09/xmldsig#">
        <ds:X509Data><ds:X509Certificate>%s</ds:X509Certificate></ds:X509Data>
      </ds:KeyInfo>
    </md:KeyDescriptor>
    <md:AssertionConsumerService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST" Location="https://sp.example.com/acs" index="0"/>
  </md:SPSSODescriptor>
</md:EntityDescriptor>`, spEntityID, certB64)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sp.xml"), []byte(descriptor), 0o644))
	if policyYAML != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "policy.yaml"), []byte(policyYAML), 0o644))
	}
	registry, err := metadata.NewRegistry(testLogger(), dir)
	require.NoError(t, err)
	return registry
}

type fakeDirectory struct {
	users map[string]*user.User
}

func (f *fakeDirectory) ByUsername(_ context.Context, username string) (*user.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeDirectory) ByID(_ context.Context, id string) (*user.User, error) {
	return f.users[id], nil
}

type harness struct {
	engine   *Engine
	tickets  *loginstate.Store
	sessions session.Store
	dir      *fakeDirectory
}

func newHarness(t *testing.T, policyYAML string) *harness {
	t.Helper()
	logger := testLogger()
	registry := testRegistry(t, policyYAML)
	parser := loginstate.NewParser(logger, registry, false)
	tickets := loginstate.NewMemoryStore(logger, parser, time.Minute)
	sessions := session.NewMemoryStore(logger, time.Hour)

	hash, err := argon2id.CreateHash("correct horse", argon2id.DefaultParams)
	require.NoError(t, err)
	dir := &fakeDirectory{users: map[string]*user.User{
		"user-1": {
			ID:           "user-1",
			Username:     "jsmith",
			PasswordHash: hash,
			Attributes: map[string][]string{
				"eduPersonPrincipalName": {"jsmith"},
				"mail":                   {"j@example.org"},
			},
		},
	}}

	keyPair, _ := selfSignedCert(t, "idp.example.org")
	engine := NewEngine(Config{
		Logger:          logger,
		Tickets:         tickets,
		Sessions:        sessions,
		Registry:        registry,
		Broker:          assurance.DefaultBroker(),
		Verifier:        user.NewDirectoryVerifier(dir, logger),
		Directory:       dir,
		Builder:         saml.NewResponseBuilder("https://idp.example.org/idp.xml", keyPair),
		VerifyPath:      "/verify",
		DefaultScope:    "example.org",
		SessionLifetime: time.Hour,
	})
	return &harness{engine: engine, tickets: tickets, sessions: sessions, dir: dir}
}

func authnRequestXML(id string, force bool) string {
	forceAttr := ""
	if force {
		forceAttr = ` ForceAuthn="true"`
	}
	return fmt.Sprintf(`<samlp:AuthnRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol"
    xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion"
    ID="%s" Version="2.0" IssueInstant="2026-08-26T10:00:00Z"%s>
  <saml:Issuer>%s</saml:Issuer>
</samlp:AuthnRequest>`, id, forceAttr, spEntityID)
}

func encodeRequest(t *testing.T, xmlDoc string) string {
	t.Helper()
	encoded, err := saml.EncodeRedirect([]byte(xmlDoc))
	require.NoError(t, err)
	return encoded
}

func (h *harness) login(t *testing.T, encoded string) (string, string) {
	t.Helper()
	ctx := context.Background()
	act, err := h.engine.HandleAuthnRequest(ctx, &loginstate.RequestInfo{EncodedRequest: encoded}, saml.BindingHTTPRedirect, "")
	require.NoError(t, err)
	form, ok := act.(action.RenderForm)
	require.True(t, ok, "expected the login form, got %T", act)
	key := form.Args["key"].(string)

	act, err = h.engine.HandleCredentialSubmission(ctx, &Submission{
		Key:      key,
		Username: "jsmith",
		Password: "correct horse",
	})
	require.NoError(t, err)
	redirect, ok := act.(action.Redirect)
	require.True(t, ok, "expected a redirect, got %T", act)
	require.NotEmpty(t, redirect.SessionID)
	return key, redirect.SessionID
}

func TestNewRequestRendersLoginForm(t *testing.T) {
	h := newHarness(t, "")
	encoded := encodeRequest(t, authnRequestXML("id-1", false))

	act, err := h.engine.HandleAuthnRequest(context.Background(), &loginstate.RequestInfo{EncodedRequest: encoded}, saml.BindingHTTPRedirect, "")
	require.NoError(t, err)

	form, ok := act.(action.RenderForm)
	require.True(t, ok)
	assert.Equal(t, 0, form.Args["fail_count"])
	assert.Equal(t, "/verify", form.Args["redirect_uri"])
	assert.Equal(t, spEntityID, form.Args["sp_entity_id"])
	assert.NotEmpty(t, form.Args["key"])
	assert.NotEmpty(t, form.Args["authn_reference"])
}

func TestFullLoginFlow(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	encoded := encodeRequest(t, authnRequestXML("id-1", false))

	key, sessionID := h.login(t, encoded)

	sess, err := h.sessions.GetSession(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "user-1", sess.UserID)
	assert.Equal(t, "id-1", sess.AuthnRequestID)

	act, err := h.engine.Verify(ctx, key, sessionID)
	require.NoError(t, err)
	respond, ok := act.(action.Respond)
	require.True(t, ok)
	assert.Equal(t, saml.BindingHTTPPost, respond.Bound.Binding)
	assert.Equal(t, "https://sp.example.com/acs", respond.Bound.Destination)

	// The assertion carries the scoped principal name.
	raw, err := saml.DecodeRequest(saml.BindingHTTPPost, respond.Bound.FormFields["SAMLResponse"])
	require.NoError(t, err)
	assert.Contains(t, string(raw), "jsmith@example.org")
	assert.Contains(t, string(raw), "id-1")

	// The ticket is retired once the response is issued.
	_, err = h.engine.Verify(ctx, key, sessionID)
	require.Error(t, err)
	assert.Equal(t, idperror.KindLoginTimeout, idperror.KindOf(err))
}

func TestExistingSessionAnswersImmediately(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	_, sessionID := h.login(t, encodeRequest(t, authnRequestXML("id-1", false)))

	// A second request from the same browser is answered with no prompt.
	encoded := encodeRequest(t, authnRequestXML("id-2", false))
	act, err := h.engine.HandleAuthnRequest(ctx, &loginstate.RequestInfo{EncodedRequest: encoded}, saml.BindingHTTPRedirect, sessionID)
	require.NoError(t, err)
	_, ok := act.(action.Respond)
	assert.True(t, ok, "expected an immediate response, got %T", act)
}

func TestForceAuthnIgnoresSession(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	_, sessionID := h.login(t, encodeRequest(t, authnRequestXML("id-1", false)))

	encoded := encodeRequest(t, authnRequestXML("id-2", true))
	act, err := h.engine.HandleAuthnRequest(ctx, &loginstate.RequestInfo{EncodedRequest: encoded}, saml.BindingHTTPRedirect, sessionID)
	require.NoError(t, err)
	_, ok := act.(action.RenderForm)
	assert.True(t, ok, "ForceAuthn must prompt despite the session, got %T", act)
}

func TestForceAuthnLoopGuard(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	// Log in against a ForceAuthn request, then replay the same request
	// with the new session. Honoring ForceAuthn again would prompt forever.
	encoded := encodeRequest(t, authnRequestXML("id-force", true))
	_, sessionID := h.login(t, encoded)

	act, err := h.engine.HandleAuthnRequest(ctx, &loginstate.RequestInfo{EncodedRequest: encoded}, saml.BindingHTTPRedirect, sessionID)
	require.NoError(t, err)
	_, ok := act.(action.Respond)
	assert.True(t, ok, "the request that forced this session must be answered, got %T", act)
}

func TestFailedLoginGrowsFailCount(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	encoded := encodeRequest(t, authnRequestXML("id-1", false))

	act, err := h.engine.HandleAuthnRequest(ctx, &loginstate.RequestInfo{EncodedRequest: encoded}, saml.BindingHTTPRedirect, "")
	require.NoError(t, err)
	key := act.(action.RenderForm).Args["key"].(string)

	act, err = h.engine.HandleCredentialSubmission(ctx, &Submission{
		Key:      key,
		Username: "jsmith",
		Password: "wrong",
		Referer:  "/sso/redirect?key=" + key,
	})
	require.NoError(t, err)
	redirect, ok := act.(action.Redirect)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(redirect.URL, "/sso/redirect"))
	assert.Empty(t, redirect.SessionID)

	// The next form render shows the failure.
	act, err = h.engine.HandleAuthnRequest(ctx, &loginstate.RequestInfo{EncodedRequest: encoded}, saml.BindingHTTPRedirect, "")
	require.NoError(t, err)
	assert.Equal(t, 1, act.(action.RenderForm).Args["fail_count"])
}

func TestFailedLoginWithoutRefererIsUnauthorized(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	encoded := encodeRequest(t, authnRequestXML("id-1", false))
	act, err := h.engine.HandleAuthnRequest(ctx, &loginstate.RequestInfo{EncodedRequest: encoded}, saml.BindingHTTPRedirect, "")
	require.NoError(t, err)
	key := act.(action.RenderForm).Args["key"].(string)

	_, err = h.engine.HandleCredentialSubmission(ctx, &Submission{Key: key, Username: "jsmith", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, idperror.KindUnauthorized, idperror.KindOf(err))
}

func TestMissingCredentialsCountAsFailure(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	encoded := encodeRequest(t, authnRequestXML("id-1", false))
	act, err := h.engine.HandleAuthnRequest(ctx, &loginstate.RequestInfo{EncodedRequest: encoded}, saml.BindingHTTPRedirect, "")
	require.NoError(t, err)
	key := act.(action.RenderForm).Args["key"].(string)

	_, err = h.engine.HandleCredentialSubmission(ctx, &Submission{Key: key, Username: "jsmith"})
	require.Error(t, err)
	assert.Equal(t, idperror.KindUnauthorized, idperror.KindOf(err))
}

func TestExpiredTicketSubmissionIsLoginTimeout(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.engine.HandleCredentialSubmission(context.Background(), &Submission{
		Key:      "long-gone",
		Username: "jsmith",
		Password: "correct horse",
	})
	require.Error(t, err)
	assert.Equal(t, idperror.KindLoginTimeout, idperror.KindOf(err))
}

func TestUnknownIssuerRejectedAtResponse(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	xmlDoc := strings.ReplaceAll(authnRequestXML("id-1", false), spEntityID, "https://stranger.example.net/metadata")
	encoded := encodeRequest(t, xmlDoc)

	act, err := h.engine.HandleAuthnRequest(ctx, &loginstate.RequestInfo{EncodedRequest: encoded}, saml.BindingHTTPRedirect, "")
	require.NoError(t, err)
	key := act.(action.RenderForm).Args["key"].(string)

	act, err = h.engine.HandleCredentialSubmission(ctx, &Submission{Key: key, Username: "jsmith", Password: "correct horse"})
	require.NoError(t, err)
	sessionID := act.(action.Redirect).SessionID

	_, err = h.engine.Verify(ctx, key, sessionID)
	require.Error(t, err)
	assert.Equal(t, idperror.KindBadRequest, idperror.KindOf(err))
	assert.Contains(t, err.Error(), "don't know the SP")
}

func TestVerifyWithoutSession(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	encoded := encodeRequest(t, authnRequestXML("id-1", false))
	act, err := h.engine.HandleAuthnRequest(ctx, &loginstate.RequestInfo{EncodedRequest: encoded}, saml.BindingHTTPRedirect, "")
	require.NoError(t, err)
	key := act.(action.RenderForm).Args["key"].(string)

	_, err = h.engine.Verify(ctx, key, "")
	require.Error(t, err)
	assert.Equal(t, idperror.KindUnauthorized, idperror.KindOf(err))
}

func TestUserNotPermittedForRequiredContext(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	// Restrict the account to plain password while the broker will pick
	// the stronger protected-transport context.
	h.dir.users["user-1"].AllowedClassRefs = []string{saml.ClassRefPassword}

	encoded := encodeRequest(t, authnRequestXML("id-1", false))
	act, err := h.engine.HandleAuthnRequest(ctx, &loginstate.RequestInfo{EncodedRequest: encoded}, saml.BindingHTTPRedirect, "")
	require.NoError(t, err)
	key := act.(action.RenderForm).Args["key"].(string)

	_, err = h.engine.HandleCredentialSubmission(ctx, &Submission{Key: key, Username: "jsmith", Password: "correct horse"})
	require.Error(t, err)
	assert.Equal(t, idperror.KindForbidden, idperror.KindOf(err))
}

func TestAttributeReleasePolicy(t *testing.T) {
	h := newHarness(t, `"`+spEntityID+`":
  attributes:
    - mail
`)
	ctx := context.Background()
	key, sessionID := h.login(t, encodeRequest(t, authnRequestXML("id-1", false)))

	act, err := h.engine.Verify(ctx, key, sessionID)
	require.NoError(t, err)
	raw, err := saml.DecodeRequest(saml.BindingHTTPPost, act.(action.Respond).Bound.FormFields["SAMLResponse"])
	require.NoError(t, err)
	assert.Contains(t, string(raw), "j@example.org")
	assert.NotContains(t, string(raw), "eduPersonPrincipalName")
}
