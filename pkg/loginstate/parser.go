package loginstate

import (
	"errors"

	"github.com/platinummonkey/gatehouse/pkg/idperror"
	"github.com/platinummonkey/gatehouse/pkg/metadata"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/saml"
)

// Parser turns wire-encoded authentication requests into parsed, verified
// messages. Signature verification is opportunistic: an unsigned request is
// accepted unless verifyAll or the issuer's policy demands signing, but a
// signature that is present must always verify.
type Parser struct {
	log       *observability.Logger
	registry  *metadata.Registry
	verifyAll bool
}

// NewParser creates a Parser. verifyAll rejects every unsigned request.
func NewParser(logger *observability.Logger, registry *metadata.Registry, verifyAll bool) *Parser {
	return &Parser{log: logger, registry: registry, verifyAll: verifyAll}
}

// Parse decodes and parses an authentication request and enforces the
// signing policy. sig carries the detached redirect-binding signature and
// may be nil for other bindings.
func (p *Parser) Parse(binding, encoded string, sig *saml.RedirectSignature) (*saml.AuthnRequest, error) {
	raw, err := saml.DecodeRequest(binding, encoded)
	if err != nil {
		return nil, idperror.Wrap(idperror.KindBadRequest, "failed to decode SAML request", err)
	}
	req, err := saml.ParseAuthnRequest(raw)
	if err != nil {
		return nil, idperror.Wrap(idperror.KindBadRequest, "failed to parse SAML request", err)
	}

	issuer := req.IssuerEntityID()
	policy, policyErr := p.registry.PolicyFor(issuer)
	if policyErr != nil && !errors.Is(policyErr, metadata.ErrUnknownServiceProvider) {
		return nil, idperror.Wrap(idperror.KindServiceError, "failed to load issuer policy", policyErr)
	}
	mustVerify := p.verifyAll || policy.RequireSignedRequests

	signed := false
	switch binding {
	case saml.BindingHTTPRedirect:
		signed = sig != nil && sig.Present()
	default:
		signed = saml.HasEnvelopedSignature(raw)
	}

	if !signed {
		if mustVerify {
			return nil, idperror.BadRequest("rejecting unsigned SAML request from " + issuer)
		}
		p.log.WithField("issuer", issuer).Debug("Accepting unsigned SAML request")
		return req, nil
	}

	certs, err := p.registry.CertsFor(issuer)
	if err != nil {
		// A signed request from an unknown issuer cannot be verified.
		// Without mandatory verification it is still handled; the issuer
		// is rejected later when resolving where to respond.
		if mustVerify {
			return nil, idperror.Wrap(idperror.KindBadRequest, "cannot verify request signature", err)
		}
		p.log.WithField("issuer", issuer).Debug("Skipping signature check for unknown issuer")
		return req, nil
	}

	switch binding {
	case saml.BindingHTTPRedirect:
		err = saml.VerifyRedirectSignature(sig, certs)
	default:
		err = saml.VerifyEnvelopedSignature(raw, certs)
	}
	if err != nil {
		return nil, idperror.Wrap(idperror.KindBadRequest, "SAML request signature verification failed", err)
	}
	p.log.WithField("issuer", issuer).Debug("Verified SAML request signature")
	return req, nil
}
