package logout

import (
	"context"
	"errors"

	"github.com/platinummonkey/gatehouse/pkg/action"
	"github.com/platinummonkey/gatehouse/pkg/idperror"
	"github.com/platinummonkey/gatehouse/pkg/metadata"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/saml"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/user"
)

// Engine drives the single logout flow.
type Engine struct {
	log       *observability.Logger
	metrics   *observability.Metrics
	sessions  session.Store
	registry  *metadata.Registry
	resolver  user.IdentityResolver
	builder   *saml.ResponseBuilder
	verifyAll bool
}

// Config wires an Engine.
type Config struct {
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Sessions session.Store
	Registry *metadata.Registry
	Resolver user.IdentityResolver
	Builder  *saml.ResponseBuilder
	// VerifyAll rejects every unsigned logout request.
	VerifyAll bool
}

// NewEngine creates an Engine from cfg.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		sessions:  cfg.Sessions,
		registry:  cfg.Registry,
		resolver:  cfg.Resolver,
		builder:   cfg.Builder,
		verifyAll: cfg.VerifyAll,
	}
}

// Request is an inbound logout interaction.
type Request struct {
	// Binding the request arrived over.
	Binding string
	// Payload is the SAMLRequest parameter for the HTTP bindings, or the
	// whole SOAP envelope for the SOAP binding.
	Payload    string
	RelayState string
	// SessionID is the browser's session cookie, empty over SOAP.
	SessionID string
	// Signature carries the detached redirect-binding signature.
	Signature *saml.RedirectSignature
}

// outcome is the aggregate of the termination pass, mapped to response
// status codes.
type outcome struct {
	found  int
	failed int
	// unknownPrincipal means the subject could not be resolved at all.
	unknownPrincipal bool
}

func (o outcome) statusCodes() (top, second, label string) {
	switch {
	case o.unknownPrincipal || o.found == 0:
		return saml.StatusResponder, saml.StatusUnknownPrincipal, "unknown_principal"
	case o.failed == 0:
		return saml.StatusSuccess, "", "success"
	case o.failed < o.found:
		return saml.StatusResponder, saml.StatusPartialLogout, "partial"
	default:
		return saml.StatusResponder, "", "responder"
	}
}

// HandleLogoutRequest terminates the sessions a LogoutRequest refers to and
// prepares the response. The browser's own session, when present, decides
// what is logged out; otherwise every session of the resolved principal is.
// The session cookie is cleared regardless of outcome.
func (e *Engine) HandleLogoutRequest(ctx context.Context, req *Request) (action.Action, error) {
	logoutReq, err := e.parse(req)
	if err != nil {
		return nil, err
	}
	issuer := logoutReq.IssuerEntityID()
	log := e.log.WithFields(map[string]interface{}{
		"issuer":     issuer,
		"request_id": logoutReq.ID,
	})

	result := e.terminate(ctx, log, logoutReq, req.SessionID)
	top, second, label := result.statusCodes()
	if e.metrics != nil {
		e.metrics.LogoutsTotal.WithLabelValues(label).Inc()
	}
	log.WithFields(map[string]interface{}{
		"sessions": result.found,
		"failed":   result.failed,
		"status":   label,
	}).Info("Processed logout request")

	if req.Binding == saml.BindingSOAP {
		resp, err := e.builder.BuildLogoutResponse(logoutReq.ID, "", top, second)
		if err != nil {
			return nil, idperror.Wrap(idperror.KindServiceError, "failed to build LogoutResponse", err)
		}
		bound, err := saml.Bind(saml.BindingSOAP, "", "SAMLResponse", "", resp)
		if err != nil {
			return nil, idperror.Wrap(idperror.KindServiceError, "failed to bind LogoutResponse", err)
		}
		return action.Respond{Bound: bound, ClearSession: true}, nil
	}

	endpoint, err := e.registry.EndpointFor(issuer, metadata.ServiceSingleLogout, req.Binding)
	if err != nil {
		switch {
		case errors.Is(err, metadata.ErrUnknownServiceProvider):
			return nil, idperror.BadRequest("don't know the SP that referred you here")
		case errors.Is(err, metadata.ErrNoSupportedBinding):
			return nil, idperror.BadRequest("don't know how to reply to the SP that referred you here")
		default:
			return nil, idperror.Wrap(idperror.KindServiceError, "failed to resolve logout endpoint", err)
		}
	}

	resp, err := e.builder.BuildLogoutResponse(logoutReq.ID, endpoint.Location, top, second)
	if err != nil {
		return nil, idperror.Wrap(idperror.KindServiceError, "failed to build LogoutResponse", err)
	}
	bound, err := saml.Bind(endpoint.Binding, endpoint.Location, "SAMLResponse", req.RelayState, resp)
	if err != nil {
		return nil, idperror.Wrap(idperror.KindServiceError, "failed to bind LogoutResponse", err)
	}
	return action.Respond{Bound: bound, ClearSession: true}, nil
}

// parse decodes, parses and signature-checks the inbound request.
func (e *Engine) parse(req *Request) (*saml.LogoutRequest, error) {
	payload := req.Payload
	if req.Binding == saml.BindingSOAP {
		inner, err := saml.ExtractSOAPRequest([]byte(payload))
		if err != nil {
			return nil, idperror.Wrap(idperror.KindBadRequest, "failed to unpack SOAP request", err)
		}
		payload = string(inner)
	}

	raw, err := saml.DecodeRequest(req.Binding, payload)
	if err != nil {
		return nil, idperror.Wrap(idperror.KindBadRequest, "failed to decode LogoutRequest", err)
	}
	logoutReq, err := saml.ParseLogoutRequest(raw)
	if err != nil {
		return nil, idperror.Wrap(idperror.KindBadRequest, "failed to parse LogoutRequest", err)
	}

	issuer := logoutReq.IssuerEntityID()
	policy, _ := e.registry.PolicyFor(issuer)
	mustVerify := e.verifyAll || policy.RequireSignedRequests

	signed := false
	if req.Binding == saml.BindingHTTPRedirect {
		signed = req.Signature != nil && req.Signature.Present()
	} else {
		signed = saml.HasEnvelopedSignature(raw)
	}
	if !signed {
		if mustVerify {
			return nil, idperror.BadRequest("rejecting unsigned LogoutRequest from " + issuer)
		}
		return logoutReq, nil
	}

	certs, err := e.registry.CertsFor(issuer)
	if err != nil {
		if mustVerify {
			return nil, idperror.Wrap(idperror.KindBadRequest, "cannot verify LogoutRequest signature", err)
		}
		return logoutReq, nil
	}
	if req.Binding == saml.BindingHTTPRedirect {
		err = saml.VerifyRedirectSignature(req.Signature, certs)
	} else {
		err = saml.VerifyEnvelopedSignature(raw, certs)
	}
	if err != nil {
		return nil, idperror.Wrap(idperror.KindBadRequest, "LogoutRequest signature verification failed", err)
	}
	return logoutReq, nil
}

// terminate removes the referenced sessions one by one, counting failures
// instead of aborting so the response can report partial success.
func (e *Engine) terminate(ctx context.Context, log *observability.Logger, req *saml.LogoutRequest, sessionID string) outcome {
	var targets []*session.SSOSession

	// A browser arriving with a session cookie logs out exactly that
	// session. The NameID fan-out is only for cookie-less requests; a
	// cookie whose session is already gone counts as a failed target,
	// never as license to terminate the subject's other sessions.
	if sessionID != "" {
		sess, err := e.sessions.GetSession(ctx, sessionID)
		if err != nil {
			log.WithError(err).Error("Failed to fetch session for logout")
			return outcome{found: 1, failed: 1}
		}
		if sess == nil {
			log.WithField("session_id", sessionID).Info("Logout cookie session no longer exists")
			return outcome{found: 1, failed: 1}
		}
		targets = []*session.SSOSession{sess}
	} else {
		userID, err := e.resolver.ResolveLocalID(ctx, req.NameID)
		if err != nil {
			log.WithError(err).Info("Could not resolve logout subject")
			return outcome{unknownPrincipal: true}
		}
		if userID == "" {
			return outcome{unknownPrincipal: true}
		}
		targets, err = e.sessions.SessionsForUser(ctx, userID)
		if err != nil {
			log.WithError(err).Error("Failed to list sessions for logout")
			return outcome{found: 1, failed: 1}
		}

		// SessionIndex narrows the fan-out to the named sessions.
		if len(req.SessionIndex) > 0 {
			indexed := make(map[string]bool, len(req.SessionIndex))
			for _, idx := range req.SessionIndex {
				indexed[idx] = true
			}
			kept := targets[:0]
			for _, sess := range targets {
				if indexed[sess.SessionID] {
					kept = append(kept, sess)
				}
			}
			targets = kept
		}
	}

	result := outcome{found: len(targets)}
	for _, sess := range targets {
		removed, err := e.sessions.RemoveSession(ctx, sess.SessionID)
		if err != nil {
			log.WithError(err).WithField("session_id", sess.SessionID).Error("Failed to remove session")
			result.failed++
			continue
		}
		if !removed {
			// Gone between resolution and removal; the SP asked for a
			// termination that did not happen.
			log.WithField("session_id", sess.SessionID).Info("Session vanished before removal")
			result.failed++
			continue
		}
		if e.metrics != nil {
			e.metrics.SessionsRemovedTotal.Inc()
			e.metrics.SessionsActive.Dec()
		}
	}
	return result
}
