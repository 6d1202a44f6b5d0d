package login

import (
	"context"
	"errors"
	"net/url"
	"time"

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

// Engine drives the single sign-on flow.
type Engine struct {
	log      *observability.Logger
	metrics  *observability.Metrics
	tickets  *loginstate.Store
	sessions session.Store
	registry *metadata.Registry
	broker   *assurance.Broker
	verifier user.CredentialVerifier
	dir      user.Directory
	builder  *saml.ResponseBuilder

	// verifyPath is where the browser is sent after a successful
	// credential check to pick up its response.
	verifyPath      string
	defaultScope    string
	sessionLifetime time.Duration
}

// Config wires an Engine.
type Config struct {
	Logger          *observability.Logger
	Metrics         *observability.Metrics
	Tickets         *loginstate.Store
	Sessions        session.Store
	Registry        *metadata.Registry
	Broker          *assurance.Broker
	Verifier        user.CredentialVerifier
	Directory       user.Directory
	Builder         *saml.ResponseBuilder
	VerifyPath      string
	DefaultScope    string
	SessionLifetime time.Duration
}

// NewEngine creates an Engine from cfg.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		log:             cfg.Logger,
		metrics:         cfg.Metrics,
		tickets:         cfg.Tickets,
		sessions:        cfg.Sessions,
		registry:        cfg.Registry,
		broker:          cfg.Broker,
		verifier:        cfg.Verifier,
		dir:             cfg.Directory,
		builder:         cfg.Builder,
		verifyPath:      cfg.VerifyPath,
		defaultScope:    cfg.DefaultScope,
		sessionLifetime: cfg.SessionLifetime,
	}
}

// Submission is a posted login form.
type Submission struct {
	Key      string
	Username string
	Password string
	// Referer is where a failed attempt is sent back to, normally the
	// login form that produced the post.
	Referer string
}

// HandleAuthnRequest processes an inbound authentication request. A live
// session strong enough for the request is answered immediately; otherwise
// the login form is rendered. ForceAuthn demands a fresh credential check
// unless the very request that forced the current session asks again, which
// would loop forever.
func (e *Engine) HandleAuthnRequest(ctx context.Context, info *loginstate.RequestInfo, binding, sessionID string) (action.Action, error) {
	ticket, err := e.tickets.GetTicket(ctx, info, binding)
	if err != nil {
		return nil, err
	}
	log := e.log.WithFields(map[string]interface{}{
		"key":    ticket.Key,
		"issuer": ticket.Request.IssuerEntityID(),
	})

	sess, err := e.currentSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	forceAuthn := ticket.Request.ForceAuthn &&
		(sess == nil || sess.AuthnRequestID != ticket.Request.ID)

	if sess != nil && !forceAuthn {
		required, ok := e.pickContext(ticket.Request)
		if ok {
			satisfied, err := e.broker.Satisfies(sess.AuthnRef, required)
			if err != nil {
				return nil, idperror.Wrap(idperror.KindServiceError, "unknown stored authentication context", err)
			}
			if satisfied {
				log.WithField("user_id", sess.UserID).Info("Answering request from existing session")
				e.countLogin("sso")
				return e.respond(ctx, ticket, sess)
			}
			log.Debug("Existing session too weak for request, prompting")
		}
	}

	if forceAuthn && sess != nil {
		log.WithField("user_id", sess.UserID).Info("ForceAuthn set, ignoring existing session")
		if e.metrics != nil {
			e.metrics.ForcedAuthnsTotal.Inc()
		}
	}
	return e.prompt(ticket)
}

// HandleCredentialSubmission processes a posted login form. Failures grow
// the ticket's failure count and send the browser back to the form; success
// establishes a session and redirects to the verify endpoint to pick up the
// response.
func (e *Engine) HandleCredentialSubmission(ctx context.Context, sub *Submission) (action.Action, error) {
	ticket, err := e.tickets.GetTicket(ctx, &loginstate.RequestInfo{Key: sub.Key}, "")
	if err != nil {
		return nil, err
	}

	var account *user.User
	if sub.Username != "" && sub.Password != "" {
		account, err = e.verifier.Verify(ctx, sub.Username, sub.Password)
		if err != nil {
			return nil, idperror.Wrap(idperror.KindServiceError, "credential verification failed", err)
		}
	}
	if account == nil {
		return e.failedAttempt(ctx, ticket, sub)
	}

	required, ok := e.pickContext(ticket.Request)
	if !ok {
		return nil, idperror.Unauthorized("no usable authentication method")
	}
	if !assurance.Permitted(account.AllowedClassRefs, required) {
		return nil, idperror.Forbidden("authentication not permitted for user")
	}

	sessionID, err := e.sessions.AddSession(ctx, &session.SSOSession{
		UserID:         account.ID,
		AuthnRef:       required.Ref,
		AuthnClassRef:  required.ClassRef,
		AuthnRequestID: ticket.Request.ID,
		AuthnInstant:   time.Now(),
	})
	if err != nil {
		return nil, idperror.Wrap(idperror.KindServiceError, "failed to store session", err)
	}
	e.log.WithFields(map[string]interface{}{
		"user_id":    account.ID,
		"session_id": sessionID,
		"key":        ticket.Key,
	}).Info("Login successful")
	e.countLogin("success")
	if e.metrics != nil {
		e.metrics.SessionsCreatedTotal.Inc()
		e.metrics.SessionsActive.Inc()
	}

	return action.Redirect{
		URL:       e.verifyPath + "?key=" + url.QueryEscape(ticket.Key),
		SessionID: sessionID,
	}, nil
}

// Verify is the post-login pickup: the browser arrives with its new session
// cookie and the ticket key, and leaves with the SAML response.
func (e *Engine) Verify(ctx context.Context, key, sessionID string) (action.Action, error) {
	ticket, err := e.tickets.GetTicket(ctx, &loginstate.RequestInfo{Key: key}, "")
	if err != nil {
		return nil, err
	}
	sess, err := e.currentSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, idperror.Unauthorized("no valid session")
	}
	return e.respond(ctx, ticket, sess)
}

func (e *Engine) currentSession(ctx context.Context, sessionID string) (*session.SSOSession, error) {
	if sessionID == "" {
		return nil, nil
	}
	sess, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, idperror.Wrap(idperror.KindServiceError, "failed to fetch session", err)
	}
	return sess, nil
}

// pickContext selects the authentication method for a request, honoring the
// issuer's assurance override.
func (e *Engine) pickContext(req *saml.AuthnRequest) (*assurance.Context, bool) {
	policy, _ := e.registry.PolicyFor(req.IssuerEntityID())
	return e.broker.Pick(req.RequestedClassRefs(), policy.Assurance)
}

func (e *Engine) prompt(ticket *loginstate.Ticket) (action.Action, error) {
	required, ok := e.pickContext(ticket.Request)
	if !ok {
		return nil, idperror.Unauthorized("no usable authentication method")
	}
	if e.metrics != nil {
		e.metrics.LoginPromptsTotal.Inc()
	}
	return action.RenderForm{
		Args: map[string]interface{}{
			"key":             ticket.Key,
			"redirect_uri":    e.verifyPath,
			"fail_count":      ticket.FailCount,
			"authn_reference": required.Ref,
			"sp_entity_id":    ticket.Request.IssuerEntityID(),
		},
	}, nil
}

func (e *Engine) failedAttempt(ctx context.Context, ticket *loginstate.Ticket, sub *Submission) (action.Action, error) {
	ticket.FailCount++
	if err := e.tickets.StoreTicket(ctx, ticket); err != nil {
		return nil, err
	}
	e.log.WithFields(map[string]interface{}{
		"key":        ticket.Key,
		"fail_count": ticket.FailCount,
	}).Info("Login incorrect")
	e.countLogin("failure")

	if sub.Referer != "" {
		return action.Redirect{URL: sub.Referer}, nil
	}
	return nil, idperror.Unauthorized("login incorrect")
}

// respond issues the SAML response for ticket from sess and retires the
// ticket.
func (e *Engine) respond(ctx context.Context, ticket *loginstate.Ticket, sess *session.SSOSession) (action.Action, error) {
	issuer := ticket.Request.IssuerEntityID()
	endpoint, err := e.registry.EndpointFor(issuer, metadata.ServiceAssertionConsumer, ticket.Request.ProtocolBinding)
	if err != nil {
		switch {
		case errors.Is(err, metadata.ErrUnknownServiceProvider):
			return nil, idperror.BadRequest("don't know the SP that referred you here")
		case errors.Is(err, metadata.ErrNoSupportedBinding):
			return nil, idperror.BadRequest("don't know how to reply to the SP that referred you here")
		default:
			return nil, idperror.Wrap(idperror.KindServiceError, "failed to resolve response endpoint", err)
		}
	}

	stored, ok := e.broker.Get(sess.AuthnRef)
	if !ok {
		return nil, idperror.ServiceError("unknown stored authentication context " + sess.AuthnRef)
	}

	account, err := e.dir.ByID(ctx, sess.UserID)
	if err != nil {
		return nil, idperror.Wrap(idperror.KindServiceError, "failed to fetch user", err)
	}
	if account == nil {
		return nil, idperror.Unauthorized("session user no longer exists")
	}
	if required, ok := e.pickContext(ticket.Request); ok && !assurance.Permitted(account.AllowedClassRefs, required) {
		return nil, idperror.Forbidden("authentication not permitted for user")
	}

	policy, _ := e.registry.PolicyFor(issuer)
	nameIDFormat := saml.NameIDFormatPersistent
	if p := ticket.Request.NameIDPolicy; p != nil && p.Format != "" {
		nameIDFormat = p.Format
	}

	resp, err := e.builder.BuildLoginResponse(&saml.LoginResponseInput{
		InResponseTo:    ticket.Request.ID,
		Destination:     endpoint.Location,
		SPEntityID:      issuer,
		NameID:          account.ID,
		NameIDFormat:    nameIDFormat,
		SessionIndex:    sess.SessionID,
		AuthnInstant:    sess.AuthnInstant,
		AuthnClassRef:   stored.ClassRef,
		SessionLifetime: e.sessionLifetime,
		Attributes:      account.ToSAMLAttributes(policy.Attributes, e.defaultScope),
	})
	if err != nil {
		return nil, idperror.Wrap(idperror.KindServiceError, "failed to build response", err)
	}

	bound, err := saml.Bind(endpoint.Binding, endpoint.Location, "SAMLResponse", ticket.RelayState, resp)
	if err != nil {
		return nil, idperror.Wrap(idperror.KindServiceError, "failed to bind response", err)
	}
	if e.metrics != nil {
		e.metrics.AssertionsTotal.WithLabelValues(endpoint.Binding).Inc()
	}

	if err := e.tickets.DeleteTicket(ctx, ticket.Key); err != nil {
		e.log.WithError(err).Warn("Failed to retire login ticket")
	}
	e.log.WithFields(map[string]interface{}{
		"issuer":  issuer,
		"user_id": sess.UserID,
		"binding": endpoint.Binding,
	}).Info("Issued assertion")

	return action.Respond{Bound: bound, SessionID: sess.SessionID}, nil
}

func (e *Engine) countLogin(outcome string) {
	if e.metrics != nil {
		e.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}
