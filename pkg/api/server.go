// Package api exposes the identity provider over HTTP: the single sign-on
// and single logout endpoints, the login form, and the operational
// endpoints for health and metrics.
package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/action"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/idperror"
	"github.com/platinummonkey/gatehouse/pkg/login"
	"github.com/platinummonkey/gatehouse/pkg/loginstate"
	"github.com/platinummonkey/gatehouse/pkg/logout"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/saml"
	"github.com/platinummonkey/gatehouse/pkg/user"
)

// maxSOAPBody bounds inbound SOAP payloads.
const maxSOAPBody = 1 << 20

// Server routes HTTP traffic to the engines.
type Server struct {
	log     *observability.Logger
	metrics *observability.Metrics
	router  *mux.Router

	login    *login.Engine
	logout   *logout.Engine
	verifier user.CredentialVerifier
	health   *observability.HealthChecker
	cookie   *httputil.SessionCookie

	signupLink        string
	passwordResetLink string
}

// Config wires a Server.
type Config struct {
	Logger            *observability.Logger
	Metrics           *observability.Metrics
	Login             *login.Engine
	Logout            *logout.Engine
	Verifier          user.CredentialVerifier
	Health            *observability.HealthChecker
	Cookie            *httputil.SessionCookie
	SignupLink        string
	PasswordResetLink string
}

// NewServer creates a Server and sets up its routes.
func NewServer(cfg Config) *Server {
	s := &Server{
		log:               cfg.Logger,
		metrics:           cfg.Metrics,
		router:            mux.NewRouter(),
		login:             cfg.Login,
		logout:            cfg.Logout,
		verifier:          cfg.Verifier,
		health:            cfg.Health,
		cookie:            cfg.Cookie,
		signupLink:        cfg.SignupLink,
		passwordResetLink: cfg.PasswordResetLink,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/sso/redirect", s.ssoRedirect).Methods("GET")
	s.router.HandleFunc("/sso/post", s.ssoPost).Methods("POST")
	s.router.HandleFunc("/verify", s.verifyGet).Methods("GET")
	s.router.HandleFunc("/verify", s.verifyPost).Methods("POST")

	s.router.HandleFunc("/slo/redirect", s.sloRedirect).Methods("GET")
	s.router.HandleFunc("/slo/post", s.sloPost).Methods("POST")
	s.router.HandleFunc("/slo/soap", s.sloSOAP).Methods("POST")

	s.router.HandleFunc("/status", s.status).Methods("POST")

	if s.health != nil {
		s.router.HandleFunc("/healthz", s.health.Liveness).Methods("GET")
		s.router.HandleFunc("/readyz", s.health.Readiness).Methods("GET")
	}
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

// Router returns the configured router for wrapping in middleware.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ssoRedirect receives authentication requests over the HTTP-Redirect
// binding, or revisits identified by a bare ticket key.
func (s *Server) ssoRedirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	info := &loginstate.RequestInfo{
		Key:            q.Get("key"),
		EncodedRequest: q.Get("SAMLRequest"),
		RelayState:     q.Get("RelayState"),
	}
	if sig := q.Get("Signature"); sig != "" {
		info.Signature = &saml.RedirectSignature{
			SAMLRequest: q.Get("SAMLRequest"),
			RelayState:  q.Get("RelayState"),
			SigAlg:      q.Get("SigAlg"),
			Signature:   sig,
			RawQuery:    r.URL.RawQuery,
		}
	}

	act, err := s.login.HandleAuthnRequest(r.Context(), info, saml.BindingHTTPRedirect, s.cookie.Read(r))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.renderAction(w, r, act)
}

// ssoPost receives authentication requests over the HTTP-POST binding.
func (s *Server) ssoPost(w http.ResponseWriter, r *http.Request) {
	info := &loginstate.RequestInfo{
		Key:            r.FormValue("key"),
		EncodedRequest: r.FormValue("SAMLRequest"),
		RelayState:     r.FormValue("RelayState"),
	}
	act, err := s.login.HandleAuthnRequest(r.Context(), info, saml.BindingHTTPPost, s.cookie.Read(r))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.renderAction(w, r, act)
}

// verifyGet hands a logged-in browser its SAML response.
func (s *Server) verifyGet(w http.ResponseWriter, r *http.Request) {
	act, err := s.login.Verify(r.Context(), r.URL.Query().Get("key"), s.cookie.Read(r))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.renderAction(w, r, act)
}

// verifyPost receives the login form.
func (s *Server) verifyPost(w http.ResponseWriter, r *http.Request) {
	act, err := s.login.HandleCredentialSubmission(r.Context(), &login.Submission{
		Key:      r.FormValue("key"),
		Username: r.FormValue("username"),
		Password: r.FormValue("password"),
		Referer:  r.Referer(),
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.renderAction(w, r, act)
}

func (s *Server) sloRedirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &logout.Request{
		Binding:    saml.BindingHTTPRedirect,
		Payload:    q.Get("SAMLRequest"),
		RelayState: q.Get("RelayState"),
		SessionID:  s.cookie.Read(r),
	}
	if sig := q.Get("Signature"); sig != "" {
		req.Signature = &saml.RedirectSignature{
			SAMLRequest: q.Get("SAMLRequest"),
			RelayState:  q.Get("RelayState"),
			SigAlg:      q.Get("SigAlg"),
			Signature:   sig,
			RawQuery:    r.URL.RawQuery,
		}
	}
	s.handleLogout(w, r, req)
}

func (s *Server) sloPost(w http.ResponseWriter, r *http.Request) {
	s.handleLogout(w, r, &logout.Request{
		Binding:    saml.BindingHTTPPost,
		Payload:    r.FormValue("SAMLRequest"),
		RelayState: r.FormValue("RelayState"),
		SessionID:  s.cookie.Read(r),
	})
}

func (s *Server) sloSOAP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSOAPBody))
	if err != nil {
		s.renderError(w, r, idperror.Wrap(idperror.KindBadRequest, "failed to read SOAP body", err))
		return
	}
	s.handleLogout(w, r, &logout.Request{
		Binding: saml.BindingSOAP,
		Payload: string(body),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, req *logout.Request) {
	act, err := s.logout.HandleLogoutRequest(r.Context(), req)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.renderAction(w, r, act)
}

// status is a JSON credential probe used by monitoring.
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	var probe struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&probe); err != nil {
		httputil.WriteJSONError(w, idperror.BadRequest("invalid JSON body"))
		return
	}
	account, err := s.verifier.Verify(r.Context(), probe.Username, probe.Password)
	if err != nil {
		httputil.WriteJSONError(w, idperror.Wrap(idperror.KindServiceError, "credential check failed", err))
		return
	}
	result := "FAIL"
	if account != nil {
		result = "OK"
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": result})
}

// renderAction turns an engine outcome into an HTTP response.
func (s *Server) renderAction(w http.ResponseWriter, r *http.Request, act action.Action) {
	switch a := act.(type) {
	case action.Redirect:
		if a.SessionID != "" {
			s.cookie.Set(w, a.SessionID)
		}
		http.Redirect(w, r, a.URL, http.StatusFound)
	case action.RenderForm:
		s.renderLoginForm(w, a)
	case action.Respond:
		if a.ClearSession {
			s.cookie.Clear(w)
		} else if a.SessionID != "" {
			s.cookie.Set(w, a.SessionID)
		}
		s.deliver(w, r, a.Bound)
	default:
		s.renderError(w, r, idperror.ServiceError("unhandled action"))
	}
}

func (s *Server) renderLoginForm(w http.ResponseWriter, a action.RenderForm) {
	data := struct {
		Key               string
		RedirectURI       string
		FailCount         int
		AuthnRef          string
		SPEntityID        string
		SignupLink        string
		PasswordResetLink string
	}{
		Key:               stringArg(a.Args, "key"),
		RedirectURI:       stringArg(a.Args, "redirect_uri"),
		AuthnRef:          stringArg(a.Args, "authn_reference"),
		SPEntityID:        stringArg(a.Args, "sp_entity_id"),
		SignupLink:        s.signupLink,
		PasswordResetLink: s.passwordResetLink,
	}
	if n, ok := a.Args["fail_count"].(int); ok {
		data.FailCount = n
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginTemplate.Execute(w, data); err != nil {
		s.log.WithError(err).Error("Failed to render login form")
	}
}

func (s *Server) deliver(w http.ResponseWriter, r *http.Request, bound *saml.BoundResponse) {
	switch bound.Binding {
	case saml.BindingHTTPRedirect:
		http.Redirect(w, r, bound.RedirectURL, http.StatusFound)
	case saml.BindingHTTPPost:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err := postTemplate.Execute(w, struct {
			Destination string
			Fields      map[string]string
		}{bound.Destination, bound.FormFields})
		if err != nil {
			s.log.WithError(err).Error("Failed to render POST form")
		}
	case saml.BindingSOAP:
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		if _, err := w.Write(bound.SOAPBody); err != nil {
			s.log.WithError(err).Error("Failed to write SOAP response")
		}
	default:
		s.renderError(w, r, idperror.ServiceError("unhandled binding "+bound.Binding))
	}
}

// renderError shows the user an actionable page; service errors keep their
// detail in the logs only.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	kind := idperror.KindOf(err)
	status := httputil.StatusForKind(kind)
	logger := s.log
	if requestID := observability.GetRequestID(r.Context()); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}
	if status >= http.StatusInternalServerError {
		logger.WithError(err).Error("Request failed")
	} else {
		logger.WithError(err).Info("Request rejected")
	}

	title := http.StatusText(status)
	message := err.Error()
	if kind == idperror.KindLoginTimeout {
		title = "Login timeout"
		message = "Your login attempt took too long. Please go back to the service you were trying to reach and try again."
	}
	if kind == idperror.KindServiceError {
		message = "Something went wrong on our side. Please try again later."
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	tmplErr := errorTemplate.Execute(w, struct {
		Title   string
		Message string
	}{title, message})
	if tmplErr != nil {
		s.log.WithError(tmplErr).Error("Failed to render error page")
	}
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}
