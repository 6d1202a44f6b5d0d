package metadata

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/russellhaering/gosaml2/types"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/saml"
)

// Services an SP endpoint can be resolved for.
const (
	ServiceAssertionConsumer = "assertion_consumer"
	ServiceSingleLogout      = "single_logout"
)

// policyFileName is the per-directory YAML sidecar mapping entity IDs to
// local policy.
const policyFileName = "policy.yaml"

var (
	// ErrUnknownServiceProvider means the issuer is not in the registry.
	ErrUnknownServiceProvider = errors.New("unknown service provider")
	// ErrNoSupportedBinding means the provider registers no endpoint this
	// server can respond to for the requested service.
	ErrNoSupportedBinding = errors.New("no supported binding")
)

// Policy is the locally configured behavior for one service provider.
type Policy struct {
	// RequireSignedRequests rejects unsigned requests from this provider
	// even when global verification is opportunistic.
	RequireSignedRequests bool `yaml:"require_signed_requests"`
	// Assurance overrides the authentication contexts acceptable for this
	// provider regardless of what its requests ask for.
	Assurance []string `yaml:"assurance"`
	// Attributes limits attribute release to the named attributes. Empty
	// means release everything.
	Attributes []string `yaml:"attributes"`
}

// ServiceProvider is one registered relying party.
type ServiceProvider struct {
	EntityID     string
	Certificates []*x509.Certificate
	Policy       Policy

	descriptor *types.SPSSODescriptor
}

// Endpoint is a resolved service endpoint.
type Endpoint struct {
	Binding  string
	Location string
}

// Registry loads and serves service provider metadata from a directory of
// EntityDescriptor XML files. Safe for concurrent use; Reload swaps the
// whole provider map atomically.
type Registry struct {
	log *observability.Logger
	dir string

	mu  sync.RWMutex
	sps map[string]*ServiceProvider
}

// NewRegistry loads every provider under dir.
func NewRegistry(logger *observability.Logger, dir string) (*Registry, error) {
	r := &Registry{
		log: logger,
		dir: dir,
		sps: make(map[string]*ServiceProvider),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the metadata directory, replacing the registry contents.
// A provider that fails to parse is skipped with a logged error so one bad
// file cannot take down the rest of the registry.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("failed to read metadata directory: %w", err)
	}

	policies, err := r.loadPolicies()
	if err != nil {
		return err
	}

	sps := make(map[string]*ServiceProvider)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".xml") {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		sp, err := loadServiceProvider(path)
		if err != nil {
			r.log.WithError(err).WithField("file", path).Error("Skipping unparseable metadata file")
			continue
		}
		sp.Policy = policies[sp.EntityID]
		sps[sp.EntityID] = sp
	}

	r.mu.Lock()
	r.sps = sps
	r.mu.Unlock()

	r.log.WithField("providers", len(sps)).Info("Loaded service provider metadata")
	return nil
}

func (r *Registry) loadPolicies() (map[string]Policy, error) {
	path := filepath.Join(r.dir, policyFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	policies := make(map[string]Policy)
	if err := yaml.Unmarshal(data, &policies); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	return policies, nil
}

func loadServiceProvider(path string) (*ServiceProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var descriptor types.EntityDescriptor
	if err := xml.Unmarshal(data, &descriptor); err != nil {
		return nil, fmt.Errorf("failed to parse EntityDescriptor: %w", err)
	}
	if descriptor.EntityID == "" {
		return nil, fmt.Errorf("EntityDescriptor has no entityID")
	}
	if descriptor.SPSSODescriptor == nil {
		return nil, fmt.Errorf("entity %q has no SPSSODescriptor", descriptor.EntityID)
	}

	certs, err := signingCertificates(descriptor.SPSSODescriptor)
	if err != nil {
		return nil, fmt.Errorf("entity %q: %w", descriptor.EntityID, err)
	}

	return &ServiceProvider{
		EntityID:     descriptor.EntityID,
		Certificates: certs,
		descriptor:   descriptor.SPSSODescriptor,
	}, nil
}

func signingCertificates(sp *types.SPSSODescriptor) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for _, kd := range sp.KeyDescriptors {
		// An unset use attribute means the key serves both purposes.
		if kd.Use != "" && kd.Use != "signing" {
			continue
		}
		for _, xc := range kd.KeyInfo.X509Data.X509Certificates {
			raw := strings.Map(func(r rune) rune {
				if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
					return -1
				}
				return r
			}, xc.Data)
			der, err := base64.StdEncoding.DecodeString(raw)
			if err != nil {
				return nil, fmt.Errorf("failed to decode signing certificate: %w", err)
			}
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return nil, fmt.Errorf("failed to parse signing certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	}
	return certs, nil
}

// Get returns the registered provider for entityID.
func (r *Registry) Get(entityID string) (*ServiceProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sp, ok := r.sps[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServiceProvider, entityID)
	}
	return sp, nil
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sps)
}

// CertsFor returns the signing certificates registered for entityID.
func (r *Registry) CertsFor(entityID string) ([]*x509.Certificate, error) {
	sp, err := r.Get(entityID)
	if err != nil {
		return nil, err
	}
	return sp.Certificates, nil
}

// PolicyFor returns the local policy for entityID. Unknown providers get a
// zero policy and the lookup error.
func (r *Registry) PolicyFor(entityID string) (Policy, error) {
	sp, err := r.Get(entityID)
	if err != nil {
		return Policy{}, err
	}
	return sp.Policy, nil
}

// EndpointFor resolves where and how to send a response to entityID for the
// given service. preferred is the binding the request asked for; when the
// provider does not register it, HTTP-POST then HTTP-Redirect are tried.
func (r *Registry) EndpointFor(entityID, service, preferred string) (*Endpoint, error) {
	sp, err := r.Get(entityID)
	if err != nil {
		return nil, err
	}

	endpoints := make(map[string]string)
	switch service {
	case ServiceAssertionConsumer:
		for _, acs := range sp.descriptor.AssertionConsumerServices {
			if _, ok := endpoints[acs.Binding]; !ok {
				endpoints[acs.Binding] = acs.Location
			}
		}
	case ServiceSingleLogout:
		for _, slo := range sp.descriptor.SingleLogoutServices {
			if _, ok := endpoints[slo.Binding]; !ok {
				endpoints[slo.Binding] = slo.Location
			}
		}
	default:
		return nil, fmt.Errorf("unknown service %q", service)
	}

	for _, binding := range []string{preferred, saml.BindingHTTPPost, saml.BindingHTTPRedirect} {
		if binding == "" {
			continue
		}
		if location, ok := endpoints[binding]; ok {
			return &Endpoint{Binding: binding, Location: location}, nil
		}
	}
	return nil, fmt.Errorf("%w for %s of %s", ErrNoSupportedBinding, service, entityID)
}
