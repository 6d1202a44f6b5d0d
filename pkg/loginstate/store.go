package loginstate

import (
	"context"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/idperror"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// backend persists tickets with a TTL. Lookups of unknown keys return
// (nil, nil).
type backend interface {
	get(ctx context.Context, key string) (*Ticket, error)
	put(ctx context.Context, t *Ticket) error
	delete(ctx context.Context, key string) (bool, error)
}

// Store resolves browser interactions to their pending-login tickets.
type Store struct {
	log     *observability.Logger
	parser  *Parser
	backend backend
}

// NewStore creates a Store over the given backend.
func NewStore(logger *observability.Logger, parser *Parser, b backend) *Store {
	return &Store{log: logger, parser: parser, backend: b}
}

// NewMemoryStore creates a Store with in-process ticket storage.
func NewMemoryStore(logger *observability.Logger, parser *Parser, ttl time.Duration) *Store {
	return NewStore(logger, parser, newMemoryBackend(logger, ttl))
}

// SetHooks installs eviction and purge-skip observers when the backend is
// in-process. Redis backends expire server-side, so this is a no-op there.
func (s *Store) SetHooks(onEvict func(n int), onSkip func()) {
	if m, ok := s.backend.(*memoryBackend); ok {
		m.cache.SetHooks(onEvict, onSkip)
	}
}

// GetTicket resolves info to a ticket. A request that arrives with its wire
// encoding gets a ticket lazily: on a miss the request is parsed, verified
// and stored under its derived key. An interaction that carries only a key,
// such as a login form post, must match a stored ticket; a miss there means
// the pending login expired and the attempt cannot continue.
func (s *Store) GetTicket(ctx context.Context, info *RequestInfo, binding string) (*Ticket, error) {
	if info.Key == "" && info.EncodedRequest == "" {
		return nil, idperror.BadRequest("no SAML request in login state")
	}

	key := info.Key
	if info.EncodedRequest != "" {
		key = NewKey(info.EncodedRequest)
	}

	ticket, err := s.backend.get(ctx, key)
	if err != nil {
		return nil, idperror.Wrap(idperror.KindServiceError, "failed to fetch login ticket", err)
	}
	if ticket != nil {
		s.log.WithField("key", key).Debug("Found existing login ticket")
		return ticket, nil
	}

	if info.EncodedRequest == "" {
		// The form posted a key but the ticket is gone: the login window
		// closed while the user sat on the form.
		return nil, idperror.LoginTimeout("login state expired")
	}

	req, err := s.parser.Parse(binding, info.EncodedRequest, info.Signature)
	if err != nil {
		return nil, err
	}
	ticket = &Ticket{
		Key:            key,
		Request:        req,
		EncodedRequest: info.EncodedRequest,
		RelayState:     info.RelayState,
		Binding:        binding,
	}
	if err := s.StoreTicket(ctx, ticket); err != nil {
		return nil, err
	}
	s.log.WithFields(map[string]interface{}{
		"key":    key,
		"issuer": req.IssuerEntityID(),
	}).Debug("Created login ticket")
	return ticket, nil
}

// StoreTicket upserts a ticket, resetting its TTL.
func (s *Store) StoreTicket(ctx context.Context, t *Ticket) error {
	if err := s.backend.put(ctx, t); err != nil {
		return idperror.Wrap(idperror.KindServiceError, "failed to store login ticket", err)
	}
	return nil
}

// DeleteTicket removes a completed login's ticket.
func (s *Store) DeleteTicket(ctx context.Context, key string) error {
	if _, err := s.backend.delete(ctx, key); err != nil {
		return idperror.Wrap(idperror.KindServiceError, "failed to delete login ticket", err)
	}
	return nil
}
