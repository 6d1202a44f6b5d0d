// Package assurance selects which authentication method satisfies a
// request. Every method this server can perform is registered as a Context
// with a relative strength; requests and per-provider policy narrow the
// acceptable set, and the strongest mutually acceptable method wins.
package assurance

import (
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/saml"
)

// Context is one authentication method this server can perform.
type Context struct {
	// Ref is the internal name stored in sessions and posted back by the
	// login form.
	Ref string
	// ClassRef is the SAML AuthnContextClassRef asserted for this method.
	ClassRef string
	// Level orders methods by strength; higher is stronger.
	Level int
}

// Broker holds the registered authentication contexts.
type Broker struct {
	contexts []Context
	byRef    map[string]*Context
}

// NewBroker registers contexts. Refs must be unique.
func NewBroker(contexts []Context) (*Broker, error) {
	b := &Broker{
		contexts: contexts,
		byRef:    make(map[string]*Context, len(contexts)),
	}
	for i := range contexts {
		ctx := &b.contexts[i]
		if _, dup := b.byRef[ctx.Ref]; dup {
			return nil, fmt.Errorf("duplicate authentication context ref %q", ctx.Ref)
		}
		b.byRef[ctx.Ref] = ctx
	}
	return b, nil
}

// DefaultBroker returns the standard password-based contexts.
func DefaultBroker() *Broker {
	b, _ := NewBroker([]Context{
		{Ref: "unspecified", ClassRef: saml.ClassRefUnspecified, Level: 0},
		{Ref: "password", ClassRef: saml.ClassRefPassword, Level: 1},
		{Ref: "password-protected", ClassRef: saml.ClassRefPasswordProtected, Level: 2},
	})
	return b
}

// Get looks up a context by its internal ref.
func (b *Broker) Get(ref string) (*Context, bool) {
	ctx, ok := b.byRef[ref]
	return ctx, ok
}

// ByClassRef looks up a context by its SAML class ref.
func (b *Broker) ByClassRef(classRef string) (*Context, bool) {
	for i := range b.contexts {
		if b.contexts[i].ClassRef == classRef {
			return &b.contexts[i], true
		}
	}
	return nil, false
}

// Pick returns the strongest registered context acceptable to both the
// request and the provider's policy override. A non-empty override takes
// precedence over what the request asked for; when both are empty every
// registered context is acceptable. Returns false when no registered
// context satisfies the constraints.
func (b *Broker) Pick(requested, override []string) (*Context, bool) {
	acceptable := override
	if len(acceptable) == 0 {
		acceptable = requested
	}

	var best *Context
	for i := range b.contexts {
		ctx := &b.contexts[i]
		if len(acceptable) > 0 && !contains(acceptable, ctx.ClassRef) {
			continue
		}
		if best == nil || ctx.Level > best.Level {
			best = ctx
		}
	}
	return best, best != nil
}

// Satisfies reports whether a session authenticated with ref meets the
// strength the picked context requires. A stronger stored method always
// satisfies a weaker requirement.
func (b *Broker) Satisfies(storedRef string, required *Context) (bool, error) {
	stored, ok := b.Get(storedRef)
	if !ok {
		return false, fmt.Errorf("unknown stored authentication context %q", storedRef)
	}
	return stored.Level >= required.Level, nil
}

// Permitted reports whether a user restricted to the given class refs may
// authenticate with ctx. An empty restriction list permits everything.
func Permitted(userClassRefs []string, ctx *Context) bool {
	if len(userClassRefs) == 0 {
		return true
	}
	return contains(userClassRefs, ctx.ClassRef)
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
