package user

import (
	"context"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/saml"
)

// User is one account in the directory.
type User struct {
	// ID is the stable local identifier, also used as persistent NameID.
	ID string
	// Username is what the account holder types into the login form.
	Username string
	// PasswordHash is the argon2id hash of the account password.
	PasswordHash string
	// Attributes are the assertable facts about the account, keyed by
	// SAML attribute name. eduPersonPrincipalName may be stored unscoped.
	Attributes map[string][]string
	// AllowedClassRefs restricts which authentication contexts the
	// account may use. Empty means no restriction.
	AllowedClassRefs []string
}

// ToSAMLAttributes shapes the released attributes. filter, when non-empty,
// limits release to the named attributes. defaultScope is appended to
// eduPersonPrincipalName values that carry no scope of their own.
func (u *User) ToSAMLAttributes(filter []string, defaultScope string) []saml.Attribute {
	released := make([]saml.Attribute, 0, len(u.Attributes))
	for name, values := range u.Attributes {
		if len(filter) > 0 && !containsString(filter, name) {
			continue
		}
		out := values
		if name == "eduPersonPrincipalName" && defaultScope != "" {
			out = make([]string, len(values))
			for i, v := range values {
				// A value that already carries a scope is released as is.
				if strings.Contains(v, "@") {
					out[i] = v
				} else {
					out[i] = v + "@" + defaultScope
				}
			}
		}
		released = append(released, saml.Attribute{Name: name, Values: out})
	}
	return released
}

func containsString(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// Directory looks accounts up. Lookups of unknown accounts return
// (nil, nil); errors are reserved for backend failures.
type Directory interface {
	// ByUsername fetches the account behind a login-form username.
	ByUsername(ctx context.Context, username string) (*User, error)
	// ByID fetches an account by its stable local identifier.
	ByID(ctx context.Context, id string) (*User, error)
}

// CredentialVerifier checks a password against an account. A failed check
// returns (nil, nil), never an error.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (*User, error)
}

// IdentityResolver maps a SAML NameID back to a local account ID.
type IdentityResolver interface {
	ResolveLocalID(ctx context.Context, nameID *saml.NameID) (string, error)
}
