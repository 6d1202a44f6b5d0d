package user

import (
	"context"
	"fmt"

	"github.com/alexedwards/argon2id"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/saml"
)

// DirectoryVerifier verifies passwords against argon2id hashes stored in a
// Directory.
type DirectoryVerifier struct {
	dir Directory
	log *observability.Logger
}

var (
	_ CredentialVerifier = (*DirectoryVerifier)(nil)
	_ IdentityResolver   = (*DirectoryVerifier)(nil)
)

// NewDirectoryVerifier creates a verifier backed by dir.
func NewDirectoryVerifier(dir Directory, logger *observability.Logger) *DirectoryVerifier {
	return &DirectoryVerifier{dir: dir, log: logger}
}

// Verify checks username and password, returning the account on success and
// (nil, nil) when either the account is unknown or the password is wrong.
// The two cases are indistinguishable to the caller.
func (v *DirectoryVerifier) Verify(ctx context.Context, username, password string) (*User, error) {
	u, err := v.dir.ByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if u == nil {
		v.log.WithField("username", username).Debug("Login attempt for unknown user")
		return nil, nil
	}

	match, err := argon2id.ComparePasswordAndHash(password, u.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to compare password hash: %w", err)
	}
	if !match {
		v.log.WithField("username", username).Debug("Password mismatch")
		return nil, nil
	}
	return u, nil
}

// ResolveLocalID maps a persistent NameID back to the local account ID.
// Persistent NameIDs issued by this server are the account ID itself.
func (v *DirectoryVerifier) ResolveLocalID(ctx context.Context, nameID *saml.NameID) (string, error) {
	if nameID == nil || nameID.Value == "" {
		return "", fmt.Errorf("empty NameID")
	}
	if nameID.Format != "" && nameID.Format != saml.NameIDFormatPersistent {
		return "", fmt.Errorf("unsupported NameID format %q", nameID.Format)
	}
	u, err := v.dir.ByID(ctx, nameID.Value)
	if err != nil {
		return "", fmt.Errorf("failed to resolve NameID: %w", err)
	}
	if u == nil {
		return "", nil
	}
	return u.ID, nil
}
