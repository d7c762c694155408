// Package apikey implements API key issuance, resolution and the
// admin-gated key-management operations (spec §4.9 "Authentication").
// Keys are returned to callers once, in cleartext, as "<key_id>.<secret>";
// only an argon2id hash of the secret is ever persisted.
package apikey

import (
	"context"
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"github.com/sethvargo/go-password/password"

	"github.com/nexi-lab/nexus/pkg/errtypes"
	"github.com/nexi-lab/nexus/pkg/metadata"
)

// secretLength and secretDigits size the generated bearer credential:
// long enough, with enough digits mixed in, to resist guessing.
const (
	secretLength = 40
	secretDigits = 10
)

// Service issues and resolves API keys against the Metadata Store.
type Service struct {
	meta *metadata.Store
}

func New(meta *metadata.Store) *Service {
	return &Service{meta: meta}
}

// CreateKeyParams describes a new key's identity binding.
type CreateKeyParams struct {
	TenantID    string
	SubjectType string
	SubjectID   string
	IsAdmin     bool
}

// CreateKeyResult carries the cleartext token back to the caller exactly
// once; it is never reconstructable afterward.
type CreateKeyResult struct {
	Key   metadata.APIKey
	Token string
}

// CreateKey mints a new key, hashes its secret with argon2id, and persists
// the record (spec §4.9 "admin_create_key").
func (s *Service) CreateKey(ctx context.Context, p CreateKeyParams) (CreateKeyResult, error) {
	secret, err := password.Generate(secretLength, secretDigits, 0, false, false)
	if err != nil {
		return CreateKeyResult{}, errtypes.Internal("generate api key secret: " + err.Error())
	}
	hash, err := argon2id.CreateHash(secret, argon2id.DefaultParams)
	if err != nil {
		return CreateKeyResult{}, errtypes.Internal("hash api key secret: " + err.Error())
	}

	k := metadata.APIKey{
		KeyID:       "nxk_" + uuid.NewString(),
		Hash:        hash,
		TenantID:    p.TenantID,
		SubjectType: p.SubjectType,
		SubjectID:   p.SubjectID,
		IsAdmin:     p.IsAdmin,
	}
	if err := s.meta.PutAPIKey(ctx, k); err != nil {
		return CreateKeyResult{}, err
	}
	return CreateKeyResult{Key: k, Token: k.KeyID + "." + secret}, nil
}

// Resolve authenticates a bearer token against its stored hash and returns
// the identity it names (spec §4.9 "the server resolves the key to an
// (admin, subject_type, subject_id, tenant_id) tuple"). A missing, malformed,
// revoked or non-matching token is always AccessDenied, never NotFound —
// the RPC layer maps both identically to ACCESS_DENIED, and the distinction
// is not worth leaking to a caller probing for valid key ids.
func (s *Service) Resolve(ctx context.Context, token string) (metadata.APIKey, error) {
	keyID, secret, ok := strings.Cut(token, ".")
	if !ok || keyID == "" || secret == "" {
		return metadata.APIKey{}, errtypes.AccessDenied("malformed api key")
	}

	k, err := s.meta.GetAPIKey(ctx, keyID)
	if err != nil {
		return metadata.APIKey{}, errtypes.AccessDenied("unknown api key")
	}
	if k.Revoked {
		return metadata.APIKey{}, errtypes.AccessDenied("revoked api key")
	}

	match, err := argon2id.ComparePasswordAndHash(secret, k.Hash)
	if err != nil {
		return metadata.APIKey{}, errtypes.Internal("compare api key hash: " + err.Error())
	}
	if !match {
		return metadata.APIKey{}, errtypes.AccessDenied("invalid api key")
	}
	return k, nil
}

// GetKey returns a key record for an admin caller (spec §4.9
// "admin_get_key").
func (s *Service) GetKey(ctx context.Context, keyID string) (metadata.APIKey, error) {
	return s.meta.GetAPIKey(ctx, keyID)
}

// ListKeys returns every key belonging to a tenant (spec §4.9
// "admin_list_keys").
func (s *Service) ListKeys(ctx context.Context, tenantID string) ([]metadata.APIKey, error) {
	return s.meta.ListAPIKeys(ctx, tenantID)
}

// RevokeKey revokes a key, refusing to revoke a tenant's last remaining
// active admin key (spec §4.9 "the final admin key cannot be downgraded").
func (s *Service) RevokeKey(ctx context.Context, tenantID, keyID string) error {
	k, err := s.meta.GetAPIKey(ctx, keyID)
	if err != nil {
		return err
	}
	if k.IsAdmin && !k.Revoked {
		if err := s.assertNotLastAdmin(ctx, tenantID); err != nil {
			return err
		}
	}
	return s.meta.RevokeAPIKey(ctx, keyID)
}

// UpdateKeyParams carries the fields admin_update_key may change. A nil
// IsAdmin leaves the admin flag untouched.
type UpdateKeyParams struct {
	IsAdmin *bool
}

// UpdateKey applies an admin edit to a key, refusing to downgrade a
// tenant's last remaining active admin key (spec §4.9 "admin_update_key",
// same last-admin rule as revoke).
func (s *Service) UpdateKey(ctx context.Context, tenantID, keyID string, p UpdateKeyParams) (metadata.APIKey, error) {
	k, err := s.meta.GetAPIKey(ctx, keyID)
	if err != nil {
		return metadata.APIKey{}, err
	}
	if p.IsAdmin != nil && k.IsAdmin && !*p.IsAdmin && !k.Revoked {
		if err := s.assertNotLastAdmin(ctx, tenantID); err != nil {
			return metadata.APIKey{}, err
		}
	}
	if p.IsAdmin != nil && *p.IsAdmin != k.IsAdmin {
		if err := s.meta.UpdateAPIKeyAdmin(ctx, keyID, *p.IsAdmin); err != nil {
			return metadata.APIKey{}, err
		}
	}
	return s.meta.GetAPIKey(ctx, keyID)
}

// EnsureBootstrapAdmin makes token (the literal "<key_id>.<secret>" an
// operator configures as the API_KEY env var) resolve to an admin identity
// for tenantID, creating the key record on first boot and leaving it
// untouched on every later boot. This is the only way a freshly initialized
// deployment gets an admin key at all — every other key is minted by
// admin_create_key, which itself requires an existing admin caller (spec
// §6 "Environment").
func (s *Service) EnsureBootstrapAdmin(ctx context.Context, tenantID, token string) error {
	keyID, secret, ok := strings.Cut(token, ".")
	if !ok || keyID == "" || secret == "" {
		return errtypes.InvalidArgument("API_KEY must be of the form <key_id>.<secret>")
	}

	if _, err := s.meta.GetAPIKey(ctx, keyID); err == nil {
		return nil
	} else if _, ok := err.(errtypes.IsNotFound); !ok {
		return err
	}

	hash, err := argon2id.CreateHash(secret, argon2id.DefaultParams)
	if err != nil {
		return errtypes.Internal("hash bootstrap api key secret: " + err.Error())
	}
	k := metadata.APIKey{
		KeyID:       keyID,
		Hash:        hash,
		TenantID:    tenantID,
		SubjectType: "user",
		SubjectID:   "bootstrap",
		IsAdmin:     true,
	}
	return s.meta.PutAPIKey(ctx, k)
}

func (s *Service) assertNotLastAdmin(ctx context.Context, tenantID string) error {
	n, err := s.meta.CountActiveAdminKeys(ctx, tenantID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return errtypes.Conflict("cannot revoke or downgrade the tenant's last admin key")
	}
	return nil
}
