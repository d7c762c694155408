package metadata

import (
	"context"
	"database/sql"
	"time"

	"github.com/nexi-lab/nexus/pkg/errtypes"
)

// PutAPIKey stores a hashed API key (spec §4.9 "authentication"). Hashing
// itself (argon2id) is the caller's (pkg/apikey's) concern; the store only
// persists the digest.
func (s *Store) PutAPIKey(ctx context.Context, k APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (key_id, hash, tenant_id, subject_type, subject_id, is_admin, created_at, revoked)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		k.KeyID, k.Hash, k.TenantID, k.SubjectType, k.SubjectID, boolToInt(k.IsAdmin), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errtypes.Internal("put api key: " + err.Error())
	}
	return nil
}

// GetAPIKey returns a key record by id.
func (s *Store) GetAPIKey(ctx context.Context, keyID string) (APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key_id, hash, tenant_id, subject_type, subject_id, is_admin, created_at, revoked
		FROM api_keys WHERE key_id = ?`, keyID)
	var k APIKey
	var createdAt string
	var isAdmin, revoked int
	if err := row.Scan(&k.KeyID, &k.Hash, &k.TenantID, &k.SubjectType, &k.SubjectID, &isAdmin, &createdAt, &revoked); err != nil {
		if err == sql.ErrNoRows {
			return APIKey{}, errtypes.NotFound(keyID)
		}
		return APIKey{}, errtypes.Internal("get api key: " + err.Error())
	}
	k.IsAdmin = isAdmin != 0
	k.Revoked = revoked != 0
	k.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return k, nil
}

// RevokeAPIKey marks a key revoked. The "last admin key" safety rule (spec
// §4.9: an admin key cannot be revoked if it is the tenant's only one) is
// enforced by pkg/apikey, which calls CountActiveAdminKeys before this.
func (s *Store) RevokeAPIKey(ctx context.Context, keyID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET revoked = 1 WHERE key_id = ?`, keyID)
	if err != nil {
		return errtypes.Internal("revoke api key: " + err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errtypes.NotFound(keyID)
	}
	return nil
}

// UpdateAPIKeyAdmin flips a key's admin flag. The "last admin key" safety
// rule is enforced by pkg/apikey, which calls CountActiveAdminKeys before
// downgrading a key from admin to non-admin.
func (s *Store) UpdateAPIKeyAdmin(ctx context.Context, keyID string, isAdmin bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET is_admin = ? WHERE key_id = ?`, boolToInt(isAdmin), keyID)
	if err != nil {
		return errtypes.Internal("update api key: " + err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errtypes.NotFound(keyID)
	}
	return nil
}

// CountActiveAdminKeys returns how many non-revoked admin keys a tenant has.
func (s *Store) CountActiveAdminKeys(ctx context.Context, tenantID string) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys WHERE tenant_id = ? AND is_admin = 1 AND revoked = 0`, tenantID)
	if err := row.Scan(&n); err != nil {
		return 0, errtypes.Internal("count admin keys: " + err.Error())
	}
	return n, nil
}

// ListAPIKeys returns every key for a tenant (admin-gated at the RPC
// layer). Each returned record carries the stored hash in its Hash field.
func (s *Store) ListAPIKeys(ctx context.Context, tenantID string) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key_id, hash, tenant_id, subject_type, subject_id, is_admin, created_at, revoked
		FROM api_keys WHERE tenant_id = ? ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, errtypes.Internal("list api keys: " + err.Error())
	}
	defer rows.Close()
	var out []APIKey
	for rows.Next() {
		var k APIKey
		var createdAt string
		var isAdmin, revoked int
		if err := rows.Scan(&k.KeyID, &k.Hash, &k.TenantID, &k.SubjectType, &k.SubjectID, &isAdmin, &createdAt, &revoked); err != nil {
			return nil, errtypes.Internal("scan api key: " + err.Error())
		}
		k.IsAdmin = isAdmin != 0
		k.Revoked = revoked != 0
		k.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, k)
	}
	return out, rows.Err()
}
