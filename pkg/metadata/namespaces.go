package metadata

import (
	"context"
	"database/sql"
	"time"

	"github.com/nexi-lab/nexus/pkg/errtypes"
)

// PutNamespaceConfig stores (or replaces) the relation-rewrite rules for an
// object type (spec §5.2 "namespace config": direct/union/intersection/
// exclusion/tuple-to-userset/hierarchical relations). configJSON is opaque
// to the store — pkg/rebac owns its shape.
func (s *Store) PutNamespaceConfig(ctx context.Context, objectType, configJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO namespace_configs (object_type, config_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(object_type) DO UPDATE SET config_json = excluded.config_json, updated_at = excluded.updated_at`,
		objectType, configJSON, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errtypes.Internal("put namespace config: " + err.Error())
	}
	return nil
}

// GetNamespaceConfig returns the raw config for an object type.
func (s *Store) GetNamespaceConfig(ctx context.Context, objectType string) (string, error) {
	var configJSON string
	row := s.db.QueryRowContext(ctx, `SELECT config_json FROM namespace_configs WHERE object_type = ?`, objectType)
	if err := row.Scan(&configJSON); err != nil {
		if err == sql.ErrNoRows {
			return "", errtypes.NotFound(objectType)
		}
		return "", errtypes.Internal("get namespace config: " + err.Error())
	}
	return configJSON, nil
}

// ListNamespaceConfigs returns every registered object type's config, used
// to warm the permission engine's in-memory namespace cache at startup.
func (s *Store) ListNamespaceConfigs(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT object_type, config_json FROM namespace_configs`)
	if err != nil {
		return nil, errtypes.Internal("list namespace configs: " + err.Error())
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var objectType, configJSON string
		if err := rows.Scan(&objectType, &configJSON); err != nil {
			return nil, errtypes.Internal("scan namespace config: " + err.Error())
		}
		out[objectType] = configJSON
	}
	return out, rows.Err()
}

// DeleteNamespaceConfig removes an object type's config.
func (s *Store) DeleteNamespaceConfig(ctx context.Context, objectType string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM namespace_configs WHERE object_type = ?`, objectType)
	if err != nil {
		return errtypes.Internal("delete namespace config: " + err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errtypes.NotFound(objectType)
	}
	return nil
}
