package metadata

import (
	"context"
	"database/sql"

	"github.com/nexi-lab/nexus/pkg/errtypes"
)

// AddMount registers a backend at mountPoint for tenantID (spec §4.3).
func (s *Store) AddMount(ctx context.Context, m Mount) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		row := tx.QueryRow(`SELECT 1 FROM mounts WHERE tenant_id = ? AND mount_point = ?`, m.TenantID, m.MountPoint)
		if err := row.Scan(&exists); err == nil {
			return errtypes.AlreadyExists(m.MountPoint)
		} else if err != sql.ErrNoRows {
			return errtypes.Internal("check mount: " + err.Error())
		}
		_, err := tx.Exec(`
			INSERT INTO mounts (tenant_id, mount_point, backend_id, backend_config_blob, read_only)
			VALUES (?, ?, ?, ?, ?)`,
			m.TenantID, m.MountPoint, m.BackendID, m.BackendConfigBlob, boolToInt(m.ReadOnly))
		if err != nil {
			return errtypes.Internal("insert mount: " + err.Error())
		}
		return nil
	})
}

// RemoveMount unregisters a mount point.
func (s *Store) RemoveMount(ctx context.Context, tenantID, mountPoint string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mounts WHERE tenant_id = ? AND mount_point = ?`, tenantID, mountPoint)
	if err != nil {
		return errtypes.Internal("remove mount: " + err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errtypes.NotFound(mountPoint)
	}
	return nil
}

// ListMounts returns every mount registered for tenantID, used by the
// namespace router to rebuild its radix tree on startup and after changes.
func (s *Store) ListMounts(ctx context.Context, tenantID string) ([]Mount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, mount_point, backend_id, backend_config_blob, read_only
		FROM mounts WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, errtypes.Internal("list mounts: " + err.Error())
	}
	defer rows.Close()

	var out []Mount
	for rows.Next() {
		var m Mount
		var configBlob sql.NullString
		var ro int
		if err := rows.Scan(&m.TenantID, &m.MountPoint, &m.BackendID, &configBlob, &ro); err != nil {
			return nil, errtypes.Internal("scan mount: " + err.Error())
		}
		m.BackendConfigBlob = configBlob.String
		m.ReadOnly = ro != 0
		out = append(out, m)
	}
	return out, rows.Err()
}
