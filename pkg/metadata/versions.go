package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nexi-lab/nexus/pkg/digest"
	"github.com/nexi-lab/nexus/pkg/errtypes"
)

func rollbackDescription(targetVersion int64) string {
	return fmt.Sprintf("rollback to version %d", targetVersion)
}

// GetVersion returns a specific version row for path.
func (s *Store) GetVersion(ctx context.Context, tenantID, path string, version int64) (Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, path, version, content_digest, size, created_at, created_by, parent_version, description, deleted
		FROM versions WHERE tenant_id = ? AND path = ? AND version = ?`, tenantID, path, version)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return Version{}, errtypes.NotFound("version")
	}
	if err != nil {
		return Version{}, errtypes.Internal("get version: " + err.Error())
	}
	return v, nil
}

func scanVersion(row *sql.Row) (Version, error) {
	var v Version
	var createdAt string
	var createdBy, description sql.NullString
	var parentVersion sql.NullInt64
	var deleted int
	if err := row.Scan(&v.TenantID, &v.Path, &v.Version, &v.ContentDigest, &v.Size,
		&createdAt, &createdBy, &parentVersion, &description, &deleted); err != nil {
		return Version{}, err
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	v.CreatedBy = createdBy.String
	v.ParentVersion = parentVersion.Int64
	v.Description = description.String
	v.Deleted = deleted != 0
	return v, nil
}

// ListVersions returns every version of path, newest first (spec §4.1
// "version history").
func (s *Store) ListVersions(ctx context.Context, tenantID, path string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, path, version, content_digest, size, created_at, created_by, parent_version, description, deleted
		FROM versions WHERE tenant_id = ? AND path = ? ORDER BY version DESC`, tenantID, path)
	if err != nil {
		return nil, errtypes.Internal("list versions: " + err.Error())
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		var v Version
		var createdAt string
		var createdBy, description sql.NullString
		var parentVersion sql.NullInt64
		var deleted int
		if err := rows.Scan(&v.TenantID, &v.Path, &v.Version, &v.ContentDigest, &v.Size,
			&createdAt, &createdBy, &parentVersion, &description, &deleted); err != nil {
			return nil, errtypes.Internal("scan version: " + err.Error())
		}
		v.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		v.CreatedBy = createdBy.String
		v.ParentVersion = parentVersion.Int64
		v.Description = description.String
		v.Deleted = deleted != 0
		out = append(out, v)
	}
	return out, rows.Err()
}

// Rollback makes targetVersion's content the new current version of path by
// appending a fresh version row pointing at the same digest (never rewrites
// history in place), matching spec §4.7 "rollback is itself a write".
func (s *Store) Rollback(ctx context.Context, tenantID, path string, targetVersion int64, actor string) (WriteResult, error) {
	var result WriteResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		target, err := txGetVersion(tx, tenantID, path, targetVersion)
		if err == sql.ErrNoRows {
			return errtypes.NotFound("version")
		}
		if err != nil {
			return errtypes.Internal("get target version: " + err.Error())
		}

		f, err := txGetFile(tx, tenantID, path)
		if err == sql.ErrNoRows {
			return errtypes.NotFound(path)
		}
		if err != nil {
			return errtypes.Internal("get file: " + err.Error())
		}

		now := time.Now().UTC()
		newVersion := f.CurrentVersion + 1
		etag := digest.Etag(digest.Digest(target.ContentDigest), newVersion)

		if _, err := tx.Exec(`
			INSERT INTO versions (tenant_id, path, version, content_digest, size, created_at, created_by, parent_version, description)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tenantID, path, newVersion, target.ContentDigest, target.Size, now.Format(time.RFC3339Nano), actor, f.CurrentVersion,
			rollbackDescription(targetVersion)); err != nil {
			return errtypes.Internal("insert rollback version: " + err.Error())
		}

		res, err := tx.Exec(`
			UPDATE files SET current_version = ?, etag = ?, size = ?, modified_at = ?
			WHERE tenant_id = ? AND path = ? AND etag = ?`,
			newVersion, etag, target.Size, now.Format(time.RFC3339Nano), tenantID, path, f.Etag)
		if err != nil {
			return errtypes.Internal("update file on rollback: " + err.Error())
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errtypes.Conflict("concurrent write during rollback of " + path)
		}

		if err := txIncrefBlob(tx, target.ContentDigest, target.Size); err != nil {
			return err
		}

		seq, err := txAppendEvent(tx, tenantID, EventModified, path, "", actor)
		if err != nil {
			return err
		}
		result = WriteResult{Etag: etag, Version: newVersion, Size: target.Size, ModifiedAt: now, Revision: seq}
		return nil
	})
	if err == nil {
		s.notifyTenant(tenantID)
	}
	return result, err
}

func txGetVersion(tx *sql.Tx, tenantID, path string, version int64) (Version, error) {
	row := tx.QueryRow(`
		SELECT tenant_id, path, version, content_digest, size, created_at, created_by, parent_version, description, deleted
		FROM versions WHERE tenant_id = ? AND path = ? AND version = ?`, tenantID, path, version)
	var v Version
	var createdAt string
	var createdBy, description sql.NullString
	var parentVersion sql.NullInt64
	var deleted int
	if err := row.Scan(&v.TenantID, &v.Path, &v.Version, &v.ContentDigest, &v.Size,
		&createdAt, &createdBy, &parentVersion, &description, &deleted); err != nil {
		return Version{}, err
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	v.CreatedBy = createdBy.String
	v.ParentVersion = parentVersion.Int64
	v.Description = description.String
	v.Deleted = deleted != 0
	return v, nil
}
