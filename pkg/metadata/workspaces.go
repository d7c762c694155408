package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/nexi-lab/nexus/pkg/errtypes"
)

// RegisterWorkspace registers a subtree for snapshotting (spec §4.6
// "workspace register").
func (s *Store) RegisterWorkspace(ctx context.Context, w Workspace) error {
	metaJSON, _ := json.Marshal(w.Metadata)
	tagsJSON, _ := json.Marshal(w.Tags)
	var ttl interface{}
	if w.TTLExpiresAt != nil {
		ttl = w.TTLExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		row := tx.QueryRow(`SELECT 1 FROM workspaces WHERE tenant_id = ? AND path = ?`, w.TenantID, w.Path)
		if err := row.Scan(&exists); err == nil {
			return errtypes.AlreadyExists(w.Path)
		} else if err != sql.ErrNoRows {
			return errtypes.Internal("check workspace: " + err.Error())
		}
		_, err := tx.Exec(`
			INSERT INTO workspaces (tenant_id, path, name, description, created_by, created_at, metadata_json, tags_json, session_id, ttl_expires_at, next_snapshot)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			w.TenantID, w.Path, w.Name, w.Description, w.CreatedBy, time.Now().UTC().Format(time.RFC3339Nano),
			string(metaJSON), string(tagsJSON), w.SessionID, ttl)
		if err != nil {
			return errtypes.Internal("insert workspace: " + err.Error())
		}
		return nil
	})
}

// UnregisterWorkspace removes a workspace and all of its snapshots,
// releasing each snapshot's blob references in the process (spec §3 "deleting
// a snapshot releases its references (and may allow blobs to reach refcount
// 0)") — a workspace is always deleted together with its snapshots, so this
// is the only place that decref needs to happen.
func (s *Store) UnregisterWorkspace(ctx context.Context, tenantID, path string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		digestRows, err := tx.Query(`
			SELECT v.content_digest FROM snapshot_refs sr
			JOIN versions v ON v.tenant_id = sr.tenant_id AND v.path = sr.path AND v.version = sr.version
			WHERE sr.tenant_id = ? AND sr.workspace_path = ?`, tenantID, path)
		if err != nil {
			return errtypes.Internal("read snapshot refs: " + err.Error())
		}
		var digests []string
		for digestRows.Next() {
			var d string
			if err := digestRows.Scan(&d); err != nil {
				digestRows.Close()
				return errtypes.Internal("scan snapshot ref digest: " + err.Error())
			}
			digests = append(digests, d)
		}
		digestRows.Close()
		if err := digestRows.Err(); err != nil {
			return errtypes.Internal("read snapshot refs: " + err.Error())
		}

		res, err := tx.Exec(`DELETE FROM workspaces WHERE tenant_id = ? AND path = ?`, tenantID, path)
		if err != nil {
			return errtypes.Internal("delete workspace: " + err.Error())
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errtypes.NotFound(path)
		}
		if _, err := tx.Exec(`DELETE FROM snapshot_refs WHERE tenant_id = ? AND workspace_path = ?`, tenantID, path); err != nil {
			return errtypes.Internal("delete snapshot refs: " + err.Error())
		}
		if _, err := tx.Exec(`DELETE FROM snapshots WHERE tenant_id = ? AND workspace_path = ?`, tenantID, path); err != nil {
			return errtypes.Internal("delete snapshots: " + err.Error())
		}
		for _, d := range digests {
			if err := txDecrefBlob(tx, d); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetWorkspace returns a registered workspace.
func (s *Store) GetWorkspace(ctx context.Context, tenantID, path string) (Workspace, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, path, name, description, created_by, created_at, metadata_json, tags_json, session_id, ttl_expires_at, next_snapshot
		FROM workspaces WHERE tenant_id = ? AND path = ?`, tenantID, path)
	w, err := scanWorkspace(row)
	if err == sql.ErrNoRows {
		return Workspace{}, errtypes.NotFound(path)
	}
	if err != nil {
		return Workspace{}, errtypes.Internal("get workspace: " + err.Error())
	}
	return w, nil
}

func scanWorkspace(row *sql.Row) (Workspace, error) {
	var w Workspace
	var description, createdBy, metaJSON, tagsJSON, sessionID, ttl sql.NullString
	var createdAt string
	if err := row.Scan(&w.TenantID, &w.Path, &w.Name, &description, &createdBy, &createdAt,
		&metaJSON, &tagsJSON, &sessionID, &ttl, &w.NextSnapshot); err != nil {
		return Workspace{}, err
	}
	w.Description = description.String
	w.CreatedBy = createdBy.String
	w.SessionID = sessionID.String
	w.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &w.Metadata)
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &w.Tags)
	}
	if ttl.Valid && ttl.String != "" {
		t, err := time.Parse(time.RFC3339Nano, ttl.String)
		if err == nil {
			w.TTLExpiresAt = &t
		}
	}
	return w, nil
}

// ListWorkspaces returns every workspace registered for tenantID.
func (s *Store) ListWorkspaces(ctx context.Context, tenantID string) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, path, name, description, created_by, created_at, metadata_json, tags_json, session_id, ttl_expires_at, next_snapshot
		FROM workspaces WHERE tenant_id = ? ORDER BY path`, tenantID)
	if err != nil {
		return nil, errtypes.Internal("list workspaces: " + err.Error())
	}
	defer rows.Close()

	var out []Workspace
	for rows.Next() {
		var w Workspace
		var description, createdBy, metaJSON, tagsJSON, sessionID, ttl sql.NullString
		var createdAt string
		if err := rows.Scan(&w.TenantID, &w.Path, &w.Name, &description, &createdBy, &createdAt,
			&metaJSON, &tagsJSON, &sessionID, &ttl, &w.NextSnapshot); err != nil {
			return nil, errtypes.Internal("scan workspace: " + err.Error())
		}
		w.Description = description.String
		w.CreatedBy = createdBy.String
		w.SessionID = sessionID.String
		w.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &w.Metadata)
		}
		if tagsJSON.Valid && tagsJSON.String != "" {
			_ = json.Unmarshal([]byte(tagsJSON.String), &w.Tags)
		}
		if ttl.Valid && ttl.String != "" {
			t, err := time.Parse(time.RFC3339Nano, ttl.String)
			if err == nil {
				w.TTLExpiresAt = &t
			}
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ExpiredWorkspaces returns workspaces whose TTL has elapsed as of now, for
// the reaper that unregisters session-scoped workspaces (spec §4.6 "TTL").
func (s *Store) ExpiredWorkspaces(ctx context.Context, now time.Time) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, path, name, description, created_by, created_at, metadata_json, tags_json, session_id, ttl_expires_at, next_snapshot
		FROM workspaces WHERE ttl_expires_at IS NOT NULL AND ttl_expires_at != '' AND ttl_expires_at <= ?`,
		now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, errtypes.Internal("list expired workspaces: " + err.Error())
	}
	defer rows.Close()

	var out []Workspace
	for rows.Next() {
		var w Workspace
		var description, createdBy, metaJSON, tagsJSON, sessionID, ttl sql.NullString
		var createdAt string
		if err := rows.Scan(&w.TenantID, &w.Path, &w.Name, &description, &createdBy, &createdAt,
			&metaJSON, &tagsJSON, &sessionID, &ttl, &w.NextSnapshot); err != nil {
			return nil, errtypes.Internal("scan workspace: " + err.Error())
		}
		w.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if ttl.Valid && ttl.String != "" {
			t, _ := time.Parse(time.RFC3339Nano, ttl.String)
			w.TTLExpiresAt = &t
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
