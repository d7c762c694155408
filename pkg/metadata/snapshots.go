package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/nexi-lab/nexus/pkg/errtypes"
	"github.com/nexi-lab/nexus/pkg/nspath"
)

// SnapshotEntry is a single (path, version) pair captured by a snapshot.
type SnapshotEntry struct {
	Path    string
	Version int64
}

// CreateSnapshot captures the current version of every file under the
// workspace's path into a new, immutable, monotonically-numbered snapshot
// (spec §4.6 "snapshot is a point-in-time capture").
func (s *Store) CreateSnapshot(ctx context.Context, tenantID, workspacePath, description string, tags []string) (Snapshot, error) {
	var snap Snapshot
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var next int64
		row := tx.QueryRow(`SELECT next_snapshot FROM workspaces WHERE tenant_id = ? AND path = ?`, tenantID, workspacePath)
		if err := row.Scan(&next); err == sql.ErrNoRows {
			return errtypes.NotFound(workspacePath)
		} else if err != nil {
			return errtypes.Internal("read workspace: " + err.Error())
		}

		pattern := workspacePath + "/%"
		if workspacePath == "/" {
			pattern = "/%"
		}
		rows, err := tx.Query(`
			SELECT f.path, f.current_version, f.size, v.content_digest
			FROM files f
			JOIN versions v ON v.tenant_id = f.tenant_id AND v.path = f.path AND v.version = f.current_version
			WHERE f.tenant_id = ? AND f.is_directory = 0 AND (f.path = ? OR f.path LIKE ?)`,
			tenantID, workspacePath, pattern)
		if err != nil {
			return errtypes.Internal("scan workspace files: " + err.Error())
		}
		var fileCount, totalSize int64
		type ref struct {
			path    string
			version int64
			digest  string
			size    int64
		}
		var refs []ref
		for rows.Next() {
			var r ref
			if err := rows.Scan(&r.path, &r.version, &r.size, &r.digest); err != nil {
				rows.Close()
				return errtypes.Internal("scan file: " + err.Error())
			}
			if !nspath.HasPrefix(r.path, workspacePath) {
				continue
			}
			refs = append(refs, r)
			fileCount++
			totalSize += r.size
		}
		rows.Close()

		now := time.Now().UTC()
		tagsJSON, _ := json.Marshal(tags)
		if _, err := tx.Exec(`
			INSERT INTO snapshots (tenant_id, workspace_path, snapshot_number, created_at, description, tags_json, file_count, total_size)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			tenantID, workspacePath, next, now.Format(time.RFC3339Nano), description, string(tagsJSON), fileCount, totalSize); err != nil {
			return errtypes.Internal("insert snapshot: " + err.Error())
		}
		for _, r := range refs {
			if _, err := tx.Exec(`
				INSERT INTO snapshot_refs (tenant_id, workspace_path, snapshot_number, path, version)
				VALUES (?, ?, ?, ?, ?)`, tenantID, workspacePath, next, r.path, r.version); err != nil {
				return errtypes.Internal("insert snapshot ref: " + err.Error())
			}
			// the snapshot now holds its own reference to this (path, version)'s
			// blob, independent of the live file row — DeleteFile's decref must
			// not be the last word on this blob's lifetime while the snapshot exists.
			if err := txIncrefBlob(tx, r.digest, r.size); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(`UPDATE workspaces SET next_snapshot = ? WHERE tenant_id = ? AND path = ?`, next+1, tenantID, workspacePath); err != nil {
			return errtypes.Internal("advance snapshot counter: " + err.Error())
		}

		snap = Snapshot{TenantID: tenantID, WorkspacePath: workspacePath, SnapshotNumber: next,
			CreatedAt: now, Description: description, Tags: tags, FileCount: fileCount, TotalSize: totalSize}
		return nil
	})
	return snap, err
}

// GetSnapshot returns a snapshot's metadata.
func (s *Store) GetSnapshot(ctx context.Context, tenantID, workspacePath string, number int64) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, workspace_path, snapshot_number, created_at, description, tags_json, file_count, total_size
		FROM snapshots WHERE tenant_id = ? AND workspace_path = ? AND snapshot_number = ?`, tenantID, workspacePath, number)
	var snap Snapshot
	var description, tagsJSON sql.NullString
	var createdAt string
	if err := row.Scan(&snap.TenantID, &snap.WorkspacePath, &snap.SnapshotNumber, &createdAt, &description, &tagsJSON, &snap.FileCount, &snap.TotalSize); err != nil {
		if err == sql.ErrNoRows {
			return Snapshot{}, errtypes.NotFound("snapshot")
		}
		return Snapshot{}, errtypes.Internal("get snapshot: " + err.Error())
	}
	snap.Description = description.String
	snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &snap.Tags)
	}
	return snap, nil
}

// SnapshotEntries returns the (path, version) pairs captured by a snapshot,
// ordered by path.
func (s *Store) SnapshotEntries(ctx context.Context, tenantID, workspacePath string, number int64) ([]SnapshotEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, version FROM snapshot_refs
		WHERE tenant_id = ? AND workspace_path = ? AND snapshot_number = ? ORDER BY path`,
		tenantID, workspacePath, number)
	if err != nil {
		return nil, errtypes.Internal("list snapshot entries: " + err.Error())
	}
	defer rows.Close()
	var out []SnapshotEntry
	for rows.Next() {
		var e SnapshotEntry
		if err := rows.Scan(&e.Path, &e.Version); err != nil {
			return nil, errtypes.Internal("scan snapshot entry: " + err.Error())
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListSnapshots returns every snapshot of a workspace, newest first.
func (s *Store) ListSnapshots(ctx context.Context, tenantID, workspacePath string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, workspace_path, snapshot_number, created_at, description, tags_json, file_count, total_size
		FROM snapshots WHERE tenant_id = ? AND workspace_path = ? ORDER BY snapshot_number DESC`, tenantID, workspacePath)
	if err != nil {
		return nil, errtypes.Internal("list snapshots: " + err.Error())
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var description, tagsJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&snap.TenantID, &snap.WorkspacePath, &snap.SnapshotNumber, &createdAt, &description, &tagsJSON, &snap.FileCount, &snap.TotalSize); err != nil {
			return nil, errtypes.Internal("scan snapshot: " + err.Error())
		}
		snap.Description = description.String
		snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if tagsJSON.Valid && tagsJSON.String != "" {
			_ = json.Unmarshal([]byte(tagsJSON.String), &snap.Tags)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
