package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/nexi-lab/nexus/pkg/digest"
	"github.com/nexi-lab/nexus/pkg/errtypes"
)

// GetFile returns the file record at path, or errtypes.NotFound.
func (s *Store) GetFile(ctx context.Context, tenantID, path string) (File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, path, current_version, etag, size, created_at, modified_at,
		       content_type, is_directory, mount_id, tags_json
		FROM files WHERE tenant_id = ? AND path = ?`, tenantID, path)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return File{}, errtypes.NotFound(path)
	}
	if err != nil {
		return File{}, errtypes.Internal("get file: " + err.Error())
	}
	return f, nil
}

func scanFile(row *sql.Row) (File, error) {
	var f File
	var createdAt, modifiedAt string
	var contentType, mountID, tagsJSON sql.NullString
	var isDir int
	if err := row.Scan(&f.TenantID, &f.Path, &f.CurrentVersion, &f.Etag, &f.Size,
		&createdAt, &modifiedAt, &contentType, &isDir, &mountID, &tagsJSON); err != nil {
		return File{}, err
	}
	f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	f.ModifiedAt, _ = time.Parse(time.RFC3339Nano, modifiedAt)
	f.ContentType = contentType.String
	f.IsDirectory = isDir != 0
	f.MountID = mountID.String
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &f.Tags)
	}
	return f, nil
}

// Exists reports whether a file record exists at path.
func (s *Store) Exists(ctx context.Context, tenantID, path string) (bool, error) {
	_, err := s.GetFile(ctx, tenantID, path)
	if err == nil {
		return true, nil
	}
	if _, ok := err.(errtypes.IsNotFound); ok {
		return false, nil
	}
	return false, err
}

// ListChildren returns the immediate children of a directory path, ordered
// by path (spec §4.8 "list results are ordered by path").
func (s *Store) ListChildren(ctx context.Context, tenantID, dirPath string) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, path, current_version, etag, size, created_at, modified_at,
		       content_type, is_directory, mount_id, tags_json
		FROM files WHERE tenant_id = ? AND parent_path = ? ORDER BY path`, tenantID, dirPath)
	if err != nil {
		return nil, errtypes.Internal("list children: " + err.Error())
	}
	defer rows.Close()
	return scanFiles(rows)
}

// ListDescendants returns every file whose path lies under prefix
// (inclusive), ordered by path, for recursive list/glob/grep.
func (s *Store) ListDescendants(ctx context.Context, tenantID, prefix string) ([]File, error) {
	pattern := prefix + "/%"
	if prefix == "/" {
		pattern = "/%"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, path, current_version, etag, size, created_at, modified_at,
		       content_type, is_directory, mount_id, tags_json
		FROM files WHERE tenant_id = ? AND (path = ? OR path LIKE ?) ORDER BY path`,
		tenantID, prefix, pattern)
	if err != nil {
		return nil, errtypes.Internal("list descendants: " + err.Error())
	}
	defer rows.Close()
	files, err := scanFiles(rows)
	if err != nil {
		return nil, err
	}
	// LIKE matches ASCII case-insensitively and treats '_' as a wildcard;
	// keep only rows that really lie under prefix.
	out := files[:0]
	for _, f := range files {
		if prefix == "/" || f.Path == prefix || strings.HasPrefix(f.Path, prefix+"/") {
			out = append(out, f)
		}
	}
	return out, nil
}

func scanFiles(rows *sql.Rows) ([]File, error) {
	var out []File
	for rows.Next() {
		var f File
		var createdAt, modifiedAt string
		var contentType, mountID, tagsJSON sql.NullString
		var isDir int
		if err := rows.Scan(&f.TenantID, &f.Path, &f.CurrentVersion, &f.Etag, &f.Size,
			&createdAt, &modifiedAt, &contentType, &isDir, &mountID, &tagsJSON); err != nil {
			return nil, errtypes.Internal("scan file: " + err.Error())
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		f.ModifiedAt, _ = time.Parse(time.RFC3339Nano, modifiedAt)
		f.ContentType = contentType.String
		f.IsDirectory = isDir != 0
		f.MountID = mountID.String
		if tagsJSON.Valid && tagsJSON.String != "" {
			_ = json.Unmarshal([]byte(tagsJSON.String), &f.Tags)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errtypes.Internal("scan files: " + err.Error())
	}
	return out, nil
}

// WriteOpts carries the optimistic-concurrency preconditions for WriteFile.
type WriteOpts struct {
	IfMatch     string // require current etag == IfMatch
	IfNoneMatch bool   // require no existing version
	CreatedBy   string
	ContentType string
	Description string
}

// WriteResult is returned by WriteFile.
type WriteResult struct {
	Etag       string
	Version    int64
	Size       int64
	ModifiedAt time.Time
	Revision   int64 // event seq assigned to this write, usable as a consistency token
}

// WriteFile creates or appends a version for path, atomically updating the
// file record, inserting the version row, adjusting blob refcount and
// appending a change event — all within one transaction (spec §4.1, §4.8
// "write"). newDigest/newSize describe content already durably stored by
// the CAS layer; WriteFile only performs the metadata-side bookkeeping.
func (s *Store) WriteFile(ctx context.Context, tenantID, path, newDigest string, newSize int64, opts WriteOpts) (WriteResult, error) {
	var result WriteResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := txGetFile(tx, tenantID, path)
		notFound := err == sql.ErrNoRows
		if err != nil && !notFound {
			return errtypes.Internal("read file: " + err.Error())
		}

		if notFound && opts.IfMatch != "" {
			return errtypes.Conflict("if_match set but file does not exist: " + path)
		}
		if !notFound {
			if opts.IfNoneMatch {
				return errtypes.AlreadyExists(path)
			}
			if opts.IfMatch != "" && opts.IfMatch != existing.Etag {
				return errtypes.Conflict("etag mismatch on write to " + path)
			}
			if existing.IsDirectory {
				return errtypes.InvalidArgument("cannot write bytes to a directory: " + path)
			}
		}

		now := time.Now().UTC()
		version := int64(1)
		var parentVersion int64
		kind := EventCreated
		if !notFound {
			version = existing.CurrentVersion + 1
			parentVersion = existing.CurrentVersion
			kind = EventModified
		} else {
			// A deleted path keeps its version rows; continue its numbering.
			var maxVersion sql.NullInt64
			if err := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM versions WHERE tenant_id = ? AND path = ?`, tenantID, path).Scan(&maxVersion); err != nil {
				return errtypes.Internal("read max version: " + err.Error())
			}
			version = maxVersion.Int64 + 1
		}
		etag :=digest.Etag(digest.Digest(newDigest), version)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO versions (tenant_id, path, version, content_digest, size, created_at, created_by, parent_version, description)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tenantID, path, version, newDigest, newSize, now.Format(time.RFC3339Nano), opts.CreatedBy, nullableVersion(parentVersion), opts.Description); err != nil {
			return errtypes.Internal("insert version: " + err.Error())
		}

		parentPath, _ := splitForParent(path)
		if notFound {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO files (tenant_id, path, parent_path, current_version, etag, size, created_at, modified_at, content_type, is_directory, mount_id, tags_json)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '', '')`,
				tenantID, path, parentPath, version, etag, newSize, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), opts.ContentType); err != nil {
				return errtypes.Internal("insert file: " + err.Error())
			}
		} else {
			res, err := tx.ExecContext(ctx, `
				UPDATE files SET current_version = ?, etag = ?, size = ?, modified_at = ?, content_type = COALESCE(NULLIF(?, ''), content_type)
				WHERE tenant_id = ? AND path = ? AND etag = ?`,
				version, etag, newSize, now.Format(time.RFC3339Nano), opts.ContentType, tenantID, path, existing.Etag)
			if err != nil {
				return errtypes.Internal("update file: " + err.Error())
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				return errtypes.Conflict("concurrent write to " + path)
			}
		}

		if err := txIncrefBlob(tx, newDigest, newSize); err != nil {
			return err
		}

		seq, err := txAppendEvent(tx, tenantID, kind, path, "", opts.CreatedBy)
		if err != nil {
			return err
		}

		result = WriteResult{Etag: etag, Version: version, Size: newSize, ModifiedAt: now, Revision: seq}
		return nil
	})
	if err == nil {
		s.notifyTenant(tenantID)
	}
	return result, err
}

func nullableVersion(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func splitForParent(path string) (string, string) {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/", path
	}
	return path[:idx], path[idx+1:]
}

func txGetFile(tx *sql.Tx, tenantID, path string) (File, error) {
	row := tx.QueryRow(`
		SELECT tenant_id, path, current_version, etag, size, created_at, modified_at,
		       content_type, is_directory, mount_id, tags_json
		FROM files WHERE tenant_id = ? AND path = ?`, tenantID, path)
	var f File
	var createdAt, modifiedAt string
	var contentType, mountID, tagsJSON sql.NullString
	var isDir int
	if err := row.Scan(&f.TenantID, &f.Path, &f.CurrentVersion, &f.Etag, &f.Size,
		&createdAt, &modifiedAt, &contentType, &isDir, &mountID, &tagsJSON); err != nil {
		return File{}, err
	}
	f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	f.ModifiedAt, _ = time.Parse(time.RFC3339Nano, modifiedAt)
	f.ContentType = contentType.String
	f.IsDirectory = isDir != 0
	f.MountID = mountID.String
	return f, nil
}

// DeleteFile removes the file record and decrements the refcount of the
// blob its current version references. Per the resolved Open Question in
// SPEC_FULL.md §9(2), version history is kept queryable: the file row is
// removed but its version rows are left in place (no code path removes
// them).
func (s *Store) DeleteFile(ctx context.Context, tenantID, path, actor string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := txGetFile(tx, tenantID, path)
		if err == sql.ErrNoRows {
			return errtypes.NotFound(path)
		}
		if err != nil {
			return errtypes.Internal("get file: " + err.Error())
		}

		var contentDigest string
		row := tx.QueryRow(`SELECT content_digest FROM versions WHERE tenant_id=? AND path=? AND version=?`,
			tenantID, path, existing.CurrentVersion)
		if err := row.Scan(&contentDigest); err != nil && err != sql.ErrNoRows {
			return errtypes.Internal("read current version: " + err.Error())
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE tenant_id=? AND path=?`, tenantID, path); err != nil {
			return errtypes.Internal("delete file: " + err.Error())
		}
		if contentDigest != "" {
			if err := txDecrefBlob(tx, contentDigest); err != nil {
				return err
			}
		}
		_, err = txAppendEvent(tx, tenantID, EventDeleted, path, "", actor)
		return err
	})
	if err == nil {
		s.notifyTenant(tenantID)
	}
	return err
}

// RenameFile atomically moves a path (and its version chain) to a new
// path. oldPath must exist and newPath must not.
func (s *Store) RenameFile(ctx context.Context, tenantID, oldPath, newPath, actor string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return txRenameFile(ctx, tx, tenantID, oldPath, newPath, actor)
	})
	if err == nil {
		s.notifyTenant(tenantID)
	}
	return err
}

// RenameFileAndRewriteTuples atomically moves a path (and its version chain)
// to a new path and rewrites every ReBAC tuple whose object_id named the old
// path, in the same transaction (SPEC_FULL.md §9(1): "rename rewrites tuples
// in place"). A plain RenameFile followed by a separate RewriteTupleObject
// call would leave a window where a crash after the rename commits but
// before the tuple rewrite commits strands a grant addressed to a path that
// no longer exists — merging the two closes that window.
func (s *Store) RenameFileAndRewriteTuples(ctx context.Context, tenantID, oldPath, newPath, actor string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := txRenameFile(ctx, tx, tenantID, oldPath, newPath, actor); err != nil {
			return err
		}
		return txRewriteTupleObject(ctx, tx, tenantID, "file", oldPath, newPath)
	})
	if err == nil {
		s.notifyTenant(tenantID)
	}
	return err
}

func txRenameFile(ctx context.Context, tx *sql.Tx, tenantID, oldPath, newPath, actor string) error {
	if _, err := txGetFile(tx, tenantID, oldPath); err == sql.ErrNoRows {
		return errtypes.NotFound(oldPath)
	} else if err != nil {
		return errtypes.Internal("get file: " + err.Error())
	}
	if _, err := txGetFile(tx, tenantID, newPath); err == nil {
		return errtypes.AlreadyExists(newPath)
	} else if err != sql.ErrNoRows {
		return errtypes.Internal("get file: " + err.Error())
	}

	newParent, _ := splitForParent(newPath)
	if _, err := tx.ExecContext(ctx, `UPDATE files SET path=?, parent_path=? WHERE tenant_id=? AND path=?`,
		newPath, newParent, tenantID, oldPath); err != nil {
		return errtypes.Internal("rename file: " + err.Error())
	}
	if _, err := tx.ExecContext(ctx, `UPDATE versions SET path=? WHERE tenant_id=? AND path=?`,
		newPath, tenantID, oldPath); err != nil {
		return errtypes.Internal("rename versions: " + err.Error())
	}
	_, err := txAppendEvent(tx, tenantID, EventRenamed, newPath, oldPath, actor)
	return err
}

// MkdirResult describes a created directory record.
type MkdirResult struct {
	Path    string
	Created bool
}

// Mkdir creates a directory record at path. If parents is true, missing
// ancestors are created too. If the path already exists as a directory and
// existOK is true, it is a no-op; otherwise AlreadyExists.
func (s *Store) Mkdir(ctx context.Context, tenantID, path string, parents, existOK bool) ([]MkdirResult, error) {
	var results []MkdirResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		chain := ancestry(path, parents)
		for _, p := range chain {
			existing, err := txGetFile(tx, tenantID, p)
			if err == nil {
				if !existing.IsDirectory {
					return errtypes.AlreadyExists(p + " exists and is not a directory")
				}
				if p == path && !existOK {
					return errtypes.AlreadyExists(p)
				}
				continue
			}
			if err != sql.ErrNoRows {
				return errtypes.Internal("get file: " + err.Error())
			}
			now := time.Now().UTC().Format(time.RFC3339Nano)
			parentPath, _ := splitForParent(p)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO files (tenant_id, path, parent_path, current_version, etag, size, created_at, modified_at, is_directory, mount_id, tags_json)
				VALUES (?, ?, ?, 0, '', 0, ?, ?, 1, '', '')`,
				tenantID, p, parentPath, now, now); err != nil {
				return errtypes.Internal("insert directory: " + err.Error())
			}
			if _, err := txAppendEvent(tx, tenantID, EventCreated, p, "", ""); err != nil {
				return err
			}
			results = append(results, MkdirResult{Path: p, Created: true})
		}
		return nil
	})
	if err == nil && len(results) > 0 {
		s.notifyTenant(tenantID)
	}
	return results, err
}

func ancestry(path string, parents bool) []string {
	if !parents || path == "/" {
		return []string{path}
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	var chain []string
	cur := ""
	for _, p := range parts {
		cur += "/" + p
		chain = append(chain, cur)
	}
	return chain
}

// Rmdir removes a directory. If recursive is false the directory must have
// no children.
func (s *Store) Rmdir(ctx context.Context, tenantID, path string, recursive bool) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		f, err := txGetFile(tx, tenantID, path)
		if err == sql.ErrNoRows {
			return errtypes.NotFound(path)
		}
		if err != nil {
			return errtypes.Internal("get file: " + err.Error())
		}
		if !f.IsDirectory {
			return errtypes.InvalidArgument("not a directory: " + path)
		}

		rows, err := tx.Query(`SELECT path FROM files WHERE tenant_id=? AND parent_path=?`, tenantID, path)
		if err != nil {
			return errtypes.Internal("list children: " + err.Error())
		}
		var children []string
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				rows.Close()
				return errtypes.Internal("scan child: " + err.Error())
			}
			children = append(children, p)
		}
		rows.Close()

		if len(children) > 0 && !recursive {
			return errtypes.DirNotEmpty(path)
		}
		for _, c := range children {
			if err := rmdirRecursive(ctx, tx, tenantID, c); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE tenant_id=? AND path=?`, tenantID, path); err != nil {
			return errtypes.Internal("delete directory: " + err.Error())
		}
		_, err = txAppendEvent(tx, tenantID, EventDeleted, path, "", "")
		return err
	})
	if err == nil {
		s.notifyTenant(tenantID)
	}
	return err
}

func rmdirRecursive(ctx context.Context, tx *sql.Tx, tenantID, path string) error {
	f, err := txGetFile(tx, tenantID, path)
	if err != nil {
		return errtypes.Internal("get child: " + err.Error())
	}
	if f.IsDirectory {
		rows, err := tx.Query(`SELECT path FROM files WHERE tenant_id=? AND parent_path=?`, tenantID, path)
		if err != nil {
			return errtypes.Internal("list children: " + err.Error())
		}
		var children []string
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				rows.Close()
				return errtypes.Internal("scan child: " + err.Error())
			}
			children = append(children, p)
		}
		rows.Close()
		for _, c := range children {
			if err := rmdirRecursive(ctx, tx, tenantID, c); err != nil {
				return err
			}
		}
	} else {
		var contentDigest string
		row := tx.QueryRow(`SELECT content_digest FROM versions WHERE tenant_id=? AND path=? AND version=?`, tenantID, path, f.CurrentVersion)
		_ = row.Scan(&contentDigest)
		if contentDigest != "" {
			if err := txDecrefBlob(tx, contentDigest); err != nil {
				return err
			}
		}
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM files WHERE tenant_id=? AND path=?`, tenantID, path)
	return err
}
