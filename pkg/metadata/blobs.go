package metadata

import (
	"context"
	"database/sql"
	"time"

	"github.com/nexi-lab/nexus/pkg/errtypes"
)

// GetBlob returns the CAS bookkeeping row for a content digest.
func (s *Store) GetBlob(ctx context.Context, digest string) (Blob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT content_digest, size, backend_id, backend_key, refcount, chunk_manifest, created_at
		FROM blobs WHERE content_digest = ?`, digest)
	b, err := scanBlob(row)
	if err == sql.ErrNoRows {
		return Blob{}, errtypes.NotFound(digest)
	}
	if err != nil {
		return Blob{}, errtypes.Internal("get blob: " + err.Error())
	}
	return b, nil
}

func scanBlob(row *sql.Row) (Blob, error) {
	var b Blob
	var createdAt string
	var manifest int
	if err := row.Scan(&b.ContentDigest, &b.Size, &b.BackendID, &b.BackendKey, &b.Refcount, &manifest, &createdAt); err != nil {
		return Blob{}, err
	}
	b.ChunkManifest = manifest != 0
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return b, nil
}

// PutBlob registers a freshly-stored blob (refcount starts at 0; the
// caller's subsequent Incref — or the implicit incref inside WriteFile —
// brings it to 1). A digest already present is left untouched: CAS content
// is immutable, so re-ingesting identical bytes is a no-op.
func (s *Store) PutBlob(ctx context.Context, digest string, size int64, backendID, backendKey string, isManifest bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO blobs (content_digest, size, backend_id, backend_key, refcount, chunk_manifest, created_at)
			VALUES (?, ?, ?, ?, 0, ?, ?)`,
			digest, size, backendID, backendKey, boolToInt(isManifest), time.Now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return errtypes.Internal("put blob: " + err.Error())
		}
		return nil
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// IncrefBlob increments a blob's reference count.
func (s *Store) IncrefBlob(ctx context.Context, digest string, size int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return txIncrefBlob(tx, digest, size)
	})
}

func txIncrefBlob(tx *sql.Tx, digest string, size int64) error {
	res, err := tx.Exec(`UPDATE blobs SET refcount = refcount + 1 WHERE content_digest = ?`, digest)
	if err != nil {
		return errtypes.Internal("incref blob: " + err.Error())
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// the blob row doesn't exist yet: the CAS layer writes bytes to the
		// backend before the metadata row exists in rare first-write races.
		_, err := tx.Exec(`
			INSERT INTO blobs (content_digest, size, backend_id, backend_key, refcount, chunk_manifest, created_at)
			VALUES (?, ?, '', '', 1, 0, ?)`, digest, size, time.Now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return errtypes.Internal("insert blob on incref: " + err.Error())
		}
	}
	return nil
}

// DecrefBlob decrements a blob's reference count. It does not delete the
// backend object when the count reaches zero — that is the CAS garbage
// collector's job, run out of band, matching spec §4.2's "refcount reaching
// zero makes a blob eligible for reclamation" (not immediate deletion).
func (s *Store) DecrefBlob(ctx context.Context, digest string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return txDecrefBlob(tx, digest)
	})
}

func txDecrefBlob(tx *sql.Tx, digest string) error {
	_, err := tx.Exec(`UPDATE blobs SET refcount = MAX(refcount - 1, 0) WHERE content_digest = ?`, digest)
	if err != nil {
		return errtypes.Internal("decref blob: " + err.Error())
	}
	return nil
}

// ReclaimableBlobs returns up to limit blobs with refcount 0, for the CAS
// garbage collector to delete from the backend.
func (s *Store) ReclaimableBlobs(ctx context.Context, limit int) ([]Blob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_digest, size, backend_id, backend_key, refcount, chunk_manifest, created_at
		FROM blobs WHERE refcount = 0 LIMIT ?`, limit)
	if err != nil {
		return nil, errtypes.Internal("list reclaimable blobs: " + err.Error())
	}
	defer rows.Close()
	var out []Blob
	for rows.Next() {
		var b Blob
		var createdAt string
		var manifest int
		if err := rows.Scan(&b.ContentDigest, &b.Size, &b.BackendID, &b.BackendKey, &b.Refcount, &manifest, &createdAt); err != nil {
			return nil, errtypes.Internal("scan blob: " + err.Error())
		}
		b.ChunkManifest = manifest != 0
		b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBlobRow removes the bookkeeping row after the GC has deleted the
// backend object. It is a no-op (not an error) if refcount is no longer 0,
// since a write may have raced the collector.
func (s *Store) DeleteBlobRow(ctx context.Context, digest string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE content_digest = ? AND refcount = 0`, digest)
	if err != nil {
		return errtypes.Internal("delete blob row: " + err.Error())
	}
	return nil
}
