package metadata

import (
	"context"
	"database/sql"
	"time"

	"github.com/nexi-lab/nexus/pkg/errtypes"
)

// WriteTuple inserts a ReBAC relationship assertion. Its revision is the
// event-journal sequence number assigned to the perm_changed event the
// write emits — the tuple store's revision counter is the event journal's
// own seq, not a separate table, so a consistency token produced from a
// write's Revision composes directly with EventsSince/LatestSeq.
func (s *Store) WriteTuple(ctx context.Context, t Tuple) (Tuple, error) {
	tenantID := t.TenantID
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t.CreatedAt = time.Now().UTC()
		var expires interface{}
		if t.ExpiresAt != nil {
			expires = t.ExpiresAt.UTC().Format(time.RFC3339Nano)
		}

		seq, err := txAppendEvent(tx, t.TenantID, EventPermChanged, t.ObjectID, "", t.SubjectID)
		if err != nil {
			return err
		}
		t.Revision = seq

		_, err = tx.Exec(`
			INSERT INTO tuples (tuple_id, tenant_id, subject_type, subject_id, relation, object_type, object_id, expires_at, condition_json, created_at, revision)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.TupleID, t.TenantID, t.SubjectType, t.SubjectID, t.Relation, t.ObjectType, t.ObjectID,
			expires, t.Condition, t.CreatedAt.Format(time.RFC3339Nano), t.Revision)
		if err != nil {
			return errtypes.Internal("insert tuple: " + err.Error())
		}
		return nil
	})
	if err == nil {
		s.notifyTenant(tenantID)
	}
	return t, err
}

// DeleteTuple removes a tuple by id.
func (s *Store) DeleteTuple(ctx context.Context, tenantID, tupleID string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var objectID, subjectID string
		row := tx.QueryRow(`SELECT object_id, subject_id FROM tuples WHERE tenant_id = ? AND tuple_id = ?`, tenantID, tupleID)
		if err := row.Scan(&objectID, &subjectID); err == sql.ErrNoRows {
			return errtypes.NotFound(tupleID)
		} else if err != nil {
			return errtypes.Internal("read tuple: " + err.Error())
		}
		if _, err := tx.Exec(`DELETE FROM tuples WHERE tenant_id = ? AND tuple_id = ?`, tenantID, tupleID); err != nil {
			return errtypes.Internal("delete tuple: " + err.Error())
		}
		_, err := txAppendEvent(tx, tenantID, EventPermChanged, objectID, "", subjectID)
		return err
	})
	if err == nil {
		s.notifyTenant(tenantID)
	}
	return err
}

// TuplesForObject returns tuples asserted directly on (objectType, objectID),
// optionally filtered by relation (empty = all relations) — the primitive
// the permission engine's graph walk uses at each direct-edge step.
func (s *Store) TuplesForObject(ctx context.Context, tenantID, objectType, objectID, relation string) ([]Tuple, error) {
	query := `SELECT tuple_id, tenant_id, subject_type, subject_id, relation, object_type, object_id, expires_at, condition_json, created_at, revision
		FROM tuples WHERE tenant_id = ? AND object_type = ? AND object_id = ?`
	args := []interface{}{tenantID, objectType, objectID}
	if relation != "" {
		query += ` AND relation = ?`
		args = append(args, relation)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errtypes.Internal("query tuples for object: " + err.Error())
	}
	defer rows.Close()
	return scanTuples(rows)
}

// TuplesForSubject returns tuples asserted for a subject, used by
// lookup_resources to find candidate objects without a full table scan.
func (s *Store) TuplesForSubject(ctx context.Context, tenantID, subjectType, subjectID, relation string) ([]Tuple, error) {
	query := `SELECT tuple_id, tenant_id, subject_type, subject_id, relation, object_type, object_id, expires_at, condition_json, created_at, revision
		FROM tuples WHERE tenant_id = ? AND subject_type = ? AND subject_id = ?`
	args := []interface{}{tenantID, subjectType, subjectID}
	if relation != "" {
		query += ` AND relation = ?`
		args = append(args, relation)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errtypes.Internal("query tuples for subject: " + err.Error())
	}
	defer rows.Close()
	return scanTuples(rows)
}

func scanTuples(rows *sql.Rows) ([]Tuple, error) {
	var out []Tuple
	for rows.Next() {
		var t Tuple
		var expires, condition sql.NullString
		var createdAt string
		if err := rows.Scan(&t.TupleID, &t.TenantID, &t.SubjectType, &t.SubjectID, &t.Relation,
			&t.ObjectType, &t.ObjectID, &expires, &condition, &createdAt, &t.Revision); err != nil {
			return nil, errtypes.Internal("scan tuple: " + err.Error())
		}
		t.Condition = condition.String
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if expires.Valid && expires.String != "" {
			ts, err := time.Parse(time.RFC3339Nano, expires.String)
			if err == nil {
				t.ExpiresAt = &ts
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RewriteTupleObject updates every tuple whose object_id equals oldID to
// newID (resolved Open Question, SPEC_FULL.md §9(1): "rename rewrites
// tuples in place" rather than leaving stale grants behind). Callers
// renaming a file should use Store.RenameFileAndRewriteTuples instead, so
// the rewrite lands in the same transaction as the rename itself.
func (s *Store) RewriteTupleObject(ctx context.Context, tenantID, objectType, oldID, newID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return txRewriteTupleObject(ctx, tx, tenantID, objectType, oldID, newID)
	})
}

func txRewriteTupleObject(ctx context.Context, tx *sql.Tx, tenantID, objectType, oldID, newID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE tuples SET object_id = ? WHERE tenant_id = ? AND object_type = ? AND object_id = ?`,
		newID, tenantID, objectType, oldID)
	if err != nil {
		return errtypes.Internal("rewrite tuple object: " + err.Error())
	}
	return nil
}

// CurrentRevision returns the tenant's latest committed event-journal
// sequence number, the "fully_consistent" consistency token floor for new
// permission checks (spec §4.5 "consistency tokens").
func (s *Store) CurrentRevision(ctx context.Context, tenantID string) (int64, error) {
	return s.LatestSeq(ctx, tenantID)
}
