package metadata

import (
	"context"
	"database/sql"
	"time"

	"github.com/nexi-lab/nexus/pkg/errtypes"
)

// AppendEvent records a change event and returns its assigned sequence
// number, usable by callers as an at_least_as_fresh consistency token
// (spec §5.4).
func (s *Store) AppendEvent(ctx context.Context, tenantID string, kind EventKind, path, oldPath, actor string) (int64, error) {
	var seq int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		seq, err = txAppendEvent(tx, tenantID, kind, path, oldPath, actor)
		return err
	})
	return seq, err
}

func txAppendEvent(tx *sql.Tx, tenantID string, kind EventKind, path, oldPath, actor string) (int64, error) {
	res, err := tx.Exec(`
		INSERT INTO events (tenant_id, kind, path, old_path, at, actor)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tenantID, string(kind), path, oldPath, time.Now().UTC().Format(time.RFC3339Nano), actor)
	if err != nil {
		return 0, errtypes.Internal("append event: " + err.Error())
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, errtypes.Internal("read event seq: " + err.Error())
	}
	return seq, nil
}

// EventsSince returns events with seq > cursor for tenantID, oldest first,
// capped at limit — the primitive behind watch journal replay (spec §4.10
// "cursor-based replay").
func (s *Store) EventsSince(ctx context.Context, tenantID string, cursor int64, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, tenant_id, kind, path, old_path, at, actor
		FROM events WHERE tenant_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`, tenantID, cursor, limit)
	if err != nil {
		return nil, errtypes.Internal("query events: " + err.Error())
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var kind, at, oldPath, actor sql.NullString
		if err := rows.Scan(&e.Seq, &e.TenantID, &kind, &e.Path, &oldPath, &at, &actor); err != nil {
			return nil, errtypes.Internal("scan event: " + err.Error())
		}
		e.Kind = EventKind(kind.String)
		e.OldPath = oldPath.String
		e.Actor = actor.String
		e.At, _ = time.Parse(time.RFC3339Nano, at.String)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestSeq returns the highest assigned sequence number for tenantID, or 0
// if no events have been recorded yet — the cursor a new subscriber starts
// from when it asks to watch "from now".
func (s *Store) LatestSeq(ctx context.Context, tenantID string) (int64, error) {
	var seq sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events WHERE tenant_id = ?`, tenantID)
	if err := row.Scan(&seq); err != nil {
		return 0, errtypes.Internal("latest seq: " + err.Error())
	}
	return seq.Int64, nil
}

// PruneEventsBefore deletes events with seq <= cutoff for tenantID,
// enforcing the journal's retention horizon (spec §4.7).
func (s *Store) PruneEventsBefore(ctx context.Context, tenantID string, cutoff int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE tenant_id = ? AND seq <= ?`, tenantID, cutoff)
	if err != nil {
		return errtypes.Internal("prune events: " + err.Error())
	}
	return nil
}

// PruneEventsOlderThan deletes events across every tenant whose timestamp
// predates cutoff, mirroring ExpiredWorkspaces' "single cross-tenant sweep"
// shape. Used by the watch journal's retention-horizon reaper (spec §4.7
// "default 24h") instead of enumerating tenants one at a time.
func (s *Store) PruneEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE at <= ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, errtypes.Internal("prune events: " + err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errtypes.Internal("prune events rows affected: " + err.Error())
	}
	return n, nil
}
