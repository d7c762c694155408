// Package metadata implements the durable, transactional metadata store
// (spec §4.1): typed tables for files, versions, blobs, mounts, workspaces,
// snapshots, ReBAC tuples, namespace configs, the entity registry and the
// change-event journal, all within one sqlite database file shared by every
// tenant (the on-disk metadata.db named in spec §6).
//
// Row-level CAS for write preconditions is a conditional UPDATE whose
// RowsAffected()==0 is surfaced as errtypes.Conflict; multi-row writes run
// inside a single sql.Tx so partial failures roll back cleanly, matching
// §4.1's "no halfway state" requirement.
package metadata

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nexi-lab/nexus/pkg/errtypes"
	"github.com/rs/zerolog"
)

// Store is the durable metadata store. A Store instance serves exactly one
// on-disk database; multi-tenant isolation is enforced at the query layer
// (every table of per-tenant records keys on tenant_id), not by separate
// files.
type Store struct {
	db     *sql.DB
	log    zerolog.Logger
	notify func(tenantID string)
}

// Open opens (creating if needed) the sqlite database at path and applies
// the schema.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, errtypes.Wrap(errtypes.Internal("open metadata store"), err)
	}
	db.SetMaxOpenConns(1) // sqlite: single-writer; serializes at the connection pool instead of relying on busy_timeout alone
	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetEventNotifier registers fn to be called, best-effort and after the
// fact, whenever a transaction that appended a change event commits. The
// watch journal uses this to fire its low-latency NATS wake-up without the
// metadata package needing to know NATS exists — the events table itself
// remains the single source of truth, this is purely a side-channel ping.
func (s *Store) SetEventNotifier(fn func(tenantID string)) {
	s.notify = fn
}

func (s *Store) notifyTenant(tenantID string) {
	if s.notify != nil {
		s.notify(tenantID)
	}
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return errtypes.Wrap(errtypes.Internal("apply schema"), err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic. Transient SQLITE_BUSY errors are retried with
// bounded exponential backoff per §4.1's "transient errors -> retryable
// INTERNAL_ERROR" contract.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	op := func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return classifyTxErr(err)
		}
		defer func() {
			if p := recover(); p != nil {
				tx.Rollback()
				panic(p)
			}
		}()
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return classifyTxErr(err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Second
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

func classifyTxErr(err error) error {
	if err == nil {
		return nil
	}
	return errtypes.Wrap(errtypes.Internal("metadata store"), err)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// sqlite reports busy/locked as plain strings through mattn/go-sqlite3's
	// error type; matching on the rendered message keeps this file free of
	// a direct sqlite3.Error import in the hot path.
	msg := err.Error()
	return contains(msg, "database is locked") || contains(msg, "SQLITE_BUSY")
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	n, m := len(s), len(substr)
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == substr {
			return i
		}
	}
	return -1
}

const schema = `
CREATE TABLE IF NOT EXISTS files (
	tenant_id       TEXT NOT NULL,
	path            TEXT NOT NULL,
	parent_path     TEXT NOT NULL,
	current_version INTEGER NOT NULL DEFAULT 0,
	etag            TEXT NOT NULL DEFAULT '',
	size            INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL,
	modified_at     TEXT NOT NULL,
	content_type    TEXT,
	is_directory    INTEGER NOT NULL DEFAULT 0,
	mount_id        TEXT,
	tags_json       TEXT,
	PRIMARY KEY (tenant_id, path)
);
CREATE INDEX IF NOT EXISTS idx_files_parent ON files (tenant_id, parent_path);

CREATE TABLE IF NOT EXISTS versions (
	tenant_id       TEXT NOT NULL,
	path            TEXT NOT NULL,
	version         INTEGER NOT NULL,
	content_digest  TEXT NOT NULL,
	size            INTEGER NOT NULL,
	created_at      TEXT NOT NULL,
	created_by      TEXT,
	parent_version  INTEGER,
	description     TEXT,
	deleted         INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, path, version)
);

CREATE TABLE IF NOT EXISTS blobs (
	content_digest  TEXT PRIMARY KEY,
	size            INTEGER NOT NULL,
	backend_id      TEXT NOT NULL,
	backend_key     TEXT NOT NULL,
	refcount        INTEGER NOT NULL DEFAULT 0,
	chunk_manifest  INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mounts (
	tenant_id           TEXT NOT NULL,
	mount_point         TEXT NOT NULL,
	backend_id          TEXT NOT NULL,
	backend_config_blob TEXT,
	read_only           INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, mount_point)
);

CREATE TABLE IF NOT EXISTS workspaces (
	tenant_id       TEXT NOT NULL,
	path            TEXT NOT NULL,
	name            TEXT NOT NULL,
	description     TEXT,
	created_by      TEXT,
	created_at      TEXT NOT NULL,
	metadata_json   TEXT,
	tags_json       TEXT,
	session_id      TEXT,
	ttl_expires_at  TEXT,
	next_snapshot   INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (tenant_id, path)
);

CREATE TABLE IF NOT EXISTS snapshots (
	tenant_id        TEXT NOT NULL,
	workspace_path   TEXT NOT NULL,
	snapshot_number  INTEGER NOT NULL,
	created_at       TEXT NOT NULL,
	description      TEXT,
	tags_json        TEXT,
	file_count       INTEGER NOT NULL,
	total_size       INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, workspace_path, snapshot_number)
);

CREATE TABLE IF NOT EXISTS snapshot_refs (
	tenant_id       TEXT NOT NULL,
	workspace_path  TEXT NOT NULL,
	snapshot_number INTEGER NOT NULL,
	path            TEXT NOT NULL,
	version         INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, workspace_path, snapshot_number, path)
);

CREATE TABLE IF NOT EXISTS tuples (
	tuple_id     TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	subject_type TEXT NOT NULL,
	subject_id   TEXT NOT NULL,
	relation     TEXT NOT NULL,
	object_type  TEXT NOT NULL,
	object_id    TEXT NOT NULL,
	expires_at   TEXT,
	condition_json TEXT,
	created_at   TEXT NOT NULL,
	revision     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tuples_object ON tuples (tenant_id, object_type, object_id, relation);
CREATE INDEX IF NOT EXISTS idx_tuples_subject ON tuples (tenant_id, subject_type, subject_id, relation);

CREATE TABLE IF NOT EXISTS namespace_configs (
	object_type TEXT PRIMARY KEY,
	config_json TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	parent_type TEXT NOT NULL,
	parent_id   TEXT NOT NULL,
	PRIMARY KEY (entity_type, entity_id)
);

CREATE TABLE IF NOT EXISTS events (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	kind      TEXT NOT NULL,
	path      TEXT NOT NULL,
	old_path  TEXT,
	at        TEXT NOT NULL,
	actor     TEXT
);

CREATE TABLE IF NOT EXISTS api_keys (
	key_id       TEXT PRIMARY KEY,
	hash         TEXT NOT NULL,
	tenant_id    TEXT NOT NULL,
	subject_type TEXT NOT NULL,
	subject_id   TEXT NOT NULL,
	is_admin     INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL,
	revoked      INTEGER NOT NULL DEFAULT 0
);
`
