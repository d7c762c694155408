package metadata

import "time"

// File is the record for a path in the namespace (spec §3 "File record").
type File struct {
	TenantID       string
	Path           string
	CurrentVersion int64
	Etag           string
	Size           int64
	CreatedAt      time.Time
	ModifiedAt     time.Time
	ContentType    string
	IsDirectory    bool
	MountID        string
	Tags           []string
}

// Version is one entry in a path's version chain (spec §3 "Version record").
type Version struct {
	TenantID      string
	Path          string
	Version       int64
	ContentDigest string
	Size          int64
	CreatedAt     time.Time
	CreatedBy     string
	ParentVersion int64 // 0 means no parent
	Description   string
	Deleted       bool
}

// Blob is the CAS bookkeeping row (spec §3 "Blob record (CAS)").
type Blob struct {
	ContentDigest string
	Size          int64
	BackendID     string
	BackendKey    string
	Refcount      int64
	ChunkManifest bool
	CreatedAt     time.Time
}

// Mount maps a path prefix to a backend (spec §3 "Mount record").
type Mount struct {
	TenantID          string
	MountPoint        string
	BackendID         string
	BackendConfigBlob string
	ReadOnly          bool
}

// Workspace names a subtree registered for snapshotting (spec §3 "Workspace record").
type Workspace struct {
	TenantID     string
	Path         string
	Name         string
	Description  string
	CreatedBy    string
	CreatedAt    time.Time
	Metadata     map[string]string
	Tags         []string
	SessionID    string
	TTLExpiresAt *time.Time
	NextSnapshot int64
}

// Snapshot is an immutable capture of (path, version) pairs (spec §3 "Snapshot record").
type Snapshot struct {
	TenantID       string
	WorkspacePath  string
	SnapshotNumber int64
	CreatedAt      time.Time
	Description    string
	Tags           []string
	FileCount      int64
	TotalSize      int64
}

// Tuple is a ReBAC relationship assertion (spec §3 "ReBAC tuple").
type Tuple struct {
	TupleID      string
	TenantID     string
	SubjectType  string
	SubjectID    string
	Relation     string
	ObjectType   string
	ObjectID     string
	ExpiresAt    *time.Time
	Condition    string
	CreatedAt    time.Time
	Revision     int64
}

// Entity expresses an ownership chain distinct from ACL tuples (spec §3 "Entity registry").
type Entity struct {
	EntityType string
	EntityID   string
	ParentType string
	ParentID   string
}

// EventKind enumerates change-event kinds (spec §3 "Change event").
type EventKind string

const (
	EventCreated      EventKind = "created"
	EventModified     EventKind = "modified"
	EventDeleted      EventKind = "deleted"
	EventRenamed      EventKind = "renamed"
	EventPermChanged  EventKind = "perm_changed"
)

// Event is one append-only entry in the watch journal.
type Event struct {
	Seq      int64
	TenantID string
	Kind     EventKind
	Path     string
	OldPath  string
	At       time.Time
	Actor    string
}

// APIKey is an authentication credential resolving to a caller identity
// (spec §4.9).
type APIKey struct {
	KeyID       string
	Hash        string
	TenantID    string
	SubjectType string
	SubjectID   string
	IsAdmin     bool
	CreatedAt   time.Time
	Revoked     bool
}
