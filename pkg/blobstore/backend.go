// Package blobstore implements the opaque byte-addressable Blob Backend
// contract (spec §4.2): put/get/delete/exists/stat keyed by an opaque
// string. The CAS Store (pkg/cas) owns key shape; backends only move bytes.
package blobstore

import (
	"context"
	"io"

	"github.com/nexi-lab/nexus/pkg/errtypes"
)

// Backend is the contract every storage backend variant implements. Keys
// are opaque strings; backends are stateless per request and must be safe
// under concurrent writers of the same key (last-writer-wins is acceptable
// because, by construction, two writers of the same CAS key always carry
// byte-identical content).
type Backend interface {
	// Put stores bytes under key, replacing any object already stored
	// there. For create-only semantics CAS callers use PutIfAbsent instead.
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	// PutIfAbsent stores bytes under key only if the key does not already
	// exist, returning (true, nil) if it wrote and (false, nil) if the key
	// was already present — the dedup path for content-addressed writes.
	PutIfAbsent(ctx context.Context, key string, r io.Reader, size int64) (wrote bool, err error)
	// Get returns a reader over the full object, or a byte range when
	// rangeLen >= 0. Returns errtypes.NotFound if key is unknown.
	Get(ctx context.Context, key string, rangeStart, rangeLen int64) (io.ReadCloser, error)
	// Delete removes key. Returns errtypes.NotFound if key is unknown.
	Delete(ctx context.Context, key string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Stat returns the size in bytes of the object stored under key.
	Stat(ctx context.Context, key string) (int64, error)
}

// ErrNotFound is a convenience wrapper constructing a consistent NotFound
// message for a backend key.
func ErrNotFound(key string) error {
	return errtypes.NotFound("blob key not found: " + key)
}
