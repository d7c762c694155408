// Package cas implements the content-addressed store (spec §4.2 "CAS
// Store"): ingesting bytes into immutable, deduplicated, reference-counted
// blobs, splitting objects larger than ChunkThreshold into fixed-size
// chunks behind a manifest, and serving reads — including byte ranges
// translated into per-chunk reads for chunked objects.
//
// cas coordinates two lower layers: pkg/blobstore (opaque byte storage,
// keyed by backend-relative key) and pkg/metadata (the blobs table's
// refcount bookkeeping). Digest computation and the manifest-tagging
// scheme live in pkg/digest.
package cas

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/nexi-lab/nexus/pkg/blobstore"
	"github.com/nexi-lab/nexus/pkg/digest"
	"github.com/nexi-lab/nexus/pkg/errtypes"
	"github.com/nexi-lab/nexus/pkg/metadata"
)

// ChunkThreshold is the size above which Put splits content into chunks
// (spec §4.2 "size > CHUNK_THRESHOLD (e.g. 8 MiB)").
const ChunkThreshold = 8 * 1024 * 1024

// ChunkSize is the fixed size of each chunk of a split object, save for the
// last chunk which may be shorter.
const ChunkSize = 8 * 1024 * 1024

// Store is the CAS store for one backend, backed by a Backend for bytes and
// a metadata.Store for refcount bookkeeping.
type Store struct {
	backend   blobstore.Backend
	meta      *metadata.Store
	backendID string
}

// New constructs a Store over the given blob backend, identified by
// backendID in the metadata store's blobs table.
func New(backend blobstore.Backend, meta *metadata.Store, backendID string) *Store {
	return &Store{backend: backend, meta: meta, backendID: backendID}
}

// chunkRef is one entry in a chunk manifest: the chunk's own digest, its
// offset within the logical object, and its size.
type chunkRef struct {
	Digest digest.Digest `json:"digest"`
	Offset int64         `json:"offset"`
	Size   int64         `json:"size"`
}

type manifest struct {
	TotalSize int64      `json:"total_size"`
	Chunks    []chunkRef `json:"chunks"`
}

// PutResult is returned by Put.
type PutResult struct {
	Digest digest.Digest
	Size   int64
}

// Put ingests content from r, computing its digest, splitting it into
// chunks behind a manifest if it exceeds ChunkThreshold, and registering
// the resulting blob in the metadata store. A single blob or a manifest is
// registered without taking a reference — the caller (typically
// pkg/fileservice via pkg/metadata.WriteFile) is responsible for the incref
// that makes it live. The chunks behind a manifest are increfed here, once
// per Put.
func (s *Store) Put(ctx context.Context, r io.Reader) (PutResult, error) {
	buf, err := io.ReadAll(io.LimitReader(r, ChunkThreshold+1))
	if err != nil {
		return PutResult{}, errtypes.Internal("read content: " + err.Error())
	}
	if int64(len(buf)) <= ChunkThreshold {
		return s.putSingle(ctx, buf)
	}

	rest, err := io.ReadAll(r)
	if err != nil {
		return PutResult{}, errtypes.Internal("read content: " + err.Error())
	}
	full := append(buf, rest...)
	return s.putChunked(ctx, full)
}

func (s *Store) putSingle(ctx context.Context, content []byte) (PutResult, error) {
	d := digest.Of(content)
	key := digest.BlobKey(d)
	if _, err := s.backend.PutIfAbsent(ctx, key, bytes.NewReader(content), int64(len(content))); err != nil {
		return PutResult{}, err
	}
	if err := s.meta.PutBlob(ctx, string(d), int64(len(content)), s.backendID, key, false); err != nil {
		return PutResult{}, err
	}
	return PutResult{Digest: d, Size: int64(len(content))}, nil
}

func (s *Store) putChunked(ctx context.Context, content []byte) (PutResult, error) {
	m := manifest{TotalSize: int64(len(content))}
	for offset := 0; offset < len(content); offset += ChunkSize {
		end := offset + ChunkSize
		if end > len(content) {
			end = len(content)
		}
		chunk := content[offset:end]
		d := digest.Of(chunk)
		key := digest.BlobKey(d)
		if _, err := s.backend.PutIfAbsent(ctx, key, bytes.NewReader(chunk), int64(len(chunk))); err != nil {
			return PutResult{}, err
		}
		if err := s.meta.PutBlob(ctx, string(d), int64(len(chunk)), s.backendID, key, false); err != nil {
			return PutResult{}, err
		}
		if err := s.meta.IncrefBlob(ctx, string(d), int64(len(chunk))); err != nil {
			return PutResult{}, err
		}
		m.Chunks = append(m.Chunks, chunkRef{Digest: d, Offset: int64(offset), Size: int64(len(chunk))})
	}

	manifestBytes, err := json.Marshal(m)
	if err != nil {
		return PutResult{}, errtypes.Internal("marshal manifest: " + err.Error())
	}
	manifestDigest := digest.Manifest(manifestBytes)
	key := digest.BlobKey(digest.Digest(string(manifestDigest)[len(digest.ManifestTag):]))
	if _, err := s.backend.PutIfAbsent(ctx, key, bytes.NewReader(manifestBytes), int64(len(manifestBytes))); err != nil {
		return PutResult{}, err
	}
	if err := s.meta.PutBlob(ctx, string(manifestDigest), m.TotalSize, s.backendID, key, true); err != nil {
		return PutResult{}, err
	}
	return PutResult{Digest: manifestDigest, Size: m.TotalSize}, nil
}

// Get returns a reader over the content identified by d. If rangeLen is 0
// the full object is returned; otherwise the read is limited to
// [rangeStart, rangeStart+rangeLen). Chunked objects translate the range
// into per-chunk reads transparently.
func (s *Store) Get(ctx context.Context, d digest.Digest, rangeStart, rangeLen int64) (io.ReadCloser, error) {
	if !d.IsManifest() {
		blob, err := s.meta.GetBlob(ctx, string(d))
		if err != nil {
			return nil, err
		}
		return s.backend.Get(ctx, blob.BackendKey, rangeStart, backendRangeLen(rangeLen))
	}
	return s.getChunked(ctx, d, rangeStart, rangeLen)
}

// backendRangeLen translates cas's "0 means full object" range convention
// into blobstore.Backend's "negative means full object" convention.
func backendRangeLen(rangeLen int64) int64 {
	if rangeLen <= 0 {
		return -1
	}
	return rangeLen
}

func (s *Store) getChunked(ctx context.Context, d digest.Digest, rangeStart, rangeLen int64) (io.ReadCloser, error) {
	blob, err := s.meta.GetBlob(ctx, string(d))
	if err != nil {
		return nil, err
	}
	raw, err := s.backend.Get(ctx, blob.BackendKey, 0, -1)
	if err != nil {
		return nil, err
	}
	defer raw.Close()
	manifestBytes, err := io.ReadAll(raw)
	if err != nil {
		return nil, errtypes.Internal("read manifest: " + err.Error())
	}
	var m manifest
	if err := json.Unmarshal(manifestBytes, &m); err != nil {
		return nil, errtypes.Integrity("corrupt chunk manifest for " + string(d))
	}

	end := m.TotalSize
	if rangeLen > 0 {
		end = rangeStart + rangeLen
	}
	if end > m.TotalSize {
		end = m.TotalSize
	}

	var parts []io.Reader
	for _, c := range m.Chunks {
		chunkEnd := c.Offset + c.Size
		if chunkEnd <= rangeStart || c.Offset >= end {
			continue
		}
		readStart := int64(0)
		if rangeStart > c.Offset {
			readStart = rangeStart - c.Offset
		}
		readLen := c.Size - readStart
		if c.Offset+readStart+readLen > end {
			readLen = end - c.Offset - readStart
		}
		chunkBlob, err := s.meta.GetBlob(ctx, string(c.Digest))
		if err != nil {
			return nil, err
		}
		r, err := s.backend.Get(ctx, chunkBlob.BackendKey, readStart, backendRangeLen(readLen))
		if err != nil {
			return nil, err
		}
		parts = append(parts, r)
	}
	return multiCloser{r: io.MultiReader(parts...), closers: parts}, nil
}

// multiCloser adapts io.MultiReader's concatenated readers, each of which
// may itself need closing, into a single io.ReadCloser.
type multiCloser struct {
	r       io.Reader
	closers []io.Reader
}

func (m multiCloser) Read(p []byte) (int, error) { return m.r.Read(p) }

func (m multiCloser) Close() error {
	var firstErr error
	for _, c := range m.closers {
		if rc, ok := c.(io.Closer); ok {
			if err := rc.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Incref increments a blob's (or, for a manifest digest, the manifest
// blob's) reference count.
func (s *Store) Incref(ctx context.Context, d digest.Digest, size int64) error {
	return s.meta.IncrefBlob(ctx, string(d), size)
}

// Decref decrements a blob's reference count. For a chunked object this
// only touches the manifest blob's own refcount — the underlying chunks
// were increfed individually at ingest time (putChunked) and are reclaimed
// independently by the garbage collector once nothing references them.
func (s *Store) Decref(ctx context.Context, d digest.Digest) error {
	return s.meta.DecrefBlob(ctx, string(d))
}

// Stat returns the size of the content identified by d, verifying the blob
// is registered.
func (s *Store) Stat(ctx context.Context, d digest.Digest) (int64, error) {
	blob, err := s.meta.GetBlob(ctx, string(d))
	if err != nil {
		return 0, err
	}
	return blob.Size, nil
}

// ReclaimBatchSize bounds how many refcount-zero blobs one Reclaim call
// deletes, so a single sweep can't hold the backend or metadata store busy
// indefinitely.
const ReclaimBatchSize = 256

// ReclaimGraceInterval is the grace window Reclaim applies before deleting a
// refcount-zero blob (spec §3 "removed when refcount reaches zero and a
// grace interval has elapsed"). The blobs table has no dedicated
// "reached-zero-at" column, so this is measured against the blob's
// created_at instead — conservative for long-lived blobs that later drop to
// zero (they clear the grace window immediately on their next sweep once
// refcount hits zero), but never reclaims a blob sooner than the interval
// after it was first written, which is enough to let a racing
// incref-right-after-decref settle before the sweep runs again.
const ReclaimGraceInterval = 1 * time.Hour

// Reclaim deletes up to ReclaimBatchSize blobs whose refcount has dropped to
// zero and whose created_at is at least ReclaimGraceInterval before now (spec
// §4.2 "refcount reaching zero makes a blob eligible for reclamation"). It
// deletes the backend object first and the bookkeeping row second, so a
// crash between the two steps leaves an orphaned backend object rather than
// a dangling metadata row pointing at nothing — DeleteBlobRow is a no-op if
// a concurrent write reincref'd the blob in the meantime. It returns the
// number of blobs actually removed.
func (s *Store) Reclaim(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.meta.ReclaimableBlobs(ctx, ReclaimBatchSize)
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-ReclaimGraceInterval)
	var reclaimed int
	for _, b := range candidates {
		if b.CreatedAt.After(cutoff) {
			continue
		}
		if err := s.backend.Delete(ctx, b.BackendKey); err != nil {
			if _, ok := err.(errtypes.IsNotFound); !ok {
				return reclaimed, err
			}
		}
		if err := s.meta.DeleteBlobRow(ctx, b.ContentDigest); err != nil {
			return reclaimed, err
		}
		reclaimed++
	}
	return reclaimed, nil
}
