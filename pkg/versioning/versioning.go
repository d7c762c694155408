// Package versioning implements workspace registration and the
// snapshot/restore/diff operations layered on pkg/metadata (spec §4.6).
// WriteFile already owns blob refcounting on restore; pkg/cas is consulted
// only to confirm a snapshot-referenced blob is still retrievable before
// restoring it.
package versioning

import (
	"context"
	"io"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/nexi-lab/nexus/pkg/cas"
	"github.com/nexi-lab/nexus/pkg/digest"
	"github.com/nexi-lab/nexus/pkg/metadata"
)

// Service wires the Metadata Store's version/workspace/snapshot
// primitives into the restore/diff operations the File Service's RPC
// surface exposes.
type Service struct {
	meta *metadata.Store
	cas  *cas.Store
}

func New(meta *metadata.Store, c *cas.Store) *Service {
	return &Service{meta: meta, cas: c}
}

// RegisterWorkspace names a subtree for snapshotting (spec §4.6 "A
// workspace must be registered before snapshots").
func (s *Service) RegisterWorkspace(ctx context.Context, w metadata.Workspace) error {
	return s.meta.RegisterWorkspace(ctx, w)
}

// UnregisterWorkspace removes a workspace registration without touching
// any files (spec §3 "unregistering a workspace does not delete files").
func (s *Service) UnregisterWorkspace(ctx context.Context, tenantID, path string) error {
	return s.meta.UnregisterWorkspace(ctx, tenantID, path)
}

func (s *Service) GetWorkspace(ctx context.Context, tenantID, path string) (metadata.Workspace, error) {
	return s.meta.GetWorkspace(ctx, tenantID, path)
}

func (s *Service) ListWorkspaces(ctx context.Context, tenantID string) ([]metadata.Workspace, error) {
	return s.meta.ListWorkspaces(ctx, tenantID)
}

// ReapExpiredWorkspaces unregisters every workspace past its TTL, called
// periodically by cmd/nexusd's background sweep.
func (s *Service) ReapExpiredWorkspaces(ctx context.Context) (int, error) {
	expired, err := s.meta.ExpiredWorkspaces(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	for _, w := range expired {
		if err := s.meta.UnregisterWorkspace(ctx, w.TenantID, w.Path); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

// Snapshot captures the current version of every file under a workspace
// into a new immutable snapshot (spec §4.6 "snapshot(workspace)").
func (s *Service) Snapshot(ctx context.Context, tenantID, workspacePath, description string, tags []string) (metadata.Snapshot, error) {
	return s.meta.CreateSnapshot(ctx, tenantID, workspacePath, description, tags)
}

func (s *Service) ListSnapshots(ctx context.Context, tenantID, workspacePath string) ([]metadata.Snapshot, error) {
	return s.meta.ListSnapshots(ctx, tenantID, workspacePath)
}

func (s *Service) GetSnapshot(ctx context.Context, tenantID, workspacePath string, number int64) (metadata.Snapshot, error) {
	return s.meta.GetSnapshot(ctx, tenantID, workspacePath, number)
}

// RestoreResult reports what Restore did to each path.
type RestoreResult struct {
	Path       string
	NewVersion int64
	Unchanged  bool
}

// Restore brings every path captured by a snapshot back to its captured
// content, by appending a new version for each path whose current version
// is not the captured one — never rewriting history in place (spec §4.6 "new versions are
// created, not in-place overwrites").
func (s *Service) Restore(ctx context.Context, tenantID, workspacePath string, number int64, actor string) ([]RestoreResult, error) {
	entries, err := s.meta.SnapshotEntries(ctx, tenantID, workspacePath, number)
	if err != nil {
		return nil, err
	}

	out := make([]RestoreResult, 0, len(entries))
	for _, entry := range entries {
		captured, err := s.meta.GetVersion(ctx, tenantID, entry.Path, entry.Version)
		if err != nil {
			return nil, err
		}
		current, err := s.meta.GetFile(ctx, tenantID, entry.Path)
		if err == nil && current.CurrentVersion == entry.Version {
			out = append(out, RestoreResult{Path: entry.Path, NewVersion: current.CurrentVersion, Unchanged: true})
			continue
		}

		if _, err := s.cas.Stat(ctx, digest.Digest(captured.ContentDigest)); err != nil {
			return nil, err
		}

		res, err := s.meta.WriteFile(ctx, tenantID, entry.Path, captured.ContentDigest, captured.Size, metadata.WriteOpts{
			CreatedBy:   actor,
			Description: "restore from snapshot " + workspacePath,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, RestoreResult{Path: entry.Path, NewVersion: res.Version})
	}
	return out, nil
}

// DiffResult is the set-difference between two snapshots' path->version
// maps (spec §4.6 "diff(s1, s2) returns {added, modified, deleted}").
type DiffResult struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Diff compares two snapshots of the same workspace.
func (s *Service) Diff(ctx context.Context, tenantID, workspacePath string, s1, s2 int64) (DiffResult, error) {
	entries1, err := s.meta.SnapshotEntries(ctx, tenantID, workspacePath, s1)
	if err != nil {
		return DiffResult{}, err
	}
	entries2, err := s.meta.SnapshotEntries(ctx, tenantID, workspacePath, s2)
	if err != nil {
		return DiffResult{}, err
	}
	return diffEntryMaps(entryMap(entries1), entryMap(entries2)), nil
}

// DiffCurrent compares a snapshot against the workspace's live state,
// without capturing a new snapshot (spec S5: "workspace_diff(1, current)").
// It reuses CreateSnapshot's own "enumerate files under the workspace path"
// query shape, but only reads — nothing is persisted. A live file whose
// current version has the same content digest as its captured version
// counts as unchanged, so a workspace just restored from the snapshot
// diffs empty against it.
func (s *Service) DiffCurrent(ctx context.Context, tenantID, workspacePath string, snapshotNumber int64) (DiffResult, error) {
	entries, err := s.meta.SnapshotEntries(ctx, tenantID, workspacePath, snapshotNumber)
	if err != nil {
		return DiffResult{}, err
	}
	files, err := s.meta.ListDescendants(ctx, tenantID, workspacePath)
	if err != nil {
		return DiffResult{}, err
	}

	captured := entryMap(entries)
	current := make(map[string]int64, len(files))
	for _, f := range files {
		if f.IsDirectory {
			continue
		}
		current[f.Path] = f.CurrentVersion
		if v1, ok := captured[f.Path]; ok && v1 != f.CurrentVersion {
			old, err1 := s.meta.GetVersion(ctx, tenantID, f.Path, v1)
			live, err2 := s.meta.GetVersion(ctx, tenantID, f.Path, f.CurrentVersion)
			if err1 == nil && err2 == nil && old.ContentDigest == live.ContentDigest {
				current[f.Path] = v1
			}
		}
	}
	return diffEntryMaps(captured, current), nil
}

func entryMap(entries []metadata.SnapshotEntry) map[string]int64 {
	m := make(map[string]int64, len(entries))
	for _, e := range entries {
		m[e.Path] = e.Version
	}
	return m
}

func diffEntryMaps(m1, m2 map[string]int64) DiffResult {
	var diff DiffResult
	for path, v2 := range m2 {
		v1, existed := m1[path]
		if !existed {
			diff.Added = append(diff.Added, path)
		} else if v1 != v2 {
			diff.Modified = append(diff.Modified, path)
		}
	}
	for path := range m1 {
		if _, stillPresent := m2[path]; !stillPresent {
			diff.Deleted = append(diff.Deleted, path)
		}
	}
	return diff
}

// Rollback appends a new version of path pointing at an older version's
// content (spec §4.6 "rollback(p, v) appends a new version").
func (s *Service) Rollback(ctx context.Context, tenantID, path string, targetVersion int64, actor string) (metadata.WriteResult, error) {
	return s.meta.Rollback(ctx, tenantID, path, targetVersion, actor)
}

func (s *Service) GetVersion(ctx context.Context, tenantID, path string, version int64) (metadata.Version, error) {
	return s.meta.GetVersion(ctx, tenantID, path, version)
}

func (s *Service) ListVersions(ctx context.Context, tenantID, path string) ([]metadata.Version, error) {
	return s.meta.ListVersions(ctx, tenantID, path)
}

// VersionDiff is a line-level diff between two versions of one file
// (spec §6 "diff_versions"), distinct from Diff's set-difference between
// two workspace snapshots.
type VersionDiff struct {
	FromVersion int64
	ToVersion   int64
	Patch       string
	Binary      bool
}

// DiffVersions renders a unified-style diff between two versions of path's
// content. Content containing a NUL byte is reported as Binary rather than
// diffed byte-by-byte.
func (s *Service) DiffVersions(ctx context.Context, tenantID, path string, v1, v2 int64) (VersionDiff, error) {
	from, err := s.readVersion(ctx, tenantID, path, v1)
	if err != nil {
		return VersionDiff{}, err
	}
	to, err := s.readVersion(ctx, tenantID, path, v2)
	if err != nil {
		return VersionDiff{}, err
	}

	fromText, fromOK := asText(from)
	toText, toOK := asText(to)
	if !fromOK || !toOK {
		return VersionDiff{FromVersion: v1, ToVersion: v2, Binary: true}, nil
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(fromText, toText, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	patches := dmp.PatchMake(fromText, diffs)
	return VersionDiff{FromVersion: v1, ToVersion: v2, Patch: dmp.PatchToText(patches)}, nil
}

func (s *Service) readVersion(ctx context.Context, tenantID, path string, version int64) ([]byte, error) {
	v, err := s.meta.GetVersion(ctx, tenantID, path, version)
	if err != nil {
		return nil, err
	}
	r, err := s.cas.Get(ctx, digest.Digest(v.ContentDigest), 0, 0)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func asText(b []byte) (string, bool) {
	for _, c := range b {
		if c == 0 {
			return "", false
		}
	}
	return string(b), true
}
