package versioning

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"strings"

	"github.com/nexi-lab/nexus/pkg/blobstore"
	"github.com/nexi-lab/nexus/pkg/cas"
	"github.com/nexi-lab/nexus/pkg/digest"
	"github.com/nexi-lab/nexus/pkg/metadata"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *metadata.Store, *cas.Store) {
	t.Helper()
	dir := t.TempDir()
	meta, err := metadata.Open(filepath.Join(dir, "metadata.db"), zerolog.New(os.Stderr))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	backend, err := blobstore.NewLocal(filepath.Join(dir, "blobs"))
	require.NoError(t, err)
	store := cas.New(backend, meta, "local")

	return New(meta, store), meta, store
}

func putBlob(t *testing.T, ctx context.Context, store *cas.Store, content string) (digest.Digest, int64) {
	t.Helper()
	res, err := store.Put(ctx, strings.NewReader(content))
	require.NoError(t, err)
	return res.Digest, res.Size
}

func TestWorkspaceRegisterSnapshotRestore(t *testing.T) {
	svc, meta, casStore := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RegisterWorkspace(ctx, metadata.Workspace{
		TenantID: "t1", Path: "/ws", Name: "demo", CreatedBy: "alice",
	}))

	d1, size1 := putBlob(t, ctx, casStore, "hello v1")
	_, err := meta.WriteFile(ctx, "t1", "/ws/doc.txt", string(d1), size1, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)

	snap, err := svc.Snapshot(ctx, "t1", "/ws", "first cut", nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.SnapshotNumber)
	require.Equal(t, int64(1), snap.FileCount)

	d2, size2 := putBlob(t, ctx, casStore, "hello v2 — changed")
	_, err = meta.WriteFile(ctx, "t1", "/ws/doc.txt", string(d2), size2, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)

	current, err := meta.GetFile(ctx, "t1", "/ws/doc.txt")
	require.NoError(t, err)
	require.Equal(t, int64(2), current.CurrentVersion)

	results, err := svc.Restore(ctx, "t1", "/ws", snap.SnapshotNumber, "alice")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Unchanged)
	require.Equal(t, int64(3), results[0].NewVersion)

	restored, err := meta.GetFile(ctx, "t1", "/ws/doc.txt")
	require.NoError(t, err)
	require.Equal(t, int64(3), restored.CurrentVersion)

	restoredVersion, err := meta.GetVersion(ctx, "t1", "/ws/doc.txt", 3)
	require.NoError(t, err)
	require.Equal(t, string(d1), restoredVersion.ContentDigest)
}

func TestRestoreSkipsUnchangedPaths(t *testing.T) {
	svc, meta, casStore := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RegisterWorkspace(ctx, metadata.Workspace{TenantID: "t1", Path: "/ws", CreatedBy: "alice"}))

	d, size := putBlob(t, ctx, casStore, "stable content")
	_, err := meta.WriteFile(ctx, "t1", "/ws/a.txt", string(d), size, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)

	snap, err := svc.Snapshot(ctx, "t1", "/ws", "", nil)
	require.NoError(t, err)

	results, err := svc.Restore(ctx, "t1", "/ws", snap.SnapshotNumber, "alice")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Unchanged)
	require.Equal(t, int64(1), results[0].NewVersion)
}

func TestDiffAddedModifiedDeleted(t *testing.T) {
	svc, meta, casStore := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RegisterWorkspace(ctx, metadata.Workspace{TenantID: "t1", Path: "/ws", CreatedBy: "alice"}))

	dA, sizeA := putBlob(t, ctx, casStore, "a-v1")
	_, err := meta.WriteFile(ctx, "t1", "/ws/a.txt", string(dA), sizeA, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)
	dB, sizeB := putBlob(t, ctx, casStore, "b-v1")
	_, err = meta.WriteFile(ctx, "t1", "/ws/b.txt", string(dB), sizeB, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)

	snap1, err := svc.Snapshot(ctx, "t1", "/ws", "", nil)
	require.NoError(t, err)

	// modify a, delete b, add c
	dA2, sizeA2 := putBlob(t, ctx, casStore, "a-v2")
	_, err = meta.WriteFile(ctx, "t1", "/ws/a.txt", string(dA2), sizeA2, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)
	require.NoError(t, meta.DeleteFile(ctx, "t1", "/ws/b.txt", "alice"))
	dC, sizeC := putBlob(t, ctx, casStore, "c-v1")
	_, err = meta.WriteFile(ctx, "t1", "/ws/c.txt", string(dC), sizeC, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)

	snap2, err := svc.Snapshot(ctx, "t1", "/ws", "", nil)
	require.NoError(t, err)

	diff, err := svc.Diff(ctx, "t1", "/ws", snap1.SnapshotNumber, snap2.SnapshotNumber)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/ws/c.txt"}, diff.Added)
	require.ElementsMatch(t, []string{"/ws/a.txt"}, diff.Modified)
	require.ElementsMatch(t, []string{"/ws/b.txt"}, diff.Deleted)
}

func TestDiffCurrentMatchesScenarioS5(t *testing.T) {
	svc, meta, casStore := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RegisterWorkspace(ctx, metadata.Workspace{TenantID: "t1", Path: "/w", Name: "main", CreatedBy: "alice"}))

	dA, sizeA := putBlob(t, ctx, casStore, "a-v1")
	_, err := meta.WriteFile(ctx, "t1", "/w/a", string(dA), sizeA, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)
	dB, sizeB := putBlob(t, ctx, casStore, "b-v1")
	_, err = meta.WriteFile(ctx, "t1", "/w/b", string(dB), sizeB, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)

	snap, err := svc.Snapshot(ctx, "t1", "/w", "", nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.SnapshotNumber)
	require.Equal(t, int64(2), snap.FileCount)

	dA2, sizeA2 := putBlob(t, ctx, casStore, "a-v2")
	_, err = meta.WriteFile(ctx, "t1", "/w/a", string(dA2), sizeA2, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)
	require.NoError(t, meta.DeleteFile(ctx, "t1", "/w/b", "alice"))
	dC, sizeC := putBlob(t, ctx, casStore, "c-v1")
	_, err = meta.WriteFile(ctx, "t1", "/w/c", string(dC), sizeC, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)

	diff, err := svc.DiffCurrent(ctx, "t1", "/w", snap.SnapshotNumber)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/w/c"}, diff.Added)
	require.ElementsMatch(t, []string{"/w/a"}, diff.Modified)
	require.ElementsMatch(t, []string{"/w/b"}, diff.Deleted)

	_, err = svc.Restore(ctx, "t1", "/w", snap.SnapshotNumber, "alice")
	require.NoError(t, err)

	diffAfterRestore, err := svc.DiffCurrent(ctx, "t1", "/w", snap.SnapshotNumber)
	require.NoError(t, err)
	require.Empty(t, diffAfterRestore.Added)
	require.Empty(t, diffAfterRestore.Modified)
	require.Empty(t, diffAfterRestore.Deleted)
}

func TestRollbackAppendsNewVersion(t *testing.T) {
	svc, meta, casStore := newTestService(t)
	ctx := context.Background()

	d1, size1 := putBlob(t, ctx, casStore, "rev one")
	_, err := meta.WriteFile(ctx, "t1", "/doc.txt", string(d1), size1, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)
	d2, size2 := putBlob(t, ctx, casStore, "rev two")
	_, err = meta.WriteFile(ctx, "t1", "/doc.txt", string(d2), size2, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)

	res, err := svc.Rollback(ctx, "t1", "/doc.txt", 1, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(3), res.Version)

	v3, err := svc.GetVersion(ctx, "t1", "/doc.txt", 3)
	require.NoError(t, err)
	require.Equal(t, string(d1), v3.ContentDigest)

	versions, err := svc.ListVersions(ctx, "t1", "/doc.txt")
	require.NoError(t, err)
	require.Len(t, versions, 3)
}

func TestDiffVersionsRendersTextPatch(t *testing.T) {
	svc, meta, casStore := newTestService(t)
	ctx := context.Background()

	d1, size1 := putBlob(t, ctx, casStore, "line one\nline two\n")
	_, err := meta.WriteFile(ctx, "t1", "/doc.txt", string(d1), size1, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)
	d2, size2 := putBlob(t, ctx, casStore, "line one\nline TWO\n")
	_, err = meta.WriteFile(ctx, "t1", "/doc.txt", string(d2), size2, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)

	diff, err := svc.DiffVersions(ctx, "t1", "/doc.txt", 1, 2)
	require.NoError(t, err)
	require.False(t, diff.Binary)
	require.NotEmpty(t, diff.Patch)
	require.Equal(t, int64(1), diff.FromVersion)
	require.Equal(t, int64(2), diff.ToVersion)
}

func TestDiffVersionsReportsBinary(t *testing.T) {
	svc, meta, casStore := newTestService(t)
	ctx := context.Background()

	d1, size1 := putBlob(t, ctx, casStore, "plain text")
	_, err := meta.WriteFile(ctx, "t1", "/blob.bin", string(d1), size1, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)
	d2, size2 := putBlob(t, ctx, casStore, "\x00\x01binary")
	_, err = meta.WriteFile(ctx, "t1", "/blob.bin", string(d2), size2, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)

	diff, err := svc.DiffVersions(ctx, "t1", "/blob.bin", 1, 2)
	require.NoError(t, err)
	require.True(t, diff.Binary)
	require.Empty(t, diff.Patch)
}

func TestUnregisterWorkspaceLeavesFilesIntact(t *testing.T) {
	svc, meta, casStore := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RegisterWorkspace(ctx, metadata.Workspace{TenantID: "t1", Path: "/ws", CreatedBy: "alice"}))
	d, size := putBlob(t, ctx, casStore, "content")
	_, err := meta.WriteFile(ctx, "t1", "/ws/a.txt", string(d), size, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)

	require.NoError(t, svc.UnregisterWorkspace(ctx, "t1", "/ws"))

	f, err := meta.GetFile(ctx, "t1", "/ws/a.txt")
	require.NoError(t, err)
	require.Equal(t, int64(1), f.CurrentVersion)

	_, err = svc.GetWorkspace(ctx, "t1", "/ws")
	require.Error(t, err)
}
