package metadata

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "metadata.db"), zerolog.New(os.Stderr))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteFileCreateThenUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.WriteFile(ctx, "t1", "/a.txt", "sha256:aaa", 3, WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Version)

	f, err := s.GetFile(ctx, "t1", "/a.txt")
	require.NoError(t, err)
	require.Equal(t, res.Etag, f.Etag)
	require.EqualValues(t, 3, f.Size)

	res2, err := s.WriteFile(ctx, "t1", "/a.txt", "sha256:bbb", 5, WriteOpts{IfMatch: res.Etag, CreatedBy: "alice"})
	require.NoError(t, err)
	require.EqualValues(t, 2, res2.Version)

	versions, err := s.ListVersions(ctx, "t1", "/a.txt")
	require.NoError(t, err)
	require.Len(t, versions, 2)
}

func TestWriteFileIfMatchConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.WriteFile(ctx, "t1", "/a.txt", "sha256:aaa", 3, WriteOpts{})
	require.NoError(t, err)

	_, err = s.WriteFile(ctx, "t1", "/a.txt", "sha256:ccc", 1, WriteOpts{IfMatch: "stale-etag"})
	require.Error(t, err)
	_, ok := err.(interface{ IsConflict() })
	require.True(t, ok)

	_, err = s.WriteFile(ctx, "t1", "/a.txt", "sha256:ddd", 1, WriteOpts{IfMatch: res.Etag})
	require.NoError(t, err)
}

func TestWriteFileIfNoneMatchAlreadyExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.WriteFile(ctx, "t1", "/a.txt", "sha256:aaa", 3, WriteOpts{IfNoneMatch: true})
	require.NoError(t, err)

	_, err = s.WriteFile(ctx, "t1", "/a.txt", "sha256:bbb", 3, WriteOpts{IfNoneMatch: true})
	require.Error(t, err)
	_, ok := err.(interface{ IsAlreadyExists() })
	require.True(t, ok)
}

func TestDeleteFileDecrefsBlob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutBlob(ctx, "sha256:aaa", 3, "local", "aa/sha256:aaa", false))
	_, err := s.WriteFile(ctx, "t1", "/a.txt", "sha256:aaa", 3, WriteOpts{})
	require.NoError(t, err)

	blob, err := s.GetBlob(ctx, "sha256:aaa")
	require.NoError(t, err)
	require.EqualValues(t, 1, blob.Refcount)

	require.NoError(t, s.DeleteFile(ctx, "t1", "/a.txt", "alice"))
	_, err = s.GetFile(ctx, "t1", "/a.txt")
	require.Error(t, err)

	blob, err = s.GetBlob(ctx, "sha256:aaa")
	require.NoError(t, err)
	require.EqualValues(t, 0, blob.Refcount)
}

func TestRenameFileMovesVersionChain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.WriteFile(ctx, "t1", "/a.txt", "sha256:aaa", 3, WriteOpts{})
	require.NoError(t, err)

	require.NoError(t, s.RenameFile(ctx, "t1", "/a.txt", "/b.txt", "alice"))

	_, err = s.GetFile(ctx, "t1", "/a.txt")
	require.Error(t, err)
	f, err := s.GetFile(ctx, "t1", "/b.txt")
	require.NoError(t, err)
	require.Equal(t, "/b.txt", f.Path)

	versions, err := s.ListVersions(ctx, "t1", "/b.txt")
	require.NoError(t, err)
	require.Len(t, versions, 1)
}

func TestMkdirAndRmdir(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	results, err := s.Mkdir(ctx, "t1", "/a/b/c", true, false)
	require.NoError(t, err)
	require.Len(t, results, 3)

	children, err := s.ListChildren(ctx, "t1", "/a/b")
	require.NoError(t, err)
	require.Len(t, children, 1)

	err = s.Rmdir(ctx, "t1", "/a", false)
	require.Error(t, err)
	_, ok := err.(interface{ IsDirNotEmpty() })
	require.True(t, ok)

	require.NoError(t, s.Rmdir(ctx, "t1", "/a", true))
	_, err = s.GetFile(ctx, "t1", "/a/b/c")
	require.Error(t, err)
}

func TestListDescendantsOrderedByPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, p := range []string{"/b.txt", "/a.txt", "/sub/c.txt"} {
		_, err := s.WriteFile(ctx, "t1", p, "sha256:x", 1, WriteOpts{})
		require.NoError(t, err)
	}

	files, err := s.ListDescendants(ctx, "t1", "/")
	require.NoError(t, err)
	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	require.Equal(t, []string{"/a.txt", "/b.txt", "/sub/c.txt"}, paths)
}

func TestRollbackAppendsNewVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.WriteFile(ctx, "t1", "/a.txt", "sha256:v1", 1, WriteOpts{})
	require.NoError(t, err)
	_, err = s.WriteFile(ctx, "t1", "/a.txt", "sha256:v2", 2, WriteOpts{})
	require.NoError(t, err)

	res, err := s.Rollback(ctx, "t1", "/a.txt", 1, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 3, res.Version)

	f, err := s.GetFile(ctx, "t1", "/a.txt")
	require.NoError(t, err)
	require.EqualValues(t, 1, f.Size)

	versions, err := s.ListVersions(ctx, "t1", "/a.txt")
	require.NoError(t, err)
	require.Len(t, versions, 3)
}

func TestEventsSinceCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.WriteFile(ctx, "t1", "/a.txt", "sha256:v1", 1, WriteOpts{})
	require.NoError(t, err)
	_, err = s.WriteFile(ctx, "t1", "/b.txt", "sha256:v2", 1, WriteOpts{})
	require.NoError(t, err)

	latest, err := s.LatestSeq(ctx, "t1")
	require.NoError(t, err)
	require.EqualValues(t, 2, latest)

	events, err := s.EventsSince(ctx, "t1", 1, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "/b.txt", events[0].Path)
}

func TestTupleWriteAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t1, err := s.WriteTuple(ctx, Tuple{
		TupleID: "tpl-1", TenantID: "t1", SubjectType: "user", SubjectID: "alice",
		Relation: "owner", ObjectType: "file", ObjectID: "/a.txt",
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, t1.Revision)

	tuples, err := s.TuplesForObject(ctx, "t1", "file", "/a.txt", "")
	require.NoError(t, err)
	require.Len(t, tuples, 1)

	require.NoError(t, s.RewriteTupleObject(ctx, "t1", "file", "/a.txt", "/b.txt"))
	tuples, err = s.TuplesForObject(ctx, "t1", "file", "/b.txt", "")
	require.NoError(t, err)
	require.Len(t, tuples, 1)

	require.NoError(t, s.DeleteTuple(ctx, "t1", "tpl-1"))
	tuples, err = s.TuplesForObject(ctx, "t1", "file", "/b.txt", "")
	require.NoError(t, err)
	require.Len(t, tuples, 0)
}

func TestWorkspaceSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterWorkspace(ctx, Workspace{TenantID: "t1", Path: "/ws", Name: "ws"}))

	_, err := s.WriteFile(ctx, "t1", "/ws/a.txt", "sha256:v1", 2, WriteOpts{})
	require.NoError(t, err)
	_, err = s.WriteFile(ctx, "t1", "/ws/sub/b.txt", "sha256:v2", 3, WriteOpts{})
	require.NoError(t, err)
	_, err = s.WriteFile(ctx, "t1", "/other.txt", "sha256:v3", 9, WriteOpts{})
	require.NoError(t, err)

	snap, err := s.CreateSnapshot(ctx, "t1", "/ws", "first", []string{"milestone"})
	require.NoError(t, err)
	require.EqualValues(t, 1, snap.SnapshotNumber)
	require.EqualValues(t, 2, snap.FileCount)
	require.EqualValues(t, 5, snap.TotalSize)

	entries, err := s.SnapshotEntries(ctx, "t1", "/ws", 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestAPIKeyLastAdminRule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutAPIKey(ctx, APIKey{KeyID: "k1", Hash: "h1", TenantID: "t1", SubjectType: "user", SubjectID: "alice", IsAdmin: true}))

	n, err := s.CountActiveAdminKeys(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, s.RevokeAPIKey(ctx, "k1"))
	n, err = s.CountActiveAdminKeys(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestMountLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddMount(ctx, Mount{TenantID: "t1", MountPoint: "/archive", BackendID: "s3"}))
	err := s.AddMount(ctx, Mount{TenantID: "t1", MountPoint: "/archive", BackendID: "s3"})
	require.Error(t, err)

	mounts, err := s.ListMounts(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, mounts, 1)

	require.NoError(t, s.RemoveMount(ctx, "t1", "/archive"))
	mounts, err = s.ListMounts(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, mounts, 0)
}
