package fileservice

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nexi-lab/nexus/pkg/blobstore"
	"github.com/nexi-lab/nexus/pkg/cas"
	"github.com/nexi-lab/nexus/pkg/errtypes"
	"github.com/nexi-lab/nexus/pkg/metadata"
	"github.com/nexi-lab/nexus/pkg/namespace"
	"github.com/nexi-lab/nexus/pkg/rebac"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const tenant = "t1"

var alice = rebac.Subject{Type: "user", ID: "alice"}

func newTestService(t *testing.T) (*Service, *metadata.Store, *rebac.Engine) {
	t.Helper()
	dir := t.TempDir()
	meta, err := metadata.Open(filepath.Join(dir, "metadata.db"), zerolog.New(os.Stderr))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	backend, err := blobstore.NewLocal(filepath.Join(dir, "blobs"))
	require.NoError(t, err)
	casStore := cas.New(backend, meta, "local")

	engine, err := rebac.New(meta)
	require.NoError(t, err)
	require.NoError(t, engine.PutNamespace(context.Background(), rebac.ObjectTypeConfig{
		ObjectType: "file",
		Relations: map[string]rebac.RelationDef{
			"read":   {Kind: rebac.KindDirect},
			"write":  {Kind: rebac.KindDirect},
			"create": {Kind: rebac.KindDirect},
			"delete": {Kind: rebac.KindDirect},
		},
	}))

	router := namespace.New(meta)
	svc := New(meta, casStore, engine, router)
	return svc, meta, engine
}

// grantOwner grants subj every permission the file namespace config
// defines on path — the test double for an "owner" bundle, since the
// test config keeps read/write/create/delete as independent direct
// relations rather than a union composed from one.
func grantOwner(t *testing.T, ctx context.Context, engine *rebac.Engine, subj rebac.Subject, path string) {
	t.Helper()
	for _, relation := range []string{"read", "write", "create", "delete"} {
		_, err := engine.CreateTuple(ctx, metadata.Tuple{
			TupleID: path + "#" + relation + "#" + subj.ID, TenantID: tenant,
			SubjectType: subj.Type, SubjectID: subj.ID,
			Relation: relation, ObjectType: "file", ObjectID: path,
		})
		require.NoError(t, err)
	}
}

func TestWriteThenRead(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()
	grantOwner(t, ctx, engine, alice, "/")
	grantOwner(t, ctx, engine, alice, "/doc.txt")

	res, err := svc.Write(ctx, tenant, alice, "/doc.txt", []byte("hello world"), WriteOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Version)

	read, err := svc.Read(ctx, tenant, alice, "/doc.txt", true)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(read.Content))
	require.NotNil(t, read.Metadata)
	require.Equal(t, int64(1), read.Metadata.CurrentVersion)
}

func TestReadDeniedWithoutPermission(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()
	grantOwner(t, ctx, engine, alice, "/")
	grantOwner(t, ctx, engine, alice, "/doc.txt")
	_, err := svc.Write(ctx, tenant, alice, "/doc.txt", []byte("secret"), WriteOptions{})
	require.NoError(t, err)

	_, err = svc.Read(ctx, tenant, rebac.Subject{Type: "user", ID: "mallory"}, "/doc.txt", false)
	require.Error(t, err)
	_, ok := err.(errtypes.IsPermissionDenied)
	require.True(t, ok)
}

func TestWriteIfNoneMatchRejectsExisting(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()
	grantOwner(t, ctx, engine, alice, "/")
	grantOwner(t, ctx, engine, alice, "/doc.txt")

	_, err := svc.Write(ctx, tenant, alice, "/doc.txt", []byte("v1"), WriteOptions{})
	require.NoError(t, err)

	_, err = svc.Write(ctx, tenant, alice, "/doc.txt", []byte("v2"), WriteOptions{IfNoneMatch: true})
	require.Error(t, err)
	_, ok := err.(errtypes.IsAlreadyExists)
	require.True(t, ok)
}

func TestWriteForceRetriesPastConflict(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()
	grantOwner(t, ctx, engine, alice, "/")
	grantOwner(t, ctx, engine, alice, "/doc.txt")

	_, err := svc.Write(ctx, tenant, alice, "/doc.txt", []byte("v1"), WriteOptions{})
	require.NoError(t, err)

	res, err := svc.Write(ctx, tenant, alice, "/doc.txt", []byte("v2-force"), WriteOptions{IfMatch: "stale-etag", Force: true})
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Version)
}

func TestRenameTransfersTuplesAndVersionChain(t *testing.T) {
	svc, meta, engine := newTestService(t)
	ctx := context.Background()
	grantOwner(t, ctx, engine, alice, "/old.txt")
	grantOwner(t, ctx, engine, alice, "/")

	_, err := svc.Write(ctx, tenant, alice, "/old.txt", []byte("content"), WriteOptions{})
	require.NoError(t, err)

	require.NoError(t, svc.Rename(ctx, tenant, alice, "/old.txt", "/new.txt"))

	_, err = meta.GetFile(ctx, tenant, "/old.txt")
	require.Error(t, err)
	f, err := meta.GetFile(ctx, tenant, "/new.txt")
	require.NoError(t, err)
	require.Equal(t, int64(1), f.CurrentVersion)

	// alice still owns /new.txt via the rewritten tuple, and a write there
	// (permission check passes) proves the tuple moved with the file.
	_, err = svc.Write(ctx, tenant, alice, "/new.txt", []byte("content v2"), WriteOptions{})
	require.NoError(t, err)
}

func TestMkdirRmdirAndList(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()
	grantOwner(t, ctx, engine, alice, "/")

	_, err := svc.Mkdir(ctx, tenant, alice, "/ws", false, false)
	require.NoError(t, err)
	grantOwner(t, ctx, engine, alice, "/ws")

	_, err = svc.Write(ctx, tenant, alice, "/ws/a.txt", []byte("a"), WriteOptions{})
	require.NoError(t, err)
	_, err = svc.Write(ctx, tenant, alice, "/ws/b.txt", []byte("b"), WriteOptions{})
	require.NoError(t, err)
	grantOwner(t, ctx, engine, alice, "/ws/a.txt")
	grantOwner(t, ctx, engine, alice, "/ws/b.txt")

	entries, err := svc.List(ctx, tenant, alice, "/ws", false, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "/ws/a.txt", entries[0].Path)
	require.Equal(t, "/ws/b.txt", entries[1].Path)

	err = svc.Rmdir(ctx, tenant, alice, "/ws", false)
	require.Error(t, err)
	_, ok := err.(errtypes.IsDirNotEmpty)
	require.True(t, ok)

	err = svc.Rmdir(ctx, tenant, alice, "/ws", true)
	require.NoError(t, err)
}

func TestGlobMatchesShellStyle(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()
	grantOwner(t, ctx, engine, alice, "/")
	_, err := svc.Mkdir(ctx, tenant, alice, "/ws", false, false)
	require.NoError(t, err)
	grantOwner(t, ctx, engine, alice, "/ws")

	_, err = svc.Write(ctx, tenant, alice, "/ws/report.txt", []byte("x"), WriteOptions{})
	require.NoError(t, err)
	_, err = svc.Write(ctx, tenant, alice, "/ws/report.csv", []byte("x"), WriteOptions{})
	require.NoError(t, err)
	grantOwner(t, ctx, engine, alice, "/ws/report.txt")
	grantOwner(t, ctx, engine, alice, "/ws/report.csv")

	matches, err := svc.Glob(ctx, tenant, alice, "/ws/*.txt", "/ws")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "/ws/report.txt", matches[0].Path)
}

func TestGrepFindsLineAndSkipsBinary(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()
	grantOwner(t, ctx, engine, alice, "/")
	_, err := svc.Mkdir(ctx, tenant, alice, "/ws", false, false)
	require.NoError(t, err)
	grantOwner(t, ctx, engine, alice, "/ws")

	_, err = svc.Write(ctx, tenant, alice, "/ws/notes.txt", []byte("line one\nTODO: fix this\nline three"), WriteOptions{})
	require.NoError(t, err)
	_, err = svc.Write(ctx, tenant, alice, "/ws/blob.bin", []byte{0, 1, 2, 'T', 'O', 'D', 'O'}, WriteOptions{})
	require.NoError(t, err)
	grantOwner(t, ctx, engine, alice, "/ws/notes.txt")
	grantOwner(t, ctx, engine, alice, "/ws/blob.bin")

	hits, err := svc.Grep(ctx, tenant, alice, "TODO.*", "/ws", "", false, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "/ws/notes.txt", hits[0].Path)
	require.Equal(t, 2, hits[0].Line)
}

func TestExistsAndGetMetadata(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()
	grantOwner(t, ctx, engine, alice, "/")
	grantOwner(t, ctx, engine, alice, "/doc.txt")

	exists, err := svc.Exists(ctx, tenant, alice, "/doc.txt")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = svc.Write(ctx, tenant, alice, "/doc.txt", []byte("hi"), WriteOptions{})
	require.NoError(t, err)

	exists, err = svc.Exists(ctx, tenant, alice, "/doc.txt")
	require.NoError(t, err)
	require.True(t, exists)

	meta, err := svc.GetMetadata(ctx, tenant, alice, "/doc.txt")
	require.NoError(t, err)
	require.Equal(t, int64(2), meta.Size)
}
