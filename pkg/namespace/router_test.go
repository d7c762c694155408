package namespace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nexi-lab/nexus/pkg/metadata"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*Router, *metadata.Store) {
	t.Helper()
	dir := t.TempDir()
	meta, err := metadata.Open(filepath.Join(dir, "metadata.db"), zerolog.New(os.Stderr))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	return New(meta), meta
}

func TestResolveDefaultMount(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	res, err := r.Resolve(ctx, "tenant1", "/docs/readme.txt")
	require.NoError(t, err)
	require.Equal(t, DefaultBackendID, res.BackendID)
	require.Equal(t, "/", res.MountPoint)
	require.Equal(t, "docs/readme.txt", res.RelativePath)
}

func TestResolveLongestPrefix(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, r.AddMount(ctx, metadata.Mount{TenantID: "t1", MountPoint: "/archive", BackendID: "s3-cold"}))
	require.NoError(t, r.AddMount(ctx, metadata.Mount{TenantID: "t1", MountPoint: "/archive/2024", BackendID: "s3-2024"}))

	res, err := r.Resolve(ctx, "t1", "/archive/2024/jan/report.pdf")
	require.NoError(t, err)
	require.Equal(t, "s3-2024", res.BackendID)
	require.Equal(t, "/archive/2024", res.MountPoint)
	require.Equal(t, "jan/report.pdf", res.RelativePath)

	res, err = r.Resolve(ctx, "t1", "/archive/2023/report.pdf")
	require.NoError(t, err)
	require.Equal(t, "s3-cold", res.BackendID)
	require.Equal(t, "2023/report.pdf", res.RelativePath)
}

func TestResolveRejectsComponentBoundaryFalseMatch(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, r.AddMount(ctx, metadata.Mount{TenantID: "t1", MountPoint: "/ws", BackendID: "ws-backend"}))

	res, err := r.Resolve(ctx, "t1", "/ws2/file.txt")
	require.NoError(t, err)
	require.Equal(t, DefaultBackendID, res.BackendID, "ws2 must not match the /ws mount")
}

func TestAddMountRejectsExactCollision(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, r.AddMount(ctx, metadata.Mount{TenantID: "t1", MountPoint: "/shared", BackendID: "b1"}))
	err := r.AddMount(ctx, metadata.Mount{TenantID: "t1", MountPoint: "/shared", BackendID: "b2"})
	require.Error(t, err)
}

func TestAddMountRejectsRootOverride(t *testing.T) {
	r, _ := newTestRouter(t)
	err := r.AddMount(context.Background(), metadata.Mount{TenantID: "t1", MountPoint: "/", BackendID: "b1"})
	require.Error(t, err)
}

func TestCacheInvalidatedOnRemoveMount(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, r.AddMount(ctx, metadata.Mount{TenantID: "t1", MountPoint: "/tmp", BackendID: "scratch"}))
	res, err := r.Resolve(ctx, "t1", "/tmp/a")
	require.NoError(t, err)
	require.Equal(t, "scratch", res.BackendID)

	require.NoError(t, r.RemoveMount(ctx, "t1", "/tmp"))
	res, err = r.Resolve(ctx, "t1", "/tmp/a")
	require.NoError(t, err)
	require.Equal(t, DefaultBackendID, res.BackendID)
}

func TestReadOnlyMountFlagSurfaced(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, r.AddMount(ctx, metadata.Mount{TenantID: "t1", MountPoint: "/ro", BackendID: "b1", ReadOnly: true}))
	res, err := r.Resolve(ctx, "t1", "/ro/x")
	require.NoError(t, err)
	require.True(t, res.ReadOnly)
}

func TestTenantIsolation(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, r.AddMount(ctx, metadata.Mount{TenantID: "t1", MountPoint: "/shared", BackendID: "b1"}))
	res, err := r.Resolve(ctx, "t2", "/shared/x")
	require.NoError(t, err)
	require.Equal(t, DefaultBackendID, res.BackendID, "t2 must not see t1's mounts")
}
