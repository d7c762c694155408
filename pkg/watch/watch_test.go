package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nexi-lab/nexus/pkg/metadata"
)

func newTestStore(t *testing.T) *metadata.Store {
	t.Helper()
	dir := t.TempDir()
	meta, err := metadata.Open(filepath.Join(dir, "metadata.db"), zerolog.New(os.Stderr))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	return meta
}

func drainOne(t *testing.T, ch <-chan metadata.Event, timeout time.Duration) metadata.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed before an event arrived")
		return e
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
		return metadata.Event{}
	}
}

func TestSubscribeReplaysBacklogInSeqOrder(t *testing.T) {
	meta := newTestStore(t)
	svc := New(meta, nil, zerolog.New(os.Stderr))
	ctx := context.Background()

	_, err := meta.WriteFile(ctx, "t1", "/a", "digest-a", 1, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)
	_, err = meta.WriteFile(ctx, "t1", "/b", "digest-b", 1, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)

	sub, err := svc.Subscribe(ctx, Filter{TenantID: "t1"}, 0)
	require.NoError(t, err)
	defer sub.Close()

	first := drainOne(t, sub.Events(), time.Second)
	second := drainOne(t, sub.Events(), time.Second)
	require.Equal(t, "/a", first.Path)
	require.Equal(t, "/b", second.Path)
	require.Less(t, first.Seq, second.Seq)
}

func TestSubscribeFromCursorSkipsReplayedEvents(t *testing.T) {
	meta := newTestStore(t)
	svc := New(meta, nil, zerolog.New(os.Stderr))
	ctx := context.Background()

	_, err := meta.WriteFile(ctx, "t1", "/a", "digest-a", 1, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)

	cursor, err := svc.LatestCursor(ctx, "t1")
	require.NoError(t, err)

	_, err = meta.WriteFile(ctx, "t1", "/b", "digest-b", 1, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)

	sub, err := svc.Subscribe(ctx, Filter{TenantID: "t1"}, cursor)
	require.NoError(t, err)
	defer sub.Close()

	e := drainOne(t, sub.Events(), time.Second)
	require.Equal(t, "/b", e.Path)
}

func TestSubscribeFilterByEventType(t *testing.T) {
	meta := newTestStore(t)
	svc := New(meta, nil, zerolog.New(os.Stderr))
	ctx := context.Background()

	_, err := meta.WriteFile(ctx, "t1", "/a", "digest-a", 1, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)
	require.NoError(t, meta.DeleteFile(ctx, "t1", "/a", "alice"))

	sub, err := svc.Subscribe(ctx, Filter{TenantID: "t1", EventTypes: []metadata.EventKind{metadata.EventDeleted}}, 0)
	require.NoError(t, err)
	defer sub.Close()

	e := drainOne(t, sub.Events(), time.Second)
	require.Equal(t, metadata.EventDeleted, e.Kind)
	require.Equal(t, "/a", e.Path)
}

func TestSubscribeFilterByPathGlob(t *testing.T) {
	meta := newTestStore(t)
	svc := New(meta, nil, zerolog.New(os.Stderr))
	ctx := context.Background()

	_, err := meta.WriteFile(ctx, "t1", "/docs/a.txt", "digest-a", 1, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)
	_, err = meta.WriteFile(ctx, "t1", "/media/b.png", "digest-b", 1, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)

	sub, err := svc.Subscribe(ctx, Filter{TenantID: "t1", PathGlobs: []string{"/docs/*"}}, 0)
	require.NoError(t, err)
	defer sub.Close()

	e := drainOne(t, sub.Events(), time.Second)
	require.Equal(t, "/docs/a.txt", e.Path)
}

func TestSubscribeIsolatesTenants(t *testing.T) {
	meta := newTestStore(t)
	svc := New(meta, nil, zerolog.New(os.Stderr))
	ctx := context.Background()

	_, err := meta.WriteFile(ctx, "t1", "/a", "digest-a", 1, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)
	_, err = meta.WriteFile(ctx, "t2", "/a", "digest-a", 1, metadata.WriteOpts{CreatedBy: "bob"})
	require.NoError(t, err)

	sub, err := svc.Subscribe(ctx, Filter{TenantID: "t2"}, 0)
	require.NoError(t, err)
	defer sub.Close()

	e := drainOne(t, sub.Events(), time.Second)
	require.Equal(t, "t2", e.TenantID)
}

func TestSubscribePicksUpWriteAfterSubscribeViaPoll(t *testing.T) {
	meta := newTestStore(t)
	svc := New(meta, nil, zerolog.New(os.Stderr))
	svc.pollIntervalOverride(20 * time.Millisecond)
	ctx := context.Background()

	sub, err := svc.Subscribe(ctx, Filter{TenantID: "t1"}, 0)
	require.NoError(t, err)
	defer sub.Close()

	_, err = meta.WriteFile(ctx, "t1", "/late", "digest-a", 1, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)

	e := drainOne(t, sub.Events(), 2*time.Second)
	require.Equal(t, "/late", e.Path)
}

func TestSubscriberLimitRejectsPastCap(t *testing.T) {
	meta := newTestStore(t)
	svc := New(meta, nil, zerolog.New(os.Stderr))
	svc.maxSubscribersOverride(1)
	ctx := context.Background()

	sub, err := svc.Subscribe(ctx, Filter{TenantID: "t1"}, 0)
	require.NoError(t, err)
	defer sub.Close()

	_, err = svc.Subscribe(ctx, Filter{TenantID: "t1"}, 0)
	require.Error(t, err)
}

func TestReapPrunesEventsOlderThanRetention(t *testing.T) {
	meta := newTestStore(t)
	svc := New(meta, nil, zerolog.New(os.Stderr))
	ctx := context.Background()

	_, err := meta.WriteFile(ctx, "t1", "/a", "digest-a", 1, metadata.WriteOpts{CreatedBy: "alice"})
	require.NoError(t, err)

	svc.retention = -time.Hour // force everything recorded so far to count as expired
	n, err := svc.Reap(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	latest, err := meta.LatestSeq(ctx, "t1")
	require.NoError(t, err)
	events, err := meta.EventsSince(ctx, "t1", 0, 10)
	require.NoError(t, err)
	require.Empty(t, events)
	require.NotZero(t, latest) // pruning events doesn't rewind the seq counter
}
