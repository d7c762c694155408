package blobstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalPutGetDelete(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.Put(ctx, "ab/abcdef", strings.NewReader("hello"), 5))

	exists, err := l.Exists(ctx, "ab/abcdef")
	require.NoError(t, err)
	require.True(t, exists)

	size, err := l.Stat(ctx, "ab/abcdef")
	require.NoError(t, err)
	require.EqualValues(t, 5, size)

	r, err := l.Get(ctx, "ab/abcdef", 0, -1)
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "hello", string(b))

	require.NoError(t, l.Delete(ctx, "ab/abcdef"))
	exists, err = l.Exists(ctx, "ab/abcdef")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestLocalGetRange(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, l.Put(ctx, "cd/cdef01", strings.NewReader("0123456789"), 10))

	r, err := l.Get(ctx, "cd/cdef01", 2, 3)
	require.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "234", string(b))
}

func TestLocalNotFound(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = l.Get(ctx, "zz/missing", 0, -1)
	require.Error(t, err)

	err = l.Delete(ctx, "zz/missing")
	require.Error(t, err)
}

func TestLocalPutIfAbsent(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	wrote, err := l.PutIfAbsent(ctx, "ef/ef0123", strings.NewReader("data"), 4)
	require.NoError(t, err)
	require.True(t, wrote)

	wrote, err = l.PutIfAbsent(ctx, "ef/ef0123", strings.NewReader("data2"), 5)
	require.NoError(t, err)
	require.False(t, wrote, "second write of the same key must be a no-op")
}
