package rebac

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nexi-lab/nexus/pkg/metadata"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *metadata.Store) {
	t.Helper()
	dir := t.TempDir()
	meta, err := metadata.Open(filepath.Join(dir, "metadata.db"), zerolog.New(os.Stderr))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	e, err := New(meta)
	require.NoError(t, err)
	return e, meta
}

func TestDirectTupleGrantsCheck(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateTuple(ctx, metadata.Tuple{
		TupleID: "t1", TenantID: "tenant1", SubjectType: "user", SubjectID: "alice",
		Relation: "read", ObjectType: "file", ObjectID: "/doc.txt",
	})
	require.NoError(t, err)

	res, err := e.Check(ctx, CheckRequest{
		TenantID: "tenant1", Subject: Subject{"user", "alice"}, Permission: "read",
		Object: Object{"file", "/doc.txt"},
	})
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = e.Check(ctx, CheckRequest{
		TenantID: "tenant1", Subject: Subject{"user", "bob"}, Permission: "read",
		Object: Object{"file", "/doc.txt"},
	})
	require.NoError(t, err)
	require.False(t, res.Allowed)
}

// TestInheritedPermissionViaParent is spec scenario S3: write = direct_editor
// ∪ parent->write; a grant on /ws is inherited by /ws/sub/doc.txt.
func TestInheritedPermissionViaParent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.PutNamespace(ctx, ObjectTypeConfig{
		ObjectType: "file",
		Relations: map[string]RelationDef{
			"direct_editor": {Kind: KindDirect},
			"write": {
				Kind:     KindUnion,
				Children: []string{"direct_editor", "parent_write"},
			},
			"parent_write": {Kind: KindArrow, Via: ParentRelation, Then: "write"},
		},
	}))

	_, err := e.CreateTuple(ctx, metadata.Tuple{
		TupleID: "t1", TenantID: "t1", SubjectType: "user", SubjectID: "alice",
		Relation: "direct_editor", ObjectType: "file", ObjectID: "/ws",
	})
	require.NoError(t, err)
	_, err = e.CreateTuple(ctx, metadata.Tuple{
		TupleID: "t2", TenantID: "t1", SubjectType: "file", SubjectID: "/ws",
		Relation: ParentRelation, ObjectType: "file", ObjectID: "/ws/sub/doc.txt",
	})
	require.NoError(t, err)

	res, err := e.Check(ctx, CheckRequest{
		TenantID: "t1", Subject: Subject{"user", "alice"}, Permission: "write",
		Object: Object{"file", "/ws/sub/doc.txt"},
	})
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

// TestGroupIntersection is spec scenario S4: view = reader ∩ tenant->member.
func TestGroupIntersection(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.PutNamespace(ctx, ObjectTypeConfig{
		ObjectType: "file",
		Relations: map[string]RelationDef{
			"reader": {Kind: KindDirect},
			"view": {
				Kind:     KindIntersection,
				Children: []string{"reader", "tenant_member"},
			},
			"tenant_member": {Kind: KindArrow, Via: "tenant", Then: "member"},
		},
	}))
	require.NoError(t, e.PutNamespace(ctx, ObjectTypeConfig{
		ObjectType: "tenant",
		Relations: map[string]RelationDef{
			"member": {Kind: KindDirect},
		},
	}))

	_, err := e.CreateTuple(ctx, metadata.Tuple{
		TupleID: "t1", TenantID: "t1", SubjectType: "user", SubjectID: "bob",
		Relation: "reader", ObjectType: "file", ObjectID: "/doc",
	})
	require.NoError(t, err)
	memberTuple, err := e.CreateTuple(ctx, metadata.Tuple{
		TupleID: "t2", TenantID: "t1", SubjectType: "user", SubjectID: "bob",
		Relation: "member", ObjectType: "tenant", ObjectID: "T",
	})
	require.NoError(t, err)
	_, err = e.CreateTuple(ctx, metadata.Tuple{
		TupleID: "t3", TenantID: "t1", SubjectType: "tenant", SubjectID: "T",
		Relation: "tenant", ObjectType: "file", ObjectID: "/doc",
	})
	require.NoError(t, err)

	res, err := e.Check(ctx, CheckRequest{
		TenantID: "t1", Subject: Subject{"user", "bob"}, Permission: "view",
		Object: Object{"file", "/doc"},
	})
	require.NoError(t, err)
	require.True(t, res.Allowed)

	require.NoError(t, e.DeleteTuple(ctx, "t1", memberTuple.TupleID))
	res, err = e.Check(ctx, CheckRequest{
		TenantID: "t1", Subject: Subject{"user", "bob"}, Permission: "view",
		Object: Object{"file", "/doc"}, Consistency: Consistency{Mode: FullyConsistent},
	})
	require.NoError(t, err)
	require.False(t, res.Allowed)
}

func TestExclusion(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.PutNamespace(ctx, ObjectTypeConfig{
		ObjectType: "file",
		Relations: map[string]RelationDef{
			"editor": {Kind: KindDirect},
			"banned": {Kind: KindDirect},
			"write":  {Kind: KindExclusion, Base: "editor", Subtract: "banned"},
		},
	}))

	_, err := e.CreateTuple(ctx, metadata.Tuple{
		TupleID: "t1", TenantID: "t1", SubjectType: "user", SubjectID: "carol",
		Relation: "editor", ObjectType: "file", ObjectID: "/x",
	})
	require.NoError(t, err)

	res, err := e.Check(ctx, CheckRequest{
		TenantID: "t1", Subject: Subject{"user", "carol"}, Permission: "write",
		Object: Object{"file", "/x"}, Consistency: Consistency{Mode: FullyConsistent},
	})
	require.NoError(t, err)
	require.True(t, res.Allowed)

	_, err = e.CreateTuple(ctx, metadata.Tuple{
		TupleID: "t2", TenantID: "t1", SubjectType: "user", SubjectID: "carol",
		Relation: "banned", ObjectType: "file", ObjectID: "/x",
	})
	require.NoError(t, err)

	res, err = e.Check(ctx, CheckRequest{
		TenantID: "t1", Subject: Subject{"user", "carol"}, Permission: "write",
		Object: Object{"file", "/x"}, Consistency: Consistency{Mode: FullyConsistent},
	})
	require.NoError(t, err)
	require.False(t, res.Allowed)
}

// TestCycleTerminates is invariant 8: a cycle in the tuple graph (A member
// of B, B member of A) must terminate within budget with a well-defined
// answer, never hang or error.
func TestCycleTerminates(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.PutNamespace(ctx, ObjectTypeConfig{
		ObjectType: "group",
		Relations: map[string]RelationDef{
			"member": {Kind: KindDirect},
		},
	}))

	_, err := e.CreateTuple(ctx, metadata.Tuple{
		TupleID: "t1", TenantID: "t1", SubjectType: "group", SubjectID: "B#member",
		Relation: "member", ObjectType: "group", ObjectID: "A",
	})
	require.NoError(t, err)
	_, err = e.CreateTuple(ctx, metadata.Tuple{
		TupleID: "t2", TenantID: "t1", SubjectType: "group", SubjectID: "A#member",
		Relation: "member", ObjectType: "group", ObjectID: "B",
	})
	require.NoError(t, err)

	res, err := e.Check(ctx, CheckRequest{
		TenantID: "t1", Subject: Subject{"user", "nobody"}, Permission: "member",
		Object: Object{"group", "A"}, Consistency: Consistency{Mode: FullyConsistent},
	})
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.False(t, res.Indeterminate)
}

// TestConsistencyTokenSeesOwnWrite is invariant 7: a check with
// at_least_as_fresh(r) observes a write that returned revision r.
func TestConsistencyTokenSeesOwnWrite(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	written, err := e.CreateTuple(ctx, metadata.Tuple{
		TupleID: "t1", TenantID: "t1", SubjectType: "user", SubjectID: "dave",
		Relation: "read", ObjectType: "file", ObjectID: "/y",
	})
	require.NoError(t, err)
	require.Greater(t, written.Revision, int64(0))

	res, err := e.Check(ctx, CheckRequest{
		TenantID: "t1", Subject: Subject{"user", "dave"}, Permission: "read",
		Object:      Object{"file", "/y"},
		Consistency: Consistency{Mode: AtLeastAsFresh, Token: written.Revision},
	})
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestBulkCheckDedupesSubproblems(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateTuple(ctx, metadata.Tuple{
		TupleID: "t1", TenantID: "t1", SubjectType: "user", SubjectID: "erin",
		Relation: "read", ObjectType: "file", ObjectID: "/z",
	})
	require.NoError(t, err)

	items := []BulkCheckItem{
		{Subject: Subject{"user", "erin"}, Permission: "read", Object: Object{"file", "/z"}},
		{Subject: Subject{"user", "erin"}, Permission: "read", Object: Object{"file", "/z"}},
		{Subject: Subject{"user", "frank"}, Permission: "read", Object: Object{"file", "/z"}},
	}
	results, err := e.BulkCheck(ctx, "t1", items, Consistency{Mode: FullyConsistent})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.True(t, results[0].Result.Allowed)
	require.True(t, results[1].Result.Allowed)
	require.False(t, results[2].Result.Allowed)
}

func TestExplainReturnsAcceptingPath(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateTuple(ctx, metadata.Tuple{
		TupleID: "t1", TenantID: "t1", SubjectType: "user", SubjectID: "gina",
		Relation: "read", ObjectType: "file", ObjectID: "/w",
	})
	require.NoError(t, err)

	path, ok, err := e.Explain(ctx, "t1", Subject{"user", "gina"}, "read", Object{"file", "/w"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, path, 1)
	require.Equal(t, "t1", path[0].Tuple.TupleID)
}

func TestLookupSubjectsReturnsDirectGrants(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateTuple(ctx, metadata.Tuple{
		TupleID: "t1", TenantID: "t1", SubjectType: "user", SubjectID: "henry",
		Relation: "read", ObjectType: "file", ObjectID: "/v",
	})
	require.NoError(t, err)

	subs, err := e.LookupSubjects(ctx, "t1", "read", Object{"file", "/v"})
	require.NoError(t, err)
	require.Contains(t, subs, Subject{"user", "henry"})
}
