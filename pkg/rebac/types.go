// Package rebac implements the permission engine (spec §4.5): a Zanzibar-
// style relationship-based access control graph walk over the tuples held
// in pkg/metadata, configured per object_type by a namespace of relation
// definitions (direct, union, intersection, exclusion, tuple-to-userset
// "arrow", and the built-in hierarchical "parent" relation for files).
package rebac

import "fmt"

// Subject identifies the principal on one side of a tuple or check.
type Subject struct {
	Type string
	ID   string
}

func (s Subject) String() string { return s.Type + ":" + s.ID }

// Object identifies the resource a permission is evaluated against.
type Object struct {
	Type string
	ID   string
}

func (o Object) String() string { return o.Type + ":" + o.ID }

// ConsistencyMode selects how fresh a check's view of the tuple store must
// be (spec §4.5 "Consistency tokens").
type ConsistencyMode int

const (
	// MinimizeLatency accepts any cached result (the default).
	MinimizeLatency ConsistencyMode = iota
	// AtLeastAsFresh requires the resolved revision to be >= Token.
	AtLeastAsFresh
	// FullyConsistent bypasses the subproblem cache and reads the store's
	// latest committed revision.
	FullyConsistent
)

// Consistency is the consistency token accompanying a check.
type Consistency struct {
	Mode  ConsistencyMode
	Token int64
}

// CheckRequest is the input to Engine.Check.
type CheckRequest struct {
	TenantID    string
	Subject     Subject
	Permission  string
	Object      Object
	Consistency Consistency
}

// CheckResult is the output of Engine.Check.
type CheckResult struct {
	Allowed       bool
	Reason        string
	ResolvedAt    int64
	Indeterminate bool
}

func cacheKey(tenantID string, s Subject, permission string, o Object, quantizedRev int64) string {
	return fmt.Sprintf("%s|%s|%s|%s|%d", tenantID, s, permission, o, quantizedRev)
}
