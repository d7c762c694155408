package rebac

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nexi-lab/nexus/pkg/errtypes"
	"github.com/nexi-lab/nexus/pkg/metadata"
	"github.com/nexi-lab/nexus/pkg/nspath"
)

// Engine is the permission engine (spec §4.5): a namespace-configured
// graph walk over tuples held in pkg/metadata, with multi-level caching
// and tenant isolation.
type Engine struct {
	meta *metadata.Store
	ns   *namespaces
	c    *caches

	// flight deduplicates concurrent identical checks, sharing one
	// computation via a pending-future table (spec §4.5 "In-flight
	// deduplication").
	flight singleflight.Group

	allowlistMu     sync.RWMutex
	tenantAllowlist map[string]map[string]struct{} // relation -> set of "tenantA|tenantB" pairs
}

// New constructs an Engine over meta. Call Warm once at startup to load
// registered namespace configs into memory.
func New(meta *metadata.Store) (*Engine, error) {
	c, err := newCaches()
	if err != nil {
		return nil, err
	}
	return &Engine{
		meta:            meta,
		ns:              newNamespaces(meta),
		c:               c,
		tenantAllowlist: make(map[string]map[string]struct{}),
	}, nil
}

// Warm loads every registered namespace config into the in-memory cache.
func (e *Engine) Warm(ctx context.Context) error {
	return e.ns.Warm(ctx)
}

// PutNamespace registers or replaces an object type's relation config.
func (e *Engine) PutNamespace(ctx context.Context, cfg ObjectTypeConfig) error {
	return e.ns.Put(ctx, cfg)
}

// GetNamespace returns an object type's relation config.
func (e *Engine) GetNamespace(ctx context.Context, objectType string) (ObjectTypeConfig, error) {
	return e.ns.Get(ctx, objectType)
}

// ListNamespaces returns every registered object type's config.
func (e *Engine) ListNamespaces(ctx context.Context) ([]ObjectTypeConfig, error) {
	return e.ns.List(ctx)
}

// DeleteNamespace removes an object type's relation config.
func (e *Engine) DeleteNamespace(ctx context.Context, objectType string) error {
	return e.ns.Delete(ctx, objectType)
}

// CreateTuple writes a new ReBAC relationship assertion and invalidates the
// caches it affects.
func (e *Engine) CreateTuple(ctx context.Context, t metadata.Tuple) (metadata.Tuple, error) {
	written, err := e.meta.WriteTuple(ctx, t)
	if err != nil {
		return metadata.Tuple{}, err
	}
	e.invalidate(written)
	return written, nil
}

// DeleteTuple removes a tuple and invalidates the caches it affects.
func (e *Engine) DeleteTuple(ctx context.Context, tenantID, tupleID string) error {
	if err := e.meta.DeleteTuple(ctx, tenantID, tupleID); err != nil {
		return err
	}
	// The subproblem cache self-heals via quantization; the group-closure
	// and hot-object layers have no single key to target without knowing
	// the deleted tuple's object/subject, so a conservative full
	// invalidation of both is cheaper than plumbing the deleted row back
	// out of DeleteTuple. Tuple deletes are rare relative to checks.
	e.c.groupClosure.Purge()
	_ = e.c.hotObjects.Purge()
	return nil
}

// ListTuples returns tuples asserted directly on an object, optionally
// filtered by relation.
func (e *Engine) ListTuples(ctx context.Context, tenantID, objectType, objectID, relation string) ([]metadata.Tuple, error) {
	return e.meta.TuplesForObject(ctx, tenantID, objectType, objectID, relation)
}

func (e *Engine) invalidate(t metadata.Tuple) {
	e.c.invalidateObjectFrontier(t.ObjectType + ":" + t.ObjectID)
	e.c.invalidateGroupClosure(t.TenantID + "|" + t.SubjectType + ":" + t.SubjectID)
}

// Check evaluates whether subject holds permission on object (spec §4.5
// "Input to check").
func (e *Engine) Check(ctx context.Context, req CheckRequest) (CheckResult, error) {
	rev, err := e.meta.CurrentRevision(ctx, req.TenantID)
	if err != nil {
		return CheckResult{}, err
	}
	if req.Consistency.Mode == AtLeastAsFresh && rev < req.Consistency.Token {
		// our local view is stale relative to the requested floor; the
		// caller's write may not be visible yet. A SQLite-backed single
		// writer means this only occurs across replicas, which this
		// deployment does not have, but the check is kept for correctness.
		rev = req.Consistency.Token
	}

	quantized := quantizedNow()
	key := ""
	if req.Consistency.Mode != FullyConsistent {
		key = cacheKey(req.TenantID, req.Subject, req.Permission, req.Object, quantized)
		if allowed, ok := e.c.getSubproblem(key); ok {
			return CheckResult{Allowed: allowed, ResolvedAt: rev, Reason: "subproblem_cache"}, nil
		}
		hotKey := hotObjectKey(req.Permission, req.Object)
		if subjects, ok := e.c.getHotObjectSet(hotKey); ok {
			if _, ok := subjects[req.Subject.String()]; ok {
				return CheckResult{Allowed: true, ResolvedAt: rev, Reason: "hot_object_cache"}, nil
			}
		}
	}

	flightKey := cacheKey(req.TenantID, req.Subject, req.Permission, req.Object, rev)
	v, err, _ := e.flight.Do(flightKey, func() (interface{}, error) {
		ws := newWalkState(ctx)
		defer ws.done()
		allowed, walkErr := e.evalPermission(ws, 0, req.TenantID, req.Subject, req.Permission, req.Object)
		return allowed, walkErr
	})

	if err == errIndeterminate {
		return CheckResult{Allowed: false, Indeterminate: true, ResolvedAt: rev, Reason: "budget_exceeded"}, nil
	}
	if err != nil {
		return CheckResult{}, err
	}
	allowed := v.(bool)

	if key != "" {
		e.c.setSubproblem(key, allowed)
		if allowed {
			e.rememberHotObject(req.Permission, req.Object, req.Subject)
		}
	}
	return CheckResult{Allowed: allowed, ResolvedAt: rev}, nil
}

// hotObjectKey identifies the precomputed authorized-subject set for one
// (permission, object) pair (spec §4.5 cache layer 4, "hot objects").
func hotObjectKey(permission string, obj Object) string {
	return permission + "|" + obj.String()
}

// rememberHotObject opportunistically grows the hot-object set for
// (permission, object) with subj, once a full check has already resolved it
// to allow. A miss against this set never denies by itself — it only ever
// short-circuits a later Check straight to "allow" — so the set can lag an
// authorization change without ever producing a false deny; the
// subproblem/tuple-write invalidation paths bound how far it can lag.
func (e *Engine) rememberHotObject(permission string, obj Object, subj Subject) {
	key := hotObjectKey(permission, obj)
	old, _ := e.c.getHotObjectSet(key)
	subjects := make(map[string]struct{}, len(old)+1)
	for s := range old {
		subjects[s] = struct{}{}
	}
	subjects[subj.String()] = struct{}{}
	e.c.setHotObjectSet(key, subjects)
}

// evalPermission is the recursive graph walk (spec §4.5 "Graph walk").
func (e *Engine) evalPermission(ws *walkState, depth int, tenantID string, subj Subject, permission string, obj Object) (bool, error) {
	first, err := ws.enter(depth, subj, permission, obj)
	if err != nil {
		return false, err
	}
	if !first {
		return false, nil // cycle: already on the stack, contributes nothing further
	}

	cfg, err := e.ns.Get(ws.ctx, obj.Type)
	if err != nil {
		if _, ok := err.(errtypes.IsNotFound); ok {
			return e.evalDirect(ws, depth, tenantID, subj, permission, obj)
		}
		return false, err
	}
	def, ok := cfg.Relations[permission]
	if !ok {
		return e.evalDirect(ws, depth, tenantID, subj, permission, obj)
	}

	switch def.Kind {
	case KindDirect:
		return e.evalDirect(ws, depth, tenantID, subj, permission, obj)
	case KindUnion:
		for _, child := range def.Children {
			allowed, err := e.evalPermission(ws, depth+1, tenantID, subj, child, obj)
			if err != nil {
				return false, err
			}
			if allowed {
				return true, nil
			}
		}
		return false, nil
	case KindIntersection:
		for _, child := range def.Children {
			allowed, err := e.evalPermission(ws, depth+1, tenantID, subj, child, obj)
			if err != nil {
				return false, err
			}
			if !allowed {
				return false, nil
			}
		}
		return true, nil
	case KindExclusion:
		baseAllowed, err := e.evalPermission(ws, depth+1, tenantID, subj, def.Base, obj)
		if err != nil {
			return false, err
		}
		if !baseAllowed {
			return false, nil
		}
		subtractAllowed, err := e.evalPermission(ws, depth+1, tenantID, subj, def.Subtract, obj)
		if err != nil {
			return false, err
		}
		return !subtractAllowed, nil
	case KindArrow:
		return e.evalArrow(ws, depth, tenantID, subj, def, obj)
	case KindHierarchical:
		return e.evalHierarchical(ws, depth, tenantID, subj, permission, obj)
	default:
		return false, errtypes.Internal("unknown relation kind: " + string(def.Kind))
	}
}

// evalDirect checks tuples asserted directly for (object_type, object_id,
// relation=permission), including userset matches: a tuple whose subject
// encodes "type:id#relation" means "anyone holding relation on type:id"
// (spec §4.5 "direct ... including userset matches").
func (e *Engine) evalDirect(ws *walkState, depth int, tenantID string, subj Subject, permission string, obj Object) (bool, error) {
	tuples, err := e.meta.TuplesForObject(ws.ctx, tenantID, obj.Type, obj.ID, permission)
	if err != nil {
		return false, err
	}
	if err := ws.checkFanout(len(tuples)); err != nil {
		return false, err
	}
	for _, t := range tuples {
		if isExpired(t) {
			continue
		}
		if t.SubjectType == subj.Type && t.SubjectID == subj.ID {
			return true, nil
		}
		if groupType, groupID, rel, ok := parseUserset(t.SubjectType, t.SubjectID); ok {
			group := Object{Type: groupType, ID: groupID}
			if e.inGroupClosure(tenantID, subj, group) {
				return true, nil
			}
			allowed, err := e.evalPermission(ws, depth+1, tenantID, subj, rel, group)
			if err != nil {
				return false, err
			}
			if allowed {
				e.rememberGroupMembership(tenantID, subj, group)
				return true, nil
			}
		}
	}
	return false, nil
}

// parseUserset splits a tuple subject of the form type:"group:eng#member"
// into its related object and the relation to evaluate there.
func parseUserset(subjectType, subjectID string) (objType, objID, relation string, ok bool) {
	idx := strings.Index(subjectID, "#")
	if idx < 0 {
		return "", "", "", false
	}
	return subjectType, subjectID[:idx], subjectID[idx+1:], true
}

// evalArrow implements "R -> P": for each tuple of relation R from object,
// evaluate permission P on the related object (spec §4.5 "arrow").
func (e *Engine) evalArrow(ws *walkState, depth int, tenantID string, subj Subject, def RelationDef, obj Object) (bool, error) {
	tuples, err := e.meta.TuplesForObject(ws.ctx, tenantID, obj.Type, obj.ID, def.Via)
	if err != nil {
		return false, err
	}
	if err := ws.checkFanout(len(tuples)); err != nil {
		return false, err
	}
	for _, t := range tuples {
		if isExpired(t) {
			continue
		}
		related := Object{Type: t.SubjectType, ID: t.SubjectID}
		bridgeTenant := tenantID
		if def.CrossTenant && related.Type == "tenant" && related.ID != tenantID {
			if !e.tenantBridgeAllowed(def.Via, tenantID, related.ID) {
				continue
			}
			bridgeTenant = related.ID
		}
		allowed, err := e.evalPermission(ws, depth+1, bridgeTenant, subj, def.Then, related)
		if err != nil {
			return false, err
		}
		if allowed {
			return true, nil
		}
	}
	return false, nil
}

// evalHierarchical walks a file object's parent chain (spec §4.5
// "hierarchical"), stopping at a deny-inherit marker or the namespace
// root.
func (e *Engine) evalHierarchical(ws *walkState, depth int, tenantID string, subj Subject, permission string, obj Object) (bool, error) {
	if obj.Type != "file" {
		return false, nil
	}
	markers, err := e.meta.TuplesForObject(ws.ctx, tenantID, obj.Type, obj.ID, DenyInheritRelation)
	if err != nil {
		return false, err
	}
	if len(markers) > 0 {
		return false, nil
	}
	parentPath, ok := nspath.Parent(obj.ID)
	if !ok {
		return false, nil
	}
	return e.evalPermission(ws, depth+1, tenantID, subj, permission, Object{Type: "file", ID: parentPath})
}

// AllowTenantBridge whitelists tenantA and tenantB for each other under
// relation, the admin-managed allowlist spec §4.5 "Tenant isolation"
// requires before a cross-tenant relation may bridge two tenants.
func (e *Engine) AllowTenantBridge(relation, tenantA, tenantB string) {
	e.allowlistMu.Lock()
	defer e.allowlistMu.Unlock()
	if e.tenantAllowlist[relation] == nil {
		e.tenantAllowlist[relation] = make(map[string]struct{})
	}
	e.tenantAllowlist[relation][tenantA+"|"+tenantB] = struct{}{}
	e.tenantAllowlist[relation][tenantB+"|"+tenantA] = struct{}{}
}

func (e *Engine) tenantBridgeAllowed(relation, tenantA, tenantB string) bool {
	if tenantA == tenantB {
		return true
	}
	e.allowlistMu.RLock()
	defer e.allowlistMu.RUnlock()
	m, ok := e.tenantAllowlist[relation]
	if !ok {
		return false
	}
	_, ok = m[tenantA+"|"+tenantB]
	return ok
}

// groupClosureKey identifies subj's cached snapshot of the groups it
// transitively belongs to within tenantID (spec §4.5 cache layer 2).
func groupClosureKey(tenantID string, subj Subject) string {
	return tenantID + "|" + subj.String()
}

// inGroupClosure reports whether group is already known, from a previous
// resolution cached in this engine's lifetime, to be one subj transitively
// belongs to. A miss doesn't mean "not a member" — it means the walk that
// would prove membership hasn't been cached yet — so evalDirect always
// falls back to the real recursive walk on a miss.
func (e *Engine) inGroupClosure(tenantID string, subj Subject, group Object) bool {
	groups, ok := e.c.getGroupClosure(groupClosureKey(tenantID, subj))
	if !ok {
		return false
	}
	for _, g := range groups {
		if g == group {
			return true
		}
	}
	return false
}

func (e *Engine) rememberGroupMembership(tenantID string, subj Subject, group Object) {
	key := groupClosureKey(tenantID, subj)
	groups, _ := e.c.getGroupClosure(key)
	groups = append(groups, group)
	e.c.setGroupClosure(key, groups)
}

func isExpired(t metadata.Tuple) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(time.Now())
}
