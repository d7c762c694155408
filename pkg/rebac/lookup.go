package rebac

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/nexi-lab/nexus/pkg/nspath"
)

// LookupSubjects streams every subject holding permission on obj (spec
// §4.5 "lookup_subjects(object, permission) streams all subjects").
// Duplicates are not deduplicated here — callers needing a set should
// dedupe, per spec §4.5 "duplicates are deduplicated by the caller".
func (e *Engine) LookupSubjects(ctx context.Context, tenantID, permission string, obj Object) ([]Subject, error) {
	ws := newWalkState(ctx)
	defer ws.done()
	return e.expandSubjects(ws, 0, tenantID, permission, obj)
}

func (e *Engine) expandSubjects(ws *walkState, depth int, tenantID, permission string, obj Object) ([]Subject, error) {
	if depth > ws.maxDepth {
		return nil, errIndeterminate
	}

	cfg, err := e.ns.Get(ws.ctx, obj.Type)
	var def RelationDef
	hasDef := false
	if err == nil {
		if d, ok := cfg.Relations[permission]; ok {
			def, hasDef = d, true
		}
	}
	if !hasDef {
		def = RelationDef{Kind: KindDirect}
	}

	switch def.Kind {
	case KindDirect:
		return e.directSubjects(ws, depth, tenantID, permission, obj)
	case KindUnion:
		var out []Subject
		for _, child := range def.Children {
			subs, err := e.expandSubjects(ws, depth+1, tenantID, child, obj)
			if err != nil {
				return nil, err
			}
			out = append(out, subs...)
		}
		return out, nil
	case KindIntersection:
		base, err := e.expandSubjects(ws, depth+1, tenantID, def.Children[0], obj)
		if err != nil {
			return nil, err
		}
		var out []Subject
		for _, s := range base {
			allowed, err := e.evalPermission(ws, depth+1, tenantID, s, permission, obj)
			if err != nil {
				return nil, err
			}
			if allowed {
				out = append(out, s)
			}
		}
		return out, nil
	case KindExclusion:
		base, err := e.expandSubjects(ws, depth+1, tenantID, def.Base, obj)
		if err != nil {
			return nil, err
		}
		var out []Subject
		for _, s := range base {
			excluded, err := e.evalPermission(ws, depth+1, tenantID, s, def.Subtract, obj)
			if err != nil {
				return nil, err
			}
			if !excluded {
				out = append(out, s)
			}
		}
		return out, nil
	case KindArrow:
		tuples, err := e.meta.TuplesForObject(ws.ctx, tenantID, obj.Type, obj.ID, def.Via)
		if err != nil {
			return nil, err
		}
		var out []Subject
		for _, t := range tuples {
			if isExpired(t) {
				continue
			}
			subs, err := e.expandSubjects(ws, depth+1, tenantID, def.Then, Object{Type: t.SubjectType, ID: t.SubjectID})
			if err != nil {
				return nil, err
			}
			out = append(out, subs...)
		}
		return out, nil
	case KindHierarchical:
		var out []Subject
		if obj.Type == "file" {
			markers, err := e.meta.TuplesForObject(ws.ctx, tenantID, obj.Type, obj.ID, DenyInheritRelation)
			if err != nil {
				return nil, err
			}
			if len(markers) == 0 {
				if parentPath, ok := nspath.Parent(obj.ID); ok {
					subs, err := e.expandSubjects(ws, depth+1, tenantID, permission, Object{Type: "file", ID: parentPath})
					if err != nil {
						return nil, err
					}
					out = append(out, subs...)
				}
			}
		}
		return out, nil
	default:
		return nil, nil
	}
}

func (e *Engine) directSubjects(ws *walkState, depth int, tenantID, permission string, obj Object) ([]Subject, error) {
	tuples, err := e.meta.TuplesForObject(ws.ctx, tenantID, obj.Type, obj.ID, permission)
	if err != nil {
		return nil, err
	}
	if err := ws.checkFanout(len(tuples)); err != nil {
		return nil, err
	}
	var out []Subject
	for _, t := range tuples {
		if isExpired(t) {
			continue
		}
		if groupType, groupID, rel, ok := parseUserset(t.SubjectType, t.SubjectID); ok {
			subs, err := e.expandSubjects(ws, depth+1, tenantID, rel, Object{Type: groupType, ID: groupID})
			if err != nil {
				return nil, err
			}
			out = append(out, subs...)
			continue
		}
		out = append(out, Subject{Type: t.SubjectType, ID: t.SubjectID})
	}
	return out, nil
}

// LookupResources returns every object of objectType that subject holds
// permission on (spec §4.5 "lookup_resources(subject, permission,
// object_type) streams all objects").
//
// This is the reverse direction of Check, for which the tuple store keeps
// no reverse-closure index beyond TuplesForSubject's direct edges. The
// candidate set is therefore seeded from subject's direct and hierarchical
// (directory-descendant) edges and each candidate is confirmed with a real
// Check — correct, but proportional to the subject's direct tuple count
// rather than a true O(1) reverse index. Acceptable at the tuple volumes
// this deployment targets; a dedicated reverse index is future work if
// that changes.
func (e *Engine) LookupResources(ctx context.Context, tenantID string, subj Subject, permission, objectType string) ([]Object, error) {
	direct, err := e.meta.TuplesForSubject(ctx, tenantID, subj.Type, subj.ID, "")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var candidates []Object
	addCandidate := func(o Object) {
		key := o.String()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		candidates = append(candidates, o)
	}

	for _, t := range direct {
		if isExpired(t) {
			continue
		}
		if t.ObjectType != objectType {
			continue
		}
		addCandidate(Object{Type: t.ObjectType, ID: t.ObjectID})
	}

	if objectType == "file" {
		for _, t := range direct {
			if isExpired(t) || t.ObjectType != "file" {
				continue
			}
			children, err := e.meta.ListDescendants(ctx, tenantID, t.ObjectID)
			if err != nil {
				continue
			}
			for _, child := range children {
				addCandidate(Object{Type: "file", ID: child.Path})
			}
		}
	}

	var out []Object
	for _, c := range candidates {
		res, err := e.Check(ctx, CheckRequest{TenantID: tenantID, Subject: subj, Permission: permission, Object: c})
		if err != nil {
			return nil, err
		}
		if res.Allowed {
			out = append(out, c)
		}
	}
	return out, nil
}

// BulkCheckItem is one request in a BulkCheck call.
type BulkCheckItem struct {
	Subject    Subject
	Permission string
	Object     Object
}

// BulkCheckResult pairs a BulkCheckItem with its outcome, in input order.
type BulkCheckResult struct {
	Item   BulkCheckItem
	Result CheckResult
}

type subproblemKey struct {
	subj Subject
	perm string
	obj  Object
}

func bulkKey(item BulkCheckItem) subproblemKey {
	return subproblemKey{item.Subject, item.Permission, item.Object}
}

// bulkCheckConcurrency bounds how many distinct subproblems BulkCheck
// resolves at once, so a single oversized batch can't flood the metadata
// store with concurrent graph walks.
const bulkCheckConcurrency = 16

// BulkCheck evaluates a batch of checks, deduplicating identical
// subproblems and resolving the distinct ones concurrently (spec §4.5
// "Bulk check ... deduplicates common subproblems"), propagating
// cancellation across the whole batch the moment any one Check fails.
// Results are returned in input order.
func (e *Engine) BulkCheck(ctx context.Context, tenantID string, items []BulkCheckItem, consistency Consistency) ([]BulkCheckResult, error) {
	uniqueKeys := make([]subproblemKey, 0, len(items))
	seen := make(map[subproblemKey]struct{}, len(items))
	for _, item := range items {
		key := bulkKey(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		uniqueKeys = append(uniqueKeys, key)
	}

	results := make([]CheckResult, len(uniqueKeys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkCheckConcurrency)
	for i, key := range uniqueKeys {
		i, key := i, key
		g.Go(func() error {
			res, err := e.Check(gctx, CheckRequest{
				TenantID:    tenantID,
				Subject:     key.subj,
				Permission:  key.perm,
				Object:      key.obj,
				Consistency: consistency,
			})
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cache := make(map[subproblemKey]CheckResult, len(uniqueKeys))
	for i, key := range uniqueKeys {
		cache[key] = results[i]
	}

	out := make([]BulkCheckResult, len(items))
	for i, item := range items {
		out[i] = BulkCheckResult{Item: item, Result: cache[bulkKey(item)]}
	}
	return out, nil
}
