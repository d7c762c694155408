package rebac

import (
	"context"

	"github.com/nexi-lab/nexus/pkg/metadata"
	"github.com/nexi-lab/nexus/pkg/nspath"
)

// ExpandNode is one node of the tree returned by Expand: the relation
// evaluated at this node, its kind, and either its child nodes (union/
// intersection/exclusion/arrow) or the tuples that satisfy it directly.
type ExpandNode struct {
	Object     Object          `json:"object"`
	Relation   string          `json:"relation"`
	Kind       RelationKind    `json:"kind"`
	Tuples     []metadata.Tuple `json:"tuples,omitempty"`
	Children   []*ExpandNode   `json:"children,omitempty"`
}

// Expand returns the tree of relations that contribute to a permission
// (spec §4.5 "expand returns the tree of relations that contribute to a
// permission").
func (e *Engine) Expand(ctx context.Context, tenantID, permission string, obj Object) (*ExpandNode, error) {
	ws := newWalkState(ctx)
	defer ws.done()
	return e.expandNode(ws, 0, tenantID, permission, obj)
}

func (e *Engine) expandNode(ws *walkState, depth int, tenantID, permission string, obj Object) (*ExpandNode, error) {
	if depth > ws.maxDepth {
		return nil, errIndeterminate
	}
	node := &ExpandNode{Object: obj, Relation: permission, Kind: KindDirect}

	cfg, err := e.ns.Get(ws.ctx, obj.Type)
	var def RelationDef
	hasDef := false
	if err == nil {
		if d, ok := cfg.Relations[permission]; ok {
			def, hasDef = d, true
		}
	}

	if !hasDef {
		tuples, err := e.meta.TuplesForObject(ws.ctx, tenantID, obj.Type, obj.ID, permission)
		if err != nil {
			return nil, err
		}
		node.Tuples = tuples
		return node, nil
	}

	node.Kind = def.Kind
	switch def.Kind {
	case KindDirect:
		tuples, err := e.meta.TuplesForObject(ws.ctx, tenantID, obj.Type, obj.ID, permission)
		if err != nil {
			return nil, err
		}
		node.Tuples = tuples
	case KindUnion, KindIntersection:
		for _, child := range def.Children {
			childNode, err := e.expandNode(ws, depth+1, tenantID, child, obj)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, childNode)
		}
	case KindExclusion:
		base, err := e.expandNode(ws, depth+1, tenantID, def.Base, obj)
		if err != nil {
			return nil, err
		}
		sub, err := e.expandNode(ws, depth+1, tenantID, def.Subtract, obj)
		if err != nil {
			return nil, err
		}
		node.Children = []*ExpandNode{base, sub}
	case KindArrow:
		tuples, err := e.meta.TuplesForObject(ws.ctx, tenantID, obj.Type, obj.ID, def.Via)
		if err != nil {
			return nil, err
		}
		for _, t := range tuples {
			childNode, err := e.expandNode(ws, depth+1, tenantID, def.Then, Object{Type: t.SubjectType, ID: t.SubjectID})
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, childNode)
		}
	case KindHierarchical:
		if obj.Type == "file" {
			if parentPath, ok := nspath.Parent(obj.ID); ok {
				childNode, err := e.expandNode(ws, depth+1, tenantID, permission, Object{Type: "file", ID: parentPath})
				if err != nil {
					return nil, err
				}
				node.Children = append(node.Children, childNode)
			}
		}
	}
	return node, nil
}

// ExplainStep is one tuple on the first accepting path found by Explain.
type ExplainStep struct {
	Tuple    metadata.Tuple
	Relation string
}

// Explain returns the first accepting path as an ordered list of tuples
// (spec §4.5 "explain returns the first accepting path"). Returns ok=false
// if the permission is not allowed.
func (e *Engine) Explain(ctx context.Context, tenantID string, subj Subject, permission string, obj Object) ([]ExplainStep, bool, error) {
	ws := newWalkState(ctx)
	defer ws.done()
	var path []ExplainStep
	allowed, err := e.explainWalk(ws, 0, tenantID, subj, permission, obj, &path)
	if err != nil {
		return nil, false, err
	}
	if !allowed {
		return nil, false, nil
	}
	return path, true, nil
}

func (e *Engine) explainWalk(ws *walkState, depth int, tenantID string, subj Subject, permission string, obj Object, path *[]ExplainStep) (bool, error) {
	first, err := ws.enter(depth, subj, permission, obj)
	if err != nil {
		return false, err
	}
	if !first {
		return false, nil
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
		tuples, err := e.meta.TuplesForObject(ws.ctx, tenantID, obj.Type, obj.ID, permission)
		if err != nil {
			return false, err
		}
		for _, t := range tuples {
			if isExpired(t) {
				continue
			}
			if t.SubjectType == subj.Type && t.SubjectID == subj.ID {
				*path = append(*path, ExplainStep{Tuple: t, Relation: permission})
				return true, nil
			}
			if groupType, groupID, rel, ok := parseUserset(t.SubjectType, t.SubjectID); ok {
				allowed, err := e.explainWalk(ws, depth+1, tenantID, subj, rel, Object{Type: groupType, ID: groupID}, path)
				if err != nil {
					return false, err
				}
				if allowed {
					*path = append(*path, ExplainStep{Tuple: t, Relation: permission})
					return true, nil
				}
			}
		}
		return false, nil
	case KindUnion:
		for _, child := range def.Children {
			allowed, err := e.explainWalk(ws, depth+1, tenantID, subj, child, obj, path)
			if err != nil {
				return false, err
			}
			if allowed {
				return true, nil
			}
		}
		return false, nil
	case KindIntersection:
		var sub []ExplainStep
		for _, child := range def.Children {
			allowed, err := e.explainWalk(ws, depth+1, tenantID, subj, child, obj, &sub)
			if err != nil {
				return false, err
			}
			if !allowed {
				return false, nil
			}
		}
		*path = append(*path, sub...)
		return true, nil
	case KindExclusion:
		var sub []ExplainStep
		baseAllowed, err := e.explainWalk(ws, depth+1, tenantID, subj, def.Base, obj, &sub)
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
		if subtractAllowed {
			return false, nil
		}
		*path = append(*path, sub...)
		return true, nil
	case KindArrow:
		tuples, err := e.meta.TuplesForObject(ws.ctx, tenantID, obj.Type, obj.ID, def.Via)
		if err != nil {
			return false, err
		}
		for _, t := range tuples {
			if isExpired(t) {
				continue
			}
			related := Object{Type: t.SubjectType, ID: t.SubjectID}
			var sub []ExplainStep
			allowed, err := e.explainWalk(ws, depth+1, tenantID, subj, def.Then, related, &sub)
			if err != nil {
				return false, err
			}
			if allowed {
				*path = append(*path, ExplainStep{Tuple: t, Relation: def.Via})
				*path = append(*path, sub...)
				return true, nil
			}
		}
		return false, nil
	case KindHierarchical:
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
		return e.explainWalk(ws, depth+1, tenantID, subj, permission, Object{Type: "file", ID: parentPath}, path)
	default:
		return false, nil
	}
}
