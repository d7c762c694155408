package rpc

import (
	"encoding/json"
	"time"

	"github.com/nexi-lab/nexus/pkg/metadata"
	"github.com/nexi-lab/nexus/pkg/rebac"
)

type rebacCreateParams struct {
	SubjectType string     `json:"subject_type" validate:"required"`
	SubjectID   string     `json:"subject_id" validate:"required"`
	Relation    string     `json:"relation" validate:"required"`
	ObjectType  string     `json:"object_type" validate:"required"`
	ObjectID    string     `json:"object_id" validate:"required"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Condition   string     `json:"condition,omitempty"`
}

func handleRebacCreate(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p rebacCreateParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	t := metadata.Tuple{
		TenantID: ctx.ident.TenantID, SubjectType: p.SubjectType, SubjectID: p.SubjectID,
		Relation: p.Relation, ObjectType: p.ObjectType, ObjectID: p.ObjectID,
		ExpiresAt: p.ExpiresAt, Condition: p.Condition,
	}
	return ctx.srv.engine.CreateTuple(ctx.stdctx, t)
}

type rebacDeleteParams struct {
	TupleID string `json:"tuple_id" validate:"required"`
}

func handleRebacDelete(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p rebacDeleteParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := ctx.srv.engine.DeleteTuple(ctx.stdctx, ctx.ident.TenantID, p.TupleID); err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}

type rebacListTuplesParams struct {
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id"`
	Relation   string `json:"relation"`
}

func handleRebacListTuples(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p rebacListTuplesParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return ctx.srv.engine.ListTuples(ctx.stdctx, ctx.ident.TenantID, p.ObjectType, p.ObjectID, p.Relation)
}

type rebacCheckParams struct {
	SubjectType string `json:"subject_type" validate:"required"`
	SubjectID   string `json:"subject_id" validate:"required"`
	Permission  string `json:"permission" validate:"required"`
	ObjectType  string `json:"object_type" validate:"required"`
	ObjectID    string `json:"object_id" validate:"required"`
	Consistency string `json:"consistency"`
	Token       int64  `json:"token"`
}

func handleRebacCheck(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p rebacCheckParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	req := rebac.CheckRequest{
		TenantID:    ctx.ident.TenantID,
		Subject:     rebac.Subject{Type: p.SubjectType, ID: p.SubjectID},
		Permission:  p.Permission,
		Object:      rebac.Object{Type: p.ObjectType, ID: p.ObjectID},
		Consistency: parseConsistency(p.Consistency, p.Token),
	}
	return ctx.srv.engine.Check(ctx.stdctx, req)
}

func parseConsistency(mode string, token int64) rebac.Consistency {
	switch mode {
	case "at_least_as_fresh":
		return rebac.Consistency{Mode: rebac.AtLeastAsFresh, Token: token}
	case "fully_consistent":
		return rebac.Consistency{Mode: rebac.FullyConsistent}
	default:
		return rebac.Consistency{Mode: rebac.MinimizeLatency}
	}
}

type rebacObjectParams struct {
	Permission string `json:"permission" validate:"required"`
	ObjectType string `json:"object_type" validate:"required"`
	ObjectID   string `json:"object_id" validate:"required"`
}

func handleRebacExpand(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p rebacObjectParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return ctx.srv.engine.Expand(ctx.stdctx, ctx.ident.TenantID, p.Permission, rebac.Object{Type: p.ObjectType, ID: p.ObjectID})
}

type rebacExplainParams struct {
	SubjectType string `json:"subject_type" validate:"required"`
	SubjectID   string `json:"subject_id" validate:"required"`
	Permission  string `json:"permission" validate:"required"`
	ObjectType  string `json:"object_type" validate:"required"`
	ObjectID    string `json:"object_id" validate:"required"`
}

func handleRebacExplain(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p rebacExplainParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	steps, allowed, err := ctx.srv.engine.Explain(ctx.stdctx, ctx.ident.TenantID,
		rebac.Subject{Type: p.SubjectType, ID: p.SubjectID}, p.Permission, rebac.Object{Type: p.ObjectType, ID: p.ObjectID})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"allowed": allowed, "path": steps}, nil
}

type namespaceObjectTypeParams struct {
	ObjectType string `json:"object_type" validate:"required"`
}

func handleNamespaceCreate(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var cfg rebac.ObjectTypeConfig
	if err := decodeParams(raw, &cfg); err != nil {
		return nil, err
	}
	if err := ctx.srv.engine.PutNamespace(ctx.stdctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func handleNamespaceGet(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p namespaceObjectTypeParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return ctx.srv.engine.GetNamespace(ctx.stdctx, p.ObjectType)
}

func handleNamespaceList(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	return ctx.srv.engine.ListNamespaces(ctx.stdctx)
}

func handleNamespaceDelete(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p namespaceObjectTypeParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := ctx.srv.engine.DeleteNamespace(ctx.stdctx, p.ObjectType); err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}

// handleGetAvailableNamespaces lists every configured object type, the same
// set namespace_list returns. Kept as a distinct wire method (spec §6 names
// both) since a client introspecting "what object types can I create tuples
// against" and an admin auditing namespace configs are different callers
// even though today they read the same data.
func handleGetAvailableNamespaces(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	return ctx.srv.engine.ListNamespaces(ctx.stdctx)
}
