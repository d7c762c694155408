package rpc

import (
	"encoding/json"

	"github.com/nexi-lab/nexus/pkg/apikey"
)

type adminCreateKeyParams struct {
	SubjectType string `json:"subject_type" validate:"required"`
	SubjectID   string `json:"subject_id" validate:"required"`
	IsAdmin     bool   `json:"is_admin"`
}

func handleAdminCreateKey(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	var p adminCreateKeyParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return ctx.srv.keys.CreateKey(ctx.stdctx, apikey.CreateKeyParams{
		TenantID: ctx.ident.TenantID, SubjectType: p.SubjectType, SubjectID: p.SubjectID, IsAdmin: p.IsAdmin,
	})
}

func handleAdminListKeys(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return ctx.srv.keys.ListKeys(ctx.stdctx, ctx.ident.TenantID)
}

type keyIDParams struct {
	KeyID string `json:"key_id" validate:"required"`
}

func handleAdminGetKey(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	var p keyIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return ctx.srv.keys.GetKey(ctx.stdctx, p.KeyID)
}

func handleAdminRevokeKey(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	var p keyIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := ctx.srv.keys.RevokeKey(ctx.stdctx, ctx.ident.TenantID, p.KeyID); err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}

type adminUpdateKeyParams struct {
	KeyID   string `json:"key_id" validate:"required"`
	IsAdmin *bool  `json:"is_admin,omitempty"`
}

func handleAdminUpdateKey(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	var p adminUpdateKeyParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return ctx.srv.keys.UpdateKey(ctx.stdctx, ctx.ident.TenantID, p.KeyID, apikey.UpdateKeyParams{IsAdmin: p.IsAdmin})
}
