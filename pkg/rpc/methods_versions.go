package rpc

import "encoding/json"

type getVersionParams struct {
	Path    string `json:"path" validate:"required"`
	Version int64  `json:"version" validate:"required"`
}

func handleGetVersion(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p getVersionParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return ctx.srv.vers.GetVersion(ctx.stdctx, ctx.ident.TenantID, p.Path, p.Version)
}

func handleListVersions(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p pathParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return ctx.srv.vers.ListVersions(ctx.stdctx, ctx.ident.TenantID, p.Path)
}

type rollbackParams struct {
	Path    string `json:"path" validate:"required"`
	Version int64  `json:"version" validate:"required"`
}

func handleRollback(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p rollbackParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return ctx.srv.vers.Rollback(ctx.stdctx, ctx.ident.TenantID, p.Path, p.Version, ctx.ident.SubjectID)
}

type diffVersionsParams struct {
	Path string `json:"path" validate:"required"`
	From int64  `json:"from" validate:"required"`
	To   int64  `json:"to" validate:"required"`
}

func handleDiffVersions(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p diffVersionsParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return ctx.srv.vers.DiffVersions(ctx.stdctx, ctx.ident.TenantID, p.Path, p.From, p.To)
}
