package rpc

import (
	"encoding/json"

	"github.com/nexi-lab/nexus/pkg/fileservice"
	"github.com/nexi-lab/nexus/pkg/rebac"
	"github.com/nexi-lab/nexus/pkg/wire"
)

func subject(ctx *callContext) rebac.Subject {
	return rebac.Subject{Type: ctx.ident.SubjectType, ID: ctx.ident.SubjectID}
}

type readParams struct {
	Path           string `json:"path" validate:"required"`
	ReturnMetadata bool   `json:"return_metadata"`
}

func handleRead(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p readParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	res, err := ctx.srv.files.Read(ctx.stdctx, ctx.ident.TenantID, subject(ctx), p.Path, p.ReturnMetadata)
	if err != nil {
		return nil, err
	}
	bytesEnv, err := wire.EncodeBytes(res.Content)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{"bytes": json.RawMessage(bytesEnv)}
	if res.Metadata != nil {
		out["metadata"] = res.Metadata
	}
	return out, nil
}

type writeParams struct {
	Path        string          `json:"path" validate:"required"`
	Bytes       json.RawMessage `json:"bytes" validate:"required"`
	IfMatch     string          `json:"if_match"`
	IfNoneMatch bool            `json:"if_none_match"`
	Force       bool            `json:"force"`
}

func handleWrite(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p writeParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	content, err := wire.DecodeBytes(p.Bytes)
	if err != nil {
		return nil, err
	}
	opts := fileservice.WriteOptions{IfMatch: p.IfMatch, IfNoneMatch: p.IfNoneMatch, Force: p.Force}
	res, err := ctx.srv.files.Write(ctx.stdctx, ctx.ident.TenantID, subject(ctx), p.Path, content, opts)
	if err != nil {
		return nil, err
	}
	return res, nil
}

type deleteParams struct {
	Path string `json:"path" validate:"required"`
}

func handleDelete(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p deleteParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := ctx.srv.files.Delete(ctx.stdctx, ctx.ident.TenantID, subject(ctx), p.Path); err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}

type renameParams struct {
	Old string `json:"old" validate:"required"`
	New string `json:"new" validate:"required"`
}

func handleRename(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p renameParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := ctx.srv.files.Rename(ctx.stdctx, ctx.ident.TenantID, subject(ctx), p.Old, p.New); err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}

type pathParams struct {
	Path string `json:"path" validate:"required"`
}

func handleExists(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p pathParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	ok, err := ctx.srv.files.Exists(ctx.stdctx, ctx.ident.TenantID, subject(ctx), p.Path)
	if err != nil {
		return nil, err
	}
	return ok, nil
}

func handleGetMetadata(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p pathParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return ctx.srv.files.GetMetadata(ctx.stdctx, ctx.ident.TenantID, subject(ctx), p.Path)
}

func handleIsDirectory(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p pathParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	f, err := ctx.srv.files.GetMetadata(ctx.stdctx, ctx.ident.TenantID, subject(ctx), p.Path)
	if err != nil {
		return nil, err
	}
	return f.IsDirectory, nil
}

type mkdirParams struct {
	Path    string `json:"path" validate:"required"`
	Parents bool   `json:"parents"`
	ExistOK bool   `json:"exist_ok"`
}

func handleMkdir(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p mkdirParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return ctx.srv.files.Mkdir(ctx.stdctx, ctx.ident.TenantID, subject(ctx), p.Path, p.Parents, p.ExistOK)
}

type rmdirParams struct {
	Path      string `json:"path" validate:"required"`
	Recursive bool   `json:"recursive"`
}

func handleRmdir(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p rmdirParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := ctx.srv.files.Rmdir(ctx.stdctx, ctx.ident.TenantID, subject(ctx), p.Path, p.Recursive); err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}

type listParams struct {
	Path      string `json:"path" validate:"required"`
	Recursive bool   `json:"recursive"`
	Details   bool   `json:"details"`
	Prefix    string `json:"prefix"`
}

func handleList(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p listParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	entries, err := ctx.srv.files.List(ctx.stdctx, ctx.ident.TenantID, subject(ctx), p.Path, p.Recursive, p.Prefix)
	if err != nil {
		return nil, err
	}
	if p.Details {
		return entries, nil
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Path
	}
	return names, nil
}

type globParams struct {
	Pattern string `json:"pattern" validate:"required"`
	Root    string `json:"root"`
}

func handleGlob(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p globParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return ctx.srv.files.Glob(ctx.stdctx, ctx.ident.TenantID, subject(ctx), p.Pattern, p.Root)
}

type grepParams struct {
	Pattern     string `json:"pattern" validate:"required"`
	Root        string `json:"root"`
	FilePattern string `json:"file_pattern"`
	IgnoreCase  bool   `json:"ignore_case"`
	MaxResults  int    `json:"max_results"`
}

func handleGrep(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p grepParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return ctx.srv.files.Grep(ctx.stdctx, ctx.ident.TenantID, subject(ctx), p.Pattern, p.Root, p.FilePattern, p.IgnoreCase, p.MaxResults)
}

