package rpc

import (
	"encoding/json"

	"github.com/nexi-lab/nexus/pkg/metadata"
)

type registerWorkspaceParams struct {
	Path        string            `json:"path" validate:"required"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
	Tags        []string          `json:"tags"`
	SessionID   string            `json:"session_id"`
}

func handleRegisterWorkspace(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p registerWorkspaceParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	w := metadata.Workspace{
		TenantID: ctx.ident.TenantID, Path: p.Path, Name: p.Name, Description: p.Description,
		CreatedBy: ctx.ident.SubjectID, Metadata: p.Metadata, Tags: p.Tags, SessionID: p.SessionID,
	}
	if err := ctx.srv.vers.RegisterWorkspace(ctx.stdctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func handleUnregisterWorkspace(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p pathParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := ctx.srv.vers.UnregisterWorkspace(ctx.stdctx, ctx.ident.TenantID, p.Path); err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}

func handleListWorkspaces(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	return ctx.srv.vers.ListWorkspaces(ctx.stdctx, ctx.ident.TenantID)
}

func handleGetWorkspaceInfo(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p pathParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return ctx.srv.vers.GetWorkspace(ctx.stdctx, ctx.ident.TenantID, p.Path)
}

type workspaceSnapshotParams struct {
	Path        string   `json:"path" validate:"required"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func handleWorkspaceSnapshot(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p workspaceSnapshotParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return ctx.srv.vers.Snapshot(ctx.stdctx, ctx.ident.TenantID, p.Path, p.Description, p.Tags)
}

type workspaceRestoreParams struct {
	Path           string `json:"path" validate:"required"`
	SnapshotNumber int64  `json:"snapshot_number" validate:"required"`
}

func handleWorkspaceRestore(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p workspaceRestoreParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return ctx.srv.vers.Restore(ctx.stdctx, ctx.ident.TenantID, p.Path, p.SnapshotNumber, ctx.ident.SubjectID)
}

func handleWorkspaceLog(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p pathParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return ctx.srv.vers.ListSnapshots(ctx.stdctx, ctx.ident.TenantID, p.Path)
}

// workspaceDiffParams' To is a *int64 so "compare against current" (spec S5:
// "workspace_diff(1, current)") is distinguishable from "compare against
// snapshot 0" — omitting "to" means current.
type workspaceDiffParams struct {
	Path string `json:"path" validate:"required"`
	From int64  `json:"from" validate:"required"`
	To   *int64 `json:"to,omitempty"`
}

func handleWorkspaceDiff(ctx *callContext, raw json.RawMessage) (interface{}, error) {
	var p workspaceDiffParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.To == nil {
		return ctx.srv.vers.DiffCurrent(ctx.stdctx, ctx.ident.TenantID, p.Path, p.From)
	}
	return ctx.srv.vers.Diff(ctx.stdctx, ctx.ident.TenantID, p.Path, p.From, *p.To)
}
