package rpc

// buildRegistry wires every method named in spec §6's method surface to its
// handler. Missing an entry here means the method falls through to
// METHOD_NOT_FOUND regardless of what's implemented elsewhere.
func (s *Server) buildRegistry() map[string]handlerFunc {
	return map[string]handlerFunc{
		"read":          handleRead,
		"write":         handleWrite,
		"delete":        handleDelete,
		"rename":        handleRename,
		"exists":        handleExists,
		"get_metadata":  handleGetMetadata,
		"mkdir":         handleMkdir,
		"rmdir":         handleRmdir,
		"list":          handleList,
		"is_directory":  handleIsDirectory,
		"glob":          handleGlob,
		"grep":          handleGrep,

		"register_workspace":   handleRegisterWorkspace,
		"unregister_workspace": handleUnregisterWorkspace,
		"list_workspaces":      handleListWorkspaces,
		"get_workspace_info":   handleGetWorkspaceInfo,
		"workspace_snapshot":   handleWorkspaceSnapshot,
		"workspace_restore":    handleWorkspaceRestore,
		"workspace_log":        handleWorkspaceLog,
		"workspace_diff":       handleWorkspaceDiff,

		"get_version":   handleGetVersion,
		"list_versions": handleListVersions,
		"rollback":      handleRollback,
		"diff_versions": handleDiffVersions,

		"rebac_create":      handleRebacCreate,
		"rebac_check":       handleRebacCheck,
		"rebac_expand":      handleRebacExpand,
		"rebac_explain":     handleRebacExplain,
		"rebac_delete":      handleRebacDelete,
		"rebac_list_tuples": handleRebacListTuples,

		"namespace_create":         handleNamespaceCreate,
		"namespace_get":            handleNamespaceGet,
		"namespace_list":           handleNamespaceList,
		"namespace_delete":         handleNamespaceDelete,
		"get_available_namespaces": handleGetAvailableNamespaces,

		"admin_create_key": handleAdminCreateKey,
		"admin_list_keys":  handleAdminListKeys,
		"admin_get_key":    handleAdminGetKey,
		"admin_revoke_key": handleAdminRevokeKey,
		"admin_update_key": handleAdminUpdateKey,
	}
}
