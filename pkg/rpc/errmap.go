package rpc

import "github.com/nexi-lab/nexus/pkg/errtypes"

// JSON-RPC error codes (spec §6 "Error codes (bit-exact)").
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeFileNotFound   = -32000
	codeFileExists     = -32001
	codeInvalidPath    = -32002
	codeAccessDenied   = -32003
	codePermissionErr  = -32004
	codeValidationErr  = -32005
	codeConflict       = -32006
)

// mapError translates a service-layer error into the wire error code table,
// switching on errtypes' marker interfaces rather than sentinel comparison
// (spec §7 "the RPC layer's mapper switches on interface satisfaction").
func mapError(err error) (code int, message string, indeterminate bool) {
	switch err.(type) {
	case errtypes.IsInvalidArgument:
		return codeInvalidPath, err.Error(), false
	case errtypes.IsNotFound:
		return codeFileNotFound, err.Error(), false
	case errtypes.IsAlreadyExists:
		return codeFileExists, err.Error(), false
	case errtypes.IsAccessDenied:
		return codeAccessDenied, err.Error(), false
	case errtypes.IsIndeterminate:
		return codePermissionErr, err.Error(), true
	case errtypes.IsPermissionDenied:
		return codePermissionErr, err.Error(), false
	case errtypes.IsConflict:
		return codeConflict, err.Error(), false
	case errtypes.IsDirNotEmpty:
		return codeConflict, err.Error(), false
	case errtypes.IsValidation:
		return codeValidationErr, err.Error(), false
	case errtypes.IsNotSupported:
		return codeInvalidParams, err.Error(), false
	default:
		return codeInternalError, err.Error(), false
	}
}
