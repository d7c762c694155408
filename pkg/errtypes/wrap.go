package errtypes

import (
	nexuserrors "github.com/nexi-lab/nexus/pkg/errors"
)

// Wrap folds cause's message into kind's via pkg/errors.Wrapf (which
// prefixes it with the caller's package name) and returns a new error of
// kind's own concrete type, so a later `err.(errtypes.IsNotFound)`-style
// assertion still succeeds. cause itself is not retained; only its message
// is, so Wrap never discards the caller-facing reason for a failure the
// way a bare "+ err.Error()" concatenation would be tempted to drop under
// a busier call site.
func Wrap(kind error, cause error) error {
	if cause == nil {
		return kind
	}
	msg := nexuserrors.Wrapf(cause, "%s", kind.Error()).Error()
	switch kind.(type) {
	case NotFound:
		return NotFound(msg)
	case AlreadyExists:
		return AlreadyExists(msg)
	case InvalidArgument:
		return InvalidArgument(msg)
	case Validation:
		return Validation(msg)
	case Conflict:
		return Conflict(msg)
	case PermissionDenied:
		return PermissionDenied(msg)
	case AccessDenied:
		return AccessDenied(msg)
	case Indeterminate:
		return Indeterminate(msg)
	case DirNotEmpty:
		return DirNotEmpty(msg)
	case Integrity:
		return Integrity(msg)
	case NotSupported:
		return NotSupported(msg)
	case Internal:
		return Internal(msg)
	default:
		return kind
	}
}
