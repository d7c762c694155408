// Copyright 2018-2019 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package errtypes contains definitions for the error kinds nexus returns
// across package boundaries. It would have been nice to call this package
// errors, err or error but errors clashes with github.com/pkg/errors, err is
// used for any error variable and error is a reserved word :)
package errtypes

// NotFound is the error to use when a path, version, tuple, workspace, mount
// or key is not found.
type NotFound string

func (e NotFound) Error() string { return "error: not found: " + string(e) }

// IsNotFound implements the IsNotFound interface.
func (e NotFound) IsNotFound() {}

// AlreadyExists is the error to use when a create-only operation targets a
// path, mount or namespace that already exists.
type AlreadyExists string

func (e AlreadyExists) Error() string { return "error: already exists: " + string(e) }

// IsAlreadyExists implements the IsAlreadyExists interface.
func (e AlreadyExists) IsAlreadyExists() {}

// InvalidArgument is the error to use for a malformed path: one that fails
// pkg/nspath validation (empty, "." or ".." component, bad UTF-8, too long).
type InvalidArgument string

func (e InvalidArgument) Error() string { return "error: invalid argument: " + string(e) }

// IsInvalidArgument implements the IsInvalidArgument interface.
func (e InvalidArgument) IsInvalidArgument() {}

// Validation is the error to use for a malformed request parameter that
// isn't a path: a bad regex or glob pattern, or a wire envelope missing its
// __type__ tag (a re-read digest mismatch is Integrity, not Validation).
// Distinct from InvalidArgument because the wire error table
// gives paths and everything else different codes (VALIDATION_ERROR vs
// INVALID_PATH).
type Validation string

func (e Validation) Error() string { return "error: validation: " + string(e) }

// IsValidation implements the IsValidation interface.
func (e Validation) IsValidation() {}

// Conflict is the error to use when an if_match/if_none_match/version
// precondition is violated by a concurrent writer.
type Conflict string

func (e Conflict) Error() string { return "error: conflict: " + string(e) }

// IsConflict implements the IsConflict interface.
func (e Conflict) IsConflict() {}

// PermissionDenied is the error to use when the permission engine evaluates
// a check to deny.
type PermissionDenied string

func (e PermissionDenied) Error() string { return "error: permission denied: " + string(e) }

// IsPermissionDenied implements the IsPermissionDenied interface.
func (e PermissionDenied) IsPermissionDenied() {}

// AccessDenied is the error to use for authentication failures: a missing,
// invalid, revoked or expired API key.
type AccessDenied string

func (e AccessDenied) Error() string { return "error: access denied: " + string(e) }

// IsAccessDenied implements the IsAccessDenied interface.
func (e AccessDenied) IsAccessDenied() {}

// Indeterminate wraps a permission check that exceeded its recursion-depth,
// visited-node or fan-out budget, or timed out. Callers must treat it as a
// denial; the distinct type lets the RPC layer attach data.indeterminate for
// diagnostics without changing the observable decision.
type Indeterminate string

func (e Indeterminate) Error() string { return "error: indeterminate: " + string(e) }

// IsIndeterminate implements the IsIndeterminate interface.
func (e Indeterminate) IsIndeterminate() {}

// IsPermissionDenied implements the IsPermissionDenied interface: an
// indeterminate result is a denial for every caller that doesn't care about
// the distinction.
func (e Indeterminate) IsPermissionDenied() {}

// DirNotEmpty is the error to use when rmdir without recursive targets a
// directory that still has children.
type DirNotEmpty string

func (e DirNotEmpty) Error() string { return "error: directory not empty: " + string(e) }

// IsDirNotEmpty implements the IsDirNotEmpty interface.
func (e DirNotEmpty) IsDirNotEmpty() {}

// Integrity is the error to use when a re-read digest disagrees with the
// digest recorded at ingest time, indicating backend corruption. Never
// retried, never silently swallowed.
type Integrity string

func (e Integrity) Error() string { return "error: integrity violation: " + string(e) }

// IsIntegrity implements the IsIntegrity interface.
func (e Integrity) IsIntegrity() {}

// NotSupported is the error to use when an action is not supported by the
// configured backend (e.g. byte-range reads on a backend that lacks them).
type NotSupported string

func (e NotSupported) Error() string { return "error: not supported: " + string(e) }

// IsNotSupported implements the IsNotSupported interface.
func (e NotSupported) IsNotSupported() {}

// Internal is the error to use for unexpected failures in a dependency —
// a database, blob backend or transport — that the caller cannot remedy by
// changing its request. The RPC layer maps it to a retryable INTERNAL_ERROR.
type Internal string

func (e Internal) Error() string { return "error: internal: " + string(e) }

// IsInternal implements the IsInternal interface.
func (e Internal) IsInternal() {}

// IsInternal is the interface to implement to specify that a failure
// originated in a dependency rather than from caller input.
type IsInternal interface {
	IsInternal()
}

// IsNotFound is the interface to implement to specify that a resource is
// not found.
type IsNotFound interface {
	IsNotFound()
}

// IsAlreadyExists is the interface to implement to specify that a resource
// already exists.
type IsAlreadyExists interface {
	IsAlreadyExists()
}

// IsInvalidArgument is the interface to implement to specify that the
// caller supplied a malformed argument.
type IsInvalidArgument interface {
	IsInvalidArgument()
}

// IsConflict is the interface to implement to specify that a write
// precondition was violated.
type IsConflict interface {
	IsConflict()
}

// IsPermissionDenied is the interface to implement to specify that a
// permission check evaluated to deny.
type IsPermissionDenied interface {
	IsPermissionDenied()
}

// IsAccessDenied is the interface to implement to specify that
// authentication failed.
type IsAccessDenied interface {
	IsAccessDenied()
}

// IsIndeterminate is the interface to implement to specify that a
// permission check exceeded its budget rather than resolving cleanly.
type IsIndeterminate interface {
	IsIndeterminate()
}

// IsDirNotEmpty is the interface to implement to specify that a
// non-recursive rmdir targeted a non-empty directory.
type IsDirNotEmpty interface {
	IsDirNotEmpty()
}

// IsValidation is the interface to implement to specify that a non-path
// request parameter failed validation.
type IsValidation interface {
	IsValidation()
}

// IsIntegrity is the interface to implement to specify that a content
// digest failed to verify on re-read.
type IsIntegrity interface {
	IsIntegrity()
}

// IsNotSupported is the interface to implement to specify that an action is
// not supported.
type IsNotSupported interface {
	IsNotSupported()
}
