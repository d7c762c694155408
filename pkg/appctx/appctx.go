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

// Package appctx carries request-scoped values — logger, trace id, tenant
// and subject identity — down through the call stack without threading them
// as explicit parameters through every layer.
package appctx

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ctxKey int

const (
	traceKey ctxKey = iota
	identityKey
)

// WithLogger returns a context with an associated logger.
func WithLogger(ctx context.Context, l *zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// GetLogger returns the logger associated with the given context
// or a disabled logger in case no logger is stored inside the context.
func GetLogger(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// WithTrace returns a context with an associated trace id.
func WithTrace(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, traceKey, t)
}

// GetTrace returns the trace id stored in the context.
func GetTrace(ctx context.Context) string {
	if t, ok := ctx.Value(traceKey).(string); ok {
		return t
	}
	return "unknown"
}

// NewTraceID returns a new random trace id suitable for WithTrace.
func NewTraceID() string {
	return uuid.NewString()
}

// Identity is the authenticated caller resolved by the RPC server from a
// bearer API key: which subject is acting, in which tenant, and whether the
// key carries admin privileges.
type Identity struct {
	TenantID    string
	SubjectType string
	SubjectID   string
	IsAdmin     bool
	KeyID       string
}

// WithIdentity returns a context carrying the authenticated caller.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the authenticated caller stored in the context.
func GetIdentity(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
