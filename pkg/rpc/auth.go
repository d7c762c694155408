package rpc

import (
	"net/http"
	"strings"

	"github.com/nexi-lab/nexus/pkg/apikey"
	"github.com/nexi-lab/nexus/pkg/appctx"
	"github.com/nexi-lab/nexus/pkg/errtypes"
)

// identityHeaderSubject and identityHeaderTenant let an admin key act as a
// different tenant or subject without minting a key per identity (spec §4.9
// "identity headers ... apply only to admin keys").
const (
	identityHeaderSubject = "X-Nexus-Subject"
	identityHeaderTenant  = "X-Nexus-Tenant-ID"
)

// authenticate resolves the Authorization header into an appctx.Identity.
// A missing or unresolvable bearer token is always AccessDenied; the caller
// maps that into the JSON-RPC ACCESS_DENIED code before a method ever runs.
func authenticate(r *http.Request, keys *apikey.Service) (appctx.Identity, error) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return appctx.Identity{}, errtypes.AccessDenied("missing bearer token")
	}

	k, err := keys.Resolve(r.Context(), token)
	if err != nil {
		return appctx.Identity{}, err
	}

	id := appctx.Identity{
		TenantID:    k.TenantID,
		SubjectType: k.SubjectType,
		SubjectID:   k.SubjectID,
		IsAdmin:     k.IsAdmin,
		KeyID:       k.KeyID,
	}

	// Only an admin key may act on behalf of another tenant or subject
	// (spec §4.9); a non-admin key's headers are ignored rather than
	// rejected, since a caller forwarding its own identity back is harmless.
	if id.IsAdmin {
		if subj := r.Header.Get(identityHeaderSubject); subj != "" {
			id.SubjectType, id.SubjectID = splitSubject(subj)
		}
		if tenant := r.Header.Get(identityHeaderTenant); tenant != "" {
			id.TenantID = tenant
		}
	}

	return id, nil
}

// splitSubject parses an "X-Nexus-Subject" header of the form
// "<subject_type>:<subject_id>". A header with no colon is treated as a
// user id, matching the common case of impersonating a plain user.
func splitSubject(header string) (subjectType, subjectID string) {
	t, id, ok := strings.Cut(header, ":")
	if !ok {
		return "user", header
	}
	return t, id
}
