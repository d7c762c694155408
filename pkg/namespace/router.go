// Package namespace resolves a virtual path to the backend that owns it
// (spec §4.4 "Namespace Router"): tenant_id + virtual_path -> (backend_id,
// mount_point, relative_path, read_only) via longest-prefix match against the
// tenant's registered mounts. The default mount ("/") is implicit and maps
// to the system CAS backend.
package namespace

import (
	"context"
	"strings"
	"sync"

	radix "github.com/armon/go-radix"
	"github.com/nexi-lab/nexus/pkg/errtypes"
	"github.com/nexi-lab/nexus/pkg/metadata"
	"github.com/nexi-lab/nexus/pkg/nspath"
)

// DefaultBackendID names the implicit root mount's backend: the system CAS.
const DefaultBackendID = "cas"

// Resolution is the result of routing a virtual path.
type Resolution struct {
	BackendID    string
	MountPoint   string
	RelativePath string
	ReadOnly     bool
}

// Router resolves paths to backends, caching each tenant's mount
// table in a radix tree rebuilt on mount add/remove (spec §4.4 "cache is
// invalidated by mount add/remove").
type Router struct {
	meta *metadata.Store

	mu       sync.RWMutex
	byTenant map[string]*radix.Tree
}

// New constructs a Router reading mounts from meta on demand.
func New(meta *metadata.Store) *Router {
	return &Router{meta: meta, byTenant: make(map[string]*radix.Tree)}
}

// Resolve routes path for tenantID through the longest matching mount.
func (r *Router) Resolve(ctx context.Context, tenantID, path string) (Resolution, error) {
	normalized, err := nspath.Validate(path)
	if err != nil {
		return Resolution{}, err
	}

	tree, err := r.treeFor(ctx, tenantID)
	if err != nil {
		return Resolution{}, err
	}

	r.mu.RLock()
	mountPoint, val, found := tree.LongestPrefix(normalized)
	r.mu.RUnlock()

	if !found {
		return Resolution{
			BackendID:    DefaultBackendID,
			MountPoint:   "/",
			RelativePath: strings.TrimPrefix(normalized, "/"),
		}, nil
	}
	m := val.(metadata.Mount)
	if !nspath.HasPrefix(normalized, mountPoint) {
		// a radix LongestPrefix match is a raw string prefix; reject a match
		// that isn't also a path-component boundary (e.g. "/ws2" matching a
		// "/ws" mount key).
		return Resolution{
			BackendID:    DefaultBackendID,
			MountPoint:   "/",
			RelativePath: strings.TrimPrefix(normalized, "/"),
		}, nil
	}

	rel := strings.TrimPrefix(normalized, mountPoint)
	rel = strings.TrimPrefix(rel, "/")
	return Resolution{
		BackendID:    m.BackendID,
		MountPoint:   mountPoint,
		RelativePath: rel,
		ReadOnly:     m.ReadOnly,
	}, nil
}

func (r *Router) treeFor(ctx context.Context, tenantID string) (*radix.Tree, error) {
	r.mu.RLock()
	tree, ok := r.byTenant[tenantID]
	r.mu.RUnlock()
	if ok {
		return tree, nil
	}
	return r.rebuild(ctx, tenantID)
}

func (r *Router) rebuild(ctx context.Context, tenantID string) (*radix.Tree, error) {
	mounts, err := r.meta.ListMounts(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	tree := radix.New()
	for _, m := range mounts {
		tree.Insert(m.MountPoint, m)
	}
	r.mu.Lock()
	r.byTenant[tenantID] = tree
	r.mu.Unlock()
	return tree, nil
}

// Invalidate drops the cached mount table for a tenant, forcing the next
// Resolve to rebuild it from the metadata store (spec §4.4 "cache is
// invalidated by mount add/remove").
func (r *Router) Invalidate(tenantID string) {
	r.mu.Lock()
	delete(r.byTenant, tenantID)
	r.mu.Unlock()
}

// AddMount registers a new mount for tenantID and invalidates its cached
// routing table. Returns errtypes.AlreadyExists if the mount point
// collides, per spec §4.4 "a new mount must not have a prefix equal to an
// existing mount in the same tenant" (exact-prefix collision; a mount
// nested under another is allowed and simply shadows the outer one for
// paths below it).
func (r *Router) AddMount(ctx context.Context, m metadata.Mount) error {
	normalized, err := nspath.Validate(m.MountPoint)
	if err != nil {
		return err
	}
	m.MountPoint = normalized
	if normalized == "/" {
		return errtypes.InvalidArgument("cannot override the implicit root mount")
	}
	if err := r.meta.AddMount(ctx, m); err != nil {
		return err
	}
	r.Invalidate(m.TenantID)
	return nil
}

// RemoveMount unregisters a mount and invalidates the tenant's cache.
func (r *Router) RemoveMount(ctx context.Context, tenantID, mountPoint string) error {
	if err := r.meta.RemoveMount(ctx, tenantID, mountPoint); err != nil {
		return err
	}
	r.Invalidate(tenantID)
	return nil
}
