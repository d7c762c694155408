package rebac

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nexi-lab/nexus/pkg/errtypes"
	"github.com/nexi-lab/nexus/pkg/metadata"
)

// RelationKind names one of the rewrite rule shapes a relation definition
// can take (spec §3 "Namespace config").
type RelationKind string

const (
	KindDirect        RelationKind = "direct"
	KindUnion         RelationKind = "union"
	KindIntersection  RelationKind = "intersection"
	KindExclusion     RelationKind = "exclusion"
	KindArrow         RelationKind = "arrow"
	KindHierarchical  RelationKind = "hierarchical"
)

// RelationDef is one relation's rewrite rule within an object type's
// namespace config.
type RelationDef struct {
	Kind RelationKind `json:"kind"`

	// Children names the sub-relations/permissions combined by Union or
	// Intersection, in order.
	Children []string `json:"children,omitempty"`

	// For Exclusion: Base "A" minus Subtract "B" (A and not B).
	Base     string `json:"base,omitempty"`
	Subtract string `json:"subtract,omitempty"`

	// For Arrow ("R -> P"): follow every tuple of relation Via from the
	// object, then evaluate Then on the related object.
	Via  string `json:"via,omitempty"`
	Then string `json:"then,omitempty"`

	// CrossTenant allows this relation to be traversed across a tenant
	// boundary when the bridging tuple's subject and object tenants are
	// explicitly whitelisted for each other (spec §4.5 "Tenant isolation").
	CrossTenant bool `json:"cross_tenant,omitempty"`
}

// ObjectTypeConfig is the full namespace config for one object_type: a map
// from relation/permission name to its definition.
type ObjectTypeConfig struct {
	ObjectType string                 `json:"object_type"`
	Relations  map[string]RelationDef `json:"relations"`
}

// ParentRelation is the built-in synthetic relation on file objects that
// inherits from the parent directory (spec §3 "Built-in parent relation").
const ParentRelation = "parent"

// DenyInheritRelation, when present as a tuple on an object, stops upward
// hierarchical inheritance at that object (spec §4.5 "a deny-inherit
// marker").
const DenyInheritRelation = "deny-inherit"

// namespaces caches object-type configs in memory, warmed at startup from
// the metadata store and kept current by explicit Put calls — mirroring
// the read-through, explicitly-invalidated cache shape used by
// pkg/namespace's mount router.
type namespaces struct {
	meta *metadata.Store

	mu   sync.RWMutex
	byType map[string]ObjectTypeConfig
}

func newNamespaces(meta *metadata.Store) *namespaces {
	return &namespaces{meta: meta, byType: make(map[string]ObjectTypeConfig)}
}

// Warm loads every registered namespace config into memory, called once at
// engine startup.
func (n *namespaces) Warm(ctx context.Context) error {
	all, err := n.meta.ListNamespaceConfigs(ctx)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for objectType, raw := range all {
		var cfg ObjectTypeConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return errtypes.Internal("unmarshal namespace config for " + objectType + ": " + err.Error())
		}
		n.byType[objectType] = cfg
	}
	return nil
}

// Put registers or replaces an object type's config, both in the metadata
// store and the in-memory cache.
func (n *namespaces) Put(ctx context.Context, cfg ObjectTypeConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return errtypes.InvalidArgument("marshal namespace config: " + err.Error())
	}
	if err := n.meta.PutNamespaceConfig(ctx, cfg.ObjectType, string(raw)); err != nil {
		return err
	}
	n.mu.Lock()
	n.byType[cfg.ObjectType] = cfg
	n.mu.Unlock()
	return nil
}

// Get returns the config for an object type, falling back to the metadata
// store on a cache miss (e.g. when another process wrote it).
func (n *namespaces) Get(ctx context.Context, objectType string) (ObjectTypeConfig, error) {
	n.mu.RLock()
	cfg, ok := n.byType[objectType]
	n.mu.RUnlock()
	if ok {
		return cfg, nil
	}
	raw, err := n.meta.GetNamespaceConfig(ctx, objectType)
	if err != nil {
		return ObjectTypeConfig{}, err
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return ObjectTypeConfig{}, errtypes.Internal("unmarshal namespace config: " + err.Error())
	}
	n.mu.Lock()
	n.byType[objectType] = cfg
	n.mu.Unlock()
	return cfg, nil
}

// List returns every registered object type's config.
func (n *namespaces) List(ctx context.Context) ([]ObjectTypeConfig, error) {
	all, err := n.meta.ListNamespaceConfigs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ObjectTypeConfig, 0, len(all))
	for objectType, raw := range all {
		var cfg ObjectTypeConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, errtypes.Internal("unmarshal namespace config for " + objectType + ": " + err.Error())
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Delete removes an object type's config.
func (n *namespaces) Delete(ctx context.Context, objectType string) error {
	n.mu.Lock()
	delete(n.byType, objectType)
	n.mu.Unlock()
	return n.meta.DeleteNamespaceConfig(ctx, objectType)
}
