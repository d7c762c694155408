package rebac

import (
	"time"

	"github.com/bluele/gcache"
	"github.com/dgraph-io/ristretto"
	"github.com/jellydator/ttlcache/v2"
)

// quantizeWindow rounds wall-clock time up to the next window boundary so
// concurrent checks share subproblem cache entries (spec §4.5 "Quantization
// rounds wall-clock up to the next 5-second boundary").
const quantizeWindow = 5 * time.Second

func quantizedNow() int64 {
	now := time.Now()
	rounded := now.Truncate(quantizeWindow).Add(quantizeWindow)
	return rounded.Unix()
}

// caches bundles the permission engine's four cache layers (spec §4.5
// "Caches" 1-4). Each is independently sized and independently bypassable
// (fully_consistent skips the subproblem cache entirely).
type caches struct {
	// subproblems maps (tenant,subject,permission,object,quantized_revision)
	// to an allow/deny bool — the largest and hottest of the four.
	subproblems *ristretto.Cache

	// groupClosure maps "tenant|subject" to a snapshot []Object of groups
	// the subject transitively belongs to.
	groupClosure gcache.Cache

	// hotObjects maps "permission|object" to a packed set of subject keys
	// already proven authorized, grown inline by Check on each allow.
	hotObjects *ttlcache.Cache
}

func newCaches() (*caches, error) {
	sub, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     1 << 26,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	hot := ttlcache.NewCache()
	hot.SetTTL(30 * time.Second)
	return &caches{
		subproblems:  sub,
		groupClosure: gcache.New(100000).LRU().Build(),
		hotObjects:   hot,
	}, nil
}

func (c *caches) getSubproblem(key string) (bool, bool) {
	v, ok := c.subproblems.Get(key)
	if !ok {
		return false, false
	}
	return v.(bool), true
}

func (c *caches) setSubproblem(key string, allowed bool) {
	c.subproblems.Set(key, allowed, 1)
}

func (c *caches) getGroupClosure(key string) ([]Object, bool) {
	v, err := c.groupClosure.Get(key)
	if err != nil {
		return nil, false
	}
	return v.([]Object), true
}

func (c *caches) setGroupClosure(key string, groups []Object) {
	_ = c.groupClosure.SetWithExpire(key, groups, 5*time.Minute)
}

func (c *caches) invalidateGroupClosure(key string) {
	c.groupClosure.Remove(key)
}

func (c *caches) getHotObjectSet(key string) (map[string]struct{}, bool) {
	v, err := c.hotObjects.Get(key)
	if err != nil {
		return nil, false
	}
	return v.(map[string]struct{}), true
}

func (c *caches) setHotObjectSet(key string, subjects map[string]struct{}) {
	_ = c.hotObjects.Set(key, subjects)
}

func (c *caches) invalidateHotObjectSet(key string) {
	_ = c.hotObjects.Remove(key)
}

// invalidateObjectFrontier runs on every tuple write. Subproblem-cache
// entries can't be targeted individually (ristretto has no prefix-scan), so
// invalidation for the subproblem cache is left to quantization's staleness
// bound (spec §4.5 "the quantization window bounds staleness even without
// explicit invalidation"). The hot-object layer is purged whole, since a
// write on one object can change permissions on others through arrow and
// userset rules; the group-closure layer is invalidated by the caller
// (Engine.invalidate).
func (c *caches) invalidateObjectFrontier(objectKey string) {
	_ = c.hotObjects.Purge()
}
