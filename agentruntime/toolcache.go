package agentruntime

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/rmap"

	"github.com/choreoflow/choreoctl/cperrors"
)

// ToolCache caches platform tool id-by-name in a Pulse replicated map so
// every control-plane node shares one view without each re-listing tools on
// every bootstrap (spec §9: "lazy-discovered tool IDs via runtime listing:
// cache platform tool id-by-name at adapter construction with a small TTL;
// invalidate on create"). Grounded on the teacher's registry.Registry use of
// rmap.Join for its health/registry maps (registry/registry.go).
type ToolCache struct {
	m       *rmap.Map
	rt      Runtime
	ttl     time.Duration
	refreshed time.Time
}

// NewToolCache joins (or creates) the replicated map named name and
// populates it from rt on first use.
func NewToolCache(ctx context.Context, rdb *redis.Client, name string, rt Runtime, ttl time.Duration) (*ToolCache, error) {
	m, err := rmap.Join(ctx, name, rdb)
	if err != nil {
		return nil, cperrors.Wrap(cperrors.KindBackendError, err, "join tool cache map %q", name)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &ToolCache{m: m, rt: rt, ttl: ttl}
	return c, nil
}

// Close releases the underlying replicated map's subscriptions.
func (c *ToolCache) Close() {
	c.m.Close()
}

// Lookup returns the tool id for name, refreshing the cache from the
// agent-runtime adapter if it is empty or older than ttl.
func (c *ToolCache) Lookup(ctx context.Context, name string) (string, error) {
	if id, ok := c.m.Get(name); ok {
		return id, nil
	}
	if err := c.refresh(ctx); err != nil {
		return "", err
	}
	id, ok := c.m.Get(name)
	if !ok {
		return "", cperrors.New(cperrors.KindNotFound, "tool %q not registered", name)
	}
	return id, nil
}

// Invalidate forces the next Lookup to refresh from the adapter, per the
// "invalidate on create" policy in spec §9.
func (c *ToolCache) Invalidate() {
	c.refreshed = time.Time{}
}

func (c *ToolCache) refresh(ctx context.Context) error {
	if !c.refreshed.IsZero() && time.Since(c.refreshed) < c.ttl {
		return nil
	}
	ids, err := c.rt.ListToolIDs(ctx)
	if err != nil {
		return err
	}
	for name, id := range ids {
		if _, err := c.m.Set(ctx, name, id); err != nil {
			return cperrors.Wrap(cperrors.KindBackendError, err, "cache tool %q", name)
		}
	}
	c.refreshed = time.Now()
	return nil
}
