// Package registry is the node registry (spec.md §4.3): one record per
// known worker MAC address, kept authoritative in pkg/store and mirrored
// into an in-memory cache so reads never block on SQL.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/meek/pkg/cache"
	"github.com/cuemby/meek/pkg/log"
	"github.com/cuemby/meek/pkg/store"
	"github.com/cuemby/meek/pkg/types"
)

// CacheTTL is the in-memory snapshot cache's refresh interval
// (spec.md §4.3: "~30s").
const CacheTTL = 30 * time.Second

// Registry writes node rows for connection and heartbeat messages and
// serves cached node reads. pkg/health marks stale nodes offline and
// lists nodes through the store directly, not through the Registry.
type Registry struct {
	store  store.Store
	cache  *cache.Client // optional, nil disables the Redis mirror
	logger zerolog.Logger

	mu        sync.RWMutex
	byMAC     map[string]*types.Node
	refreshed time.Time
}

// New creates a Registry backed by s. redisClient may be nil, in which
// case only the in-process cache (not the Redis mirror) is used.
func New(s store.Store, redisClient *cache.Client) *Registry {
	return &Registry{
		store:  s,
		cache:  redisClient,
		logger: log.WithComponent("registry"),
		byMAC:  make(map[string]*types.Node),
	}
}

// Get returns the node for mac, refreshing the in-memory snapshot from
// the store first if it is stale or missing the entry.
func (r *Registry) Get(ctx context.Context, mac string) (*types.Node, error) {
	r.mu.RLock()
	n, ok := r.byMAC[mac]
	stale := time.Since(r.refreshed) > CacheTTL
	r.mu.RUnlock()

	if ok && !stale {
		return n, nil
	}

	if err := r.refresh(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if n, ok := r.byMAC[mac]; ok {
		return n, nil
	}
	return nil, store.ErrNotFound
}

// List returns a snapshot of every known node, refreshing first if
// stale.
func (r *Registry) List(ctx context.Context) ([]*types.Node, error) {
	r.mu.RLock()
	stale := time.Since(r.refreshed) > CacheTTL || len(r.byMAC) == 0
	r.mu.RUnlock()

	if stale {
		if err := r.refresh(ctx); err != nil {
			return nil, err
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Node, 0, len(r.byMAC))
	for _, n := range r.byMAC {
		out = append(out, n)
	}
	return out, nil
}

// ListOnline returns every node currently marked online, bypassing
// the in-memory cache to avoid acting on a stale offline node.
func (r *Registry) ListOnline(ctx context.Context) ([]*types.Node, error) {
	return r.store.ListOnlineNodes(ctx)
}

func (r *Registry) refresh(ctx context.Context) error {
	nodes, err := r.store.ListNodes(ctx)
	if err != nil {
		return err
	}

	byMAC := make(map[string]*types.Node, len(nodes))
	for _, n := range nodes {
		byMAC[n.MACAddress] = n
	}

	r.mu.Lock()
	r.byMAC = byMAC
	r.refreshed = time.Now()
	r.mu.Unlock()
	return nil
}

// put installs n into the in-memory cache and, if configured, mirrors
// it into Redis under node:{mac} per SPEC_FULL.md §3.2.
func (r *Registry) put(ctx context.Context, n *types.Node) {
	r.mu.Lock()
	r.byMAC[n.MACAddress] = n
	r.mu.Unlock()

	if r.cache == nil {
		return
	}
	if data, err := marshalNode(n); err == nil {
		if err := r.cache.Set(ctx, cache.NodeKey(n.MACAddress), data, CacheTTL); err != nil {
			r.logger.Warn().Err(err).Str("mac", n.MACAddress).Msg("failed to mirror node to cache")
		}
	}
}
