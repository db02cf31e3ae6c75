package rcload

import (
	"context"
	"log/slog"

	"github.com/beyondseo/rcengine/cache"
)

// CacheBatch collects per-entity durable-tier lookup intents and
// resolves them in a single multi-get round trip.
type CacheBatch struct {
	store cache.Store
	nodes map[string]Loadable
	order []string
	log   *slog.Logger
}

// NewCacheBatch creates an empty cache batch over the store.
func NewCacheBatch(store cache.Store, log *slog.Logger) *CacheBatch {
	if log == nil {
		log = slog.Default()
	}
	return &CacheBatch{
		store: store,
		nodes: make(map[string]Loadable),
		log:   log,
	}
}

// AddOperation enqueues node's cache lookup. A cache key already
// present is silently ignored; the first entity wins.
func (b *CacheBatch) AddOperation(node Loadable) {
	key := node.CacheKey()
	if _, dup := b.nodes[key]; dup {
		return
	}
	b.nodes[key] = node
	b.order = append(b.order, key)
}

// Len returns the number of accumulated lookups.
func (b *CacheBatch) Len() int { return len(b.nodes) }

// Execute issues exactly one multi-get across all accumulated keys and
// hands every hit to satisfy. Entities whose keys are absent are left
// untouched so they fall through to the remote engine. An empty batch
// is a no-op. Store errors propagate.
func (b *CacheBatch) Execute(ctx context.Context, satisfy func(node Loadable, payload []byte)) error {
	if len(b.nodes) == 0 {
		return nil
	}
	results, err := b.store.GetMulti(ctx, b.order)
	if err != nil {
		return err
	}
	if results == nil {
		return nil
	}
	for _, key := range b.order {
		payload, ok := results[key]
		if !ok {
			continue
		}
		satisfy(b.nodes[key], payload)
	}
	return nil
}
