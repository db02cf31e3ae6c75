package cache

import (
	"context"
	"time"
)

// Tier selects which cache backend(s) an operation touches.
type Tier int

const (
	// TierNone disables caching for the operation.
	TierNone Tier = iota
	// TierFast is the in-process, capacity-constrained tier.
	TierFast
	// TierDurable is the shared, persistent tier.
	TierDurable
	// TierBoth addresses the fast and the durable tier together.
	TierBoth
)

// IncludesFast reports whether the tier addresses the fast backend.
func (t Tier) IncludesFast() bool { return t == TierFast || t == TierBoth }

// IncludesDurable reports whether the tier addresses the durable backend.
func (t Tier) IncludesDurable() bool { return t == TierDurable || t == TierBoth }

// String returns the string representation of the tier.
func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierFast:
		return "fast"
	case TierDurable:
		return "durable"
	case TierBoth:
		return "both"
	default:
		return "unknown"
	}
}

// Entry is a single cached value together with its validity metadata.
type Entry struct {
	// Key is the logical (unencoded) cache key.
	Key string
	// Tier records which backend the entry was found at.
	Tier Tier
	// Payload is the opaque cached blob. An empty payload marks a
	// negative entry (a load that completed without data).
	Payload []byte
	// ValidUntil is the timestamp past which the entry is stale.
	// The zero value means the entry does not expire.
	ValidUntil time.Time
	// Loaded reports whether the originating load completed successfully.
	Loaded bool
}

// Expired reports whether the entry is past its validity window at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ValidUntil.IsZero() && now.After(e.ValidUntil)
}

// Empty reports whether the entry carries no payload.
func (e *Entry) Empty() bool { return len(e.Payload) == 0 }

// Backend is the minimal key-value contract a cache tier must satisfy.
// Values are opaque byte slices; keys arrive already encoded for
// storage-backend safety.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Store is the tiered cache consumed, among others, by the load
// orchestrator. Backend errors are not wrapped here; they propagate to
// the caller. A miss or an expired entry is a nil result, not an error.
type Store interface {
	// Get resolves key against the selected tier(s). For TierBoth the
	// fast tier is consulted first; a durable hit backfills the fast
	// tier before returning.
	Get(ctx context.Context, key string, tier Tier) (*Entry, error)

	// GetMulti issues one multi-key fetch against the durable tier and
	// backfills the fast tier individually for every hit. It returns
	// nil when the underlying fetch yields nothing.
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)

	// Set writes payload under key to the selected tier(s). The fast
	// tier TTL is clamped to the store's configured maximum.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration, tier Tier) error

	// Delete removes key from the selected tier(s).
	Delete(ctx context.Context, key string, tier Tier) error
}
