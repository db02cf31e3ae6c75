package rcload

import (
	"time"

	"github.com/beyondseo/rcengine/cache"
)

// State tracks where an entity is in the load cycle.
type State int

const (
	// StateNotPrepared is the initial (and post-reset) state.
	StateNotPrepared State = iota
	// StatePreparing marks an entity whose operations are being built.
	StatePreparing
	// StatePrepared marks an entity whose operations are in the batch.
	StatePrepared
	// StateCacheSatisfied marks an entity populated from cache.
	StateCacheSatisfied
	// StateRemoteSatisfied marks an entity populated from a remote call.
	StateRemoteSatisfied
	// StateUnsatisfied marks an entity whose load failed.
	StateUnsatisfied
	// StateLoaded marks a fully completed entity.
	StateLoaded
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateNotPrepared:
		return "not-prepared"
	case StatePreparing:
		return "preparing"
	case StatePrepared:
		return "prepared"
	case StateCacheSatisfied:
		return "cache-satisfied"
	case StateRemoteSatisfied:
		return "remote-satisfied"
	case StateUnsatisfied:
		return "unsatisfied"
	case StateLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Serialization selects how an entity's snapshot is encoded for the
// cache store.
type Serialization int

const (
	// SerializationJSON stores the snapshot as structured JSON.
	SerializationJSON Serialization = iota
	// SerializationOpaque stores the snapshot as an opaque msgpack blob.
	SerializationOpaque
)

// Settings is the per-entity loading state block. Every tree node owns
// exactly one. Configuration fields (cache eligibility, tier, TTL,
// merge limit, timeout) survive Reset; runtime fields do not.
type Settings struct {
	// ToBeLoaded marks the entity as wanting a load this cycle.
	ToBeLoaded bool
	// IsLoaded reports that loading completed. Mutually exclusive with
	// ToBeLoaded once a cycle finishes.
	IsLoaded bool
	// LoadedSuccessfully reports whether the last load succeeded.
	LoadedSuccessfully bool
	// LoadedFromCache reports that the entity was satisfied from cache.
	LoadedFromCache bool

	// ChildrenToLoad and ChildrenLoaded drive bottom-up completion
	// detection. ChildrenLoaded never exceeds ChildrenToLoad.
	ChildrenToLoad int
	ChildrenLoaded int

	// Cacheable enables caching for this entity.
	Cacheable bool
	// CacheTier selects which tier(s) the entity caches to.
	CacheTier cache.Tier
	// CacheTTL bounds the entity's cache entry validity.
	CacheTTL time.Duration
	// Serialization selects the cache payload encoding.
	Serialization Serialization

	// MergeLimit is the entity-declared merge limit for its endpoint
	// group. Values below 1 mean no merging.
	MergeLimit int
	// Timeout bounds each of the entity's remote calls. Zero means no
	// timeout.
	Timeout time.Duration

	marked bool
	state  State
}

// MarkForLoad flags the entity for loading in the next cycle. The mark
// survives Reset so a failed cycle leaves the entity cleanly pending.
func (s *Settings) MarkForLoad() {
	s.marked = true
	s.ToBeLoaded = true
}

// Unmark removes the load intent.
func (s *Settings) Unmark() {
	s.marked = false
	s.ToBeLoaded = false
}

// State returns the entity's position in the load cycle.
func (s *Settings) State() State { return s.state }

func (s *Settings) setState(state State) { s.state = state }

// Reset clears all runtime state, restoring the pre-load condition.
// Configuration (cache tier, TTL, merge limit, timeout, load intent)
// is preserved.
func (s *Settings) Reset() {
	s.ToBeLoaded = s.marked
	s.IsLoaded = false
	s.LoadedSuccessfully = false
	s.LoadedFromCache = false
	s.ChildrenToLoad = 0
	s.ChildrenLoaded = 0
	s.state = StateNotPrepared
}
