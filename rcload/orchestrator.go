package rcload

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/beyondseo/rcengine/cache"
	"github.com/beyondseo/rcengine/rcbatch"
)

// Config holds the orchestrator's configuration. What used to be
// process-wide static state in earlier incarnations of this engine
// (always-load type lists, the executed-call log) is explicit here and
// in the injected Observer.
type Config struct {
	// MaxCallsPerRound caps the call units per dispatch round.
	// Default: rcbatch.DefaultMaxCallsPerRound.
	MaxCallsPerRound int

	// DefaultTimeout bounds remote calls for entities that declare no
	// timeout of their own. Zero means unlimited.
	DefaultTimeout time.Duration

	// FailureTTL is the short validity window of the empty cache entry
	// written after a failed load, so repeated failing loads do not
	// hammer the backend.
	FailureTTL time.Duration

	// AlwaysLoad lists entity type names (reflect.Type.String form)
	// that are marked for loading on every walk, whether or not domain
	// code flagged them.
	AlwaysLoad []string
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		MaxCallsPerRound: rcbatch.DefaultMaxCallsPerRound,
		FailureTTL:       30 * time.Second,
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.MaxCallsPerRound, validation.Min(1)),
		validation.Field(&c.FailureTTL, validation.Min(time.Duration(0))),
	)
}

// Orchestrator walks an entity tree, satisfies what it can from the
// tiered cache, batches the rest into remote calls and propagates
// completion bottom-up as responses arrive.
type Orchestrator struct {
	store      cache.Store
	transport  rcbatch.Transport
	cfg        Config
	alwaysLoad map[string]bool
	observer   rcbatch.Observer
	metrics    *rcbatch.Metrics
	log        *slog.Logger
	now        func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithObserver installs the executed-call observer.
func WithObserver(observer rcbatch.Observer) Option {
	return func(o *Orchestrator) { o.observer = observer }
}

// WithMetrics installs the engine metrics collectors.
func WithMetrics(metrics *rcbatch.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = metrics }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator over the given store and transport.
func New(store cache.Store, transport rcbatch.Transport, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		store:      store,
		transport:  transport,
		cfg:        cfg,
		alwaysLoad: make(map[string]bool, len(cfg.AlwaysLoad)),
		observer:   rcbatch.NopObserver{},
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, name := range cfg.AlwaysLoad {
		o.alwaysLoad[name] = true
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Load runs one full load cycle on the tree rooted at root. On return
// the tree is either fully updated or, when the remote batch failed,
// cleanly reset to its pre-load state with the error propagated.
func (o *Orchestrator) Load(ctx context.Context, root Loadable) error {
	_, err := o.load(ctx, root, rcbatch.ExecuteOptions{})
	return err
}

// Plan builds the full call plan for the tree without executing it.
// The cache pass still runs, so the plan reflects what a real load
// would actually send.
func (o *Orchestrator) Plan(ctx context.Context, root Loadable) ([]*rcbatch.Call, error) {
	result, err := o.load(ctx, root, rcbatch.ExecuteOptions{DisplayCall: true})
	if err != nil {
		return nil, err
	}
	return result.Plan, nil
}

// RawResponses executes the first round and returns its raw response
// set without routing anything back to the entities.
func (o *Orchestrator) RawResponses(ctx context.Context, root Loadable) (rcbatch.ResponseSet, error) {
	result, err := o.load(ctx, root, rcbatch.ExecuteOptions{DisplayResponse: true})
	if err != nil {
		return nil, err
	}
	return result.Raw, nil
}

func (o *Orchestrator) load(ctx context.Context, root Loadable, opts rcbatch.ExecuteOptions) (*rcbatch.ExecuteResult, error) {
	o.resetTree(root)

	batch, err := o.prepare(ctx, root)
	if err != nil {
		o.resetTree(root)
		return nil, err
	}

	opts.OperationType = rcbatch.OperationLoad
	opts.Timeout = o.cfg.DefaultTimeout
	opts.MaxCallsPerRound = o.cfg.MaxCallsPerRound

	result, err := batch.Execute(ctx, o.transport, o.observer, o.metrics, opts)
	if err != nil {
		// The tree must never be left with half-initialized settings
		// after a failed load.
		o.resetTree(root)
		return nil, fmt.Errorf("rcload: executing remote batch: %w", err)
	}
	if opts.DisplayCall || opts.DisplayResponse {
		return result, nil
	}

	// A root with no remote call of its own (a pure aggregator, or an
	// entity whose payload suppressed the call) still completes, so
	// caching and parent notification semantics hold for callers
	// embedding this tree in a larger one.
	s := root.Settings()
	if !s.LoadedFromCache && len(root.LoadEndpoint()) == 0 && !s.IsLoaded {
		o.completeNode(ctx, root, true, false, true)
	}
	return result, nil
}

// prepare builds and resolves the cache batch for the whole tree, then
// builds the remote batch. The cache always resolves before any remote
// operation is even constructed, so cache-satisfied entities never
// schedule a wasted call.
func (o *Orchestrator) prepare(ctx context.Context, root Loadable) (*rcbatch.Batch, error) {
	s := root.Settings()
	if s.IsLoaded || s.State() != StateNotPrepared {
		return rcbatch.NewBatch(rcbatch.WithBatchLogger(o.log)), nil
	}
	s.setState(StatePreparing)

	cacheBatch := NewCacheBatch(o.store, o.log)
	if err := o.collectCacheOps(ctx, newArena(), root, cacheBatch); err != nil {
		return nil, err
	}
	if err := cacheBatch.Execute(ctx, func(node Loadable, payload []byte) {
		o.satisfyFromCache(ctx, node, payload)
	}); err != nil {
		return nil, err
	}

	batch := rcbatch.NewBatch(rcbatch.WithBatchLogger(o.log))
	if err := o.collectRemoteOps(ctx, newArena(), root, batch); err != nil {
		return nil, err
	}
	if root.Settings().State() == StatePreparing {
		root.Settings().setState(StatePrepared)
	}
	return batch, nil
}

// arena assigns each node a stable integer id on entry to the walk and
// tracks visited ids, so cyclic entity graphs (parent/child
// back-references) terminate without relying on anything beyond plain
// map lookups.
type arena struct {
	ids     map[Loadable]int
	next    int
	visited map[int]bool
}

func newArena() *arena {
	return &arena{ids: make(map[Loadable]int), visited: make(map[int]bool)}
}

// enter returns false when the node was already visited this walk.
func (a *arena) enter(node Loadable) bool {
	id, ok := a.ids[node]
	if !ok {
		id = a.next
		a.next++
		a.ids[node] = id
	}
	if a.visited[id] {
		return false
	}
	a.visited[id] = true
	return true
}

// collectCacheOps is the cache pass of the tree walk. Fast-tier reads
// happen synchronously per node (they are low-latency); durable-tier
// reads are enqueued into the shared batch for a single round trip.
func (o *Orchestrator) collectCacheOps(ctx context.Context, a *arena, node Loadable, batch *CacheBatch) error {
	if !a.enter(node) {
		return nil
	}
	o.applyAlwaysLoad(node)

	s := node.Settings()
	if s.ToBeLoaded && !s.IsLoaded && s.Cacheable && s.CacheTier != cache.TierNone {
		if s.CacheTier.IncludesFast() {
			entry, err := o.store.Get(ctx, node.CacheKey(), cache.TierFast)
			if err != nil {
				return err
			}
			if entry != nil {
				if entry.Expired(o.now()) {
					if err := o.store.Delete(ctx, node.CacheKey(), cache.TierFast); err != nil {
						return err
					}
				} else {
					o.satisfyFromCache(ctx, node, entry.Payload)
				}
			}
		}
		if !s.LoadedFromCache && s.CacheTier.IncludesDurable() {
			batch.AddOperation(node)
		}
	}

	for _, child := range node.Children() {
		if err := o.collectCacheOps(ctx, a, child, batch); err != nil {
			return err
		}
	}
	return nil
}

// collectRemoteOps is the remote pass. Children recurse first so their
// operations precede the parent's in the batch, and so the parent's
// completion counters are settled before its own call is appended.
func (o *Orchestrator) collectRemoteOps(ctx context.Context, a *arena, node Loadable, batch *rcbatch.Batch) error {
	if !a.enter(node) {
		return nil
	}
	s := node.Settings()

	for _, child := range node.Children() {
		if err := o.collectRemoteOps(ctx, a, child, batch); err != nil {
			return err
		}
		cs := child.Settings()
		if cs.ToBeLoaded || cs.IsLoaded {
			s.ChildrenToLoad++
			if cs.IsLoaded {
				s.ChildrenLoaded++
			}
		}
	}

	endpoints := node.LoadEndpoint()
	if s.ToBeLoaded && !s.IsLoaded && len(endpoints) > 0 {
		if payload := node.LoadPayload(); payload != nil {
			if err := o.buildOperations(ctx, node, endpoints, payload, batch); err != nil {
				return err
			}
			s.setState(StatePrepared)
		}
	}

	// A pure aggregator whose children were all satisfied from cache
	// sees no response of its own and no further child completions; its
	// completion fires here, after its subtree settled. The parent is
	// not notified: its own loop counts this node as loaded once the
	// recursion returns, and notifying as well would count it twice.
	if !s.IsLoaded && len(endpoints) == 0 && s.ChildrenToLoad > 0 && s.ChildrenLoaded == s.ChildrenToLoad {
		o.completeNode(ctx, node, true, false, false)
	}
	return nil
}

// buildOperations expands the endpoint descriptor into one operation
// per variant. Variant extras merge recursively into the base payload
// and fold into the correlation key so each variant routes on its own.
func (o *Orchestrator) buildOperations(ctx context.Context, node Loadable, endpoints []EndpointVariant, payload map[string]any, batch *rcbatch.Batch) error {
	s := node.Settings()
	for _, variant := range endpoints {
		params := payload
		if variant.Extra != nil {
			params = rcbatch.MergeParams(params, variant.Extra)
		}
		id := node.CacheKey()
		if len(endpoints) > 1 || variant.Extra != nil {
			id = fmt.Sprintf("%s_%016x", id, variant.fingerprint())
		}

		endpoint, params, err := expandPath(variant.Path, params)
		if err != nil {
			return err
		}

		general, _ := params[generalParamsKey].(map[string]any)
		if general != nil {
			stripped := make(map[string]any, len(params)-1)
			for k, v := range params {
				if k == generalParamsKey {
					continue
				}
				stripped[k] = v
			}
			params = stripped
		}

		if err := batch.AddOperation(&rcbatch.Operation{
			CorrelationID: id,
			Endpoint:      endpoint,
			Params:        params,
			GeneralParams: general,
			MergeLimit:    s.MergeLimit,
			Timeout:       s.Timeout,
			Responder:     &nodeResponder{ctx: ctx, o: o, node: node},
		}); err != nil {
			return err
		}
	}
	return nil
}

// generalParamsKey is the payload sub-map carrying the shared context
// that must match across merge candidates.
const generalParamsKey = "general"

// satisfyFromCache populates node from a cached payload. The
// loaded-from-cache flag is set before anything else so the remote pass
// never schedules a duplicate call for this node.
func (o *Orchestrator) satisfyFromCache(ctx context.Context, node Loadable, payload []byte) {
	s := node.Settings()
	if s.IsLoaded {
		return
	}
	// An empty entry still inside its validity window is a failure
	// marker: the previous cycle completed without data, and the entity
	// is not retried until the marker expires.
	if len(payload) == 0 {
		s.LoadedFromCache = true
		s.setState(StateCacheSatisfied)
		o.completeNode(ctx, node, false, true, false)
		return
	}
	if err := node.PopulateFromCache(payload); err != nil {
		o.log.Warn("rcload: cache payload rejected, falling through to remote",
			"key", node.CacheKey(), "error", err)
		return
	}
	s.LoadedFromCache = true
	s.setState(StateCacheSatisfied)
	o.completeNode(ctx, node, true, true, false)
}

// completeNode is the universal completion tail: it settles the
// entity's flags, writes the outcome back to the cache (unless the
// result itself came from cache) and, when notifyParent is set, reports
// the completion upward. Completions that fire while the tree walk is
// still counting children pass notifyParent false, since the walk
// itself records them in the parent's counters.
func (o *Orchestrator) completeNode(ctx context.Context, node Loadable, success, fromCache, notifyParent bool) {
	s := node.Settings()
	if s.IsLoaded {
		return
	}
	s.IsLoaded = true
	s.ToBeLoaded = false
	s.LoadedSuccessfully = success
	if !fromCache {
		if success {
			s.setState(StateRemoteSatisfied)
		} else {
			s.setState(StateUnsatisfied)
		}
	}

	if !fromCache && s.Cacheable && s.CacheTier != cache.TierNone {
		o.writeBack(ctx, node, success)
	}
	s.setState(StateLoaded)

	if listener, ok := node.(CompletionListener); ok {
		listener.LoadCompleted(success, fromCache)
	}

	if parent := node.Parent(); parent != nil && notifyParent {
		o.incLoadedChildren(ctx, parent)
	}
}

// writeBack snapshots the load outcome into the cache: the serialized
// entity on success, an empty short-lived entry on failure so the next
// cycles short-circuit instead of repeating a failing call.
func (o *Orchestrator) writeBack(ctx context.Context, node Loadable, success bool) {
	s := node.Settings()
	if !success {
		if err := o.store.Set(ctx, node.CacheKey(), nil, o.cfg.FailureTTL, s.CacheTier); err != nil {
			o.log.Warn("rcload: caching failure marker failed", "key", node.CacheKey(), "error", err)
		}
		return
	}
	body, err := node.CacheBody()
	if err != nil {
		o.log.Warn("rcload: snapshot failed", "key", node.CacheKey(), "error", err)
		return
	}
	blob, err := EncodeCacheBody(s.Serialization, body)
	if err != nil {
		o.log.Warn("rcload: snapshot encoding failed", "key", node.CacheKey(), "error", err)
		return
	}
	if blob == nil {
		return
	}
	if err := o.store.Set(ctx, node.CacheKey(), blob, s.CacheTTL, s.CacheTier); err != nil {
		o.log.Warn("rcload: snapshot write failed", "key", node.CacheKey(), "error", err)
	}
}

// incLoadedChildren records one child completion on parent. When the
// last pending child reports in and the parent has no remote call of
// its own, the parent completes purely by virtue of its children.
func (o *Orchestrator) incLoadedChildren(ctx context.Context, parent Loadable) {
	s := parent.Settings()
	if s.ChildrenLoaded >= s.ChildrenToLoad {
		return
	}
	s.ChildrenLoaded++
	if s.ChildrenLoaded == s.ChildrenToLoad && len(parent.LoadEndpoint()) == 0 && !s.IsLoaded {
		o.completeNode(ctx, parent, true, false, true)
	}
}

// applyAlwaysLoad force-marks nodes whose type is configured to load on
// every cycle.
func (o *Orchestrator) applyAlwaysLoad(node Loadable) {
	if len(o.alwaysLoad) == 0 {
		return
	}
	if o.alwaysLoad[reflect.TypeOf(node).String()] {
		node.Settings().MarkForLoad()
	}
}

// resetTree restores every node's settings to the pre-load state.
func (o *Orchestrator) resetTree(root Loadable) {
	a := newArena()
	var walk func(node Loadable)
	walk = func(node Loadable) {
		if !a.enter(node) {
			return
		}
		node.Settings().Reset()
		for _, child := range node.Children() {
			walk(child)
		}
	}
	walk(root)
}

// nodeResponder routes a batch response into the node's matching
// handler and, for loads, drives the completion tail.
type nodeResponder struct {
	ctx  context.Context
	o    *Orchestrator
	node Loadable
}

// HandleResponse implements rcbatch.Responder.
func (r *nodeResponder) HandleResponse(opType rcbatch.OperationType, raw json.RawMessage) error {
	switch opType {
	case rcbatch.OperationLoad:
		err := r.node.HandleLoadResponse(raw)
		r.o.completeNode(r.ctx, r.node, err == nil, false, true)
		return err
	case rcbatch.OperationCreate:
		return r.node.HandleCreateResponse(raw)
	case rcbatch.OperationUpdate:
		return r.node.HandleUpdateResponse(raw)
	case rcbatch.OperationDelete:
		return r.node.HandleDeleteResponse(raw)
	case rcbatch.OperationSynchronize:
		return r.node.HandleSynchronizeResponse(raw)
	default:
		return fmt.Errorf("rcload: unknown operation type %d", opType)
	}
}
