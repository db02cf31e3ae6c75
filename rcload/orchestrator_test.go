package rcload_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/beyondseo/rcengine/cache"
	"github.com/beyondseo/rcengine/pkg/testsupport"
	"github.com/beyondseo/rcengine/rcload"
)

type fixture struct {
	orchestrator *rcload.Orchestrator
	store        cache.Store
	fast         *testsupport.FakeBackend
	durable      *testsupport.FakeBackend
	transport    *testsupport.FakeTransport
	clock        *testsupport.ManualClock
	events       []string
}

func newFixture(t *testing.T, cfg rcload.Config) *fixture {
	t.Helper()
	f := &fixture{
		clock:     testsupport.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		transport: testsupport.NewFakeTransport(),
	}
	f.fast = testsupport.NewFakeBackend(f.clock.Now)
	f.durable = testsupport.NewFakeBackend(f.clock.Now)

	cacheCfg := cache.DefaultConfig()
	cacheCfg.Salt = "test"
	store, err := cache.NewStore(f.fast, f.durable, cacheCfg, cache.WithClock(f.clock.Now))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	f.store = store

	orchestrator, err := rcload.New(store, f.transport, cfg, rcload.WithClock(f.clock.Now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.orchestrator = orchestrator
	return f
}

// entity creates a marked, cacheable node with a bare legacy endpoint.
func (f *fixture) entity(key string) *testsupport.TestEntity {
	e := testsupport.NewTestEntity(key, &f.events)
	e.Endpoints = rcload.Endpoints("pages")
	e.Payload = map[string]any{"id": key}
	s := e.Settings()
	s.Cacheable = true
	s.CacheTier = cache.TierBoth
	s.CacheTTL = time.Hour
	s.MarkForLoad()
	return e
}

// aggregator creates an unmarked node without an endpoint of its own.
func (f *fixture) aggregator(key string) *testsupport.TestEntity {
	return testsupport.NewTestEntity(key, &f.events)
}

// seed writes a JSON snapshot for key into the given tier.
func (f *fixture) seed(t *testing.T, key string, tier cache.Tier) {
	t.Helper()
	blob, err := rcload.EncodeCacheBody(rcload.SerializationJSON, map[string]any{"seeded": key})
	if err != nil {
		t.Fatalf("EncodeCacheBody: %v", err)
	}
	if err := f.store.Set(context.Background(), key, blob, time.Hour, tier); err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}

func eventIndex(events []string, event string) int {
	return slices.Index(events, event)
}

func TestLoadSingleEntityRemote(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.entity("site:1")
	f.transport.Script("pages", "site:1", `{"title":"loaded"}`)

	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("Load: %v", err)
	}

	s := root.Settings()
	if !s.IsLoaded || !s.LoadedSuccessfully || s.LoadedFromCache {
		t.Errorf("settings = %+v", s)
	}
	if s.ToBeLoaded {
		t.Error("expected ToBeLoaded cleared after completion")
	}
	if s.State() != rcload.StateLoaded {
		t.Errorf("state = %s", s.State())
	}
	if string(root.LastResponse) != `{"title":"loaded"}` {
		t.Errorf("LastResponse = %s", root.LastResponse)
	}
	if f.transport.TotalCalls() != 1 {
		t.Errorf("TotalCalls = %d", f.transport.TotalCalls())
	}
}

func TestLoadWritesBackToCache(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.entity("site:1")

	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("Load: %v", err)
	}

	entry, err := f.store.Get(context.Background(), "site:1", cache.TierBoth)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry == nil || entry.Empty() || !entry.Loaded {
		t.Errorf("expected a populated snapshot written back, got %+v", entry)
	}
}

func TestLoadBottomUpCompletionOrder(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.aggregator("root")
	mid := f.entity("mid")
	leaf1 := f.entity("leaf1")
	leaf2 := f.entity("leaf2")
	mid.AddChildEntity(leaf1)
	mid.AddChildEntity(leaf2)
	root.AddChildEntity(mid)

	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, key := range []string{"leaf1", "leaf2", "mid", "root"} {
		if i := eventIndex(f.events, "complete:"+key); i < 0 {
			t.Fatalf("missing completion for %s in %v", key, f.events)
		}
	}
	midDone := eventIndex(f.events, "complete:mid")
	rootDone := eventIndex(f.events, "complete:root")
	for _, leaf := range []string{"leaf1", "leaf2"} {
		if eventIndex(f.events, "complete:"+leaf) > midDone {
			t.Errorf("leaf %s completed after its parent: %v", leaf, f.events)
		}
	}
	if midDone > rootDone {
		t.Errorf("mid completed after root: %v", f.events)
	}
	if rootDone != len(f.events)-1 {
		t.Errorf("expected the root to complete last: %v", f.events)
	}

	if got := root.Settings(); !got.IsLoaded || got.ChildrenLoaded != 1 || got.ChildrenToLoad != 1 {
		t.Errorf("root settings = %+v", got)
	}
	if got := mid.Settings(); got.ChildrenLoaded != 2 || got.ChildrenToLoad != 2 {
		t.Errorf("mid settings = %+v", got)
	}
}

func TestLoadFastTierHitSuppressesRemote(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.entity("site:1")
	f.seed(t, "site:1", cache.TierFast)

	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("Load: %v", err)
	}

	s := root.Settings()
	if !s.IsLoaded || !s.LoadedFromCache {
		t.Errorf("settings = %+v", s)
	}
	if len(f.transport.Rounds) != 0 {
		t.Error("expected no remote traffic for a cache-satisfied tree")
	}
	if eventIndex(f.events, "cache:site:1") < 0 {
		t.Errorf("expected a cache population event, got %v", f.events)
	}
	if root.Snapshot["seeded"] != "site:1" {
		t.Errorf("snapshot = %v", root.Snapshot)
	}
}

func TestLoadDurableTierBatchedLookup(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.aggregator("root")
	a := f.entity("a")
	b := f.entity("b")
	root.AddChildEntity(a)
	root.AddChildEntity(b)
	f.seed(t, "a", cache.TierDurable)
	f.seed(t, "b", cache.TierDurable)

	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if f.durable.GetMultis != 1 {
		t.Errorf("expected one batched durable lookup, got %d", f.durable.GetMultis)
	}
	if len(f.transport.Rounds) != 0 {
		t.Error("expected no remote traffic when the durable tier satisfies everything")
	}
	if !a.Settings().LoadedFromCache || !b.Settings().LoadedFromCache {
		t.Error("expected both children satisfied from cache")
	}
	// Durable hits flow through to the fast tier for the next cycle.
	if f.fast.Len() != 2 {
		t.Errorf("expected durable hits backfilled, fast has %d entries", f.fast.Len())
	}
}

func TestLoadAggregatorCompletesWhenChildrenCached(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.aggregator("root")
	a := f.entity("a")
	root.AddChildEntity(a)
	f.seed(t, "a", cache.TierFast)

	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("Load: %v", err)
	}

	s := root.Settings()
	if !s.IsLoaded || !s.LoadedSuccessfully {
		t.Errorf("expected the aggregator completed, settings = %+v", s)
	}
	if len(f.transport.Rounds) != 0 {
		t.Error("expected no remote traffic")
	}
}

func TestLoadAggregatorSiblingDoesNotRushRootCompletion(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.aggregator("root")
	pending := f.entity("pending")
	agg := f.aggregator("agg")
	cached := f.entity("cached")
	agg.AddChildEntity(cached)
	root.AddChildEntity(pending)
	root.AddChildEntity(agg)
	f.seed(t, "cached", cache.TierFast)

	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// The aggregator settles mid-walk from its cached child, but the
	// root must still wait for the pending sibling's remote load.
	rootDone := eventIndex(f.events, "complete:root")
	if rootDone != len(f.events)-1 {
		t.Errorf("expected the root to complete last: %v", f.events)
	}
	if loaded := eventIndex(f.events, "load:pending"); loaded < 0 || loaded > rootDone {
		t.Errorf("expected the pending sibling loaded before the root completed: %v", f.events)
	}
	if f.transport.TotalCalls() != 1 {
		t.Errorf("TotalCalls = %d", f.transport.TotalCalls())
	}
	if s := root.Settings(); s.ChildrenToLoad != 2 || s.ChildrenLoaded != 2 {
		t.Errorf("root counters = %d/%d, want 2/2", s.ChildrenLoaded, s.ChildrenToLoad)
	}
}

func TestLoadStalePopulateFallsThroughToRemote(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.entity("site:1")
	root.PopulateErr = errors.New("snapshot incompatible")
	f.seed(t, "site:1", cache.TierFast)

	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("Load: %v", err)
	}

	s := root.Settings()
	if s.LoadedFromCache {
		t.Error("rejected snapshot must not count as a cache hit")
	}
	if !s.IsLoaded || !s.LoadedSuccessfully {
		t.Errorf("expected the entity loaded remotely, settings = %+v", s)
	}
	if f.transport.TotalCalls() != 1 {
		t.Errorf("TotalCalls = %d, want the remote fallback", f.transport.TotalCalls())
	}
}

func TestLoadSiblingsMergeIntoOneCall(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.aggregator("root")
	for _, key := range []string{"a", "b", "c"} {
		e := f.entity(key)
		e.Settings().MergeLimit = 3
		e.Payload = map[string]any{
			"id":      key,
			"general": map[string]any{"lang": "en"},
		}
		root.AddChildEntity(e)
	}

	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if f.transport.TotalCalls() != 1 {
		t.Fatalf("expected 3 siblings merged into 1 call, got %d", f.transport.TotalCalls())
	}
	call := f.transport.Rounds[0][0]
	if len(call.Members()) != 3 {
		t.Errorf("members = %d", len(call.Members()))
	}
	if call.GeneralParams["lang"] != "en" {
		t.Errorf("general params = %v", call.GeneralParams)
	}
	for _, child := range root.Children() {
		if !child.Settings().IsLoaded {
			t.Errorf("child %s not completed", child.UniqueKey())
		}
	}
}

func TestLoadDivergingGeneralParamsSplitCalls(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.aggregator("root")
	for key, lang := range map[string]string{"a": "en", "b": "de"} {
		e := f.entity(key)
		e.Settings().MergeLimit = 5
		e.Payload = map[string]any{
			"id":      key,
			"general": map[string]any{"lang": lang},
		}
		root.AddChildEntity(e)
	}

	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.transport.TotalCalls() != 2 {
		t.Errorf("expected differing shared context to split the call, got %d", f.transport.TotalCalls())
	}
}

func TestPlanPathSubstitution(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.entity("site:42")
	root.Endpoints = rcload.Endpoints("GET:/sites/{siteId}/pages")
	root.Payload = map[string]any{
		"path":  map[string]any{"siteId": "42"},
		"query": "seo",
	}

	plan, err := f.orchestrator.Plan(context.Background(), root)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan) != 1 {
		t.Fatalf("plan length = %d", len(plan))
	}
	call := plan[0]
	if call.Endpoint != "GET:/sites/42/pages" {
		t.Errorf("endpoint = %q", call.Endpoint)
	}
	if _, leaked := call.Params["path"]; leaked {
		t.Error("path sub-map must be stripped from the wire params")
	}
	if call.Params["query"] != "seo" {
		t.Errorf("params = %v", call.Params)
	}
	if len(f.transport.Rounds) != 0 {
		t.Error("Plan must not dispatch")
	}
}

func TestPlanEndpointVariants(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.entity("site:1")
	root.Endpoints = []rcload.EndpointVariant{
		{Path: "pages"},
		{Path: "pages", Extra: map[string]any{"mode": "detailed"}},
	}

	plan, err := f.orchestrator.Plan(context.Background(), root)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("expected one call per variant, got %d", len(plan))
	}
	if plan[0].ID == plan[1].ID {
		t.Error("variant calls must carry distinct correlation ids")
	}
	found := false
	for _, call := range plan {
		if call.Params["mode"] == "detailed" {
			found = true
		}
	}
	if !found {
		t.Error("expected the variant extras merged into its call params")
	}
}

func TestLoadMultipleEndpointsEachDispatched(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.entity("site:1")
	root.Endpoints = rcload.Endpoints("pages", "stats")

	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if f.transport.TotalCalls() != 2 {
		t.Fatalf("TotalCalls = %d, want one call per endpoint", f.transport.TotalCalls())
	}
	seen := make(map[string]string)
	for _, call := range f.transport.Rounds[0] {
		if other, dup := seen[call.Endpoint]; dup && other == call.ID {
			t.Errorf("duplicate correlation id %q", call.ID)
		}
		seen[call.Endpoint] = call.ID
	}
	for _, endpoint := range []string{"pages", "stats"} {
		if _, ok := seen[endpoint]; !ok {
			t.Errorf("endpoint %s never dispatched, got %v", endpoint, seen)
		}
	}
	if seen["pages"] == seen["stats"] {
		t.Error("endpoint calls must carry distinct correlation ids")
	}
}

func TestLoadTransportFailureResetsTree(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.aggregator("root")
	child := f.entity("child")
	root.AddChildEntity(child)
	f.transport.Err = errors.New("remote down")

	if err := f.orchestrator.Load(context.Background(), root); err == nil {
		t.Fatal("expected the transport failure to propagate")
	}

	cs := child.Settings()
	if !cs.ToBeLoaded {
		t.Error("expected the load intent restored after rollback")
	}
	if cs.IsLoaded || cs.LoadedSuccessfully || cs.LoadedFromCache {
		t.Errorf("expected runtime flags cleared, got %+v", cs)
	}
	if cs.ChildrenToLoad != 0 || cs.ChildrenLoaded != 0 {
		t.Error("expected child counters cleared")
	}
	if cs.State() != rcload.StateNotPrepared {
		t.Errorf("state = %s", cs.State())
	}
	if root.Settings().ChildrenToLoad != 0 {
		t.Error("expected the root counters cleared too")
	}

	// The tree is cleanly retryable.
	f.transport.Err = nil
	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("retry Load: %v", err)
	}
	if !child.Settings().IsLoaded {
		t.Error("expected the retry to complete the child")
	}
}

func TestLoadHandlerFailureWritesFailureMarker(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.entity("site:1")
	root.ResponseErr = errors.New("unusable body")

	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("Load: %v", err)
	}

	s := root.Settings()
	if !s.IsLoaded || s.LoadedSuccessfully {
		t.Errorf("expected completion with failure, settings = %+v", s)
	}
	if s.State() != rcload.StateLoaded {
		t.Errorf("state = %s", s.State())
	}

	// The failure marker is an empty, short-lived entry.
	entry, err := f.store.Get(context.Background(), "site:1", cache.TierBoth)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry == nil || !entry.Empty() {
		t.Errorf("expected an empty failure marker, got %+v", entry)
	}

	// Past the failure TTL the marker is gone and the entity reloads.
	f.clock.Advance(time.Minute)
	entry, err = f.store.Get(context.Background(), "site:1", cache.TierBoth)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry != nil {
		t.Errorf("expected the failure marker expired, got %+v", entry)
	}
}

func TestLoadFailureMarkerShortCircuitsRetry(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.entity("site:1")
	root.ResponseErr = errors.New("unusable body")

	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if f.transport.TotalCalls() != 1 {
		t.Fatalf("TotalCalls after first cycle = %d", f.transport.TotalCalls())
	}

	// Within the failure TTL the marker answers the load: completed,
	// unsuccessful, no remote traffic.
	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if f.transport.TotalCalls() != 1 {
		t.Errorf("TotalCalls after second cycle = %d, want the marker to suppress the retry", f.transport.TotalCalls())
	}
	s := root.Settings()
	if !s.IsLoaded || s.LoadedSuccessfully || !s.LoadedFromCache {
		t.Errorf("settings = %+v", s)
	}

	// Once the marker expires the entity loads again.
	f.clock.Advance(time.Minute)
	root.ResponseErr = nil
	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("third Load: %v", err)
	}
	if f.transport.TotalCalls() != 2 {
		t.Errorf("TotalCalls after third cycle = %d, want the expired marker retried", f.transport.TotalCalls())
	}
	if !root.Settings().LoadedSuccessfully {
		t.Error("expected the retry to succeed")
	}
}

func TestLoadFailedChildStillNotifiesParent(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.aggregator("root")
	child := f.entity("child")
	child.ResponseErr = errors.New("unusable body")
	root.AddChildEntity(child)

	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !root.Settings().IsLoaded {
		t.Error("expected the parent completed even though the child failed")
	}
	if child.Settings().LoadedSuccessfully {
		t.Error("expected the child marked unsuccessful")
	}
}

func TestLoadCyclicGraphTerminates(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.entity("root")
	child := f.entity("child")
	root.AddChildEntity(child)
	// Back-edge: the child also lists the root among its children.
	child.AddChild(child, root)

	done := make(chan error, 1)
	go func() {
		done <- f.orchestrator.Load(context.Background(), root)
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cyclic graph did not terminate")
	}

	if !root.Settings().IsLoaded || !child.Settings().IsLoaded {
		t.Error("expected both nodes loaded exactly once")
	}
	if f.transport.TotalCalls() != 2 {
		t.Errorf("TotalCalls = %d, want 2", f.transport.TotalCalls())
	}
}

func TestLoadIdempotentSecondCycle(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.entity("site:1")

	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if f.transport.TotalCalls() != 1 {
		t.Fatalf("TotalCalls after first cycle = %d", f.transport.TotalCalls())
	}

	// The mark survives; the second cycle is satisfied by the snapshot
	// the first one wrote back.
	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if f.transport.TotalCalls() != 1 {
		t.Errorf("expected the second cycle served from cache, TotalCalls = %d", f.transport.TotalCalls())
	}
	if !root.Settings().LoadedFromCache {
		t.Error("expected the second cycle flagged as cache-satisfied")
	}
}

func TestLoadAlwaysLoadMarksByType(t *testing.T) {
	cfg := rcload.DefaultConfig()
	cfg.AlwaysLoad = []string{"*testsupport.TestEntity"}
	f := newFixture(t, cfg)

	root := f.aggregator("root") // deliberately unmarked
	root.Endpoints = rcload.Endpoints("pages")
	root.Payload = map[string]any{"id": "root"}

	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !root.Settings().IsLoaded {
		t.Error("expected the always-load type marked and loaded")
	}
	if f.transport.TotalCalls() != 1 {
		t.Errorf("TotalCalls = %d", f.transport.TotalCalls())
	}
}

func TestLoadUnmarkedEntityUntouched(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.aggregator("root")
	wanted := f.entity("wanted")
	ignored := f.entity("ignored")
	ignored.Settings().Unmark()
	root.AddChildEntity(wanted)
	root.AddChildEntity(ignored)

	if err := f.orchestrator.Load(context.Background(), root); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if f.transport.TotalCalls() != 1 {
		t.Errorf("TotalCalls = %d, want only the marked child dispatched", f.transport.TotalCalls())
	}
	if ignored.Settings().IsLoaded {
		t.Error("unmarked entity must stay untouched")
	}
	if !root.Settings().IsLoaded {
		t.Error("expected the aggregator completed from its single pending child")
	}
}

func TestRawResponses(t *testing.T) {
	f := newFixture(t, rcload.DefaultConfig())
	root := f.entity("site:1")
	f.transport.Script("pages", "site:1", `{"raw":1}`)

	raw, err := f.orchestrator.RawResponses(context.Background(), root)
	if err != nil {
		t.Fatalf("RawResponses: %v", err)
	}
	if string(raw["pages"]["site:1"]) != `{"raw":1}` {
		t.Errorf("raw = %v", raw)
	}
	if eventIndex(f.events, "load:site:1") >= 0 {
		t.Error("RawResponses must not route to the entity handlers")
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := rcload.DefaultConfig()
	cfg.MaxCallsPerRound = -1
	if _, err := rcload.New(nil, nil, cfg); err == nil {
		t.Error("expected a negative per-round cap to fail validation")
	}
}
