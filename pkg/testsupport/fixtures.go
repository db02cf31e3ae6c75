// Package testsupport provides in-memory fakes and tree fixtures shared
// by the engine's test suites.
package testsupport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/beyondseo/rcengine/rcbatch"
	"github.com/beyondseo/rcengine/rcload"
)

// ManualClock is a settable time source for simulating TTL expiry.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock starts a clock at the given instant.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current fake time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeEntry is one stored value with its expiry.
type fakeEntry struct {
	value     []byte
	expiresAt time.Time
}

// FakeBackend is an in-memory cache.Backend with per-key TTL honoring
// an injectable clock. It records operation counts for assertions.
type FakeBackend struct {
	mu      sync.Mutex
	entries map[string]fakeEntry
	clock   func() time.Time

	Gets      int
	GetMultis int
	Sets      int
	Deletes   int
	// Err, when set, is returned by every operation.
	Err error
}

// NewFakeBackend creates an empty backend on the given clock
// (time.Now when nil).
func NewFakeBackend(clock func() time.Time) *FakeBackend {
	if clock == nil {
		clock = time.Now
	}
	return &FakeBackend{entries: make(map[string]fakeEntry), clock: clock}
}

// Get implements cache.Backend.
func (b *FakeBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Gets++
	if b.Err != nil {
		return nil, false, b.Err
	}
	entry, ok := b.entries[key]
	if !ok || b.expired(entry) {
		delete(b.entries, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// GetMulti implements cache.Backend.
func (b *FakeBackend) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.GetMultis++
	if b.Err != nil {
		return nil, b.Err
	}
	results := make(map[string][]byte)
	for _, key := range keys {
		if entry, ok := b.entries[key]; ok && !b.expired(entry) {
			results[key] = entry.value
		}
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results, nil
}

// Set implements cache.Backend.
func (b *FakeBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Sets++
	if b.Err != nil {
		return b.Err
	}
	entry := fakeEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = b.clock().Add(ttl)
	}
	b.entries[key] = entry
	return nil
}

// Delete implements cache.Backend.
func (b *FakeBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Deletes++
	if b.Err != nil {
		return b.Err
	}
	delete(b.entries, key)
	return nil
}

// Len returns the number of live entries.
func (b *FakeBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *FakeBackend) expired(entry fakeEntry) bool {
	return !entry.expiresAt.IsZero() && b.clock().After(entry.expiresAt)
}

// FakeTransport answers every call from a scripted response table and
// records the rounds it saw.
type FakeTransport struct {
	mu sync.Mutex

	// Responses maps endpoint to correlation id to response body.
	// Calls without a scripted response are answered with "{}".
	Responses map[string]map[string]json.RawMessage

	// Err, when set, is returned by every round.
	Err error

	// Rounds holds the calls of each Do invocation in order.
	Rounds [][]*rcbatch.Call
}

// NewFakeTransport creates a transport with an empty script.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{Responses: make(map[string]map[string]json.RawMessage)}
}

// Script registers a response body for endpoint/id.
func (t *FakeTransport) Script(endpoint, id string, body string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Responses[endpoint] == nil {
		t.Responses[endpoint] = make(map[string]json.RawMessage)
	}
	t.Responses[endpoint][id] = json.RawMessage(body)
}

// Do implements rcbatch.Transport.
func (t *FakeTransport) Do(ctx context.Context, calls []*rcbatch.Call, timeout time.Duration) (rcbatch.ResponseSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Rounds = append(t.Rounds, calls)
	if t.Err != nil {
		return nil, t.Err
	}
	out := rcbatch.ResponseSet{}
	for _, call := range calls {
		body, ok := t.Responses[call.Endpoint][call.ID]
		if !ok {
			body = json.RawMessage(`{}`)
		}
		if out[call.Endpoint] == nil {
			out[call.Endpoint] = make(map[string]json.RawMessage)
		}
		out[call.Endpoint][call.ID] = body
	}
	return out, nil
}

// TotalCalls returns the number of calls across all rounds.
func (t *FakeTransport) TotalCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, round := range t.Rounds {
		total += len(round)
	}
	return total
}

// TestEntity is a configurable Loadable tree node that records every
// engine interaction for call-order assertions.
type TestEntity struct {
	rcload.BaseNode
	rcload.NoopHandlers

	Endpoints []rcload.EndpointVariant
	Payload   map[string]any

	// Events is shared across a fixture tree so ordering across nodes
	// can be asserted. Each entry is "event:uniqueKey".
	Events *[]string

	// PopulateErr makes PopulateFromCache fail, simulating a stale
	// snapshot.
	PopulateErr error
	// ResponseErr makes HandleLoadResponse fail.
	ResponseErr error

	// Snapshot is what CacheBody returns and what PopulateFromCache
	// remembers.
	Snapshot map[string]any
	// LastResponse is the raw body the last load response carried.
	LastResponse json.RawMessage
}

// NewTestEntity creates a node with the given unique key, recording
// events into the shared log.
func NewTestEntity(key string, events *[]string) *TestEntity {
	return &TestEntity{BaseNode: rcload.NewBaseNode(key), Events: events}
}

// AddChildEntity wires child under e.
func (e *TestEntity) AddChildEntity(child *TestEntity) {
	e.AddChild(e, child)
}

func (e *TestEntity) record(event string) {
	if e.Events != nil {
		*e.Events = append(*e.Events, event+":"+e.UniqueKey())
	}
}

// LoadEndpoint implements rcload.Loadable.
func (e *TestEntity) LoadEndpoint() []rcload.EndpointVariant { return e.Endpoints }

// LoadPayload implements rcload.Loadable.
func (e *TestEntity) LoadPayload() map[string]any { return e.Payload }

// PopulateFromCache implements rcload.Loadable.
func (e *TestEntity) PopulateFromCache(payload []byte) error {
	if e.PopulateErr != nil {
		return e.PopulateErr
	}
	e.record("cache")
	var snapshot map[string]any
	if err := rcload.DecodeCacheBody(e.Settings().Serialization, payload, &snapshot); err != nil {
		return err
	}
	e.Snapshot = snapshot
	return nil
}

// CacheBody implements rcload.Loadable.
func (e *TestEntity) CacheBody() (any, error) {
	if e.Snapshot == nil {
		return map[string]any{"key": e.UniqueKey()}, nil
	}
	return e.Snapshot, nil
}

// HandleLoadResponse implements rcload.Loadable.
func (e *TestEntity) HandleLoadResponse(raw json.RawMessage) error {
	if e.ResponseErr != nil {
		return e.ResponseErr
	}
	e.record("load")
	e.LastResponse = raw
	return nil
}

// LoadCompleted implements rcload.CompletionListener.
func (e *TestEntity) LoadCompleted(success, fromCache bool) {
	e.record("complete")
}
