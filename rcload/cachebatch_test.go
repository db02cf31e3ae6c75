package rcload

import (
	"context"
	"testing"
	"time"

	"github.com/beyondseo/rcengine/cache"
)

// stubStore records GetMulti invocations and serves a canned result.
type stubStore struct {
	getMultis int
	lastKeys  []string
	results   map[string][]byte
}

func (s *stubStore) Get(context.Context, string, cache.Tier) (*cache.Entry, error) {
	return nil, nil
}

func (s *stubStore) GetMulti(_ context.Context, keys []string) (map[string][]byte, error) {
	s.getMultis++
	s.lastKeys = keys
	return s.results, nil
}

func (s *stubStore) Set(context.Context, string, []byte, time.Duration, cache.Tier) error {
	return nil
}

func (s *stubStore) Delete(context.Context, string, cache.Tier) error { return nil }

type stubNode struct {
	BaseNode
	NoopHandlers
}

func TestCacheBatchDeduplicatesKeys(t *testing.T) {
	store := &stubStore{}
	batch := NewCacheBatch(store, nil)

	a := &stubNode{BaseNode: NewBaseNode("a")}
	batch.AddOperation(a)
	batch.AddOperation(&stubNode{BaseNode: NewBaseNode("a")})
	batch.AddOperation(&stubNode{BaseNode: NewBaseNode("b")})

	if batch.Len() != 2 {
		t.Errorf("Len = %d, want 2", batch.Len())
	}
}

func TestCacheBatchEmptyIsNoop(t *testing.T) {
	store := &stubStore{}
	batch := NewCacheBatch(store, nil)

	err := batch.Execute(context.Background(), func(Loadable, []byte) {
		t.Error("satisfy must not be invoked for an empty batch")
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if store.getMultis != 0 {
		t.Error("expected no store traffic for an empty batch")
	}
}

func TestCacheBatchSingleRoundTrip(t *testing.T) {
	store := &stubStore{results: map[string][]byte{
		"a": []byte("payload-a"),
		"c": []byte("payload-c"),
	}}
	batch := NewCacheBatch(store, nil)

	nodes := map[string]*stubNode{}
	for _, key := range []string{"a", "b", "c"} {
		node := &stubNode{BaseNode: NewBaseNode(key)}
		nodes[key] = node
		batch.AddOperation(node)
	}

	var satisfied []string
	err := batch.Execute(context.Background(), func(node Loadable, payload []byte) {
		satisfied = append(satisfied, node.CacheKey()+"="+string(payload))
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if store.getMultis != 1 {
		t.Errorf("expected exactly one multi-get, got %d", store.getMultis)
	}
	if len(store.lastKeys) != 3 {
		t.Errorf("keys = %v", store.lastKeys)
	}
	// Hits dispatch in insertion order; misses are skipped.
	if len(satisfied) != 2 || satisfied[0] != "a=payload-a" || satisfied[1] != "c=payload-c" {
		t.Errorf("satisfied = %v", satisfied)
	}
}
