package rcbatch

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func newOp(id, endpoint string, limit int) *Operation {
	return &Operation{
		CorrelationID: id,
		Endpoint:      endpoint,
		Params:        map[string]any{"id": id},
		GeneralParams: map[string]any{"lang": "en"},
		MergeLimit:    limit,
	}
}

func addOps(t *testing.T, b *Batch, ops ...*Operation) {
	t.Helper()
	for _, op := range ops {
		if err := b.AddOperation(op); err != nil {
			t.Fatalf("AddOperation(%s): %v", op.CorrelationID, err)
		}
	}
}

func flush(t *testing.T, b *Batch) []*Call {
	t.Helper()
	if err := b.flushOutstanding(); err != nil {
		t.Fatalf("flushOutstanding: %v", err)
	}
	return b.Calls()
}

func TestBatchRejectsInvalidOperations(t *testing.T) {
	b := NewBatch()

	if err := b.AddOperation(nil); err == nil {
		t.Error("expected error for nil operation")
	}
	if err := b.AddOperation(&Operation{Endpoint: "pages"}); err == nil {
		t.Error("expected error for missing correlation id")
	}
	if err := b.AddOperation(&Operation{CorrelationID: "x"}); err == nil {
		t.Error("expected error for missing endpoint")
	}
}

func TestBatchDeduplicatesByCorrelationID(t *testing.T) {
	b := NewBatch()
	first := newOp("op-1", "pages", 1)
	second := newOp("op-1", "pages", 1)
	second.Params = map[string]any{"id": "changed"}

	addOps(t, b, first, second)

	if b.Len() != 1 {
		t.Fatalf("Len = %d, want 1", b.Len())
	}
	calls := flush(t, b)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Params["id"] != "op-1" {
		t.Error("expected the first operation to win the duplicate")
	}
}

func TestBatchMergeCounts(t *testing.T) {
	// N operations with merge limit k produce ceil(N/k) calls.
	cases := []struct {
		n, limit, want int
	}{
		{1, 5, 1},
		{5, 5, 1},
		{6, 5, 2},
		{14, 5, 3},
		{4, 1, 4},
		{3, 0, 3}, // limit below 1 means no merging
	}
	for _, tc := range cases {
		b := NewBatch()
		for i := 0; i < tc.n; i++ {
			addOps(t, b, newOp(fmt.Sprintf("op-%d", i), "pages", tc.limit))
		}
		calls := flush(t, b)
		if len(calls) != tc.want {
			t.Errorf("n=%d limit=%d: got %d calls, want %d", tc.n, tc.limit, len(calls), tc.want)
		}
	}
}

func TestBatchMergedCallShape(t *testing.T) {
	b := NewBatch()
	a := newOp("op-a", "pages", 2)
	a.Timeout = time.Second
	c := newOp("op-b", "pages", 2)
	c.Timeout = 3 * time.Second
	addOps(t, b, a, c)

	calls := b.Calls() // exact multiple folds eagerly, no flush needed
	if len(calls) != 1 {
		t.Fatalf("expected 1 eagerly folded call, got %d", len(calls))
	}
	call := calls[0]

	if call.ID == "op-a" || call.ID == "op-b" {
		t.Errorf("merged id must not equal a member id, got %q", call.ID)
	}
	if len(call.ID) != 16 || strings.ContainsAny(call.ID, "_") {
		t.Errorf("merged id should be a 16-digit hash, got %q", call.ID)
	}
	if got := call.Params["id"]; fmt.Sprint(got) != "[op-a op-b]" {
		t.Errorf("merged params id = %v, want both member ids collected", got)
	}
	if call.GeneralParams["lang"] != "en" {
		t.Errorf("general params not carried: %v", call.GeneralParams)
	}
	if call.Timeout != 3*time.Second {
		t.Errorf("timeout = %v, want the largest member timeout", call.Timeout)
	}
	if len(call.Members()) != 2 {
		t.Errorf("members = %d, want 2", len(call.Members()))
	}
}

func TestBatchSingleMemberCallKeepsID(t *testing.T) {
	b := NewBatch()
	addOps(t, b, newOp("op-solo", "pages", 5))

	calls := flush(t, b)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].ID != "op-solo" {
		t.Errorf("single-member id = %q, want the operation's own id", calls[0].ID)
	}
}

func TestBatchMergeIsDeterministic(t *testing.T) {
	build := func() []*Call {
		b := NewBatch()
		for i := 0; i < 4; i++ {
			addOps(t, b, newOp(fmt.Sprintf("op-%d", i), "pages", 2))
		}
		return flush(t, b)
	}

	first, second := build(), build()
	if len(first) != len(second) {
		t.Fatalf("call counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("call %d id differs across identical batches: %q vs %q", i, first[i].ID, second[i].ID)
		}
	}
}

func TestBatchGeneralParamsSplitGroups(t *testing.T) {
	b := NewBatch()
	en := newOp("op-en", "pages", 5)
	de := newOp("op-de", "pages", 5)
	de.GeneralParams = map[string]any{"lang": "de"}
	addOps(t, b, en, de)

	calls := flush(t, b)
	if len(calls) != 2 {
		t.Fatalf("expected differing general params to prevent merging, got %d calls", len(calls))
	}
	for _, call := range calls {
		if len(call.Members()) != 1 {
			t.Errorf("call %q merged across general param groups", call.ID)
		}
	}
}

func TestBatchEndpointsDoNotMerge(t *testing.T) {
	b := NewBatch()
	addOps(t, b, newOp("op-1", "pages", 5), newOp("op-2", "keywords", 5))

	calls := flush(t, b)
	if len(calls) != 2 {
		t.Fatalf("expected one call per endpoint, got %d", len(calls))
	}
	if calls[0].Endpoint != "pages" || calls[1].Endpoint != "keywords" {
		t.Errorf("expected endpoint insertion order preserved, got %s then %s",
			calls[0].Endpoint, calls[1].Endpoint)
	}
}

func TestBatchFoldAssertsGroupConsistency(t *testing.T) {
	b := NewBatch()
	good := newOp("op-1", "pages", 2)
	addOps(t, b, good)

	// Corrupt the bucket directly: an operation whose general params
	// hash does not match its group must fail the fold, not merge.
	rogue := newOp("op-2", "pages", 2)
	rogue.GeneralParams = map[string]any{"lang": "de"}
	group := b.groups["pages"]
	hash := group.hashOrder[0]
	group.outstanding[hash] = append(group.outstanding[hash], rogue)

	if err := b.fold(group, hash); err == nil {
		t.Error("expected fold to reject a member with diverging general params")
	}
}

func TestBatchReset(t *testing.T) {
	b := NewBatch()
	addOps(t, b, newOp("op-1", "pages", 1))
	b.Reset()

	if b.Len() != 0 {
		t.Errorf("Len after Reset = %d", b.Len())
	}
	if calls := flush(t, b); len(calls) != 0 {
		t.Errorf("expected no calls after Reset, got %d", len(calls))
	}

	// The batch is reusable after Reset.
	addOps(t, b, newOp("op-1", "pages", 1))
	if b.Len() != 1 {
		t.Errorf("Len after reuse = %d, want 1", b.Len())
	}
}
