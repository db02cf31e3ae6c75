package rcbatch

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// mergedIDSeparator joins member correlation ids before the combined id
// is hashed down to a single merged correlation id.
const mergedIDSeparator = "_"

// Call is a finalized physical call: one or more merged operations
// bound for a single endpoint.
type Call struct {
	// ID is the correlation id of the call. For a single-member call it
	// is the member's id verbatim; for a merged call it is a hash of
	// the members' ids joined with "_".
	ID string

	// Endpoint the call targets.
	Endpoint string

	// Params are the members' per-item params merged recursively.
	Params map[string]any

	// GeneralParams is the shared context, copied once from the first
	// member.
	GeneralParams map[string]any

	// Timeout is the largest member timeout, threaded to the transport.
	Timeout time.Duration

	members []*Operation
}

// Members returns the source operations folded into this call.
func (c *Call) Members() []*Operation { return c.members }

// endpointGroup accumulates operations for one endpoint. Outstanding
// operations are sub-grouped by the hash of their general params;
// finalized calls are append-only.
type endpointGroup struct {
	endpoint    string
	mergeLimit  int
	outstanding map[uint64][]*Operation
	hashOrder   []uint64
	finalized   []*Call
}

// Batch collects remote operations, merges compatible ones per endpoint
// and finalizes them into physical calls. It is not safe for concurrent
// use; the load engine builds batches on a single goroutine.
type Batch struct {
	ops        map[string]*Operation
	groups     map[string]*endpointGroup
	groupOrder []string
	log        *slog.Logger
}

// BatchOption customizes a Batch.
type BatchOption func(*Batch)

// WithBatchLogger sets the logger used for diagnostic output.
func WithBatchLogger(log *slog.Logger) BatchOption {
	return func(b *Batch) { b.log = log }
}

// NewBatch creates an empty operation batch.
func NewBatch(opts ...BatchOption) *Batch {
	b := &Batch{
		ops:    make(map[string]*Operation),
		groups: make(map[string]*endpointGroup),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Len returns the number of accepted (non-duplicate) operations.
func (b *Batch) Len() int { return len(b.ops) }

// AddOperation accepts op into the batch. A correlation id already
// present is silently dropped; the first operation wins. After
// insertion the operation's merge group is folded into a finalized call
// whenever it reaches an exact multiple of the endpoint's merge limit.
func (b *Batch) AddOperation(op *Operation) error {
	if op == nil {
		return fmt.Errorf("rcbatch: nil operation")
	}
	if op.CorrelationID == "" {
		return fmt.Errorf("rcbatch: operation for endpoint %q has no correlation id", op.Endpoint)
	}
	if op.Endpoint == "" {
		return fmt.Errorf("rcbatch: operation %q has no endpoint", op.CorrelationID)
	}
	if _, dup := b.ops[op.CorrelationID]; dup {
		b.log.Debug("rcbatch: duplicate operation dropped", "id", op.CorrelationID, "endpoint", op.Endpoint)
		return nil
	}
	b.ops[op.CorrelationID] = op

	group, ok := b.groups[op.Endpoint]
	if !ok {
		group = &endpointGroup{
			endpoint:    op.Endpoint,
			outstanding: make(map[uint64][]*Operation),
		}
		b.groups[op.Endpoint] = group
		b.groupOrder = append(b.groupOrder, op.Endpoint)
	}

	// All operations for one endpoint legitimately share the same
	// entity-declared limit; the last writer wins.
	limit := op.MergeLimit
	if limit < 1 {
		limit = 1
	}
	group.mergeLimit = limit

	hash := ParamsHash(op.GeneralParams)
	if _, seen := group.outstanding[hash]; !seen {
		group.hashOrder = append(group.hashOrder, hash)
	}
	group.outstanding[hash] = append(group.outstanding[hash], op)

	if len(group.outstanding[hash])%group.mergeLimit == 0 {
		if err := b.fold(group, hash); err != nil {
			return err
		}
	}
	return nil
}

// fold finalizes the outstanding sub-list for hash into one call and
// clears it.
func (b *Batch) fold(group *endpointGroup, hash uint64) error {
	members := group.outstanding[hash]
	if len(members) == 0 {
		return nil
	}
	delete(group.outstanding, hash)
	for i, h := range group.hashOrder {
		if h == hash {
			group.hashOrder = append(group.hashOrder[:i], group.hashOrder[i+1:]...)
			break
		}
	}

	// Members hashed into the same group must carry identical general
	// params. The bucketing makes that true by construction, but the
	// invariant is asserted rather than trusted.
	for _, member := range members[1:] {
		if ParamsHash(member.GeneralParams) != hash {
			return fmt.Errorf("rcbatch: operation %q diverges from its merge group's general params on endpoint %q",
				member.CorrelationID, group.endpoint)
		}
	}

	call := &Call{
		Endpoint:      group.endpoint,
		GeneralParams: CopyParams(members[0].GeneralParams),
		members:       members,
	}
	if len(members) == 1 {
		call.ID = members[0].CorrelationID
		call.Params = members[0].Params
		call.Timeout = members[0].Timeout
	} else {
		ids := make([]string, len(members))
		merged := map[string]any{}
		for i, member := range members {
			ids[i] = member.CorrelationID
			merged = MergeParams(merged, member.Params)
			if member.Timeout > call.Timeout {
				call.Timeout = member.Timeout
			}
		}
		call.ID = fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(ids, mergedIDSeparator)))
		call.Params = merged
	}

	group.finalized = append(group.finalized, call)
	return nil
}

// flushOutstanding folds every endpoint's partial, below-limit groups
// so no operation is silently dropped at the batch boundary.
func (b *Batch) flushOutstanding() error {
	for _, endpoint := range b.groupOrder {
		group := b.groups[endpoint]
		hashes := append([]uint64(nil), group.hashOrder...)
		for _, hash := range hashes {
			if err := b.fold(group, hash); err != nil {
				return err
			}
		}
	}
	return nil
}

// Calls returns the finalized call plan in endpoint insertion order.
// Partial merge groups are not included until flushed at execute time.
func (b *Batch) Calls() []*Call {
	var calls []*Call
	for _, endpoint := range b.groupOrder {
		calls = append(calls, b.groups[endpoint].finalized...)
	}
	return calls
}

// Reset clears all accumulated state so the batch can host a fresh
// load cycle.
func (b *Batch) Reset() {
	b.ops = make(map[string]*Operation)
	b.groups = make(map[string]*endpointGroup)
	b.groupOrder = nil
}
