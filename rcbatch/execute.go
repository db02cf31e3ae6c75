package rcbatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxCallsPerRound is the hard cap of call units dispatched in
// one round. Larger plans are split across rounds round-robin.
const DefaultMaxCallsPerRound = 300

// ExecuteOptions steer one batch execution.
type ExecuteOptions struct {
	// DisplayCall short-circuits execution and returns the finalized
	// call plan instead.
	DisplayCall bool

	// DisplayResponse returns the first round's raw responses without
	// routing them to the operations' responders.
	DisplayResponse bool

	// OperationType is handed to each responder so the entity can
	// dispatch to the matching handler method.
	OperationType OperationType

	// Timeout bounds each round's transport dispatch when an
	// operation carries no timeout of its own. Zero means unlimited.
	Timeout time.Duration

	// MaxCallsPerRound overrides the per-round cap. Values below 1
	// fall back to DefaultMaxCallsPerRound.
	MaxCallsPerRound int
}

// ExecuteResult carries the debug short-circuit outputs. Plan is set
// when DisplayCall was requested, Raw when DisplayResponse was.
type ExecuteResult struct {
	Plan []*Call
	Raw  ResponseSet
}

// Execute finalizes the batch and runs it against the transport.
//
// Trailing partial merge groups are force-flushed first, then the total
// call plan is split into ceil(total/cap) rounds with per-endpoint
// round-robin distribution (index % rounds == round), so every
// endpoint's load spreads evenly instead of front-loading round one.
// Rounds run strictly in order: round N+1 is not dispatched until round
// N's responses have been fully routed.
//
// Responder failures do not abort sibling dispatches; transport and
// decode failures abort the execution and propagate.
func (b *Batch) Execute(ctx context.Context, transport Transport, observer Observer, metrics *Metrics, opts ExecuteOptions) (*ExecuteResult, error) {
	if err := b.flushOutstanding(); err != nil {
		return nil, err
	}

	plan := b.Calls()
	if opts.DisplayCall {
		return &ExecuteResult{Plan: plan}, nil
	}
	if len(plan) == 0 {
		return &ExecuteResult{}, nil
	}
	if transport == nil {
		return nil, fmt.Errorf("rcbatch: no transport configured")
	}
	if observer == nil {
		observer = NopObserver{}
	}

	perRound := opts.MaxCallsPerRound
	if perRound < 1 {
		perRound = DefaultMaxCallsPerRound
	}
	rounds := (len(plan) + perRound - 1) / perRound

	batchID := uuid.NewString()
	b.log.Debug("rcbatch: executing batch",
		"batch", batchID, "calls", len(plan), "rounds", rounds, "type", opts.OperationType.String())

	for round := 0; round < rounds; round++ {
		roundCalls := b.roundCalls(round, rounds)
		if len(roundCalls) == 0 {
			break
		}

		timeout := opts.Timeout
		for _, call := range roundCalls {
			if call.Timeout > timeout {
				timeout = call.Timeout
			}
		}

		started := time.Now()
		responses, err := transport.Do(ctx, roundCalls, timeout)
		if err != nil {
			return nil, err
		}
		metrics.observeRound(roundCalls, time.Since(started))

		if opts.DisplayResponse {
			return &ExecuteResult{Raw: responses}, nil
		}

		b.route(roundCalls, responses, observer, batchID, round, opts.OperationType)
	}

	return &ExecuteResult{}, nil
}

// roundCalls selects the calls belonging to one round. Distribution is
// per endpoint so a single endpoint with many calls does not saturate
// early rounds.
func (b *Batch) roundCalls(round, rounds int) []*Call {
	var selected []*Call
	for _, endpoint := range b.groupOrder {
		for i, call := range b.groups[endpoint].finalized {
			if i%rounds == round {
				selected = append(selected, call)
			}
		}
	}
	return selected
}

// route dispatches each response body back to its operation(s) by
// correlation id. A merged call fans the shared body out to every
// member's responder. Responder errors are logged and do not stop
// sibling dispatches.
func (b *Batch) route(calls []*Call, responses ResponseSet, observer Observer, batchID string, round int, opType OperationType) {
	for _, call := range calls {
		body, ok := responses[call.Endpoint][call.ID]
		observer.CallExecuted(CallRecord{
			BatchID:  batchID,
			Round:    round,
			Endpoint: call.Endpoint,
			CallID:   call.ID,
			Members:  len(call.members),
			Answered: ok,
		})
		if !ok {
			b.log.Warn("rcbatch: no response for call", "endpoint", call.Endpoint, "id", call.ID)
			continue
		}
		for _, member := range call.members {
			if member.Responder == nil {
				continue
			}
			if err := member.Responder.HandleResponse(opType, body); err != nil {
				b.log.Warn("rcbatch: responder failed",
					"endpoint", call.Endpoint, "id", member.CorrelationID, "error", err)
			}
		}
	}
}
