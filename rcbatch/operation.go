package rcbatch

import (
	"encoding/json"
	"time"
)

// OperationType selects which response handler an entity dispatches to
// once its call comes back.
type OperationType int

const (
	// OperationLoad fetches remote state into the entity.
	OperationLoad OperationType = iota
	// OperationCreate creates the entity's remote counterpart.
	OperationCreate
	// OperationUpdate pushes local changes to the remote counterpart.
	OperationUpdate
	// OperationDelete removes the remote counterpart.
	OperationDelete
	// OperationSynchronize reconciles local and remote state.
	OperationSynchronize
)

// String returns the string representation of the operation type.
func (t OperationType) String() string {
	switch t {
	case OperationLoad:
		return "load"
	case OperationCreate:
		return "create"
	case OperationUpdate:
		return "update"
	case OperationDelete:
		return "delete"
	case OperationSynchronize:
		return "synchronize"
	default:
		return "unknown"
	}
}

// Responder receives the raw response body routed back to an operation
// by correlation id. When operations were merged, every member's
// Responder is invoked with the same shared body.
type Responder interface {
	HandleResponse(opType OperationType, raw json.RawMessage) error
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(opType OperationType, raw json.RawMessage) error

// HandleResponse implements Responder.
func (f ResponderFunc) HandleResponse(opType OperationType, raw json.RawMessage) error {
	return f(opType, raw)
}

// Operation binds one entity's remote-fetch intent to a correlation id,
// a concrete endpoint (path parameters already substituted) and its
// parameter payload.
type Operation struct {
	// CorrelationID uniquely identifies the operation within a batch.
	CorrelationID string

	// Endpoint is either a verb-prefixed microservice route
	// ("GET:/sites/42/pages") or a bare legacy endpoint name folded
	// into the aggregate call.
	Endpoint string

	// Params are the per-item call parameters. They are merged
	// recursively across the members of a merged call.
	Params map[string]any

	// GeneralParams is the shared sub-payload that must be identical
	// across merge candidates. Operations whose general params differ
	// never merge with each other.
	GeneralParams map[string]any

	// MergeLimit is the maximum number of operations folded into one
	// physical call for this operation's endpoint. Values below 1 mean
	// no merging. The limit is entity-declared and authoritative for
	// the endpoint group.
	MergeLimit int

	// Timeout bounds the HTTP request carrying this operation.
	// Zero means no timeout.
	Timeout time.Duration

	// Responder receives the routed response body.
	Responder Responder
}
