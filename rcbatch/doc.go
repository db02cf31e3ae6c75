// Package rcbatch implements the remote call batching engine.
//
// # Overview
//
// Entities queue per-item remote operations into a Batch. The batch
// groups operations by target endpoint, sub-groups them by a content
// hash of their shared "general params", and folds each sub-group into
// one physical call whenever it reaches the endpoint's merge limit.
// Trailing partial groups are force-flushed at execute time so no
// operation is dropped at the batch boundary.
//
// Execution splits the finalized call plan into rounds of at most 300
// call units, distributed round-robin per endpoint. Each round's calls
// are dispatched concurrently through a Transport and awaited jointly;
// responses are then routed back to the originating operation(s) by
// correlation id. A merged call fans its shared response body out to
// every member.
//
// # Error semantics
//
// A malformed response body, or a body carrying a top-level "error"
// field, aborts the round as a single internal error. Failures inside
// one operation's response handler do not prevent sibling handlers from
// running.
//
// # Debugging
//
// ExecuteOptions.DisplayCall returns the finalized call plan without
// executing it; DisplayResponse returns the first round's raw responses
// without routing them.
package rcbatch
