// Package rcload implements the recursive load orchestrator.
//
// # Overview
//
// A load cycle walks a tree of Loadable entities twice. The cache pass
// resolves what it can from the tiered store: fast-tier reads happen
// synchronously per node, durable-tier reads are batched into one
// multi-get. The remote pass then builds a single operation batch for
// everything still unsatisfied, expanding each entity's endpoint
// descriptor(s) into concrete operations with {token} path parameters
// substituted from the payload's "path" sub-map.
//
// Children always recurse before their parent, so child operations
// precede the parent's in the batch and completion propagates strictly
// bottom-up: every finished child increments its parent's counter, and
// a parent with no remote call of its own completes the moment its last
// child reports in.
//
// Both passes guard against cyclic entity graphs with an arena of
// integer node ids, so mutual parent/child back-references terminate.
//
// # Cache keys
//
// An entity's cache key is its own unique key, memoized. A previous
// design note suggested folding children's keys in recursively so a
// parent entry would invalidate with its children; the simpler behavior
// is kept deliberately pending a product decision.
//
// # Failure semantics
//
// A remote batch failure resets every node's settings to the pre-load
// state before the error propagates: callers never observe a
// half-initialized tree presented as success.
package rcload
