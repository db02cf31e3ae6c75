// Package cache provides the tiered key-value store the load engine
// reads and writes entity snapshots through.
//
// # Overview
//
// The store composes two backends behind one contract:
//
//   - a fast tier: in-process, low latency, capacity constrained
//   - a durable tier: shared and persistent, higher latency
//
// Reads consult the fast tier first. A durable hit is written through
// to the fast tier (backfill) so subsequent reads stay cheap. Multi-key
// reads go straight to the durable tier in a single round trip and
// backfill the fast tier per hit.
//
// # Key encoding
//
// Logical keys never touch a backend directly. Every key is run through
// a salted one-way hash (see KeyCodec), which makes keys storage-safe
// and scopes them to one deployment. Multi-get callers receive a
// reverse lookup table valid for the duration of a single call; the
// mapping is never persisted.
//
// # Failure semantics
//
// Backend errors propagate unwrapped. A miss, or an entry that is past
// its validity window with an empty payload, is a nil result; the
// latter is evicted on read.
package cache
