// Package rcshadow converts domain entity trees into their
// remote-loading shadow representation and back.
//
// A shadow type mirrors a domain entity but carries the loading and
// caching behavior the domain type should not know about. Conversions
// are recursive: registered field types convert through the registry,
// collections convert element by element (falling back to a verbatim
// copy for unregistered element types), and everything else copies
// assignably. Parent/child back-references survive conversion because
// each source instance maps to exactly one converted instance.
//
// Compatibility between an entity type and its shadow is checked once,
// at Register time, and violations fail fast with a descriptive error
// rather than surfacing mid-conversion.
//
// Converting back (ToEntity) can merge into an existing target: slice
// elements are matched by unique key and updated in place instead of
// duplicated, and an identity arena guards against cyclic graphs.
package rcshadow
