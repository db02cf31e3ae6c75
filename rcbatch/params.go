package rcbatch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ParamsHash computes an order-independent, content-based hash of a
// parameter map. Operations bucket into merge groups by this hash, so
// it must be deterministic across runs: map keys are visited in sorted
// order and nested values serialized recursively.
func ParamsHash(params map[string]any) uint64 {
	var b strings.Builder
	writeCanonical(&b, params)
	return xxhash.Sum64String(b.String())
}

func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("nil")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("map{")
		for _, k := range keys {
			b.WriteString(k)
			b.WriteByte('=')
			writeCanonical(b, val[k])
			b.WriteByte(',')
		}
		b.WriteByte('}')
	case []any:
		b.WriteString("list[")
		for _, item := range val {
			writeCanonical(b, item)
			b.WriteByte(',')
		}
		b.WriteByte(']')
	case string:
		b.WriteString("s:")
		b.WriteString(val)
	default:
		fmt.Fprintf(b, "%T:%v", val, val)
	}
}

// MergeParams folds src into dst recursively and returns the result.
// Nested maps merge key by key, slices concatenate, and a scalar
// collision collects both values into a list so no member's parameters
// are silently dropped. dst is not mutated.
func MergeParams(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		existing, present := out[k]
		if !present {
			out[k] = v
			continue
		}
		out[k] = mergeValues(existing, v)
	}
	return out
}

func mergeValues(a, b any) any {
	am, aOk := a.(map[string]any)
	bm, bOk := b.(map[string]any)
	if aOk && bOk {
		return MergeParams(am, bm)
	}

	as, aOk := a.([]any)
	bs, bOk := b.([]any)
	switch {
	case aOk && bOk:
		merged := make([]any, 0, len(as)+len(bs))
		merged = append(merged, as...)
		return append(merged, bs...)
	case aOk:
		return append(append([]any(nil), as...), b)
	case bOk:
		return append([]any{a}, bs...)
	}

	if a == b {
		return a
	}
	return []any{a, b}
}

// CopyParams returns a shallow copy of params. Merged calls copy the
// first member's general params once, without recursing, so the shared
// context is not duplicated per member.
func CopyParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
