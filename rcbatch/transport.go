package rcbatch

import (
	"context"
	"encoding/json"
	"time"
)

// MonolithEndpoint is the reserved endpoint identifier for the legacy
// aggregate call. All operations whose endpoint carries no HTTP verb
// prefix are folded into one POST under this name; its response body
// nests per-endpoint/per-id results.
const MonolithEndpoint = "monolith"

// ResponseSet maps endpoint identifier to correlation id to raw
// response body. Both transport families (microservice and legacy
// aggregate) demultiplex into this shape, so response routing is
// format-agnostic.
type ResponseSet map[string]map[string]json.RawMessage

// Transport dispatches one round of finalized calls concurrently and
// jointly awaits all in-flight requests. A decode failure (malformed
// body, embedded error field) is surfaced as a single error for the
// round, not per call.
type Transport interface {
	Do(ctx context.Context, calls []*Call, timeout time.Duration) (ResponseSet, error)
}
