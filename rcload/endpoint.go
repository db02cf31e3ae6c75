package rcload

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/beyondseo/rcengine/rcbatch"
)

// EndpointVariant is one concrete remote endpoint an entity loads
// through. An entity may declare several variants; each becomes its own
// operation with a distinguishable correlation id.
type EndpointVariant struct {
	// Path is the endpoint descriptor: a verb-prefixed microservice
	// route ("GET:/sites/{id}/pages") or a bare legacy endpoint name.
	// {token} placeholders are substituted from the payload's "path"
	// sub-map before the operation is built.
	Path string

	// Extra carries variant-specific parameters merged recursively
	// into the base payload. They also fold into the correlation key so
	// each variant routes independently.
	Extra map[string]any
}

// Endpoints is a convenience constructor for plain endpoint variants.
func Endpoints(paths ...string) []EndpointVariant {
	variants := make([]EndpointVariant, len(paths))
	for i, p := range paths {
		variants[i] = EndpointVariant{Path: p}
	}
	return variants
}

// fingerprint hashes the variant's path and extras. Sibling variants on
// one node fold it into their correlation ids so each routes on its
// own instead of colliding in the batch's dedup.
func (v EndpointVariant) fingerprint() uint64 {
	h := xxhash.New()
	h.WriteString(v.Path)
	if v.Extra != nil {
		fmt.Fprintf(h, "#%016x", rcbatch.ParamsHash(v.Extra))
	}
	return h.Sum64()
}

// pathParamsKey is the payload sub-map holding {token} substitutions.
const pathParamsKey = "path"

// expandPath substitutes {token} placeholders in path from the
// payload's "path" sub-map and returns the concrete endpoint together
// with the params stripped of the literal "path" key. params is not
// mutated.
func expandPath(path string, params map[string]any) (string, map[string]any, error) {
	sub, ok := params[pathParamsKey].(map[string]any)
	if !ok {
		if strings.Contains(path, "{") {
			return "", nil, fmt.Errorf("rcload: endpoint %q has placeholders but payload carries no path sub-map", path)
		}
		return path, params, nil
	}

	expanded := path
	for token, value := range sub {
		expanded = strings.ReplaceAll(expanded, "{"+token+"}", fmt.Sprintf("%v", value))
	}
	if strings.Contains(expanded, "{") {
		return "", nil, fmt.Errorf("rcload: endpoint %q has unresolved placeholders after substitution", expanded)
	}

	stripped := make(map[string]any, len(params)-1)
	for k, v := range params {
		if k == pathParamsKey {
			continue
		}
		stripped[k] = v
	}
	return expanded, stripped, nil
}
