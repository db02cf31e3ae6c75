package rcload

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeCacheBody serializes an entity snapshot for the cache store
// using the entity's configured serialization method.
func EncodeCacheBody(method Serialization, v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	switch method {
	case SerializationJSON:
		return json.Marshal(v)
	case SerializationOpaque:
		return msgpack.Marshal(v)
	default:
		return nil, fmt.Errorf("rcload: unknown serialization method %d", method)
	}
}

// DecodeCacheBody is the inverse of EncodeCacheBody. Entities call it
// from PopulateFromCache with the raw payload the store handed back.
func DecodeCacheBody(method Serialization, data []byte, out any) error {
	switch method {
	case SerializationJSON:
		return json.Unmarshal(data, out)
	case SerializationOpaque:
		return msgpack.Unmarshal(data, out)
	default:
		return fmt.Errorf("rcload: unknown serialization method %d", method)
	}
}
