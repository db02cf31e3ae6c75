package cache

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// keyPrefix namespaces every encoded key inside the storage backend so
// entries written by this module never collide with foreign keys.
const keyPrefix = "rc:"

// KeyCodec turns logical cache keys into storage-safe encoded keys.
//
// Logical keys are free-form strings derived from entity unique keys and
// may contain characters (spaces, braces, slashes) that storage backends
// reject or truncate. Every logical key is therefore run through a
// one-way hash salted with a deployment scope, which also prevents
// cross-deployment collisions when several installations share one
// durable backend.
//
// The mapping is one-way on purpose. Callers that need to translate
// encoded keys back (multi-get result dispatch) build a lookup table for
// the duration of a single call via EncodeMulti; the table is never
// persisted.
type KeyCodec struct {
	salt string
}

// NewKeyCodec creates a codec scoped to the given deployment salt.
// Two codecs with different salts never produce colliding encoded keys
// for the same logical key.
func NewKeyCodec(salt string) *KeyCodec {
	return &KeyCodec{salt: salt}
}

// Encode maps a logical key to its storage-safe form.
func (c *KeyCodec) Encode(key string) string {
	sum := xxhash.Sum64String(c.salt + "/" + key)
	return fmt.Sprintf("%s%016x", keyPrefix, sum)
}

// EncodeMulti encodes keys preserving order and returns the reverse
// lookup table (encoded -> logical) valid for this call only.
func (c *KeyCodec) EncodeMulti(keys []string) ([]string, map[string]string) {
	encoded := make([]string, 0, len(keys))
	reverse := make(map[string]string, len(keys))
	for _, k := range keys {
		e := c.Encode(k)
		if _, dup := reverse[e]; dup {
			continue
		}
		encoded = append(encoded, e)
		reverse[e] = k
	}
	return encoded, reverse
}
