package cache

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// envelope is the on-backend representation of a cache entry. Both tiers
// store the same envelope so a durable hit can backfill the fast tier
// verbatim.
type envelope struct {
	Payload   []byte `msgpack:"p"`
	ValidUnix int64  `msgpack:"v"`
	Loaded    bool   `msgpack:"l"`
}

func encodeEnvelope(payload []byte, validUntil time.Time, loaded bool) ([]byte, error) {
	env := envelope{Payload: payload, Loaded: loaded}
	if !validUntil.IsZero() {
		env.ValidUnix = validUntil.Unix()
	}
	return msgpack.Marshal(&env)
}

func decodeEnvelope(key string, tier Tier, raw []byte) (*Entry, error) {
	var env envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	entry := &Entry{
		Key:     key,
		Tier:    tier,
		Payload: env.Payload,
		Loaded:  env.Loaded,
	}
	if env.ValidUnix != 0 {
		entry.ValidUntil = time.Unix(env.ValidUnix, 0)
	}
	return entry, nil
}
