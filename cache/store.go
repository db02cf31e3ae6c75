package cache

import (
	"context"
	"log/slog"
	"time"
)

// Option customizes a tiered store.
type Option func(*tieredStore)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(log *slog.Logger) Option {
	return func(s *tieredStore) { s.log = log }
}

// WithClock overrides the time source. Tests use this to simulate TTL
// expiry without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *tieredStore) { s.now = now }
}

// tieredStore composes a fast and a durable backend behind the Store
// contract. The fast tier is consulted first and backfilled on durable
// hits; its TTL is clamped because it is capacity-constrained.
type tieredStore struct {
	fast       Backend
	durable    Backend
	codec      *KeyCodec
	maxFastTTL time.Duration
	now        func() time.Time
	log        *slog.Logger
}

// NewStore builds a tiered Store over the two backends using the
// provided configuration.
func NewStore(fast, durable Backend, cfg Config, opts ...Option) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &tieredStore{
		fast:       fast,
		durable:    durable,
		codec:      NewKeyCodec(cfg.Salt),
		maxFastTTL: cfg.MaxFastTTL,
		now:        time.Now,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *tieredStore) Get(ctx context.Context, key string, tier Tier) (*Entry, error) {
	if tier == TierNone {
		return nil, nil
	}
	encoded := s.codec.Encode(key)

	if tier.IncludesFast() {
		entry, err := s.getFrom(ctx, s.fast, key, encoded, TierFast)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}
	}

	if tier.IncludesDurable() {
		entry, err := s.getFrom(ctx, s.durable, key, encoded, TierDurable)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			s.backfillFast(ctx, encoded, entry)
			return entry, nil
		}
	}

	return nil, nil
}

// getFrom reads one backend and applies the staleness invariant: an
// entry with an empty payload past its validity window counts as absent
// and is evicted on the spot.
func (s *tieredStore) getFrom(ctx context.Context, backend Backend, key, encoded string, tier Tier) (*Entry, error) {
	raw, ok, err := backend.Get(ctx, encoded)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	entry, err := decodeEnvelope(key, tier, raw)
	if err != nil {
		return nil, err
	}
	if entry.Expired(s.now()) && entry.Empty() {
		if delErr := backend.Delete(ctx, encoded); delErr != nil {
			s.log.Warn("cache: evicting stale entry failed", "key", key, "tier", tier.String(), "error", delErr)
		}
		return nil, nil
	}
	return entry, nil
}

func (s *tieredStore) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	encoded, reverse := s.codec.EncodeMulti(keys)

	raw, err := s.durable.GetMulti(ctx, encoded)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	results := make(map[string][]byte, len(raw))
	for encKey, blob := range raw {
		logical, ok := reverse[encKey]
		if !ok {
			continue
		}
		entry, err := decodeEnvelope(logical, TierDurable, blob)
		if err != nil {
			return nil, err
		}
		if entry.Expired(s.now()) && entry.Empty() {
			if delErr := s.durable.Delete(ctx, encKey); delErr != nil {
				s.log.Warn("cache: evicting stale entry failed", "key", logical, "tier", "durable", "error", delErr)
			}
			continue
		}
		s.backfillFast(ctx, encKey, entry)
		results[logical] = entry.Payload
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results, nil
}

func (s *tieredStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration, tier Tier) error {
	if tier == TierNone {
		return nil
	}
	var validUntil time.Time
	if ttl > 0 {
		validUntil = s.now().Add(ttl)
	}
	// An empty payload is a negative entry, so its loaded flag stays
	// unset to match what Entry.Loaded reports.
	blob, err := encodeEnvelope(payload, validUntil, len(payload) > 0)
	if err != nil {
		return err
	}
	encoded := s.codec.Encode(key)

	if tier.IncludesFast() {
		if err := s.fast.Set(ctx, encoded, blob, s.clampFastTTL(ttl)); err != nil {
			return err
		}
	}
	if tier.IncludesDurable() {
		if err := s.durable.Set(ctx, encoded, blob, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (s *tieredStore) Delete(ctx context.Context, key string, tier Tier) error {
	encoded := s.codec.Encode(key)
	if tier.IncludesFast() {
		if err := s.fast.Delete(ctx, encoded); err != nil {
			return err
		}
	}
	if tier.IncludesDurable() {
		if err := s.durable.Delete(ctx, encoded); err != nil {
			return err
		}
	}
	return nil
}

// backfillFast writes a durable hit through to the fast tier. Backfill
// failures are logged, not surfaced: the caller already has the data.
func (s *tieredStore) backfillFast(ctx context.Context, encoded string, entry *Entry) {
	ttl := s.maxFastTTL
	if !entry.ValidUntil.IsZero() {
		if remaining := entry.ValidUntil.Sub(s.now()); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return
	}
	blob, err := encodeEnvelope(entry.Payload, entry.ValidUntil, entry.Loaded)
	if err != nil {
		s.log.Warn("cache: backfill encode failed", "key", entry.Key, "error", err)
		return
	}
	if err := s.fast.Set(ctx, encoded, blob, ttl); err != nil {
		s.log.Warn("cache: fast tier backfill failed", "key", entry.Key, "error", err)
	}
}

func (s *tieredStore) clampFastTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > s.maxFastTTL {
		return s.maxFastTTL
	}
	return ttl
}
