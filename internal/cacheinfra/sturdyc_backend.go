// Package cacheinfra contains the concrete cache tier backends: a
// sturdyc-backed fast tier and a bun-backed durable tier.
package cacheinfra

import (
	"context"
	"time"

	"github.com/viccon/sturdyc"
)

// FastConfig holds the configuration for the sturdyc fast tier backend.
type FastConfig struct {
	// Capacity defines the maximum number of entries the tier can store.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of cache shards for concurrent
	// access. Must be greater than 0.
	NumShards int

	// TTL is the client-wide time-to-live for entries in this tier.
	// Per-entry validity is tracked in the stored envelope; this value
	// only bounds how long sturdyc keeps the bytes around.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the tier reaches capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often expired entries are scanned for.
	// Zero uses the sturdyc default.
	EvictionInterval time.Duration
}

// DefaultFastConfig returns a FastConfig with sensible defaults.
func DefaultFastConfig() FastConfig {
	return FastConfig{
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
	}
}

// Validate checks if the configuration values are valid.
func (c FastConfig) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}
	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}
	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}
	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// sturdycBackend adapts a sturdyc client to the cache.Backend contract.
type sturdycBackend struct {
	client *sturdyc.Client[[]byte]
}

// NewSturdycBackend creates the fast tier backend. It validates the
// configuration and initializes a sturdyc client with the provided
// settings.
//
// Version compatibility note: this implementation assumes sturdyc v1.x
// API. Monitor sturdyc version upgrades for potential option changes.
func NewSturdycBackend(cfg FastConfig) (*sturdycBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var options []sturdyc.Option
	if cfg.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(cfg.EvictionInterval))
	}

	client := sturdyc.New[[]byte](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		options...,
	)

	return &sturdycBackend{client: client}, nil
}

// Get returns the bytes stored under key, if present.
func (b *sturdycBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok := b.client.Get(key)
	if !ok {
		return nil, false, nil
	}
	return value, true, nil
}

// GetMulti resolves each key individually. The fast tier is in-process,
// so there is no round trip to amortize; batched durable reads are the
// bun backend's job.
func (b *sturdycBackend) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	results := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if value, ok := b.client.Get(key); ok {
			results[key] = value
		}
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results, nil
}

// Set stores value under key. The per-entry ttl argument is accepted for
// contract symmetry; sturdyc applies its client-wide TTL, and entry
// staleness is enforced by the envelope's validity timestamp upstream.
func (b *sturdycBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	b.client.Set(key, value)
	return nil
}

// Delete removes key from the tier.
func (b *sturdycBackend) Delete(ctx context.Context, key string) error {
	b.client.Delete(key)
	return nil
}
