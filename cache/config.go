package cache

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config exposes tiered store configuration options.
type Config struct {
	// Salt scopes encoded keys to one deployment. Installations that
	// share a durable backend must use distinct salts.
	Salt string

	// MaxFastTTL caps the fast tier TTL. The fast tier is capacity
	// constrained, so entries never outlive this window there even when
	// the durable entry is valid for longer.
	MaxFastTTL time.Duration
}

// DefaultConfig returns a Config populated with sensible defaults.
// The salt has no safe default and must be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		MaxFastTTL: 5 * time.Minute,
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Salt, validation.Required),
		validation.Field(&c.MaxFastTTL, validation.Required, validation.Min(time.Second)),
	)
}
