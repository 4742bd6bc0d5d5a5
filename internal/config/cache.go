package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// IdentityCacheConfig defines the Redis snapshot cache kept in front of the
// identity table. When Enabled is false or no Redis client is available the
// cache behaves as permanently empty and every read goes to the database.
// Keys are "<Prefix>:<id>".
type IdentityCacheConfig struct {
	Enabled bool          `env:"IDENTITY_CACHE_ENABLED" envDefault:"true"`
	TTL     time.Duration `env:"IDENTITY_CACHE_TTL" envDefault:"24h"`
	Prefix  string        `env:"IDENTITY_CACHE_PREFIX" envDefault:"user"`
}

// LoadIdentityCacheConfig reads the cache variables, defaulting on errors.
func LoadIdentityCacheConfig() IdentityCacheConfig {
	var c IdentityCacheConfig
	if err := env.Parse(&c); err != nil {
		c = IdentityCacheConfig{Enabled: true}
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.Prefix == "" {
		c.Prefix = "user"
	}
	return c
}
