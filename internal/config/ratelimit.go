package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// RateLimitConfig controls the Redis token bucket placed in front of the
// login and refresh endpoints.
type RateLimitConfig struct {
	Enabled        bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	Capacity       int           `env:"RATE_LIMIT_CAPACITY" envDefault:"20"`
	RefillTokens   int           `env:"RATE_LIMIT_REFILL_TOKENS" envDefault:"1"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"3s"`
	TTL            time.Duration `env:"RATE_LIMIT_TTL" envDefault:"10m"`
	KeyStrategy    string        `env:"RATE_LIMIT_KEY_STRATEGY" envDefault:"ip_route"`
	Prefix         string        `env:"RATE_LIMIT_PREFIX" envDefault:"rl"`
	Debug          bool          `env:"RATE_LIMIT_DEBUG" envDefault:"false"`
}

// LoadRateLimitConfig parses the rate limit variables; malformed values fall
// back to the defaults, then the result is clamped to sane bounds.
func LoadRateLimitConfig() RateLimitConfig {
	var def RateLimitConfig
	if err := env.Parse(&def); err != nil {
		def = RateLimitConfig{
			Enabled:        true,
			Capacity:       20,
			RefillTokens:   1,
			RefillInterval: 3 * time.Second,
			TTL:            10 * time.Minute,
			KeyStrategy:    "ip_route",
			Prefix:         "rl",
		}
	}
	return def.normalize()
}

func (c RateLimitConfig) normalize() RateLimitConfig {
	if c.Capacity < 1 {
		c.Capacity = 1
	}
	if c.RefillTokens < 1 {
		c.RefillTokens = 1
	}
	if c.RefillInterval <= 0 {
		c.RefillInterval = time.Second
	}
	if minTTL := 5 * c.RefillInterval; c.TTL < minTTL {
		c.TTL = minTTL
	}
	return c
}
