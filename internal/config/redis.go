package config

// Redis backs the identity snapshot cache and the login rate limiter. If the
// server cannot be reached at startup the constructor returns nil and both
// features degrade: the cache always misses and the limiter lets traffic through.

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the connection parameters.
//
//	REDIS_HOST and REDIS_PORT - hostname and port (take precedence over REDIS_ADDR)
//	REDIS_ADDR - host:port shorthand
//	REDIS_PASSWORD - optional password
//	REDIS_DB - database number
//	REDIS_TLS - enable TLS
type RedisConfig struct {
	Host     string `env:"REDIS_HOST"`
	Port     string `env:"REDIS_PORT"`
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	TLS      bool   `env:"REDIS_TLS" envDefault:"false"`
}

// Address resolves the effective host:port.
func (c RedisConfig) Address() string {
	if c.Host != "" && c.Port != "" {
		return c.Host + ":" + c.Port
	}
	return c.Addr
}

// LoadRedisConfig parses the REDIS_* variables.
func LoadRedisConfig() (RedisConfig, error) {
	var c RedisConfig
	if err := env.Parse(&c); err != nil {
		return RedisConfig{}, fmt.Errorf("parse redis env: %w", err)
	}
	return c, nil
}

// NewRedisClient builds a client and pings it with a short timeout. On
// failure it returns a nil client together with the cause.
func NewRedisClient(c RedisConfig) (*redis.Client, error) {
	var tlsConf *tls.Config
	if c.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      c.Address(),
		Password:  c.Password,
		DB:        c.DB,
		TLSConfig: tlsConf,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", c.Address(), err)
	}
	return client, nil
}
