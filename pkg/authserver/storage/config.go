// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"time"
)

// Type defines the type of storage backend.
type Type string

const (
	// TypeMemory uses in-memory storage (default).
	TypeMemory Type = "memory"

	// TypeRedis uses a Redis server or Sentinel deployment.
	TypeRedis Type = "redis"

	// DefaultCleanupInterval is how often the in-memory background cleanup runs.
	DefaultCleanupInterval = 5 * time.Minute
)

// Key types used to build Redis keys.
const (
	KeyTypeAuthCode  = "auth_code"
	KeyTypeRefresh   = "refresh_token"
	KeyTypeBlacklist = "token_blacklist"
)

// Config configures the storage backend.
type Config struct {
	// Type specifies the storage backend type. Defaults to memory.
	Type Type `mapstructure:"type" yaml:"type"`

	// Redis configures the Redis backend when Type is redis.
	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Type: TypeMemory,
	}
}

// Validate checks the configuration for the selected backend.
func (c *Config) Validate() error {
	switch c.Type {
	case "", TypeMemory:
		return nil
	case TypeRedis:
		return validateRedisConfig(&c.Redis)
	default:
		return fmt.Errorf("unsupported storage type %q", c.Type)
	}
}

// New creates the storage backend selected by cfg.
func New(ctx context.Context, cfg *Config) (Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Type == TypeRedis {
		return NewRedisStorage(ctx, cfg.Redis)
	}
	return NewMemoryStorage(), nil
}
