// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// blacklistMarker is the value stored under a blacklist key.
const blacklistMarker = "1"

// RedisConfig holds Redis connection configuration for runtime use.
// Exactly one of URL or SentinelConfig must be set.
type RedisConfig struct {
	// URL is a redis:// or rediss:// connection URL for a standalone server.
	URL string `mapstructure:"url" yaml:"url,omitempty"`

	// SentinelConfig selects a Sentinel-managed deployment.
	SentinelConfig *SentinelConfig `mapstructure:"sentinel" yaml:"sentinel,omitempty"`

	// ACLUserConfig optionally authenticates as an ACL user. It overrides
	// credentials carried in URL.
	ACLUserConfig *ACLUserConfig `mapstructure:"acl" yaml:"acl,omitempty"`

	// KeyPrefix is prepended to every key, e.g. "toka:".
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout,omitempty"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout,omitempty"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout,omitempty"`
}

// SentinelConfig contains Redis Sentinel configuration.
type SentinelConfig struct {
	MasterName    string   `mapstructure:"master_name" yaml:"master_name"`
	SentinelAddrs []string `mapstructure:"addrs" yaml:"addrs"`
	DB            int      `mapstructure:"db" yaml:"db,omitempty"`
}

// ACLUserConfig contains Redis ACL user authentication configuration.
type ACLUserConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// RedisStorage implements the Storage interface on Redis. Codes, refresh
// records and blacklist entries are plain keys whose TTL tracks the entry's
// expiry, so replicas sharing the server see a consistent view.
type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// NewRedisStorage creates Redis-backed storage and verifies connectivity.
// Returns error if configuration validation fails or connection cannot be established.
func NewRedisStorage(ctx context.Context, cfg RedisConfig) (*RedisStorage, error) {
	if err := validateRedisConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}

	// Apply defaults
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client, err := newRedisClient(&cfg)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		// Close the client to prevent resource leak
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStorageWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStorageWithClient creates a RedisStorage with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStorageWithClient(client redis.UniversalClient, keyPrefix string) *RedisStorage {
	return &RedisStorage{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

func newRedisClient(cfg *RedisConfig) (redis.UniversalClient, error) {
	var username, password string
	if cfg.ACLUserConfig != nil {
		username, password = cfg.ACLUserConfig.Username, cfg.ACLUserConfig.Password
	}

	if cfg.SentinelConfig != nil {
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.SentinelConfig.MasterName,
			SentinelAddrs: cfg.SentinelConfig.SentinelAddrs,
			DB:            cfg.SentinelConfig.DB,
			Username:      username,
			Password:      password,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		}), nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.ACLUserConfig != nil {
		opts.Username, opts.Password = username, password
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	return redis.NewClient(opts), nil
}

func validateRedisConfig(cfg *RedisConfig) error {
	if cfg.URL == "" && cfg.SentinelConfig == nil {
		return errors.New("either a redis URL or a sentinel configuration is required")
	}
	if cfg.URL != "" && cfg.SentinelConfig != nil {
		return errors.New("redis URL and sentinel configuration are mutually exclusive")
	}
	if cfg.SentinelConfig != nil {
		if cfg.SentinelConfig.MasterName == "" {
			return errors.New("sentinel master name is required")
		}
		if len(cfg.SentinelConfig.SentinelAddrs) == 0 {
			return errors.New("at least one sentinel address is required")
		}
	}
	return nil
}

func redisKey(prefix, keyType, id string) string {
	return prefix + keyType + ":" + id
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// Health checks Redis connectivity.
func (s *RedisStorage) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStorage) setJSON(ctx context.Context, key string, value any, expiresAt time.Time) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return s.client.Set(ctx, key, data, ttlUntil(s.now(), expiresAt)).Err()
}

// -----------------------
// Authorization codes
// -----------------------

// consumeScript atomically reads and deletes a key. Returns nil if the key
// doesn't exist.
var consumeScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
	return false
end
redis.call('DEL', KEYS[1])
return data
`)

// StoreAuthorizationCode stores a code with a TTL matching its expiry.
func (s *RedisStorage) StoreAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return errors.New("authorization code cannot be empty")
	}
	key := redisKey(s.keyPrefix, KeyTypeAuthCode, code.Code)
	if err := s.setJSON(ctx, key, code, code.ExpiresAt); err != nil {
		return fmt.Errorf("failed to store authorization code: %w", err)
	}
	return nil
}

// ConsumeAuthorizationCode reads and deletes a code in one script call.
func (s *RedisStorage) ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	key := redisKey(s.keyPrefix, KeyTypeAuthCode, code)

	data, err := consumeScript.Run(ctx, s.client, []string{key}).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: authorization code", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	var record AuthorizationCode
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	return &record, nil
}

// -----------------------
// Refresh tokens
// -----------------------

// revokeScript atomically flips the revoked flag of a refresh-token record,
// preserving the key's remaining TTL.
// Returns 1 if this call revoked the record, 0 if it was already revoked,
// -1 if the key doesn't exist.
var revokeScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
	return -1
end
local record = cjson.decode(data)
if record.revoked then
	return 0
end
record.revoked = true
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
	redis.call('SET', KEYS[1], cjson.encode(record), 'PX', ttl)
else
	redis.call('SET', KEYS[1], cjson.encode(record))
end
return 1
`)

// SaveRefreshToken stores a refresh-token record with a TTL matching its expiry.
func (s *RedisStorage) SaveRefreshToken(ctx context.Context, record *RefreshTokenRecord) error {
	if record == nil || record.TokenID == "" {
		return errors.New("refresh token id cannot be empty")
	}
	key := redisKey(s.keyPrefix, KeyTypeRefresh, record.TokenID)
	if err := s.setJSON(ctx, key, record, record.ExpiresAt); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken loads a refresh-token record.
func (s *RedisStorage) GetRefreshToken(ctx context.Context, tokenID string) (*RefreshTokenRecord, error) {
	key := redisKey(s.keyPrefix, KeyTypeRefresh, tokenID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	var record RefreshTokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}
	return &record, nil
}

// RevokeRefreshToken marks a record revoked with a compare-and-set script.
func (s *RedisStorage) RevokeRefreshToken(ctx context.Context, tokenID string) (bool, error) {
	key := redisKey(s.keyPrefix, KeyTypeRefresh, tokenID)

	result, err := revokeScript.Run(ctx, s.client, []string{key}).Int()
	if err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	switch result {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("%w: refresh token", ErrNotFound)
	}
}

// -----------------------
// Blacklist
// -----------------------

// Blacklist records jti until expiresAt.
func (s *RedisStorage) Blacklist(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return errors.New("jti cannot be empty")
	}
	key := redisKey(s.keyPrefix, KeyTypeBlacklist, jti)
	if err := s.client.Set(ctx, key, blacklistMarker, ttlUntil(s.now(), expiresAt)).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// IsBlacklisted reports whether jti is blacklisted.
func (s *RedisStorage) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	key := redisKey(s.keyPrefix, KeyTypeBlacklist, jti)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists > 0, nil
}

// Compile-time interface check
var _ Storage = (*RedisStorage)(nil)
