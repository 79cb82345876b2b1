// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the durable store for authorization codes,
// refresh-token records and the token blacklist, with in-memory and Redis
// implementations.
package storage

//go:generate mockgen -destination=mocks/mock_storage.go -package=mocks -source=types.go Storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a code or refresh-token record does not exist.
var ErrNotFound = errors.New("storage: not found")

// AuthorizationCode is a short-lived, single-use grant awaiting exchange.
type AuthorizationCode struct {
	Code        string    `json:"code"`
	UserID      string    `json:"userId"`
	ClientID    string    `json:"clientId"`
	RedirectURI string    `json:"redirectUri"`
	Scope       string    `json:"scope"`
	Nonce       string    `json:"nonce,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// IsExpired reports whether the code's lifetime has ended at now.
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// RefreshTokenRecord is the server-side state of an issued refresh token,
// keyed by the token's jti.
type RefreshTokenRecord struct {
	TokenID   string    `json:"tokenId"`
	UserID    string    `json:"userId"`
	ClientID  string    `json:"clientId"`
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"expiresAt"`
	Revoked   bool      `json:"revoked"`
}

// IsExpired reports whether the record's lifetime has ended at now.
func (r *RefreshTokenRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Storage is the persistence port of the authorization server.
type Storage interface {
	// StoreAuthorizationCode persists a code until its ExpiresAt.
	StoreAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically reads and deletes a code. At most one
	// caller receives the record; every other caller gets ErrNotFound.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// SaveRefreshToken persists a refresh-token record until its ExpiresAt.
	SaveRefreshToken(ctx context.Context, record *RefreshTokenRecord) error

	// GetRefreshToken loads a refresh-token record by jti.
	GetRefreshToken(ctx context.Context, tokenID string) (*RefreshTokenRecord, error)

	// RevokeRefreshToken marks a record revoked. It returns true only for the
	// caller that performed the transition, false if it was already revoked,
	// and ErrNotFound if the record does not exist.
	RevokeRefreshToken(ctx context.Context, tokenID string) (bool, error)

	// Blacklist records jti as revoked until expiresAt.
	Blacklist(ctx context.Context, jti string, expiresAt time.Time) error

	// IsBlacklisted reports whether jti is currently blacklisted.
	IsBlacklisted(ctx context.Context, jti string) (bool, error)

	// Health checks that the backend is reachable.
	Health(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// minKeyTTL is the shortest lifetime given to a stored entry, so that an
// entry written at its expiry instant is still observable as expired.
const minKeyTTL = time.Second

// ttlUntil returns the key lifetime for an entry expiring at expiresAt,
// rounded up to whole seconds and never below minKeyTTL.
func ttlUntil(now, expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(now)
	if rem := ttl % time.Second; rem > 0 {
		ttl += time.Second - rem
	}
	return max(ttl, minKeyTTL)
}
