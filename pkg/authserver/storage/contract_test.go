// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStorageTests exercises the behavior every Storage implementation shares.
func runStorageTests(t *testing.T, newStorage func(t *testing.T) Storage) {
	t.Helper()

	t.Run("code is consumed exactly once", func(t *testing.T) {
		t.Parallel()
		s := newStorage(t)
		ctx := context.Background()

		code := &AuthorizationCode{
			Code:        "abc123",
			UserID:      "user-1",
			ClientID:    "web",
			RedirectURI: "http://localhost:3000/callback",
			Scope:       "openid profile",
			Nonce:       "n-1",
			ExpiresAt:   time.Now().Add(10 * time.Minute).UTC().Truncate(time.Second),
		}
		require.NoError(t, s.StoreAuthorizationCode(ctx, code))

		got, err := s.ConsumeAuthorizationCode(ctx, "abc123")
		require.NoError(t, err)
		assert.Equal(t, code.UserID, got.UserID)
		assert.Equal(t, code.ClientID, got.ClientID)
		assert.Equal(t, code.RedirectURI, got.RedirectURI)
		assert.Equal(t, code.Scope, got.Scope)
		assert.Equal(t, code.Nonce, got.Nonce)
		assert.True(t, code.ExpiresAt.Equal(got.ExpiresAt))

		_, err = s.ConsumeAuthorizationCode(ctx, "abc123")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown code", func(t *testing.T) {
		t.Parallel()
		s := newStorage(t)
		_, err := s.ConsumeAuthorizationCode(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty code rejected", func(t *testing.T) {
		t.Parallel()
		s := newStorage(t)
		assert.Error(t, s.StoreAuthorizationCode(context.Background(), &AuthorizationCode{}))
	})

	t.Run("concurrent consume yields one winner", func(t *testing.T) {
		t.Parallel()
		s := newStorage(t)
		ctx := context.Background()
		require.NoError(t, s.StoreAuthorizationCode(ctx, &AuthorizationCode{
			Code: "race", UserID: "user-1", ClientID: "web", ExpiresAt: time.Now().Add(time.Minute),
		}))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.ConsumeAuthorizationCode(ctx, "race"); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("refresh record round trip", func(t *testing.T) {
		t.Parallel()
		s := newStorage(t)
		ctx := context.Background()

		record := &RefreshTokenRecord{
			TokenID:   "jti-1",
			UserID:    "user-1",
			ClientID:  "web",
			Scope:     "openid",
			ExpiresAt: time.Now().Add(24 * time.Hour).UTC().Truncate(time.Millisecond),
		}
		require.NoError(t, s.SaveRefreshToken(ctx, record))

		got, err := s.GetRefreshToken(ctx, "jti-1")
		require.NoError(t, err)
		assert.Equal(t, record.UserID, got.UserID)
		assert.Equal(t, record.ClientID, got.ClientID)
		assert.Equal(t, record.Scope, got.Scope)
		assert.False(t, got.Revoked)
		assert.True(t, record.ExpiresAt.Equal(got.ExpiresAt))

		_, err = s.GetRefreshToken(ctx, "jti-missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("revoke is compare and set", func(t *testing.T) {
		t.Parallel()
		s := newStorage(t)
		ctx := context.Background()
		require.NoError(t, s.SaveRefreshToken(ctx, &RefreshTokenRecord{
			TokenID: "jti-2", UserID: "user-1", ClientID: "web", Scope: "openid",
			ExpiresAt: time.Now().Add(time.Hour),
		}))

		revoked, err := s.RevokeRefreshToken(ctx, "jti-2")
		require.NoError(t, err)
		assert.True(t, revoked)

		revoked, err = s.RevokeRefreshToken(ctx, "jti-2")
		require.NoError(t, err)
		assert.False(t, revoked)

		got, err := s.GetRefreshToken(ctx, "jti-2")
		require.NoError(t, err)
		assert.True(t, got.Revoked)
		assert.Equal(t, "openid", got.Scope)

		_, err = s.RevokeRefreshToken(ctx, "jti-missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent revoke yields one winner", func(t *testing.T) {
		t.Parallel()
		s := newStorage(t)
		ctx := context.Background()
		require.NoError(t, s.SaveRefreshToken(ctx, &RefreshTokenRecord{
			TokenID: "jti-race", UserID: "user-1", ClientID: "web", ExpiresAt: time.Now().Add(time.Hour),
		}))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ok, err := s.RevokeRefreshToken(ctx, "jti-race"); err == nil && ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("blacklist", func(t *testing.T) {
		t.Parallel()
		s := newStorage(t)
		ctx := context.Background()

		listed, err := s.IsBlacklisted(ctx, "jti-3")
		require.NoError(t, err)
		assert.False(t, listed)

		require.NoError(t, s.Blacklist(ctx, "jti-3", time.Now().Add(time.Hour)))

		listed, err = s.IsBlacklisted(ctx, "jti-3")
		require.NoError(t, err)
		assert.True(t, listed)

		assert.Error(t, s.Blacklist(ctx, "", time.Now().Add(time.Hour)))
	})

	t.Run("health", func(t *testing.T) {
		t.Parallel()
		s := newStorage(t)
		assert.NoError(t, s.Health(context.Background()))
	})
}
