// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// timedEntry wraps a value with the instant after which it is no longer visible.
type timedEntry[T any] struct {
	value    T
	deadline time.Time
}

func (e *timedEntry[T]) live(now time.Time) bool {
	return now.Before(e.deadline)
}

// MemoryStorage implements the Storage interface with in-memory maps.
// This implementation is thread-safe and suitable for development and
// single-replica deployments. Entries disappear at the same instant a Redis
// key with the equivalent TTL would.
type MemoryStorage struct {
	mu sync.RWMutex

	// authCodes maps authorization code -> record. Codes are deleted on consume.
	authCodes map[string]*timedEntry[AuthorizationCode]

	// refreshTokens maps refresh token jti -> record.
	refreshTokens map[string]*timedEntry[RefreshTokenRecord]

	// blacklist maps jti -> deadline.
	blacklist map[string]time.Time

	now func() time.Time

	// cleanupInterval is how often the background cleanup runs
	cleanupInterval time.Duration

	// stopCleanup is used to signal the cleanup goroutine to stop
	stopCleanup chan struct{}

	// cleanupDone is closed when the cleanup goroutine has fully stopped
	cleanupDone chan struct{}

	closeOnce sync.Once
}

// MemoryStorageOption configures a MemoryStorage instance.
type MemoryStorageOption func(*MemoryStorage)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.cleanupInterval = interval
	}
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.now = now
	}
}

// NewMemoryStorage creates a new MemoryStorage instance with initialized maps
// and starts the background cleanup goroutine.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	s := &MemoryStorage{
		authCodes:       make(map[string]*timedEntry[AuthorizationCode]),
		refreshTokens:   make(map[string]*timedEntry[RefreshTokenRecord]),
		blacklist:       make(map[string]time.Time),
		now:             time.Now,
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Health is a no-op for in-memory storage since it is always available.
func (*MemoryStorage) Health(_ context.Context) error {
	return nil
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
		<-s.cleanupDone
	})
	return nil
}

// cleanupLoop runs periodic cleanup of expired entries.
func (s *MemoryStorage) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired removes all expired entries from storage.
// Collects expired keys under read lock, then deletes under write lock,
// re-checking each entry since it may have been replaced in between.
func (s *MemoryStorage) cleanupExpired() {
	now := s.now()

	s.mu.RLock()
	var expiredCodes, expiredRefresh, expiredBlacklist []string
	for k, v := range s.authCodes {
		if !v.live(now) {
			expiredCodes = append(expiredCodes, k)
		}
	}
	for k, v := range s.refreshTokens {
		if !v.live(now) {
			expiredRefresh = append(expiredRefresh, k)
		}
	}
	for k, deadline := range s.blacklist {
		if !now.Before(deadline) {
			expiredBlacklist = append(expiredBlacklist, k)
		}
	}
	s.mu.RUnlock()

	if len(expiredCodes)+len(expiredRefresh)+len(expiredBlacklist) == 0 {
		return
	}

	s.mu.Lock()
	for _, k := range expiredCodes {
		if e, ok := s.authCodes[k]; ok && !e.live(now) {
			delete(s.authCodes, k)
		}
	}
	for _, k := range expiredRefresh {
		if e, ok := s.refreshTokens[k]; ok && !e.live(now) {
			delete(s.refreshTokens, k)
		}
	}
	for _, k := range expiredBlacklist {
		if deadline, ok := s.blacklist[k]; ok && !now.Before(deadline) {
			delete(s.blacklist, k)
		}
	}
	s.mu.Unlock()

	slog.Debug("expired storage entries removed",
		"auth_codes", len(expiredCodes),
		"refresh_tokens", len(expiredRefresh),
		"blacklist", len(expiredBlacklist),
	)
}

// StoreAuthorizationCode stores a code until its expiry.
func (s *MemoryStorage) StoreAuthorizationCode(_ context.Context, code *AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authCodes[code.Code] = &timedEntry[AuthorizationCode]{
		value:    *code,
		deadline: now.Add(ttlUntil(now, code.ExpiresAt)),
	}
	return nil
}

// ConsumeAuthorizationCode reads and deletes a code under the write lock.
func (s *MemoryStorage) ConsumeAuthorizationCode(_ context.Context, code string) (*AuthorizationCode, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.authCodes[code]
	if !ok {
		return nil, fmt.Errorf("%w: authorization code", ErrNotFound)
	}
	delete(s.authCodes, code)
	if !entry.live(now) {
		return nil, fmt.Errorf("%w: authorization code", ErrNotFound)
	}

	record := entry.value
	return &record, nil
}

// SaveRefreshToken stores a refresh-token record until its expiry.
func (s *MemoryStorage) SaveRefreshToken(_ context.Context, record *RefreshTokenRecord) error {
	if record == nil || record.TokenID == "" {
		return fmt.Errorf("refresh token id cannot be empty")
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshTokens[record.TokenID] = &timedEntry[RefreshTokenRecord]{
		value:    *record,
		deadline: now.Add(ttlUntil(now, record.ExpiresAt)),
	}
	return nil
}

// GetRefreshToken loads a refresh-token record.
func (s *MemoryStorage) GetRefreshToken(_ context.Context, tokenID string) (*RefreshTokenRecord, error) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.refreshTokens[tokenID]
	if !ok || !entry.live(now) {
		return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
	}

	record := entry.value
	return &record, nil
}

// RevokeRefreshToken flips the revoked flag under the write lock.
func (s *MemoryStorage) RevokeRefreshToken(_ context.Context, tokenID string) (bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.refreshTokens[tokenID]
	if !ok || !entry.live(now) {
		return false, fmt.Errorf("%w: refresh token", ErrNotFound)
	}
	if entry.value.Revoked {
		return false, nil
	}
	entry.value.Revoked = true
	return true, nil
}

// Blacklist records jti until expiresAt.
func (s *MemoryStorage) Blacklist(_ context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return fmt.Errorf("jti cannot be empty")
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blacklist[jti] = now.Add(ttlUntil(now, expiresAt))
	return nil
}

// IsBlacklisted reports whether jti is blacklisted.
func (s *MemoryStorage) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	deadline, ok := s.blacklist[jti]
	return ok && now.Before(deadline), nil
}

// Compile-time interface check
var _ Storage = (*MemoryStorage)(nil)
