// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/stacklok/toka/pkg/authserver/identity"
	"github.com/stacklok/toka/pkg/authserver/storage"
	tokaerrors "github.com/stacklok/toka/pkg/errors"
)

// Messages for failures of the directory, role service and store.
const (
	msgUserUnavailable  = "Unable to load user"
	msgRoleUnavailable  = "Unable to load role abilities"
	msgStoreUnavailable = "Token store is unavailable"
	msgUserNotFound     = "User not found"
	msgRoleNotFound     = "Role not found"
)

// bounded runs fn under the upstream timeout.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

// upstreamError converts a port failure into KindUpstreamUnavailable,
// leaving domain errors untouched.
func upstreamError(message string, err error) error {
	if _, ok := tokaerrors.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("upstream call timed out", "operation", message)
	} else {
		slog.Warn("upstream call failed", "operation", message, "error", err)
	}
	return tokaerrors.Wrap(tokaerrors.KindUpstreamUnavailable, message, err)
}

// findUser loads a user by id, mapping a missing user to KindUserNotFound.
func (c *core) findUser(ctx context.Context, id string) (*identity.User, error) {
	user, err := bounded(ctx, c.settings.UpstreamTimeout, func(ctx context.Context) (*identity.User, error) {
		return c.deps.Users.FindByID(ctx, id)
	})
	if errors.Is(err, identity.ErrUserNotFound) || (err == nil && user == nil) {
		return nil, tokaerrors.New(tokaerrors.KindUserNotFound, msgUserNotFound)
	}
	if err != nil {
		return nil, upstreamError(msgUserUnavailable, err)
	}
	return user, nil
}

// resolveAbilities loads the current abilities of roleID. Users without a
// role carry no abilities.
func (c *core) resolveAbilities(ctx context.Context, roleID string) (*identity.RoleAbilities, error) {
	if roleID == "" {
		return nil, nil
	}
	abilities, err := bounded(ctx, c.settings.UpstreamTimeout, func(ctx context.Context) (*identity.RoleAbilities, error) {
		return c.deps.Roles.Abilities(ctx, roleID)
	})
	if errors.Is(err, identity.ErrRoleNotFound) || (err == nil && abilities == nil) {
		return nil, tokaerrors.New(tokaerrors.KindRoleNotFound, msgRoleNotFound)
	}
	if err != nil {
		return nil, upstreamError(msgRoleUnavailable, err)
	}
	return abilities, nil
}

// storeCall runs a store operation under the upstream timeout. ErrNotFound
// is passed through for the caller to classify.
func storeCall[T any](ctx context.Context, c *core, fn func(context.Context, storage.Storage) (T, error)) (T, error) {
	v, err := bounded(ctx, c.settings.UpstreamTimeout, func(ctx context.Context) (T, error) {
		return fn(ctx, c.deps.Store)
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return v, upstreamError(msgStoreUnavailable, err)
	}
	return v, err
}

// storeExec is storeCall for operations without a result.
func storeExec(ctx context.Context, c *core, fn func(context.Context, storage.Storage) error) error {
	_, err := storeCall(ctx, c, func(ctx context.Context, s storage.Storage) (struct{}, error) {
		return struct{}{}, fn(ctx, s)
	})
	return err
}

// isBlacklisted checks the blacklist for jti.
func (c *core) isBlacklisted(ctx context.Context, jti string) (bool, error) {
	return storeCall(ctx, c, func(ctx context.Context, s storage.Storage) (bool, error) {
		return s.IsBlacklisted(ctx, jti)
	})
}

// blacklist records jti until expiresAt.
func (c *core) blacklist(ctx context.Context, jti string, expiresAt time.Time) error {
	return storeExec(ctx, c, func(ctx context.Context, s storage.Storage) error {
		return s.Blacklist(ctx, jti, expiresAt)
	})
}
