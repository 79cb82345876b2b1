// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/stacklok/toka/pkg/authserver/metrics"
	"github.com/stacklok/toka/pkg/authserver/storage"
	tokaerrors "github.com/stacklok/toka/pkg/errors"
)

const (
	msgRefreshInvalid = "Refresh token is invalid"
	msgRefreshRevoked = "Refresh token is revoked"
)

// RefreshInput is a refresh_token grant.
type RefreshInput struct {
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// RefreshRotator exchanges a refresh token for a new token set, revoking
// the presented token.
type RefreshRotator struct {
	*core
}

// Rotate performs refresh-token rotation. Each refresh token can be rotated
// at most once: the old record is revoked with compare-and-set semantics and
// its jti blacklisted before new tokens are issued.
func (r *RefreshRotator) Rotate(ctx context.Context, in RefreshInput) (*TokenSet, error) {
	set, err := r.rotate(ctx, in)
	r.deps.Metrics.Grant(GrantTypeRefreshToken, err)
	if tokaerrors.IsRevokedGrant(err) {
		r.deps.Metrics.RefreshReplay()
	}
	return set, err
}

func (r *RefreshRotator) rotate(ctx context.Context, in RefreshInput) (*TokenSet, error) {
	if in.RefreshToken == "" || in.ClientID == "" || in.ClientSecret == "" {
		return nil, tokaerrors.New(tokaerrors.KindMissingParameter, msgMissingParameters)
	}

	if _, err := r.authenticateClient(ctx, in.ClientID, in.ClientSecret); err != nil {
		return nil, err
	}

	verified, err := r.deps.Codec.VerifyRefresh(ctx, in.RefreshToken)
	if tokaerrors.IsTokenInvalid(err) {
		return nil, refreshError(tokaerrors.KindInvalidGrant, msgRefreshInvalid)
	}
	if err != nil {
		return nil, err
	}
	jti := verified.JTI

	listed, err := r.isBlacklisted(ctx, jti)
	if err != nil {
		return nil, err
	}
	if listed {
		return nil, refreshError(tokaerrors.KindRevokedGrant, msgRefreshRevoked)
	}

	record, err := storeCall(ctx, r.core, func(ctx context.Context, s storage.Storage) (*storage.RefreshTokenRecord, error) {
		return s.GetRefreshToken(ctx, jti)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, refreshError(tokaerrors.KindInvalidGrant, msgRefreshInvalid)
	}
	if err != nil {
		return nil, err
	}
	if record.Revoked {
		return nil, refreshError(tokaerrors.KindInvalidGrant, msgRefreshInvalid)
	}
	if record.IsExpired(r.now()) {
		return nil, refreshError(tokaerrors.KindExpiredGrant, "Refresh token has expired")
	}
	if record.ClientID != in.ClientID || !slices.Contains(verified.Audience, in.ClientID) {
		return nil, tokaerrors.New(tokaerrors.KindClientMismatch, "Refresh token is not valid for this client")
	}

	user, err := r.findUser(ctx, record.UserID)
	if err != nil {
		return nil, err
	}
	abilities, err := r.resolveAbilities(ctx, user.RoleID)
	if err != nil {
		return nil, err
	}

	revoked, err := storeCall(ctx, r.core, func(ctx context.Context, s storage.Storage) (bool, error) {
		return s.RevokeRefreshToken(ctx, jti)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, refreshError(tokaerrors.KindInvalidGrant, msgRefreshInvalid)
	}
	if err != nil {
		return nil, err
	}
	if !revoked {
		slog.Warn("refresh token rotated concurrently", "client_id", in.ClientID, "user_id", record.UserID)
		return nil, refreshError(tokaerrors.KindRevokedGrant, msgRefreshRevoked)
	}
	if err := r.blacklist(ctx, jti, record.ExpiresAt); err != nil {
		return nil, err
	}
	r.deps.Metrics.Revocation(metrics.RevokedRefresh)

	return r.mint(ctx, grant{
		user:      user,
		abilities: abilities,
		clientID:  in.ClientID,
		scope:     record.Scope,
	})
}

// refreshError reports refresh-grant failures with 401, as clients treat
// any refresh failure as "log in again".
func refreshError(kind tokaerrors.Kind, message string) error {
	return tokaerrors.New(kind, message).WithStatus(http.StatusUnauthorized)
}
