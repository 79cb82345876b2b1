// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/stacklok/toka/pkg/authserver/events"
	"github.com/stacklok/toka/pkg/authserver/metrics"
	"github.com/stacklok/toka/pkg/authserver/storage"
	tokaerrors "github.com/stacklok/toka/pkg/errors"
)

const msgLogoutRefreshInvalid = "Invalid refresh token"

// LogoutInput carries the tokens of the session being ended. RefreshToken
// is optional.
type LogoutInput struct {
	AccessToken  string
	RefreshToken string
}

// RevocationService ends sessions by blacklisting their tokens.
type RevocationService struct {
	*core
}

// Logout revokes the access token and, when supplied, the refresh token.
// Both tokens are verified before anything is revoked. The refresh token
// must belong to the same subject and client as the access token.
func (s *RevocationService) Logout(ctx context.Context, in LogoutInput) error {
	access, err := s.deps.Codec.VerifyAccess(ctx, in.AccessToken)
	if tokaerrors.IsTokenInvalid(err) {
		return tokaerrors.New(tokaerrors.KindTokenInvalid, "Invalid access token")
	}
	if err != nil {
		return err
	}

	var (
		refreshJTI string
		record     *storage.RefreshTokenRecord
	)
	if in.RefreshToken != "" {
		refresh, err := s.deps.Codec.VerifyRefresh(ctx, in.RefreshToken)
		if tokaerrors.IsTokenInvalid(err) {
			return tokaerrors.New(tokaerrors.KindInvalidGrant, msgLogoutRefreshInvalid)
		}
		if err != nil {
			return err
		}
		if refresh.Claims.Subject != access.Claims.Subject || refresh.Claims.ClientID != access.Claims.ClientID {
			slog.Debug("logout refresh token belongs to another session", "client_id", access.Claims.ClientID)
			return tokaerrors.New(tokaerrors.KindInvalidGrant, msgLogoutRefreshInvalid)
		}

		record, err = storeCall(ctx, s.core, func(ctx context.Context, st storage.Storage) (*storage.RefreshTokenRecord, error) {
			return st.GetRefreshToken(ctx, refresh.JTI)
		})
		switch {
		case errors.Is(err, storage.ErrNotFound):
			record = nil
		case err != nil:
			return err
		case record.ClientID != access.Claims.ClientID:
			slog.Debug("logout refresh record issued to another client", "client_id", access.Claims.ClientID)
			return tokaerrors.New(tokaerrors.KindInvalidGrant, msgLogoutRefreshInvalid)
		}
		refreshJTI = refresh.JTI
	}

	if err := s.blacklist(ctx, access.JTI, access.ExpiresAt); err != nil {
		return err
	}
	s.deps.Metrics.Revocation(metrics.RevokedAccess)

	if record != nil {
		if err := s.revokeRefresh(ctx, refreshJTI, record); err != nil {
			return err
		}
		s.deps.Metrics.Revocation(metrics.RevokedRefresh)
	}

	claims := access.Claims
	s.deps.Events.Publish(ctx, events.UserLoggedOut(claims.Subject, claims.ClientID, claims.Subject, claims.Role, s.now()))
	return nil
}

// revokeRefresh marks the record revoked and blacklists jti until the
// record's expiry. A record that vanished since the lookup is not an error;
// the refresh token has been rotated away or has expired from the store.
func (s *RevocationService) revokeRefresh(ctx context.Context, jti string, record *storage.RefreshTokenRecord) error {
	_, err := storeCall(ctx, s.core, func(ctx context.Context, st storage.Storage) (bool, error) {
		return st.RevokeRefreshToken(ctx, jti)
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return s.blacklist(ctx, jti, record.ExpiresAt)
}
