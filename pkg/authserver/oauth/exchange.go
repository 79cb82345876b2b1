// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/stacklok/toka/pkg/authserver/storage"
	tokaerrors "github.com/stacklok/toka/pkg/errors"
)

const msgMissingParameters = "Missing required parameters"

// ExchangeInput is an authorization_code grant.
type ExchangeInput struct {
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// CodeExchanger redeems authorization codes for token sets.
type CodeExchanger struct {
	*core
}

// Exchange redeems a code. The code is consumed atomically before any
// other check, so a code can never be redeemed twice even when the first
// redemption fails later on.
func (e *CodeExchanger) Exchange(ctx context.Context, in ExchangeInput) (*TokenSet, error) {
	set, err := e.exchange(ctx, in)
	e.deps.Metrics.Grant(GrantTypeAuthorizationCode, err)
	return set, err
}

func (e *CodeExchanger) exchange(ctx context.Context, in ExchangeInput) (*TokenSet, error) {
	if in.Code == "" || in.ClientID == "" || in.ClientSecret == "" || in.RedirectURI == "" {
		return nil, tokaerrors.New(tokaerrors.KindMissingParameter, msgMissingParameters)
	}

	if _, err := e.authenticateClient(ctx, in.ClientID, in.ClientSecret); err != nil {
		return nil, err
	}

	code, err := storeCall(ctx, e.core, func(ctx context.Context, s storage.Storage) (*storage.AuthorizationCode, error) {
		return s.ConsumeAuthorizationCode(ctx, in.Code)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, tokaerrors.New(tokaerrors.KindInvalidGrant, "Authorization code is invalid")
	}
	if err != nil {
		return nil, err
	}

	if code.IsExpired(e.now()) {
		return nil, tokaerrors.New(tokaerrors.KindExpiredGrant, "Authorization code has expired")
	}
	if code.ClientID != in.ClientID || code.RedirectURI != in.RedirectURI {
		slog.Debug("authorization code presented by a different client or redirect", "client_id", in.ClientID)
		return nil, tokaerrors.New(tokaerrors.KindGrantMismatch, "Authorization code does not match client")
	}

	user, err := e.findUser(ctx, code.UserID)
	if err != nil {
		return nil, err
	}
	abilities, err := e.resolveAbilities(ctx, user.RoleID)
	if err != nil {
		return nil, err
	}

	return e.mint(ctx, grant{
		user:      user,
		abilities: abilities,
		clientID:  in.ClientID,
		scope:     code.Scope,
		nonce:     code.Nonce,
	})
}
