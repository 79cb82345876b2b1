// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"fmt"

	"github.com/stacklok/toka/pkg/authserver/identity"
	"github.com/stacklok/toka/pkg/authserver/storage"
	"github.com/stacklok/toka/pkg/authserver/token"
	tokaerrors "github.com/stacklok/toka/pkg/errors"
)

// TokenTypeBearer is the token_type of every issued access token.
const TokenTypeBearer = "Bearer"

// TokenSet is the result of a successful grant.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// grant describes what a new token set is issued for.
type grant struct {
	user      *identity.User
	abilities *identity.RoleAbilities
	clientID  string
	scope     string
	nonce     string
}

// mint issues an access, ID and refresh token for g and persists the new
// refresh record.
func (c *core) mint(ctx context.Context, g grant) (*TokenSet, error) {
	access, err := c.deps.Codec.IssueAccess(ctx, token.AccessClaims{
		Subject:       g.user.ID,
		Email:         g.user.Email,
		Name:          g.user.Name,
		Role:          g.user.RoleID,
		RoleAbilities: g.abilities,
		Scope:         g.scope,
		ClientID:      g.clientID,
	}, c.settings.AccessTokenTTL)
	if err != nil {
		return nil, internalError("issue access token", err)
	}

	// The ID token shares the access token's lifetime.
	id, err := c.deps.Codec.IssueID(ctx, token.IDClaims{
		Subject:       g.user.ID,
		Audience:      g.clientID,
		Email:         g.user.Email,
		Name:          g.user.Name,
		Role:          g.user.RoleID,
		RoleAbilities: g.abilities,
		Nonce:         g.nonce,
	}, c.settings.AccessTokenTTL)
	if err != nil {
		return nil, internalError("issue id token", err)
	}

	refresh, err := c.deps.Codec.IssueRefresh(ctx, token.RefreshClaims{
		Subject:  g.user.ID,
		ClientID: g.clientID,
		Scope:    g.scope,
	}, c.settings.RefreshTokenTTL)
	if err != nil {
		return nil, internalError("issue refresh token", err)
	}

	record := &storage.RefreshTokenRecord{
		TokenID:   refresh.JTI,
		UserID:    g.user.ID,
		ClientID:  g.clientID,
		Scope:     g.scope,
		ExpiresAt: refresh.ExpiresAt,
	}
	if err := storeExec(ctx, c, func(ctx context.Context, s storage.Storage) error {
		return s.SaveRefreshToken(ctx, record)
	}); err != nil {
		return nil, err
	}

	// expires_in is measured from the clock after signing.
	expiresIn := int64(access.ExpiresAt.Sub(c.now()).Seconds())
	return &TokenSet{
		AccessToken:  access.Token,
		IDToken:      id.Token,
		RefreshToken: refresh.Token,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    max(0, expiresIn),
	}, nil
}

func internalError(operation string, err error) error {
	return tokaerrors.Wrap(tokaerrors.KindInternal, tokaerrors.InternalMessage, fmt.Errorf("%s: %w", operation, err))
}
