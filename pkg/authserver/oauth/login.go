// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/stacklok/toka/pkg/authserver/events"
	"github.com/stacklok/toka/pkg/authserver/identity"
	"github.com/stacklok/toka/pkg/authserver/storage"
	tokaerrors "github.com/stacklok/toka/pkg/errors"
)

const msgInvalidCredentials = "Invalid credentials"

// LoginInput is a credential submission for a validated authorization request.
type LoginInput struct {
	Request  *AuthorizationRequest
	Email    string
	Password string
}

// CodeIssuer authenticates resource owners and issues authorization codes.
type CodeIssuer struct {
	*core
}

// Issue authenticates the resource owner and returns a new authorization
// code bound to the request's client, redirect URI, scope and nonce.
// Unknown emails and wrong passwords fail identically.
func (i *CodeIssuer) Issue(ctx context.Context, in LoginInput) (string, error) {
	code, err := i.issue(ctx, in)
	i.deps.Metrics.Login(err)
	return code, err
}

func (i *CodeIssuer) issue(ctx context.Context, in LoginInput) (string, error) {
	if in.Request == nil {
		return "", tokaerrors.New(tokaerrors.KindInvalidInput, "Authorization request is required")
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		return "", invalidCredentials()
	}

	user, err := bounded(ctx, i.settings.UpstreamTimeout, func(ctx context.Context) (*identity.User, error) {
		return i.deps.Users.FindByEmail(ctx, email)
	})
	if errors.Is(err, identity.ErrUserNotFound) || (err == nil && user == nil) {
		return "", invalidCredentials()
	}
	if err != nil {
		return "", upstreamError(msgUserUnavailable, err)
	}

	if !i.deps.Passwords.Verify(user.PasswordHash, in.Password) {
		return "", invalidCredentials()
	}

	now := i.now()
	record := &storage.AuthorizationCode{
		Code:        i.deps.NewCode(),
		UserID:      user.ID,
		ClientID:    in.Request.ClientID,
		RedirectURI: in.Request.RedirectURI,
		Scope:       in.Request.Scope.String(),
		Nonce:       in.Request.Nonce,
		ExpiresAt:   now.Add(i.settings.AuthCodeTTL),
	}
	if err := storeExec(ctx, i.core, func(ctx context.Context, s storage.Storage) error {
		return s.StoreAuthorizationCode(ctx, record)
	}); err != nil {
		return "", err
	}

	slog.Debug("authorization code issued", "client_id", record.ClientID, "user_id", user.ID)
	i.deps.Events.Publish(ctx, events.UserLoggedIn(user.ID, record.ClientID, now))
	return record.Code, nil
}

func invalidCredentials() error {
	return tokaerrors.New(tokaerrors.KindInvalidCredentials, msgInvalidCredentials)
}
