// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"

	"github.com/stacklok/toka/pkg/authserver/identity"
	tokaerrors "github.com/stacklok/toka/pkg/errors"
)

// UserInfo is the userinfo endpoint response.
type UserInfo struct {
	Sub           string                  `json:"sub"`
	Name          string                  `json:"name"`
	Email         string                  `json:"email"`
	RoleID        string                  `json:"roleId,omitempty"`
	RoleAbilities *identity.RoleAbilities `json:"roleAbilities,omitempty"`
}

// UserInfoService answers userinfo requests for bearer access tokens.
type UserInfoService struct {
	*core
}

// Get returns the profile of the access token's subject. Profile fields come
// from the directory; abilities come from the token.
func (s *UserInfoService) Get(ctx context.Context, accessToken string) (*UserInfo, error) {
	verified, err := s.deps.Codec.VerifyAccess(ctx, accessToken)
	if tokaerrors.IsTokenInvalid(err) {
		return nil, tokaerrors.New(tokaerrors.KindTokenInvalid, "Access token is invalid")
	}
	if err != nil {
		return nil, err
	}

	listed, err := s.isBlacklisted(ctx, verified.JTI)
	if err != nil {
		return nil, err
	}
	if listed {
		return nil, tokaerrors.New(tokaerrors.KindTokenInvalid, "Token is revoked")
	}

	user, err := s.findUser(ctx, verified.Claims.Subject)
	if err != nil {
		return nil, err
	}

	return &UserInfo{
		Sub:           user.ID,
		Name:          user.Name,
		Email:         user.Email,
		RoleID:        user.RoleID,
		RoleAbilities: verified.Claims.RoleAbilities,
	}, nil
}
