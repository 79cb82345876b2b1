// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"time"

	"github.com/stacklok/toka/pkg/authserver/identity"
)

// AccessClaims is the payload of an access token. Subject is carried in the
// registered "sub" claim; ClientID doubles as the audience.
type AccessClaims struct {
	Subject       string                  `json:"-"`
	Email         string                  `json:"email"`
	Name          string                  `json:"name"`
	Role          string                  `json:"role"`
	RoleAbilities *identity.RoleAbilities `json:"roleAbilities,omitempty"`
	Scope         string                  `json:"scope"`
	ClientID      string                  `json:"clientId"`
}

// IDClaims is the payload of an OpenID Connect ID token.
type IDClaims struct {
	Subject       string                  `json:"-"`
	Audience      string                  `json:"-"`
	Email         string                  `json:"email"`
	Name          string                  `json:"name"`
	Role          string                  `json:"role"`
	RoleAbilities *identity.RoleAbilities `json:"roleAbilities,omitempty"`
	Nonce         string                  `json:"nonce,omitempty"`
}

// RefreshClaims is the payload of a refresh token.
type RefreshClaims struct {
	Subject  string `json:"-"`
	ClientID string `json:"clientId"`
	Scope    string `json:"scope"`
}

// Issued is a freshly signed token.
type Issued struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// Verified is a token whose signature, issuer and lifetime have been checked.
type Verified[T any] struct {
	Claims    T
	JTI       string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
