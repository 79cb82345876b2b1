// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package identity defines the ports through which the authorization server
// reads users, roles and OAuth clients, together with the adapters that
// implement them over HTTP, Postgres and static configuration.
package identity

//go:generate mockgen -destination=mocks/mock_identity.go -package=mocks -source=types.go UserDirectory,RoleResolver,PasswordVerifier,ClientRegistry

import (
	"context"
	"errors"
	"slices"

	"github.com/stacklok/toka/pkg/authserver/scope"
)

var (
	// ErrUserNotFound is returned by a UserDirectory when no user matches.
	ErrUserNotFound = errors.New("user not found")

	// ErrRoleNotFound is returned by a RoleResolver when the role does not exist.
	ErrRoleNotFound = errors.New("role not found")

	// ErrClientNotFound is returned by a ClientRegistry for unknown client ids.
	ErrClientNotFound = errors.New("client not found")
)

// User is a resource owner as seen by the authorization server.
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
	RoleID       string `json:"roleId"`
}

// RoleAbilities is the capability set granted by a role. Unset fields are
// omitted from token claims.
type RoleAbilities struct {
	CanView   *bool `json:"canView,omitempty"`
	CanCreate *bool `json:"canCreate,omitempty"`
	CanUpdate *bool `json:"canUpdate,omitempty"`
	CanDelete *bool `json:"canDelete,omitempty"`
}

// Client is a registered OAuth client.
type Client struct {
	ID            string
	Secret        string
	RedirectURIs  []string
	AllowedScopes scope.Scope
}

// AllowsRedirect reports whether uri is registered for the client. Matching is exact.
func (c *Client) AllowsRedirect(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// UserDirectory looks up users. Implementations return ErrUserNotFound when
// no user matches and any other error for transport or decoding failures.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// RoleResolver maps a role id to the abilities it grants. Implementations
// return ErrRoleNotFound for unknown roles.
type RoleResolver interface {
	Abilities(ctx context.Context, roleID string) (*RoleAbilities, error)
}

// PasswordVerifier checks a plaintext password against a stored hash.
type PasswordVerifier interface {
	Verify(hash, password string) bool
}

// ClientRegistry resolves OAuth clients by id.
type ClientRegistry interface {
	Client(ctx context.Context, id string) (*Client, error)
}
