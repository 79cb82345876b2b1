// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth implements the authorization server's use cases: request
// validation, login and code issuance, code exchange, refresh rotation,
// revocation, userinfo and discovery.
//
// The use cases talk to the outside world only through the identity,
// storage and events ports. Every port call is bounded by
// Settings.UpstreamTimeout; failures and timeouts surface as
// errors.KindUpstreamUnavailable.
package oauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/toka/pkg/authserver/events"
	"github.com/stacklok/toka/pkg/authserver/identity"
	"github.com/stacklok/toka/pkg/authserver/metrics"
	"github.com/stacklok/toka/pkg/authserver/scope"
	"github.com/stacklok/toka/pkg/authserver/storage"
	"github.com/stacklok/toka/pkg/authserver/token"
)

// Defaults applied by Settings.withDefaults.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 24 * time.Hour
	DefaultAuthCodeTTL     = 10 * time.Minute
	DefaultUpstreamTimeout = 5 * time.Second
)

// Grant types accepted by the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// Settings holds the issuer-wide policy.
type Settings struct {
	Issuer          string
	SupportedScopes scope.Scope
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration
	UpstreamTimeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.AccessTokenTTL <= 0 {
		s.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if s.RefreshTokenTTL <= 0 {
		s.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if s.AuthCodeTTL <= 0 {
		s.AuthCodeTTL = DefaultAuthCodeTTL
	}
	if s.UpstreamTimeout <= 0 {
		s.UpstreamTimeout = DefaultUpstreamTimeout
	}
	return s
}

// Deps are the collaborators shared by the use cases. Events and Metrics
// are optional.
type Deps struct {
	Clients   identity.ClientRegistry
	Users     identity.UserDirectory
	Roles     identity.RoleResolver
	Passwords identity.PasswordVerifier
	Store     storage.Storage
	Codec     *token.Codec
	Events    events.Sink
	Metrics   *metrics.Recorder

	// Clock defaults to time.Now.
	Clock func() time.Time

	// NewCode generates authorization codes. Defaults to a dashless uuid v4.
	NewCode func() string
}

// Service groups the use cases built from one set of dependencies.
type Service struct {
	Validator  *Validator
	Codes      *CodeIssuer
	Exchanger  *CodeExchanger
	Rotator    *RefreshRotator
	Revocation *RevocationService
	UserInfo   *UserInfoService
	Discovery  *Discovery
}

// New wires every use case. It fails if a required dependency is missing.
func New(deps Deps, settings Settings) (*Service, error) {
	c, err := newCore(deps, settings)
	if err != nil {
		return nil, err
	}
	return &Service{
		Validator:  &Validator{core: c},
		Codes:      &CodeIssuer{core: c},
		Exchanger:  &CodeExchanger{core: c},
		Rotator:    &RefreshRotator{core: c},
		Revocation: &RevocationService{core: c},
		UserInfo:   &UserInfoService{core: c},
		Discovery:  NewDiscovery(c.settings.Issuer, c.settings.SupportedScopes),
	}, nil
}

// core carries the dependencies and policy every use case needs.
type core struct {
	deps     Deps
	settings Settings
}

func newCore(deps Deps, settings Settings) (*core, error) {
	switch {
	case deps.Clients == nil:
		return nil, fmt.Errorf("client registry is required")
	case deps.Users == nil:
		return nil, fmt.Errorf("user directory is required")
	case deps.Roles == nil:
		return nil, fmt.Errorf("role resolver is required")
	case deps.Passwords == nil:
		return nil, fmt.Errorf("password verifier is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("storage is required")
	case deps.Codec == nil:
		return nil, fmt.Errorf("token codec is required")
	}
	if settings.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if deps.Events == nil {
		deps.Events = events.NopSink{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.NewCode == nil {
		deps.NewCode = newAuthorizationCode
	}
	return &core{deps: deps, settings: settings.withDefaults()}, nil
}

func (c *core) now() time.Time {
	return c.deps.Clock()
}

// newAuthorizationCode returns a random uuid v4 without dashes.
func newAuthorizationCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
