// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	eventmocks "github.com/stacklok/toka/pkg/authserver/events/mocks"
	"github.com/stacklok/toka/pkg/authserver/identity"
	identitymocks "github.com/stacklok/toka/pkg/authserver/identity/mocks"
	"github.com/stacklok/toka/pkg/authserver/metrics"
	"github.com/stacklok/toka/pkg/authserver/scope"
	"github.com/stacklok/toka/pkg/authserver/server/keys"
	"github.com/stacklok/toka/pkg/authserver/storage"
	"github.com/stacklok/toka/pkg/authserver/token"
	tokaerrors "github.com/stacklok/toka/pkg/errors"
)

const (
	testIssuer   = "http://auth.test/auth"
	webClient    = "web"
	webSecret    = "web-secret"
	webRedirect  = "http://localhost:3000/callback"
	cliClient    = "cli"
	cliSecret    = "cli-secret"
	cliRedirect  = "http://127.0.0.1:8765/callback"
	testPassword = "correct horse"
)

// RSA key generation is slow; every fixture signs with the same key.
var testKeys = keys.NewGeneratingProvider("test-kid")

var supportedScopes = scope.MustParse("openid profile email")

func boolPtr(b bool) *bool { return &b }

func testUser() *identity.User {
	return &identity.User{
		ID:           "user-1",
		Name:         "Alice",
		Email:        "alice@example.com",
		PasswordHash: "$2a$10$hash",
		RoleID:       "role-1",
	}
}

func testAbilities() *identity.RoleAbilities {
	return &identity.RoleAbilities{CanView: boolPtr(true), CanCreate: boolPtr(false)}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc       *Service
	users     *identitymocks.MockUserDirectory
	roles     *identitymocks.MockRoleResolver
	passwords *identitymocks.MockPasswordVerifier
	events    *eventmocks.MockSink
	store     storage.Storage
	codec     *token.Codec
	metrics   *metrics.Recorder
	clock     *testClock
}

type fixtureOption func(*Deps, *Settings)

func withStore(s storage.Storage) fixtureOption {
	return func(d *Deps, _ *Settings) { d.Store = s }
}

func withUpstreamTimeout(timeout time.Duration) fixtureOption {
	return func(_ *Deps, s *Settings) { s.UpstreamTimeout = timeout }
}

// withClockSkew moves the service clock ahead of the codec clock.
func withClockSkew(skew time.Duration) fixtureOption {
	return func(d *Deps, _ *Settings) {
		signing := d.Clock
		d.Clock = func() time.Time { return signing().Add(skew) }
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	clients, err := identity.NewStaticClientRegistry([]identity.ClientConfig{
		{ID: webClient, Secret: webSecret, RedirectURIs: []string{webRedirect}},
		{ID: cliClient, Secret: cliSecret, RedirectURIs: []string{cliRedirect}, Scopes: []string{"openid"}},
	}, supportedScopes)
	require.NoError(t, err)

	// The store keeps wall-clock time; the service and codec share a fake
	// clock so expiry can be driven without the store evicting records.
	memory := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = memory.Close() })

	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	codec := token.NewCodec(testIssuer, testKeys, token.WithClock(clock.Now))

	f := &fixture{
		users:     identitymocks.NewMockUserDirectory(ctrl),
		roles:     identitymocks.NewMockRoleResolver(ctrl),
		passwords: identitymocks.NewMockPasswordVerifier(ctrl),
		events:    eventmocks.NewMockSink(ctrl),
		store:     memory,
		codec:     codec,
		metrics:   metrics.New(),
		clock:     clock,
	}

	deps := Deps{
		Clients:   clients,
		Users:     f.users,
		Roles:     f.roles,
		Passwords: f.passwords,
		Store:     memory,
		Codec:     codec,
		Events:    f.events,
		Metrics:   f.metrics,
		Clock:     clock.Now,
	}
	settings := Settings{Issuer: testIssuer, SupportedScopes: supportedScopes}
	for _, opt := range opts {
		opt(&deps, &settings)
	}
	f.store = deps.Store

	f.svc, err = New(deps, settings)
	require.NoError(t, err)
	return f
}

func (f *fixture) webRequest(t *testing.T) *AuthorizationRequest {
	t.Helper()
	req, err := f.svc.Validator.Validate(context.Background(), url.Values{
		"response_type": {"code"},
		"client_id":     {webClient},
		"redirect_uri":  {webRedirect},
		"scope":         {"openid profile"},
		"state":         {"xyz"},
		"nonce":         {"n-0S6_WzA2Mj"},
	})
	require.NoError(t, err)
	return req
}

// login runs a successful login for the web client and returns the code.
func (f *fixture) login(t *testing.T) string {
	t.Helper()
	user := testUser()
	f.users.EXPECT().FindByEmail(gomock.Any(), user.Email).Return(user, nil)
	f.passwords.EXPECT().Verify(user.PasswordHash, testPassword).Return(true)
	f.events.EXPECT().Publish(gomock.Any(), gomock.Any())

	code, err := f.svc.Codes.Issue(context.Background(), LoginInput{
		Request:  f.webRequest(t),
		Email:    user.Email,
		Password: testPassword,
	})
	require.NoError(t, err)
	return code
}

// expectGrantLookups expects the user and role lookups of one grant.
func (f *fixture) expectGrantLookups() {
	user := testUser()
	f.users.EXPECT().FindByID(gomock.Any(), user.ID).Return(user, nil)
	f.roles.EXPECT().Abilities(gomock.Any(), user.RoleID).Return(testAbilities(), nil)
}

// tokens logs in and exchanges the code for a token set.
func (f *fixture) tokens(t *testing.T) *TokenSet {
	t.Helper()
	code := f.login(t)
	f.expectGrantLookups()
	set, err := f.svc.Exchanger.Exchange(context.Background(), ExchangeInput{
		Code:         code,
		ClientID:     webClient,
		ClientSecret: webSecret,
		RedirectURI:  webRedirect,
	})
	require.NoError(t, err)
	return set
}

func requireKind(t *testing.T, err error, kind tokaerrors.Kind, status int, message string) {
	t.Helper()
	require.Error(t, err)
	e, ok := tokaerrors.As(err)
	require.True(t, ok, "expected a domain error, got %v", err)
	assert.Equal(t, kind, e.Kind)
	assert.Equal(t, status, e.Status())
	assert.Equal(t, message, e.Message)
}
