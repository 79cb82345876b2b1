// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toka/pkg/authserver/events"
	"github.com/stacklok/toka/pkg/authserver/identity"
	storagemocks "github.com/stacklok/toka/pkg/authserver/storage/mocks"
	tokaerrors "github.com/stacklok/toka/pkg/errors"
)

func TestCodeIssuer_Issue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	user := testUser()
	req := f.webRequest(t)

	f.users.EXPECT().FindByEmail(gomock.Any(), "alice@example.com").Return(user, nil)
	f.passwords.EXPECT().Verify(user.PasswordHash, testPassword).Return(true)
	var published events.Event
	f.events.EXPECT().Publish(gomock.Any(), gomock.Any()).Do(func(_ context.Context, e events.Event) {
		published = e
	})

	code, err := f.svc.Codes.Issue(context.Background(), LoginInput{
		Request:  req,
		Email:    "  Alice@Example.COM ",
		Password: testPassword,
	})
	require.NoError(t, err)
	assert.Len(t, code, 32)

	record, err := f.store.ConsumeAuthorizationCode(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, user.ID, record.UserID)
	assert.Equal(t, webClient, record.ClientID)
	assert.Equal(t, webRedirect, record.RedirectURI)
	assert.Equal(t, "openid profile", record.Scope)
	assert.Equal(t, "n-0S6_WzA2Mj", record.Nonce)
	assert.Equal(t, f.clock.Now().Add(DefaultAuthCodeTTL), record.ExpiresAt)

	assert.Equal(t, events.NameUserLoggedIn, published.Name)
	assert.Equal(t, user.ID, published.Payload["userId"])
	assert.Equal(t, webClient, published.Payload["clientId"])
}

func TestCodeIssuer_CredentialFailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := f.webRequest(t)
	user := testUser()

	f.users.EXPECT().FindByEmail(gomock.Any(), "nobody@example.com").Return(nil, identity.ErrUserNotFound)
	_, unknown := f.svc.Codes.Issue(context.Background(), LoginInput{
		Request: req, Email: "nobody@example.com", Password: testPassword,
	})

	f.users.EXPECT().FindByEmail(gomock.Any(), user.Email).Return(user, nil)
	f.passwords.EXPECT().Verify(user.PasswordHash, "wrong").Return(false)
	_, wrong := f.svc.Codes.Issue(context.Background(), LoginInput{
		Request: req, Email: user.Email, Password: "wrong",
	})

	// Blank credentials never reach the directory.
	_, blank := f.svc.Codes.Issue(context.Background(), LoginInput{Request: req, Email: user.Email})

	for _, err := range []error{unknown, wrong, blank} {
		requireKind(t, err, tokaerrors.KindInvalidCredentials, http.StatusUnauthorized, "Invalid credentials")
	}
	assert.Equal(t, unknown.Error(), wrong.Error())

	expected := `
# HELP toka_logins_total Resource owner login attempts by result.
# TYPE toka_logins_total counter
toka_logins_total{result="invalid_credentials"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(expected), "toka_logins_total"))
}

func TestCodeIssuer_DirectoryTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withUpstreamTimeout(20*time.Millisecond))
	f.users.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ string) (*identity.User, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	_, err := f.svc.Codes.Issue(context.Background(), LoginInput{
		Request: f.webRequest(t), Email: "alice@example.com", Password: testPassword,
	})
	requireKind(t, err, tokaerrors.KindUpstreamUnavailable, http.StatusBadGateway, "Unable to load user")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCodeIssuer_StoreFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := storagemocks.NewMockStorage(ctrl)
	store.EXPECT().StoreAuthorizationCode(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))

	f := newFixture(t, withStore(store))
	user := testUser()
	f.users.EXPECT().FindByEmail(gomock.Any(), user.Email).Return(user, nil)
	f.passwords.EXPECT().Verify(user.PasswordHash, testPassword).Return(true)

	_, err := f.svc.Codes.Issue(context.Background(), LoginInput{
		Request: f.webRequest(t), Email: user.Email, Password: testPassword,
	})
	requireKind(t, err, tokaerrors.KindUpstreamUnavailable, http.StatusBadGateway, "Token store is unavailable")
}

func TestCodeIssuer_RequiresRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Codes.Issue(context.Background(), LoginInput{Email: "alice@example.com", Password: testPassword})
	requireKind(t, err, tokaerrors.KindInvalidInput, http.StatusBadRequest, "Authorization request is required")
}
