// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toka/pkg/authserver/events"
	"github.com/stacklok/toka/pkg/authserver/identity"
	identitymocks "github.com/stacklok/toka/pkg/authserver/identity/mocks"
	"github.com/stacklok/toka/pkg/authserver/metrics"
	"github.com/stacklok/toka/pkg/authserver/oauth"
	"github.com/stacklok/toka/pkg/authserver/scope"
	"github.com/stacklok/toka/pkg/authserver/server/keys"
	"github.com/stacklok/toka/pkg/authserver/storage"
	"github.com/stacklok/toka/pkg/authserver/token"
)

const (
	testIssuer      = "http://auth.test"
	testClientID    = "web"
	testSecret      = "web-secret"
	testRedirectURI = "http://localhost:3000/callback"
	testPassword    = "hunter22"
	testKeyID       = "test-kid"
)

var testKeys = keys.NewGeneratingProvider(testKeyID)

func testUser() *identity.User {
	return &identity.User{
		ID:           "user-1",
		Name:         "Alice",
		Email:        "alice@example.com",
		PasswordHash: "stored-hash",
		RoleID:       "role-1",
	}
}

type testServer struct {
	handler   http.Handler
	users     *identitymocks.MockUserDirectory
	roles     *identitymocks.MockRoleResolver
	passwords *identitymocks.MockPasswordVerifier
	store     storage.Storage
	metrics   *metrics.Recorder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctrl := gomock.NewController(t)

	supported := scope.MustParse("openid profile email")
	clients, err := identity.NewStaticClientRegistry([]identity.ClientConfig{
		{ID: testClientID, Secret: testSecret, RedirectURIs: []string{testRedirectURI}},
	}, supported)
	require.NoError(t, err)

	store := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = store.Close() })

	ts := &testServer{
		users:     identitymocks.NewMockUserDirectory(ctrl),
		roles:     identitymocks.NewMockRoleResolver(ctrl),
		passwords: identitymocks.NewMockPasswordVerifier(ctrl),
		store:     store,
		metrics:   metrics.New(),
	}

	svc, err := oauth.New(oauth.Deps{
		Clients:   clients,
		Users:     ts.users,
		Roles:     ts.roles,
		Passwords: ts.passwords,
		Store:     store,
		Codec:     token.NewCodec(testIssuer, testKeys),
		Events:    events.NopSink{},
		Metrics:   ts.metrics,
	}, oauth.Settings{Issuer: testIssuer, SupportedScopes: supported})
	require.NoError(t, err)

	ts.handler = NewHandler(svc, testKeys, store, ts.metrics).Routes()
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func authorizeQuery() url.Values {
	return url.Values{
		"response_type": {"code"},
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirectURI},
		"scope":         {"openid profile"},
		"state":         {"state-123"},
		"nonce":         {"nonce-456"},
	}
}

func postForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func postJSON(path string, body map[string]string) *http.Request {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(data)))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// expectLogin sets up a successful credential check for testUser.
func (ts *testServer) expectLogin() {
	user := testUser()
	ts.users.EXPECT().FindByEmail(gomock.Any(), user.Email).Return(user, nil)
	ts.passwords.EXPECT().Verify(user.PasswordHash, testPassword).Return(true)
}

func (ts *testServer) expectGrant() {
	user := testUser()
	ts.users.EXPECT().FindByID(gomock.Any(), user.ID).Return(user, nil)
	ts.roles.EXPECT().Abilities(gomock.Any(), user.RoleID).Return(&identity.RoleAbilities{}, nil)
}

// authorize logs in through the form and returns the issued code.
func (ts *testServer) authorize(t *testing.T) string {
	t.Helper()
	ts.expectLogin()

	form := authorizeQuery()
	form.Set("email", "alice@example.com")
	form.Set("password", testPassword)
	rec := ts.do(postForm(oauth.AuthorizePath, form))
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := location.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

// tokens runs the authorization code flow and returns the token response.
func (ts *testServer) tokens(t *testing.T) *oauth.TokenSet {
	t.Helper()
	code := ts.authorize(t)
	ts.expectGrant()

	rec := ts.do(postForm(oauth.TokenPath, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {testClientID},
		"client_secret": {testSecret},
		"redirect_uri":  {testRedirectURI},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var set oauth.TokenSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	return &set
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}
