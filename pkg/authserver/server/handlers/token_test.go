// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toka/pkg/authserver/oauth"
)

func TestTokenHandler_AuthorizationCode(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
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
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	for _, field := range []string{"access_token", "id_token", "refresh_token"} {
		assert.NotEmpty(t, body[field], field)
	}
	assert.Equal(t, "Bearer", body["token_type"])
	assert.InDelta(t, 900, body["expires_in"], 1)
}

func TestTokenHandler_RefreshWithJSONBody(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	set := ts.tokens(t)
	ts.expectGrant()

	rec := ts.do(postJSON(oauth.TokenPath, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": set.RefreshToken,
		"client_id":     testClientID,
		"client_secret": testSecret,
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rotated oauth.TokenSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	assert.NotEqual(t, set.RefreshToken, rotated.RefreshToken)

	// The rotated-away token is dead.
	rec = ts.do(postJSON(oauth.TokenPath, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": set.RefreshToken,
		"client_id":     testClientID,
		"client_secret": testSecret,
	}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Refresh token is revoked", decodeError(t, rec))
}

func TestTokenHandler_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		form    url.Values
		status  int
		message string
	}{
		{
			name:    "unsupported grant",
			form:    url.Values{"grant_type": {"password"}},
			status:  http.StatusBadRequest,
			message: "Unsupported grant_type",
		},
		{
			name:    "no grant",
			form:    url.Values{},
			status:  http.StatusBadRequest,
			message: "Unsupported grant_type",
		},
		{
			name:    "missing code",
			form:    url.Values{"grant_type": {"authorization_code"}, "client_id": {testClientID}},
			status:  http.StatusBadRequest,
			message: "Missing required parameters",
		},
		{
			name: "bad client secret",
			form: url.Values{
				"grant_type": {"authorization_code"}, "code": {"abc"}, "client_id": {testClientID},
				"client_secret": {"nope"}, "redirect_uri": {testRedirectURI},
			},
			status:  http.StatusUnauthorized,
			message: "Invalid client credentials",
		},
		{
			name: "unknown code",
			form: url.Values{
				"grant_type": {"authorization_code"}, "code": {"abc"}, "client_id": {testClientID},
				"client_secret": {testSecret}, "redirect_uri": {testRedirectURI},
			},
			status:  http.StatusBadRequest,
			message: "Authorization code is invalid",
		},
		{
			name: "garbage refresh token",
			form: url.Values{
				"grant_type": {"refresh_token"}, "refresh_token": {"garbage"},
				"client_id": {testClientID}, "client_secret": {testSecret},
			},
			status:  http.StatusUnauthorized,
			message: "Refresh token is invalid",
		},
	}

	ts := newTestServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := ts.do(postForm(oauth.TokenPath, tt.form))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, decodeError(t, rec))
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		})
	}
}

func TestTokenHandler_MalformedJSON(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	req := postJSON(oauth.TokenPath, nil)
	req.Body = http.NoBody
	rec := ts.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Malformed request body", decodeError(t, rec))
}
