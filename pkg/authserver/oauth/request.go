// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"net/url"
	"strings"

	"github.com/stacklok/toka/pkg/authserver/scope"
	tokaerrors "github.com/stacklok/toka/pkg/errors"
)

// ResponseTypeCode is the only supported response_type.
const ResponseTypeCode = "code"

// AuthorizationRequest is a parsed /oauth/authorize request.
type AuthorizationRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scope        scope.Scope
	State        string
	Nonce        string
}

// ParseAuthorizationRequest reads an authorization request from query or
// form values. It checks shape only; Validator.Validate checks it against
// the client registry.
func ParseAuthorizationRequest(values url.Values) (*AuthorizationRequest, error) {
	responseType := strings.TrimSpace(values.Get("response_type"))
	clientID := strings.TrimSpace(values.Get("client_id"))
	redirectURI := strings.TrimSpace(values.Get("redirect_uri"))

	if responseType != ResponseTypeCode {
		return nil, tokaerrors.New(tokaerrors.KindUnsupportedResponseType, "Only response_type=code is supported")
	}
	if clientID == "" {
		return nil, tokaerrors.New(tokaerrors.KindMissingParameter, "client_id is required")
	}
	if redirectURI == "" {
		return nil, tokaerrors.New(tokaerrors.KindMissingParameter, "redirect_uri is required")
	}

	requested, err := scope.Parse(values["scope"]...)
	if err != nil {
		return nil, err
	}

	return &AuthorizationRequest{
		ClientID:     clientID,
		RedirectURI:  redirectURI,
		ResponseType: responseType,
		Scope:        requested,
		State:        strings.TrimSpace(values.Get("state")),
		Nonce:        strings.TrimSpace(values.Get("nonce")),
	}, nil
}

// Values encodes the request back into query parameters, as carried by the
// login form.
func (r *AuthorizationRequest) Values() url.Values {
	v := url.Values{}
	v.Set("response_type", r.ResponseType)
	v.Set("client_id", r.ClientID)
	v.Set("redirect_uri", r.RedirectURI)
	v.Set("scope", r.Scope.String())
	if r.State != "" {
		v.Set("state", r.State)
	}
	if r.Nonce != "" {
		v.Set("nonce", r.Nonce)
	}
	return v
}

// Validator checks authorization requests against the client registry.
type Validator struct {
	*core
}

// Validate parses values and checks the client, redirect URI and scope.
// It has no side effects.
func (v *Validator) Validate(ctx context.Context, values url.Values) (*AuthorizationRequest, error) {
	req, err := ParseAuthorizationRequest(values)
	if err != nil {
		return nil, err
	}

	client, err := v.lookupClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, tokaerrors.New(tokaerrors.KindUnknownClient, "OAuth client not found")
	}
	if !client.AllowsRedirect(req.RedirectURI) {
		return nil, tokaerrors.New(tokaerrors.KindRedirectNotAllowed, "Redirect URI is not allowed")
	}
	if !req.Scope.IncludesOnly(client.AllowedScopes) {
		return nil, tokaerrors.New(tokaerrors.KindScopeNotAllowed, "Requested scope is not allowed")
	}
	if !req.Scope.Has(scope.OpenID) {
		return nil, tokaerrors.New(tokaerrors.KindOpenIDScopeRequired, "openid scope is required")
	}
	return req, nil
}
