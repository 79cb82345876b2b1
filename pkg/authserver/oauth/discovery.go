// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"strings"

	"github.com/stacklok/toka/pkg/authserver/scope"
)

// Endpoint paths relative to the issuer.
const (
	AuthorizePath = "/oauth/authorize"
	TokenPath     = "/oauth/token"
	UserInfoPath  = "/oauth/userinfo"
	LogoutPath    = "/oauth/logout"
	JWKSPath      = "/.well-known/jwks.json"
	DiscoveryPath = "/.well-known/openid-configuration"
)

// OpenIDConfiguration is the OpenID Provider Metadata document.
type OpenIDConfiguration struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
}

// Discovery builds the discovery document for one issuer.
type Discovery struct {
	issuer string
	scopes scope.Scope
}

// NewDiscovery returns a Discovery for issuer advertising scopes.
func NewDiscovery(issuer string, scopes scope.Scope) *Discovery {
	return &Discovery{issuer: strings.TrimRight(issuer, "/"), scopes: scopes}
}

// OpenIDConfiguration returns a fresh copy of the metadata document.
func (d *Discovery) OpenIDConfiguration() OpenIDConfiguration {
	return OpenIDConfiguration{
		Issuer:                            d.issuer,
		AuthorizationEndpoint:             d.issuer + AuthorizePath,
		TokenEndpoint:                     d.issuer + TokenPath,
		UserInfoEndpoint:                  d.issuer + UserInfoPath,
		JWKSURI:                           d.issuer + JWKSPath,
		ResponseTypesSupported:            []string{ResponseTypeCode},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{"RS256"},
		ScopesSupported:                   d.scopes.Values(),
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post"},
		GrantTypesSupported:               []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
	}
}
