// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers provides HTTP handlers for the authorization server endpoints.
//
// This package implements the HTTP layer on top of the oauth use cases:
//   - Authorization endpoint with an HTML login form (/oauth/authorize)
//   - Token endpoint for the authorization_code and refresh_token grants (/oauth/token)
//   - UserInfo and logout endpoints for bearer access tokens
//   - OIDC Discovery (/.well-known/openid-configuration) and JWKS (/.well-known/jwks.json)
//   - Health and Prometheus metrics endpoints
//
// Every JSON error response has the shape {"error": message}. The message of
// a domain error is shown as is; any other error is reported as
// "Internal server error" and logged.
package handlers
