// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authserver assembles the toka OAuth 2.0 / OpenID Connect
// authorization server from its configuration.
//
// The server implements the authorization code grant with a server-rendered
// login form, refresh token rotation with replay detection, logout with
// access and refresh token revocation, the userinfo endpoint and the OIDC
// discovery and JWKS documents. Tokens are RS256-signed JWTs.
//
// # Usage
//
//	cfg, err := authserver.LoadConfig("")
//	if err != nil {
//		return err
//	}
//	srv, err := authserver.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer srv.Close()
//	return srv.Run(ctx)
//
// # Architecture
//
//   - oauth: the authorization, code exchange, refresh, logout and userinfo use cases
//   - token: signing and verification of access, ID and refresh tokens
//   - storage: authorization codes, refresh token records and the revocation
//     blacklist, in memory or in Redis
//   - identity: the user directory, role service and client registry ports
//     and their HTTP, Postgres and static adapters
//   - events: UserLoggedIn and UserLoggedOut publishing over RabbitMQ
//   - server/handlers: the HTTP surface
//   - server/keys: signing key loading and the JWKS
package authserver
