// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/toka/pkg/authserver/metrics"
	"github.com/stacklok/toka/pkg/authserver/oauth"
	"github.com/stacklok/toka/pkg/authserver/server/keys"
	"github.com/stacklok/toka/pkg/authserver/storage"
)

// Handler provides HTTP handlers for the authorization server endpoints.
type Handler struct {
	service *oauth.Service
	keys    keys.KeyProvider
	storage storage.Storage
	metrics *metrics.Recorder
}

// NewHandler creates a new Handler with the given dependencies. recorder may
// be nil, in which case /metrics is not served.
func NewHandler(
	service *oauth.Service,
	keyProvider keys.KeyProvider,
	stor storage.Storage,
	recorder *metrics.Recorder,
) *Handler {
	return &Handler{
		service: service,
		keys:    keyProvider,
		storage: stor,
		metrics: recorder,
	}
}

// Routes returns a router with all endpoints registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.instrument)
	h.OAuthRoutes(r)
	h.WellKnownRoutes(r)
	h.OperationalRoutes(r)
	return r
}

// OAuthRoutes registers the OAuth endpoints on the provided router.
func (h *Handler) OAuthRoutes(r chi.Router) {
	r.Get(oauth.AuthorizePath, h.AuthorizeHandler)
	r.Post(oauth.AuthorizePath, h.LoginHandler)
	r.Post(oauth.TokenPath, h.TokenHandler)
	r.Get(oauth.UserInfoPath, h.UserInfoHandler)
	r.Post(oauth.LogoutPath, h.LogoutHandler)
}

// WellKnownRoutes registers the discovery and JWKS endpoints on the provided
// router, including the misspelled JWKS path some older clients still use.
func (h *Handler) WellKnownRoutes(r chi.Router) {
	r.Get(oauth.JWKSPath, h.JWKSHandler)
	r.Get("/.well-know/jwks.json", h.JWKSHandler)
	r.Get(oauth.DiscoveryPath, h.OIDCDiscoveryHandler)
}

// OperationalRoutes registers health and metrics endpoints.
func (h *Handler) OperationalRoutes(r chi.Router) {
	r.Get("/health", h.HealthHandler)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}
}
