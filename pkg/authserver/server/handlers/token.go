// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/stacklok/toka/pkg/authserver/oauth"
	tokaerrors "github.com/stacklok/toka/pkg/errors"
)

// TokenHandler handles POST /oauth/token requests.
// The body may be form-encoded or JSON; grant_type selects the grant.
func (h *Handler) TokenHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	params, err := readParams(w, req)
	if err != nil {
		writeError(w, req, err)
		return
	}

	var set *oauth.TokenSet
	switch params.Get("grant_type") {
	case oauth.GrantTypeAuthorizationCode:
		set, err = h.service.Exchanger.Exchange(ctx, oauth.ExchangeInput{
			Code:         params.Get("code"),
			ClientID:     params.Get("client_id"),
			ClientSecret: params.Get("client_secret"),
			RedirectURI:  params.Get("redirect_uri"),
		})
	case oauth.GrantTypeRefreshToken:
		set, err = h.service.Rotator.Rotate(ctx, oauth.RefreshInput{
			RefreshToken: params.Get("refresh_token"),
			ClientID:     params.Get("client_id"),
			ClientSecret: params.Get("client_secret"),
		})
	default:
		err = tokaerrors.New(tokaerrors.KindUnsupportedGrantType, "Unsupported grant_type")
	}

	// Token responses and token errors must never be cached (RFC 6749 Section 5.1).
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}
