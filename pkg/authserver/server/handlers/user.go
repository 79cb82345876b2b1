// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strings"

	"github.com/stacklok/toka/pkg/authserver/oauth"
	tokaerrors "github.com/stacklok/toka/pkg/errors"
)

// UserInfoHandler handles GET /oauth/userinfo requests.
func (h *Handler) UserInfoHandler(w http.ResponseWriter, req *http.Request) {
	accessToken, err := bearerToken(req)
	if err != nil {
		writeError(w, req, err)
		return
	}

	info, err := h.service.UserInfo.Get(req.Context(), accessToken)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// LogoutHandler handles POST /oauth/logout requests. The bearer access token
// is revoked, along with the refresh_token in the body when present.
func (h *Handler) LogoutHandler(w http.ResponseWriter, req *http.Request) {
	accessToken, err := bearerToken(req)
	if err != nil {
		writeError(w, req, err)
		return
	}

	var refreshToken string
	if req.ContentLength != 0 {
		params, err := readParams(w, req)
		if err != nil {
			writeError(w, req, err)
			return
		}
		refreshToken = params.Get("refresh_token")
	}

	if err := h.service.Revocation.Logout(req.Context(), oauth.LogoutInput{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(req *http.Request) (string, error) {
	header := req.Header.Get("Authorization")
	if header == "" {
		return "", tokaerrors.New(tokaerrors.KindUnauthorized, "Missing Authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", tokaerrors.New(tokaerrors.KindUnauthorized, "Invalid Authorization header")
	}
	return token, nil
}
