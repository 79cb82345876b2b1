// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/stacklok/toka/pkg/authserver/oauth"
	tokaerrors "github.com/stacklok/toka/pkg/errors"
)

//go:embed templates/login.html
var templateFS embed.FS

var loginTemplate = template.Must(template.ParseFS(templateFS, "templates/login.html"))

// loginView is the data rendered into the login form.
type loginView struct {
	ClientID    string
	RedirectURI string
	Scope       string
	State       string
	Nonce       string
	Email       string
	Error       string
}

func newLoginView(req *oauth.AuthorizationRequest) loginView {
	return loginView{
		ClientID:    req.ClientID,
		RedirectURI: req.RedirectURI,
		Scope:       req.Scope.String(),
		State:       req.State,
		Nonce:       req.Nonce,
	}
}

// AuthorizeHandler handles GET /oauth/authorize requests.
// It validates the authorization request and renders the login form.
func (h *Handler) AuthorizeHandler(w http.ResponseWriter, req *http.Request) {
	authReq, err := h.service.Validator.Validate(req.Context(), req.URL.Query())
	if err != nil {
		writeError(w, req, err)
		return
	}
	renderLogin(w, http.StatusOK, newLoginView(authReq))
}

// LoginHandler handles POST /oauth/authorize requests submitted by the login
// form. On success it redirects to the client with the code and state.
// Failures re-render the form when the submission still describes a
// well-formed authorization request, and fall back to a JSON error otherwise.
func (h *Handler) LoginHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	form, err := readParams(w, req)
	if err != nil {
		writeError(w, req, err)
		return
	}

	authReq, err := h.service.Validator.Validate(ctx, form)
	if err != nil {
		h.loginFailed(w, req, form, err)
		return
	}

	code, err := h.service.Codes.Issue(ctx, oauth.LoginInput{
		Request:  authReq,
		Email:    form.Get("email"),
		Password: form.Get("password"),
	})
	if err != nil {
		h.loginFailed(w, req, form, err)
		return
	}

	target, err := url.Parse(authReq.RedirectURI)
	if err != nil {
		writeError(w, req, tokaerrors.Wrap(tokaerrors.KindInternal, tokaerrors.InternalMessage, err))
		return
	}
	query := target.Query()
	query.Set("code", code)
	if authReq.State != "" {
		query.Set("state", authReq.State)
	}
	target.RawQuery = query.Encode()

	http.Redirect(w, req, target.String(), http.StatusFound)
}

func (*Handler) loginFailed(w http.ResponseWriter, req *http.Request, form url.Values, err error) {
	fallback := cloneValues(form)
	fallback.Set("response_type", oauth.ResponseTypeCode)
	authReq, parseErr := oauth.ParseAuthorizationRequest(fallback)
	if parseErr != nil {
		writeError(w, req, err)
		return
	}

	status := tokaerrors.Status(err)
	if status >= http.StatusInternalServerError {
		slog.Error("login failed", "client_id", authReq.ClientID, "error", err)
	}

	view := newLoginView(authReq)
	view.Email = strings.TrimSpace(form.Get("email"))
	view.Error = tokaerrors.PublicMessage(err)
	renderLogin(w, status, view)
}

func renderLogin(w http.ResponseWriter, status int, view loginView) {
	var buf bytes.Buffer
	if err := loginTemplate.Execute(&buf, view); err != nil {
		slog.Error("failed to render login form", "error", err)
		http.Error(w, tokaerrors.InternalMessage, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
