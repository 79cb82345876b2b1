// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ServiceTokenHeader carries the shared secret on calls to internal services.
const ServiceTokenHeader = "x-service-token"

// DefaultHTTPTimeout bounds a single directory or role lookup.
const DefaultHTTPTimeout = 5 * time.Second

// maxErrorPreview is how much of an error response body is kept in HTTPError.
const maxErrorPreview = 256

// HTTPError represents a non-success response from an internal service.
type HTTPError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is a preview of the response body.
	Message string

	// URL is the requested URL.
	URL string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// serviceTokenTransport adds the service token header and forwards the request.
type serviceTokenTransport struct {
	transport http.RoundTripper
	token     string
}

func (t *serviceTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	newReq := req.Clone(req.Context())
	newReq.Header.Set(ServiceTokenHeader, t.token)
	newReq.Header.Set("Accept", "application/json")
	return t.transport.RoundTrip(newReq)
}

// NewServiceClient returns an HTTP client that authenticates to internal
// services with token. A zero timeout selects DefaultHTTPTimeout.
func NewServiceClient(token string, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &serviceTokenTransport{transport: http.DefaultTransport, token: token},
	}
}

// HTTPUserDirectory reads users from the user service's internal API:
// GET {base}?email=... and GET {base}/{id}.
type HTTPUserDirectory struct {
	baseURL string
	client  *http.Client
}

// NewHTTPUserDirectory creates a directory backed by the user service at baseURL.
func NewHTTPUserDirectory(baseURL string, client *http.Client) *HTTPUserDirectory {
	return &HTTPUserDirectory{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// FindByID returns the user with the given id.
func (d *HTTPUserDirectory) FindByID(ctx context.Context, id string) (*User, error) {
	return d.fetch(ctx, d.baseURL+"/"+url.PathEscape(id))
}

// FindByEmail returns the user with the given email.
func (d *HTTPUserDirectory) FindByEmail(ctx context.Context, email string) (*User, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid user service URL: %w", err)
	}
	q := u.Query()
	q.Set("email", email)
	u.RawQuery = q.Encode()
	return d.fetch(ctx, u.String())
}

func (d *HTTPUserDirectory) fetch(ctx context.Context, target string) (*User, error) {
	var user User
	if err := getJSON(ctx, d.client, target, &user); err != nil {
		if isNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("user lookup returned a user without an id")
	}
	return &user, nil
}

// HTTPRoleResolver resolves role abilities from the role service's internal
// API: GET {base}/{roleId}.
type HTTPRoleResolver struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRoleResolver creates a resolver backed by the role service at baseURL.
func NewHTTPRoleResolver(baseURL string, client *http.Client) *HTTPRoleResolver {
	return &HTTPRoleResolver{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type roleResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Abilities *RoleAbilities `json:"abilities"`
}

// Abilities returns the abilities of roleID. A role without abilities yields
// an empty set rather than an error.
func (r *HTTPRoleResolver) Abilities(ctx context.Context, roleID string) (*RoleAbilities, error) {
	var resp roleResponse
	if err := getJSON(ctx, r.client, r.baseURL+"/"+url.PathEscape(roleID), &resp); err != nil {
		if isNotFound(err) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("role lookup failed: %w", err)
	}
	if resp.Abilities == nil {
		return &RoleAbilities{}, nil
	}
	return resp.Abilities, nil
}

func getJSON(ctx context.Context, client *http.Client, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorPreview))
		return &HTTPError{StatusCode: resp.StatusCode, URL: target, Message: string(preview)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", target, err)
	}
	return nil
}

func isNotFound(err error) bool {
	httpErr, ok := err.(*HTTPError)
	return ok && httpErr.StatusCode == http.StatusNotFound
}

var (
	_ UserDirectory = (*HTTPUserDirectory)(nil)
	_ RoleResolver  = (*HTTPRoleResolver)(nil)
)
