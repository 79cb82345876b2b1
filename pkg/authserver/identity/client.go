// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"fmt"
	"net/url"
	"slices"

	"github.com/stacklok/toka/pkg/authserver/scope"
)

// ClientConfig defines a pre-registered OAuth client.
type ClientConfig struct {
	// ID is the unique identifier for this client.
	ID string `mapstructure:"id" yaml:"id"`

	// Secret is the client secret.
	Secret string `mapstructure:"secret" yaml:"secret"`

	// RedirectURIs is the list of allowed redirect URIs for this client.
	RedirectURIs []string `mapstructure:"redirect_uris" yaml:"redirect_uris"`

	// Scopes restricts the client to a subset of the server's supported
	// scopes. Empty means all supported scopes.
	Scopes []string `mapstructure:"scopes" yaml:"scopes,omitempty"`
}

// Validate checks the client configuration.
func (c *ClientConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("client id is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("client %s: secret is required", c.ID)
	}
	if len(c.RedirectURIs) == 0 {
		return fmt.Errorf("client %s: at least one redirect URI is required", c.ID)
	}
	for _, uri := range c.RedirectURIs {
		parsed, err := url.Parse(uri)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("client %s: redirect URI %q must be an absolute URL", c.ID, uri)
		}
		if parsed.Fragment != "" {
			return fmt.Errorf("client %s: redirect URI %q must not contain a fragment", c.ID, uri)
		}
	}
	return nil
}

// StaticClientRegistry serves clients fixed at startup.
type StaticClientRegistry struct {
	clients map[string]*Client
}

// NewStaticClientRegistry builds a registry from configuration. Each client's
// scopes must be a subset of supported.
func NewStaticClientRegistry(configs []ClientConfig, supported scope.Scope) (*StaticClientRegistry, error) {
	clients := make(map[string]*Client, len(configs))
	for i := range configs {
		cfg := configs[i]
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, dup := clients[cfg.ID]; dup {
			return nil, fmt.Errorf("client %s is registered more than once", cfg.ID)
		}

		allowed := supported
		if len(cfg.Scopes) > 0 {
			parsed, err := scope.Parse(cfg.Scopes...)
			if err != nil {
				return nil, fmt.Errorf("client %s: %w", cfg.ID, err)
			}
			if !parsed.IncludesOnly(supported) {
				return nil, fmt.Errorf("client %s: scopes %q exceed supported scopes %q", cfg.ID, parsed, supported)
			}
			allowed = parsed
		}

		clients[cfg.ID] = &Client{
			ID:            cfg.ID,
			Secret:        cfg.Secret,
			RedirectURIs:  slices.Clone(cfg.RedirectURIs),
			AllowedScopes: allowed,
		}
	}
	return &StaticClientRegistry{clients: clients}, nil
}

// Client returns a copy of the client registered under id.
func (r *StaticClientRegistry) Client(_ context.Context, id string) (*Client, error) {
	c, ok := r.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	clone := *c
	clone.RedirectURIs = slices.Clone(c.RedirectURIs)
	return &clone, nil
}

var _ ClientRegistry = (*StaticClientRegistry)(nil)
