// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toka/pkg/authserver/scope"
)

func TestStaticClientRegistry(t *testing.T) {
	t.Parallel()

	supported := scope.MustParse("openid profile email")

	t.Run("resolves configured client with default scopes", func(t *testing.T) {
		t.Parallel()
		registry, err := NewStaticClientRegistry([]ClientConfig{{
			ID:           "c1",
			Secret:       "s1",
			RedirectURIs: []string{"https://app/cb"},
		}}, supported)
		require.NoError(t, err)

		client, err := registry.Client(context.Background(), "c1")
		require.NoError(t, err)
		assert.Equal(t, "s1", client.Secret)
		assert.True(t, client.AllowsRedirect("https://app/cb"))
		assert.False(t, client.AllowsRedirect("https://app/cb/"))
		assert.True(t, client.AllowedScopes.Equal(supported))
	})

	t.Run("restricts client scopes", func(t *testing.T) {
		t.Parallel()
		registry, err := NewStaticClientRegistry([]ClientConfig{{
			ID:           "c1",
			Secret:       "s1",
			RedirectURIs: []string{"https://app/cb"},
			Scopes:       []string{"openid email"},
		}}, supported)
		require.NoError(t, err)

		client, err := registry.Client(context.Background(), "c1")
		require.NoError(t, err)
		assert.Equal(t, "openid email", client.AllowedScopes.String())
	})

	t.Run("returned client is a copy", func(t *testing.T) {
		t.Parallel()
		registry, err := NewStaticClientRegistry([]ClientConfig{{
			ID:           "c1",
			Secret:       "s1",
			RedirectURIs: []string{"https://app/cb"},
		}}, supported)
		require.NoError(t, err)

		first, err := registry.Client(context.Background(), "c1")
		require.NoError(t, err)
		first.Secret = "changed"
		first.RedirectURIs[0] = "https://evil/cb"
		first.RedirectURIs = append(first.RedirectURIs, "https://evil/other")

		second, err := registry.Client(context.Background(), "c1")
		require.NoError(t, err)
		assert.Equal(t, "s1", second.Secret)
		assert.Equal(t, []string{"https://app/cb"}, second.RedirectURIs)
		assert.False(t, second.AllowsRedirect("https://evil/cb"))
	})

	t.Run("unknown client", func(t *testing.T) {
		t.Parallel()
		registry, err := NewStaticClientRegistry(nil, supported)
		require.NoError(t, err)

		_, err = registry.Client(context.Background(), "missing")
		require.ErrorIs(t, err, ErrClientNotFound)
	})

	invalid := []struct {
		name    string
		configs []ClientConfig
		errMsg  string
	}{
		{
			name:    "missing id",
			configs: []ClientConfig{{Secret: "s", RedirectURIs: []string{"https://app/cb"}}},
			errMsg:  "client id is required",
		},
		{
			name:    "missing secret",
			configs: []ClientConfig{{ID: "c1", RedirectURIs: []string{"https://app/cb"}}},
			errMsg:  "secret is required",
		},
		{
			name:    "missing redirect",
			configs: []ClientConfig{{ID: "c1", Secret: "s"}},
			errMsg:  "at least one redirect URI",
		},
		{
			name:    "relative redirect",
			configs: []ClientConfig{{ID: "c1", Secret: "s", RedirectURIs: []string{"/cb"}}},
			errMsg:  "must be an absolute URL",
		},
		{
			name:    "fragment in redirect",
			configs: []ClientConfig{{ID: "c1", Secret: "s", RedirectURIs: []string{"https://app/cb#x"}}},
			errMsg:  "must not contain a fragment",
		},
		{
			name:    "scopes beyond supported",
			configs: []ClientConfig{{ID: "c1", Secret: "s", RedirectURIs: []string{"https://app/cb"}, Scopes: []string{"openid admin"}}},
			errMsg:  "exceed supported scopes",
		},
		{
			name: "duplicate id",
			configs: []ClientConfig{
				{ID: "c1", Secret: "s", RedirectURIs: []string{"https://app/cb"}},
				{ID: "c1", Secret: "t", RedirectURIs: []string{"https://app/cb"}},
			},
			errMsg: "registered more than once",
		},
	}

	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewStaticClientRegistry(tt.configs, supported)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestBcryptVerifier(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("correct horse", 4)
	require.NoError(t, err)

	v := BcryptVerifier{}
	assert.True(t, v.Verify(hash, "correct horse"))
	assert.False(t, v.Verify(hash, "wrong"))
	assert.False(t, v.Verify(hash, ""))
	assert.False(t, v.Verify("", "correct horse"))
	assert.False(t, v.Verify("not-a-bcrypt-hash", "correct horse"))
}
