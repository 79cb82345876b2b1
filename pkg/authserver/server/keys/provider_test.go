// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func pkcs8PEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func spkiPEM(t *testing.T, key *rsa.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func writeKeyFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestParsePrivateKeyPEM(t *testing.T) {
	t.Parallel()

	key := generateTestKey(t)

	t.Run("PKCS8", func(t *testing.T) {
		t.Parallel()
		parsed, err := ParsePrivateKeyPEM(pkcs8PEM(t, key))
		require.NoError(t, err)
		assert.True(t, parsed.Equal(key))
	})

	t.Run("PKCS1", func(t *testing.T) {
		t.Parallel()
		raw := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
		parsed, err := ParsePrivateKeyPEM(raw)
		require.NoError(t, err)
		assert.True(t, parsed.Equal(key))
	})

	t.Run("escaped newlines from environment", func(t *testing.T) {
		t.Parallel()
		escaped := strings.ReplaceAll(pkcs8PEM(t, key), "\n", `\n`)
		parsed, err := ParsePrivateKeyPEM(escaped)
		require.NoError(t, err)
		assert.True(t, parsed.Equal(key))
	})

	t.Run("rejects non-PEM input", func(t *testing.T) {
		t.Parallel()
		_, err := ParsePrivateKeyPEM("not a valid pem")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode PEM block")
	})

	t.Run("rejects EC keys", func(t *testing.T) {
		t.Parallel()
		ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		der, err := x509.MarshalPKCS8PrivateKey(ecKey)
		require.NoError(t, err)

		_, err = ParsePrivateKeyPEM(string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires an RSA key")
	})

	t.Run("rejects short RSA keys", func(t *testing.T) {
		t.Parallel()
		small, err := rsa.GenerateKey(rand.Reader, 1024)
		require.NoError(t, err)

		_, err = ParsePrivateKeyPEM(pkcs8PEM(t, small))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least 2048")
	})
}

func TestStaticProvider(t *testing.T) {
	t.Parallel()

	t.Run("loads configured key pair", func(t *testing.T) {
		t.Parallel()
		key := generateTestKey(t)

		provider, err := NewStaticProvider(Config{
			KeyID:         "kid-1",
			PrivateKeyPEM: pkcs8PEM(t, key),
			PublicKeyPEM:  spkiPEM(t, &key.PublicKey),
		})
		require.NoError(t, err)

		signing, err := provider.SigningKey(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "kid-1", signing.KeyID)
		assert.Equal(t, Algorithm, signing.Algorithm)

		pubKeys, err := provider.PublicKeys(context.Background())
		require.NoError(t, err)
		require.Len(t, pubKeys, 1)
		assert.Equal(t, "kid-1", pubKeys[0].KeyID)
		assert.True(t, key.PublicKey.Equal(pubKeys[0].PublicKey))
	})

	t.Run("defaults key id", func(t *testing.T) {
		t.Parallel()
		provider, err := NewStaticProvider(Config{PrivateKeyPEM: pkcs8PEM(t, generateTestKey(t))})
		require.NoError(t, err)

		signing, err := provider.SigningKey(context.Background())
		require.NoError(t, err)
		assert.Equal(t, DefaultKeyID, signing.KeyID)
	})

	t.Run("rejects mismatched public key", func(t *testing.T) {
		t.Parallel()
		_, err := NewStaticProvider(Config{
			PrivateKeyPEM: pkcs8PEM(t, generateTestKey(t)),
			PublicKeyPEM:  spkiPEM(t, &generateTestKey(t).PublicKey),
		})
		require.ErrorIs(t, err, ErrKeyMismatch)
	})

	t.Run("loads key from file with fallbacks", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		signingPath := writeKeyFile(t, dir, "signing.pem", pkcs8PEM(t, generateTestKey(t)))
		fallbackPath := writeKeyFile(t, dir, "old.pem", pkcs8PEM(t, generateTestKey(t)))

		provider, err := NewStaticProvider(Config{
			KeyID:            "current",
			PrivateKeyFile:   signingPath,
			FallbackKeyFiles: []string{fallbackPath},
		})
		require.NoError(t, err)

		pubKeys, err := provider.PublicKeys(context.Background())
		require.NoError(t, err)
		require.Len(t, pubKeys, 2)
		assert.Equal(t, "current", pubKeys[0].KeyID)
		assert.NotEqual(t, "current", pubKeys[1].KeyID)

		jwks, err := provider.JWKS(context.Background())
		require.NoError(t, err)
		assert.Len(t, jwks.Keys, 2)
	})

	t.Run("fails for non-existent file", func(t *testing.T) {
		t.Parallel()
		_, err := NewStaticProvider(Config{PrivateKeyFile: "/nonexistent/key.pem"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load signing key")
	})
}

func TestGeneratingProvider(t *testing.T) {
	t.Parallel()

	t.Run("generates RS256 key lazily and memoizes it", func(t *testing.T) {
		t.Parallel()
		provider := NewGeneratingProvider("dev-key")

		first, err := provider.SigningKey(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "dev-key", first.KeyID)
		assert.Equal(t, Algorithm, first.Algorithm)

		second, err := provider.SigningKey(context.Background())
		require.NoError(t, err)
		assert.Same(t, first.Key, second.Key)
	})

	t.Run("derives thumbprint key id when unset", func(t *testing.T) {
		t.Parallel()
		provider := NewGeneratingProvider("")

		key, err := provider.SigningKey(context.Background())
		require.NoError(t, err)

		expected, err := DeriveKeyID(key.Key)
		require.NoError(t, err)
		assert.Equal(t, expected, key.KeyID)
	})

	t.Run("concurrent first access generates once", func(t *testing.T) {
		t.Parallel()
		provider := NewGeneratingProvider("dev-key")
		shared := generateTestKey(t)

		var calls atomic.Int32
		release := make(chan struct{})
		provider.generate = func() (*rsa.PrivateKey, error) {
			calls.Add(1)
			<-release
			return shared, nil
		}

		const callers = 16
		var wg sync.WaitGroup
		results := make([]*SigningKeyData, callers)
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				key, err := provider.SigningKey(context.Background())
				assert.NoError(t, err)
				results[i] = key
			}()
		}
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), calls.Load())
		for _, r := range results {
			require.NotNil(t, r)
			assert.Same(t, results[0].Key, r.Key)
		}
	})

	t.Run("JWKS exposes one public signing key", func(t *testing.T) {
		t.Parallel()
		provider := NewGeneratingProvider(DefaultKeyID)

		jwks, err := provider.JWKS(context.Background())
		require.NoError(t, err)
		require.Len(t, jwks.Keys, 1)

		key := jwks.Keys[0]
		assert.True(t, key.IsPublic())
		assert.Equal(t, DefaultKeyID, key.KeyID)
		assert.Equal(t, Algorithm, key.Algorithm)
		assert.Equal(t, "sig", key.Use)

		again, err := provider.JWKS(context.Background())
		require.NoError(t, err)
		assert.Same(t, jwks, again)
	})
}

func TestNewProviderFromConfig(t *testing.T) {
	t.Parallel()

	t.Run("empty config generates", func(t *testing.T) {
		t.Parallel()
		provider, err := NewProviderFromConfig(Config{})
		require.NoError(t, err)
		assert.IsType(t, &GeneratingProvider{}, provider)
	})

	t.Run("private key config loads", func(t *testing.T) {
		t.Parallel()
		provider, err := NewProviderFromConfig(Config{PrivateKeyPEM: pkcs8PEM(t, generateTestKey(t))})
		require.NoError(t, err)
		assert.IsType(t, &StaticProvider{}, provider)
	})

	t.Run("public key alone is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := NewProviderFromConfig(Config{PublicKeyPEM: spkiPEM(t, &generateTestKey(t).PublicKey)})
		require.Error(t, err)
	})
}
