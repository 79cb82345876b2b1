// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"
)

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=provider.go KeyProvider

// KeyProvider provides signing keys for JWT operations.
// Implementations handle key sourcing (configuration, file, generation).
type KeyProvider interface {
	// SigningKey returns the current signing key.
	SigningKey(ctx context.Context) (*SigningKeyData, error)

	// PublicKeys returns all public keys that verify tokens issued by this server.
	// The signing key is always first.
	PublicKeys(ctx context.Context) ([]*PublicKeyData, error)

	// JWKS returns the public keys as a JSON Web Key Set.
	JWKS(ctx context.Context) (*jose.JSONWebKeySet, error)
}

// StaticProvider serves a key pair loaded once from configuration.
type StaticProvider struct {
	signingKey *SigningKeyData
	allKeys    []*SigningKeyData
	jwks       *jose.JSONWebKeySet
}

// NewStaticProvider loads the configured key material. The key ID defaults
// to DefaultKeyID; fallback keys are identified by their thumbprint.
func NewStaticProvider(cfg Config) (*StaticProvider, error) {
	var (
		priv *rsa.PrivateKey
		err  error
	)
	if cfg.PrivateKeyPEM != "" {
		priv, err = ParsePrivateKeyPEM(cfg.PrivateKeyPEM)
	} else {
		priv, err = LoadSigningKeyFile(cfg.PrivateKeyFile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	if cfg.PublicKeyPEM != "" {
		pub, err := ParsePublicKeyPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load public key: %w", err)
		}
		if err := checkKeyPair(priv, pub); err != nil {
			return nil, err
		}
	}

	keyID := cfg.KeyID
	if keyID == "" {
		keyID = DefaultKeyID
	}

	now := time.Now()
	signingKey := &SigningKeyData{KeyID: keyID, Algorithm: Algorithm, Key: priv, CreatedAt: now}
	allKeys := []*SigningKeyData{signingKey}

	for _, path := range cfg.FallbackKeyFiles {
		fallback, err := LoadSigningKeyFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load fallback key %s: %w", path, err)
		}
		kid, err := DeriveKeyID(fallback)
		if err != nil {
			return nil, err
		}
		if kid == keyID {
			return nil, fmt.Errorf("fallback key %s reuses key id %q", path, keyID)
		}
		allKeys = append(allKeys, &SigningKeyData{KeyID: kid, Algorithm: Algorithm, Key: fallback, CreatedAt: now})
	}

	return &StaticProvider{
		signingKey: signingKey,
		allKeys:    allKeys,
		jwks:       buildJWKS(allKeys),
	}, nil
}

// SigningKey returns a copy of the configured signing key.
func (p *StaticProvider) SigningKey(_ context.Context) (*SigningKeyData, error) {
	return p.signingKey.clone(), nil
}

// PublicKeys returns the signing key's public half followed by any fallback keys.
func (p *StaticProvider) PublicKeys(_ context.Context) ([]*PublicKeyData, error) {
	pubKeys := make([]*PublicKeyData, 0, len(p.allKeys))
	for _, key := range p.allKeys {
		pubKeys = append(pubKeys, key.public())
	}
	return pubKeys, nil
}

// JWKS returns the key set computed at construction.
func (p *StaticProvider) JWKS(_ context.Context) (*jose.JSONWebKeySet, error) {
	return p.jwks, nil
}

// GeneratingProvider generates an ephemeral RSA key on first access.
// Suitable for development but NOT recommended for production.
// Generated keys are lost on restart, invalidating all issued tokens.
type GeneratingProvider struct {
	keyID    string
	group    singleflight.Group
	generate func() (*rsa.PrivateKey, error)

	mu   sync.RWMutex
	key  *SigningKeyData
	jwks *jose.JSONWebKeySet
}

// NewGeneratingProvider creates a provider that generates an ephemeral key.
// If keyID is empty, the key's thumbprint is used.
func NewGeneratingProvider(keyID string) *GeneratingProvider {
	return &GeneratingProvider{
		keyID: keyID,
		generate: func() (*rsa.PrivateKey, error) {
			return rsa.GenerateKey(rand.Reader, generatedKeyBits)
		},
	}
}

// SigningKey returns the signing key, generating one if needed.
// Concurrent first callers share a single generation.
func (p *GeneratingProvider) SigningKey(_ context.Context) (*SigningKeyData, error) {
	key, _, err := p.load()
	if err != nil {
		return nil, err
	}
	return key.clone(), nil
}

// PublicKeys returns the public key for JWKS.
func (p *GeneratingProvider) PublicKeys(_ context.Context) ([]*PublicKeyData, error) {
	key, _, err := p.load()
	if err != nil {
		return nil, err
	}
	return []*PublicKeyData{key.public()}, nil
}

// JWKS returns the key set for the generated key.
func (p *GeneratingProvider) JWKS(_ context.Context) (*jose.JSONWebKeySet, error) {
	_, jwks, err := p.load()
	return jwks, err
}

func (p *GeneratingProvider) load() (*SigningKeyData, *jose.JSONWebKeySet, error) {
	p.mu.RLock()
	key, jwks := p.key, p.jwks
	p.mu.RUnlock()
	if key != nil {
		return key, jwks, nil
	}

	_, err, _ := p.group.Do("signing-key", func() (any, error) {
		p.mu.RLock()
		ready := p.key != nil
		p.mu.RUnlock()
		if ready {
			return nil, nil
		}

		generated, err := p.generateKey()
		if err != nil {
			return nil, err
		}

		slog.Warn("generated ephemeral signing key - tokens will be invalid after restart",
			"algorithm", generated.Algorithm,
			"key_id", generated.KeyID,
		)

		p.mu.Lock()
		p.key = generated
		p.jwks = buildJWKS([]*SigningKeyData{generated})
		p.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return nil, nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.key, p.jwks, nil
}

func (p *GeneratingProvider) generateKey() (*SigningKeyData, error) {
	privateKey, err := p.generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	keyID := p.keyID
	if keyID == "" {
		keyID, err = DeriveKeyID(privateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key ID: %w", err)
		}
	}

	return &SigningKeyData{
		KeyID:     keyID,
		Algorithm: Algorithm,
		Key:       privateKey,
		CreatedAt: time.Now(),
	}, nil
}

// buildJWKS converts keys into a JWKS containing public halves only.
func buildJWKS(keys []*SigningKeyData) *jose.JSONWebKeySet {
	jwks := &jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(keys))}
	for _, key := range keys {
		jwks.Keys = append(jwks.Keys, jose.JSONWebKey{
			Key:       key.Key.Public(),
			KeyID:     key.KeyID,
			Algorithm: key.Algorithm,
			Use:       "sig",
		})
	}
	return jwks
}

// Compile-time interface checks.
var (
	_ KeyProvider = (*StaticProvider)(nil)
	_ KeyProvider = (*GeneratingProvider)(nil)
)
