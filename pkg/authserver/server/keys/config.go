// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import "fmt"

// Config holds configuration for creating a KeyProvider.
// The caller is responsible for populating this from their own config source.
type Config struct {
	// KeyID is the "kid" advertised for the signing key.
	// If empty, DefaultKeyID is used for configured keys and a thumbprint
	// is derived for generated keys.
	KeyID string

	// PrivateKeyPEM is a PEM-encoded RSA private key (PKCS#8 or PKCS#1).
	PrivateKeyPEM string

	// PublicKeyPEM is the matching SPKI public key. Optional; when set it is
	// checked against the private key.
	PublicKeyPEM string

	// PrivateKeyFile is a path to a PEM-encoded private key. Ignored when
	// PrivateKeyPEM is set.
	PrivateKeyFile string

	// FallbackKeyFiles are retired private keys whose public halves stay in
	// the JWKS so tokens they signed remain verifiable until expiry.
	FallbackKeyFiles []string
}

// NewProviderFromConfig creates a KeyProvider based on the configuration.
//
// Behavior:
//   - PrivateKeyPEM or PrivateKeyFile set: static provider over that key
//   - PublicKeyPEM set without a private key: error
//   - nothing set: GeneratingProvider (ephemeral key, development only)
func NewProviderFromConfig(cfg Config) (KeyProvider, error) {
	if cfg.PrivateKeyPEM != "" || cfg.PrivateKeyFile != "" {
		return NewStaticProvider(cfg)
	}

	if cfg.PublicKeyPEM != "" {
		return nil, fmt.Errorf("public key configured without a private key")
	}

	return NewGeneratingProvider(cfg.KeyID), nil
}
