// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// ErrKeyMismatch is returned when a configured public key does not belong to the private key.
var ErrKeyMismatch = errors.New("public key does not match private key")

// normalizePEM restores newlines in PEM material passed through environment
// variables with literal "\n" sequences.
func normalizePEM(raw string) []byte {
	return []byte(strings.ReplaceAll(strings.TrimSpace(raw), `\n`, "\n"))
}

// ParsePrivateKeyPEM parses an RSA private key in PKCS#8 or PKCS#1 PEM form.
func ParsePrivateKeyPEM(raw string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(normalizePEM(raw))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block from private key")
	}

	// Try PKCS8 first, the format emitted by most tooling
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("unsupported key type %T: %s requires an RSA key", key, Algorithm)
		}
		return rsaKey, validateRSAKey(rsaKey)
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return rsaKey, validateRSAKey(rsaKey)
}

// ParsePublicKeyPEM parses an RSA public key in SPKI or PKCS#1 PEM form.
func ParsePublicKeyPEM(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(normalizePEM(raw))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block from public key")
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("unsupported public key type %T", key)
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return rsaKey, nil
}

// LoadSigningKeyFile loads an RSA private key from a PEM file.
func LoadSigningKeyFile(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is provided by operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	return ParsePrivateKeyPEM(string(data))
}

// DeriveKeyID computes a key ID from the public key using RFC 7638 JWK Thumbprint.
func DeriveKeyID(key crypto.Signer) (string, error) {
	jwk := jose.JSONWebKey{Key: key.Public()}

	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}

func validateRSAKey(key *rsa.PrivateKey) error {
	if bits := key.N.BitLen(); bits < MinRSAKeyBits {
		return fmt.Errorf("RSA key is %d bits, at least %d are required", bits, MinRSAKeyBits)
	}
	return nil
}

func checkKeyPair(priv *rsa.PrivateKey, pub *rsa.PublicKey) error {
	if !priv.PublicKey.Equal(pub) {
		return ErrKeyMismatch
	}
	return nil
}
