// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package keys provides signing key management for the OAuth authorization server.
// It handles key lifecycle including loading from configuration, generation, and
// publication as a JSON Web Key Set.
package keys

import (
	"crypto"
	"time"
)

// Algorithm is the only JWS algorithm the server signs and verifies with.
const Algorithm = "RS256"

// DefaultKeyID is the key id advertised when none is configured.
const DefaultKeyID = "toka-key-1"

// MinRSAKeyBits is the minimum accepted RSA modulus size.
const MinRSAKeyBits = 2048

// generatedKeyBits is the modulus size of ephemeral keys.
const generatedKeyBits = 2048

// SigningKeyData represents a signing key with its metadata.
// This contains private key material and should not be exposed externally.
type SigningKeyData struct {
	// KeyID is the value placed in the JWS "kid" header.
	KeyID string

	// Algorithm is the signing algorithm, always RS256.
	Algorithm string

	// Key is the private key used for signing.
	Key crypto.Signer

	// CreatedAt is when this key was generated or loaded.
	CreatedAt time.Time
}

// PublicKeyData represents the public portion of a signing key.
// This is safe to expose via the JWKS endpoint.
type PublicKeyData struct {
	KeyID     string
	Algorithm string
	PublicKey crypto.PublicKey
	CreatedAt time.Time
}

func (k *SigningKeyData) clone() *SigningKeyData {
	cp := *k
	return &cp
}

func (k *SigningKeyData) public() *PublicKeyData {
	return &PublicKeyData{
		KeyID:     k.KeyID,
		Algorithm: k.Algorithm,
		PublicKey: k.Key.Public(),
		CreatedAt: k.CreatedAt,
	}
}
