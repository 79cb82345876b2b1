// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package token issues and verifies the RS256-signed JWTs handed out by the
// authorization server: access, ID and refresh tokens.
package token

import (
	"context"
	"crypto"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/stacklok/toka/pkg/authserver/server/keys"
	tokaerrors "github.com/stacklok/toka/pkg/errors"
)

var allowedAlgorithms = []jose.SignatureAlgorithm{jose.RS256}

// JOSE "typ" header values. Each verifier accepts only its own kind.
const (
	TypeAccess  = "at+jwt"
	TypeID      = "JWT"
	TypeRefresh = "rt+jwt"
)

// Codec signs and verifies tokens for a single issuer.
type Codec struct {
	issuer string
	keys   keys.KeyProvider
	now    func() time.Time
	newJTI func() string
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// WithJTIGenerator overrides how token identifiers are generated.
func WithJTIGenerator(gen func() string) Option {
	return func(c *Codec) {
		c.newJTI = gen
	}
}

// NewCodec creates a codec that stamps tokens with issuer and signs them with
// the provider's current key.
func NewCodec(issuer string, provider keys.KeyProvider, opts ...Option) *Codec {
	c := &Codec{
		issuer: issuer,
		keys:   provider,
		now:    time.Now,
		newJTI: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Issuer returns the issuer identifier placed in the "iss" claim.
func (c *Codec) Issuer() string {
	return c.issuer
}

// IssueAccess signs an access token valid for ttl.
func (c *Codec) IssueAccess(ctx context.Context, claims AccessClaims, ttl time.Duration) (*Issued, error) {
	return c.issue(ctx, TypeAccess, claims.Subject, claims.ClientID, ttl, claims)
}

// IssueID signs an ID token valid for ttl.
func (c *Codec) IssueID(ctx context.Context, claims IDClaims, ttl time.Duration) (*Issued, error) {
	return c.issue(ctx, TypeID, claims.Subject, claims.Audience, ttl, claims)
}

// IssueRefresh signs a refresh token valid for ttl.
func (c *Codec) IssueRefresh(ctx context.Context, claims RefreshClaims, ttl time.Duration) (*Issued, error) {
	return c.issue(ctx, TypeRefresh, claims.Subject, claims.ClientID, ttl, claims)
}

func (c *Codec) issue(
	ctx context.Context, typ, subject, audience string, ttl time.Duration, custom any,
) (*Issued, error) {
	if subject == "" {
		return nil, fmt.Errorf("token subject is required")
	}

	key, err := c.keys.SigningKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get signing key: %w", err)
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{
			Algorithm: jose.SignatureAlgorithm(key.Algorithm),
			Key:       jose.JSONWebKey{Key: key.Key, KeyID: key.KeyID, Algorithm: key.Algorithm},
		},
		(&jose.SignerOptions{}).WithType(jose.ContentType(typ)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	// Lifetimes are whole seconds; exp is derived from the truncated iat.
	issuedAt := c.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl.Truncate(time.Second))
	jti := c.newJTI()

	std := jwt.Claims{
		Issuer:   c.issuer,
		Subject:  subject,
		Audience: jwt.Audience{audience},
		IssuedAt: jwt.NewNumericDate(issuedAt),
		Expiry:   jwt.NewNumericDate(expiresAt),
		ID:       jti,
	}

	raw, err := jwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Issued{Token: raw, JTI: jti, ExpiresAt: expiresAt}, nil
}

// VerifyAccess verifies an access token and returns its claims.
func (c *Codec) VerifyAccess(ctx context.Context, raw string) (*Verified[AccessClaims], error) {
	var claims AccessClaims
	v, err := verify(ctx, c, raw, TypeAccess, &claims)
	if err != nil {
		return nil, err
	}
	claims.Subject = v.subject
	return toVerified(v, claims), nil
}

// VerifyRefresh verifies a refresh token and returns its claims.
func (c *Codec) VerifyRefresh(ctx context.Context, raw string) (*Verified[RefreshClaims], error) {
	var claims RefreshClaims
	v, err := verify(ctx, c, raw, TypeRefresh, &claims)
	if err != nil {
		return nil, err
	}
	claims.Subject = v.subject
	return toVerified(v, claims), nil
}

// VerifyID verifies an ID token and returns its claims.
func (c *Codec) VerifyID(ctx context.Context, raw string) (*Verified[IDClaims], error) {
	var claims IDClaims
	v, err := verify(ctx, c, raw, TypeID, &claims)
	if err != nil {
		return nil, err
	}
	claims.Subject = v.subject
	if len(v.audience) > 0 {
		claims.Audience = v.audience[0]
	}
	return toVerified(v, claims), nil
}

type verifiedStd struct {
	subject   string
	jti       string
	audience  []string
	issuedAt  time.Time
	expiresAt time.Time
}

func toVerified[T any](v *verifiedStd, claims T) *Verified[T] {
	return &Verified[T]{
		Claims:    claims,
		JTI:       v.jti,
		Audience:  v.audience,
		IssuedAt:  v.issuedAt,
		ExpiresAt: v.expiresAt,
	}
}

func invalidToken(reason string, err error) error {
	slog.Debug("token verification failed", "reason", reason, "error", err)
	return tokaerrors.New(tokaerrors.KindTokenInvalid, "Token is invalid")
}

func verify(ctx context.Context, c *Codec, raw, typ string, custom any) (*verifiedStd, error) {
	if raw == "" {
		return nil, invalidToken("empty token", nil)
	}

	tok, err := jwt.ParseSigned(raw, allowedAlgorithms)
	if err != nil {
		return nil, invalidToken("malformed token", err)
	}

	if got, _ := tok.Headers[0].ExtraHeaders[jose.HeaderType].(string); !strings.EqualFold(got, typ) {
		return nil, invalidToken("unexpected token type", fmt.Errorf("typ %q, want %q", got, typ))
	}

	pub, err := c.verificationKey(ctx, tok.Headers[0].KeyID)
	if err != nil {
		return nil, err
	}

	var std jwt.Claims
	if err := tok.Claims(pub, &std, custom); err != nil {
		return nil, invalidToken("signature verification failed", err)
	}

	if std.Expiry == nil || std.ID == "" || std.Subject == "" {
		return nil, invalidToken("missing required claims", nil)
	}

	if err := std.ValidateWithLeeway(jwt.Expected{Issuer: c.issuer, Time: c.now()}, 0); err != nil {
		return nil, invalidToken("claim validation failed", err)
	}

	v := &verifiedStd{
		subject:   std.Subject,
		jti:       std.ID,
		audience:  std.Audience,
		expiresAt: std.Expiry.Time(),
	}
	if std.IssuedAt != nil {
		v.issuedAt = std.IssuedAt.Time()
	}
	return v, nil
}

// verificationKey finds the public key for kid. Tokens without a kid are
// checked against the current signing key.
func (c *Codec) verificationKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	pubKeys, err := c.keys.PublicKeys(ctx)
	if err != nil {
		return nil, tokaerrors.Wrap(tokaerrors.KindInternal, tokaerrors.InternalMessage,
			fmt.Errorf("failed to load verification keys: %w", err))
	}
	if len(pubKeys) == 0 {
		return nil, tokaerrors.New(tokaerrors.KindInternal, tokaerrors.InternalMessage)
	}
	if kid == "" {
		return pubKeys[0].PublicKey, nil
	}
	for _, k := range pubKeys {
		if k.KeyID == kid {
			return k.PublicKey, nil
		}
	}
	return nil, invalidToken("unknown key id", fmt.Errorf("kid %q", kid))
}
