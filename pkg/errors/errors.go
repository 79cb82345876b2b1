// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the error kinds surfaced by the authorization server.
// Every kind maps to an HTTP status, and the message of an *Error is safe to
// return to clients.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind string

// Validation and domain errors
const (
	// KindInvalidInput is returned when a value object cannot be constructed from its input
	KindInvalidInput Kind = "invalid_input"

	// KindMissingParameter is returned when a required request parameter is absent
	KindMissingParameter Kind = "missing_parameter"

	// KindUnsupportedResponseType is returned for any response_type other than "code"
	KindUnsupportedResponseType Kind = "unsupported_response_type"

	// KindUnsupportedGrantType is returned for grant types the token endpoint does not handle
	KindUnsupportedGrantType Kind = "unsupported_grant_type"

	// KindUnknownClient is returned when the client id is not registered
	KindUnknownClient Kind = "unknown_client"

	// KindRedirectNotAllowed is returned when the redirect URI is not registered for the client
	KindRedirectNotAllowed Kind = "redirect_not_allowed"

	// KindScopeNotAllowed is returned when the requested scope exceeds the client's allowed scopes
	KindScopeNotAllowed Kind = "scope_not_allowed"

	// KindOpenIDScopeRequired is returned when an authorization request lacks the openid scope
	KindOpenIDScopeRequired Kind = "openid_scope_required"

	// KindInvalidGrant is returned when a code or refresh token is unknown, consumed or malformed
	KindInvalidGrant Kind = "invalid_grant"

	// KindExpiredGrant is returned when a code or refresh token is past its expiry
	KindExpiredGrant Kind = "expired_grant"

	// KindGrantMismatch is returned when a code is redeemed by a different client or redirect URI
	KindGrantMismatch Kind = "grant_mismatch"
)

// Application errors
const (
	// KindInvalidClient is returned when client authentication fails
	KindInvalidClient Kind = "invalid_client"

	// KindInvalidCredentials is returned when resource owner authentication fails
	KindInvalidCredentials Kind = "invalid_credentials"

	// KindTokenInvalid is returned when a token fails verification
	KindTokenInvalid Kind = "token_invalid"

	// KindRevokedGrant is returned when a refresh token has been revoked or blacklisted
	KindRevokedGrant Kind = "revoked_grant"

	// KindClientMismatch is returned when a refresh token is presented by a different client
	KindClientMismatch Kind = "client_mismatch"

	// KindUnauthorized is returned when a request carries no usable credentials
	KindUnauthorized Kind = "unauthorized"

	// KindUserNotFound is returned when the subject of a grant no longer exists
	KindUserNotFound Kind = "user_not_found"

	// KindRoleNotFound is returned when the user's role cannot be resolved
	KindRoleNotFound Kind = "role_not_found"

	// KindNotFound is returned for other missing resources
	KindNotFound Kind = "not_found"

	// KindConflict is returned when a write collides with existing state
	KindConflict Kind = "conflict"

	// KindUpstreamUnavailable is returned when a dependency fails or times out
	KindUpstreamUnavailable Kind = "upstream_unavailable"

	// KindInternal is returned for unexpected failures
	KindInternal Kind = "internal"
)

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindInvalidInput, KindMissingParameter, KindUnsupportedResponseType, KindUnsupportedGrantType,
		KindUnknownClient, KindRedirectNotAllowed, KindScopeNotAllowed, KindOpenIDScopeRequired,
		KindInvalidGrant, KindExpiredGrant, KindGrantMismatch:
		return http.StatusBadRequest
	case KindInvalidClient, KindInvalidCredentials, KindTokenInvalid, KindRevokedGrant,
		KindClientMismatch, KindUnauthorized:
		return http.StatusUnauthorized
	case KindUserNotFound, KindRoleNotFound, KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// InternalMessage is the message returned to clients for errors that are not an *Error.
const InternalMessage = "Internal server error"

// Error represents an error in the application
type Error struct {
	// Kind is the error kind
	Kind Kind

	// Message is the client-facing error message
	Message string

	// Cause is the underlying error. It is never shown to clients.
	Cause error

	// status overrides Kind.Status when non-zero
	status int
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Status returns the HTTP status code for the error.
func (e *Error) Status() int {
	if e.status != 0 {
		return e.status
	}
	return e.Kind.Status()
}

// New creates a new error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a new error of the given kind with an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithStatus returns a copy of e that reports status instead of the kind's default.
func (e *Error) WithStatus(status int) *Error {
	cp := *e
	cp.status = status
	return &cp
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// Status returns the HTTP status for err.
func Status(err error) int {
	if e, ok := As(err); ok {
		return e.Status()
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the message that may be shown to clients for err.
func PublicMessage(err error) string {
	if e, ok := As(err); ok {
		return e.Message
	}
	return InternalMessage
}

// IsTokenInvalid checks if the error is a token verification error
func IsTokenInvalid(err error) bool {
	return Is(err, KindTokenInvalid)
}

// IsRevokedGrant checks if the error reports reuse of a revoked refresh token
func IsRevokedGrant(err error) bool {
	return Is(err, KindRevokedGrant)
}
