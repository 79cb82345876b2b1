// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error with cause",
			err:  Wrap(KindUpstreamUnavailable, "Unable to load user", errors.New("dial tcp: refused")),
			want: "upstream_unavailable: Unable to load user: dial tcp: refused",
		},
		{
			name: "error without cause",
			err:  New(KindInvalidGrant, "Authorization code is invalid"),
			want: "invalid_grant: Authorization code is invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying error")
	err := Wrap(KindInternal, "test message", cause)
	assert.Same(t, cause, err.Unwrap())
	assert.ErrorIs(t, err, cause)

	assert.Nil(t, New(KindInternal, "test message").Unwrap())
}

func TestKind_Status(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidInput, http.StatusBadRequest},
		{KindMissingParameter, http.StatusBadRequest},
		{KindUnsupportedResponseType, http.StatusBadRequest},
		{KindUnsupportedGrantType, http.StatusBadRequest},
		{KindUnknownClient, http.StatusBadRequest},
		{KindRedirectNotAllowed, http.StatusBadRequest},
		{KindScopeNotAllowed, http.StatusBadRequest},
		{KindOpenIDScopeRequired, http.StatusBadRequest},
		{KindInvalidGrant, http.StatusBadRequest},
		{KindExpiredGrant, http.StatusBadRequest},
		{KindGrantMismatch, http.StatusBadRequest},
		{KindInvalidClient, http.StatusUnauthorized},
		{KindInvalidCredentials, http.StatusUnauthorized},
		{KindTokenInvalid, http.StatusUnauthorized},
		{KindRevokedGrant, http.StatusUnauthorized},
		{KindClientMismatch, http.StatusUnauthorized},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindUserNotFound, http.StatusNotFound},
		{KindRoleNotFound, http.StatusNotFound},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindUpstreamUnavailable, http.StatusBadGateway},
		{KindInternal, http.StatusInternalServerError},
		{Kind("bogus"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.kind.Status())
		})
	}
}

func TestWithStatus(t *testing.T) {
	t.Parallel()

	base := New(KindInvalidGrant, "Refresh token is invalid")
	overridden := base.WithStatus(http.StatusUnauthorized)

	assert.Equal(t, http.StatusBadRequest, base.Status(), "original must be unchanged")
	assert.Equal(t, http.StatusUnauthorized, overridden.Status())
	assert.Equal(t, KindInvalidGrant, overridden.Kind)
}

func TestHelpers_WrappedChain(t *testing.T) {
	t.Parallel()

	inner := New(KindRevokedGrant, "Refresh token is revoked")
	wrapped := fmt.Errorf("rotate: %w", inner)

	assert.Equal(t, KindRevokedGrant, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindRevokedGrant))
	assert.Equal(t, http.StatusUnauthorized, Status(wrapped))
	assert.Equal(t, "Refresh token is revoked", PublicMessage(wrapped))
}

func TestHelpers_PlainError(t *testing.T) {
	t.Parallel()

	plain := errors.New("boom")

	assert.Equal(t, KindInternal, KindOf(plain))
	assert.False(t, Is(plain, KindInternal))
	assert.Equal(t, http.StatusInternalServerError, Status(plain))
	assert.Equal(t, InternalMessage, PublicMessage(plain))
}

func TestIsHelpers(t *testing.T) {
	t.Parallel()

	assert.True(t, IsTokenInvalid(New(KindTokenInvalid, "x")))
	assert.False(t, IsTokenInvalid(New(KindInternal, "x")))
	assert.True(t, IsRevokedGrant(fmt.Errorf("wrap: %w", New(KindRevokedGrant, "x"))))
	assert.False(t, IsRevokedGrant(New(KindInvalidGrant, "x")))
	assert.False(t, IsRevokedGrant(nil))
}
