// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package scope implements OAuth 2.0 scope values (RFC 6749 Section 3.3).
package scope

import (
	"slices"
	"strings"

	autherrors "github.com/stacklok/toka/pkg/errors"
)

// OpenID is the scope that marks a request as an OpenID Connect request.
const OpenID = "openid"

// Scope is an immutable set of scope tokens. Tokens keep the order in which
// they were first seen so that String is stable for a given input.
type Scope struct {
	values []string
}

// Parse builds a Scope from one or more raw values. Each value is split on
// whitespace; empty tokens and duplicates are dropped.
func Parse(raw ...string) (Scope, error) {
	var values []string
	for _, r := range raw {
		for _, token := range strings.Fields(r) {
			if !slices.Contains(values, token) {
				values = append(values, token)
			}
		}
	}

	if len(values) == 0 {
		return Scope{}, autherrors.New(autherrors.KindInvalidInput, "Scope is required")
	}

	return Scope{values: values}, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(raw ...string) Scope {
	s, err := Parse(raw...)
	if err != nil {
		panic(err)
	}
	return s
}

// Has reports whether token is a member of the scope.
func (s Scope) Has(token string) bool {
	return slices.Contains(s.values, token)
}

// IncludesOnly reports whether every token of s is also in allowed.
func (s Scope) IncludesOnly(allowed Scope) bool {
	for _, v := range s.values {
		if !allowed.Has(v) {
			return false
		}
	}
	return true
}

// Equal reports whether s and other contain the same tokens, ignoring order.
func (s Scope) Equal(other Scope) bool {
	return len(s.values) == len(other.values) && s.IncludesOnly(other)
}

// IsZero reports whether s holds no tokens.
func (s Scope) IsZero() bool {
	return len(s.values) == 0
}

// Values returns a copy of the scope tokens.
func (s Scope) Values() []string {
	return slices.Clone(s.values)
}

// String returns the space-delimited form used in claims and storage.
func (s Scope) String() string {
	return strings.Join(s.values, " ")
}
