// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDirectory(t *testing.T) (*PostgresUserDirectory, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresUserDirectory(db), mock
}

var userColumns = []string{"id", "name", "email", "password_hash", "role"}

func TestPostgresUserDirectory_FindByEmail(t *testing.T) {
	t.Parallel()

	dir, mock := newMockDirectory(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectUserByEmail)).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow("u1", "Ada", "ada@example.com", "$2a$hash", "admin"))

	u, err := dir.FindByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, &User{ID: "u1", Name: "Ada", Email: "ada@example.com", PasswordHash: "$2a$hash", RoleID: "admin"}, u)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserDirectory_FindByID(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()
		dir, mock := newMockDirectory(t)
		mock.ExpectQuery(regexp.QuoteMeta(selectUserByID)).
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows(userColumns).AddRow("u1", "Ada", "ada@example.com", "$2a$hash", "admin"))

		u, err := dir.FindByID(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "admin", u.RoleID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no rows", func(t *testing.T) {
		t.Parallel()
		dir, mock := newMockDirectory(t)
		mock.ExpectQuery(regexp.QuoteMeta(selectUserByID)).
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := dir.FindByID(context.Background(), "ghost")
		require.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("query failure", func(t *testing.T) {
		t.Parallel()
		dir, mock := newMockDirectory(t)
		mock.ExpectQuery(regexp.QuoteMeta(selectUserByID)).
			WithArgs("u1").
			WillReturnError(errors.New("connection reset"))

		_, err := dir.FindByID(context.Background(), "u1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUserNotFound)
		assert.Contains(t, err.Error(), "connection reset")
	})
}
