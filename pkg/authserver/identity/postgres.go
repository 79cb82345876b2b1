// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Registers the "postgres" driver.
	_ "github.com/lib/pq"
)

// Connection pool limits for the directory database.
const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
)

const (
	selectUserByEmail = `select id, name, email, password_hash, role from users where email = $1 limit 1`
	selectUserByID    = `select id, name, email, password_hash, role from users where id = $1 limit 1`
)

// OpenPostgres opens and pings a Postgres connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}

// PostgresUserDirectory reads users from the shared users table.
type PostgresUserDirectory struct {
	db *sql.DB
}

// NewPostgresUserDirectory creates a directory over db.
func NewPostgresUserDirectory(db *sql.DB) *PostgresUserDirectory {
	return &PostgresUserDirectory{db: db}
}

// FindByID returns the user with the given id.
func (d *PostgresUserDirectory) FindByID(ctx context.Context, id string) (*User, error) {
	return d.queryOne(ctx, selectUserByID, id)
}

// FindByEmail returns the user with the given email.
func (d *PostgresUserDirectory) FindByEmail(ctx context.Context, email string) (*User, error) {
	return d.queryOne(ctx, selectUserByEmail, email)
}

func (d *PostgresUserDirectory) queryOne(ctx context.Context, query, arg string) (*User, error) {
	var u User
	err := d.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.RoleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &u, nil
}

// Close closes the underlying connection pool.
func (d *PostgresUserDirectory) Close() error {
	return d.db.Close()
}

var _ UserDirectory = (*PostgresUserDirectory)(nil)
