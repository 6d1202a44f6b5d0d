package user

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// PostgresDirectory reads accounts from PostgreSQL. Expected schema:
//
//	CREATE TABLE users (
//	    id TEXT PRIMARY KEY,
//	    username TEXT UNIQUE NOT NULL,
//	    password_hash TEXT NOT NULL,
//	    allowed_class_refs TEXT[] NOT NULL DEFAULT '{}'
//	);
//	CREATE TABLE user_attributes (
//	    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
//	    name TEXT NOT NULL,
//	    value TEXT NOT NULL
//	);
type PostgresDirectory struct {
	db  *sql.DB
	log *observability.Logger
}

var _ Directory = (*PostgresDirectory)(nil)

// NewPostgresDirectory wraps an open database handle.
func NewPostgresDirectory(db *sql.DB, logger *observability.Logger) *PostgresDirectory {
	return &PostgresDirectory{db: db, log: logger}
}

// OpenPostgres connects to PostgreSQL and verifies the connection.
func OpenPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// ByUsername fetches the account behind a login-form username.
func (d *PostgresDirectory) ByUsername(ctx context.Context, username string) (*User, error) {
	return d.fetch(ctx, "username = $1", username)
}

// ByID fetches an account by its stable local identifier.
func (d *PostgresDirectory) ByID(ctx context.Context, id string) (*User, error) {
	return d.fetch(ctx, "id = $1", id)
}

func (d *PostgresDirectory) fetch(ctx context.Context, where, arg string) (*User, error) {
	u := &User{Attributes: make(map[string][]string)}
	var refs pq.StringArray
	query := "SELECT id, username, password_hash, allowed_class_refs FROM users WHERE " + where
	err := d.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.PasswordHash, &refs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	u.AllowedClassRefs = refs

	rows, err := d.db.QueryContext(ctx,
		"SELECT name, value FROM user_attributes WHERE user_id = $1 ORDER BY name, value", u.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user attributes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan user attribute: %w", err)
		}
		u.Attributes[name] = append(u.Attributes[name], value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read user attributes: %w", err)
	}
	return u, nil
}
