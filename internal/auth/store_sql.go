package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// SQLCredentialStore persists credentials through database/sql, sharing the
// SQLite file used by the ledger backend.
type SQLCredentialStore struct {
	DB *sql.DB
}

// NewSQLCredentialStore applies the users schema and returns the store.
func NewSQLCredentialStore(db *sql.DB) (*SQLCredentialStore, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
		    username      TEXT PRIMARY KEY,
		    email         TEXT NOT NULL,
		    password_hash TEXT NOT NULL,
		    created_at    TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return nil, err
	}
	return &SQLCredentialStore{DB: db}, nil
}

func (s *SQLCredentialStore) Lookup(ctx context.Context, username string) (*Credential, error) {
	var cred Credential
	err := s.DB.QueryRowContext(ctx, `
		SELECT username, email, password_hash, created_at FROM users WHERE username = ?
	`, username).Scan(&cred.Username, &cred.Email, &cred.PasswordHash, &cred.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &cred, nil
}

func (s *SQLCredentialStore) Create(ctx context.Context, cred *Credential) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO users (username, email, password_hash, created_at) VALUES (?, ?, ?, ?)
	`, cred.Username, cred.Email, cred.PasswordHash, cred.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrUserExists
		}
		return err
	}
	return nil
}

func (s *SQLCredentialStore) Delete(ctx context.Context, username string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

var _ CredentialStore = (*SQLCredentialStore)(nil)
