package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCredentialStore persists credentials in PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE users (
//	    username      TEXT PRIMARY KEY,
//	    email         TEXT NOT NULL,
//	    password_hash TEXT NOT NULL,
//	    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresCredentialStore struct {
	Pool *pgxpool.Pool
}

func (s *PostgresCredentialStore) Lookup(ctx context.Context, username string) (*Credential, error) {
	if s.Pool == nil {
		return nil, errors.New("missing pool")
	}

	var cred Credential
	err := s.Pool.QueryRow(ctx, `
		SELECT username, email, password_hash, created_at FROM users WHERE username = $1
	`, username).Scan(&cred.Username, &cred.Email, &cred.PasswordHash, &cred.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &cred, nil
}

func (s *PostgresCredentialStore) Create(ctx context.Context, cred *Credential) error {
	if s.Pool == nil {
		return errors.New("missing pool")
	}

	_, err := s.Pool.Exec(ctx, `
		INSERT INTO users (username, email, password_hash, created_at) VALUES ($1, $2, $3, $4)
	`, cred.Username, cred.Email, cred.PasswordHash, cred.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrUserExists
		}
		return err
	}
	return nil
}

func (s *PostgresCredentialStore) Delete(ctx context.Context, username string) error {
	if s.Pool == nil {
		return errors.New("missing pool")
	}

	tag, err := s.Pool.Exec(ctx, `DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

var _ CredentialStore = (*PostgresCredentialStore)(nil)
