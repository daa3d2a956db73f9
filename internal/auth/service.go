package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const defaultTokenTTL = 15 * time.Minute

// Claims are the access token claims issued at login. Subject is the
// account identity the ledger operates on.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Service is the auth gate: it registers credentials and resolves them into
// signed access tokens. The ledger core only ever consumes the resolved
// subject.
type Service struct {
	Store    CredentialStore
	Keys     *KeySet
	Issuer   string
	TokenTTL time.Duration
}

// HashPassword produces a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Register stores a new credential. A username collision fails with
// ErrUserExists and leaves the existing credential untouched.
func (s *Service) Register(ctx context.Context, username, email, password string) (*Credential, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	cred := &Credential{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.Store.Create(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// Unregister removes a stored credential. It exists so a registration whose
// ledger account could not be created can be rolled back; it is not an
// endpoint.
func (s *Service) Unregister(ctx context.Context, username string) error {
	return s.Store.Delete(ctx, username)
}

// Login verifies the password and issues a signed access token. Unknown
// usernames and wrong passwords fail identically so the endpoint does not
// leak which usernames exist.
func (s *Service) Login(ctx context.Context, username, password string) (string, *Credential, error) {
	cred, err := s.Store.Lookup(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.issueToken(cred)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	return token, cred, nil
}

// TTL reports the lifetime of issued tokens.
func (s *Service) TTL() time.Duration {
	if s.TokenTTL != 0 {
		return s.TokenTTL
	}
	return defaultTokenTTL
}

func (s *Service) issueToken(cred *Credential) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   cred.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL())),
			ID:        uuid.NewString(),
		},
		Email: cred.Email,
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.Keys.KeyID()
	return tok.SignedString(s.Keys.PrivateKey())
}
