package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrUserExists         = errors.New("username already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// Credential is one registered identity. The core ledger never sees raw
// passwords; only the bcrypt hash is stored.
type Credential struct {
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// CredentialStore maps usernames to stored credentials.
type CredentialStore interface {
	Lookup(ctx context.Context, username string) (*Credential, error)
	Create(ctx context.Context, cred *Credential) error
	Delete(ctx context.Context, username string) error
}

// MemoryCredentialStore is the in-process store used in development and
// tests.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]*Credential)}
}

func (m *MemoryCredentialStore) Lookup(ctx context.Context, username string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cred, ok := m.creds[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := *cred
	return &out, nil
}

func (m *MemoryCredentialStore) Create(ctx context.Context, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.creds[cred.Username]; ok {
		return ErrUserExists
	}
	stored := *cred
	m.creds[cred.Username] = &stored
	return nil
}

func (m *MemoryCredentialStore) Delete(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.creds[username]; !ok {
		return ErrUserNotFound
	}
	delete(m.creds, username)
	return nil
}

var _ CredentialStore = (*MemoryCredentialStore)(nil)
