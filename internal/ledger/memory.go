package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBackend keeps accounts and transaction logs in process memory. It is
// the reference backend for tests and single-process development; durability
// comes from the SQL backends.
type MemoryBackend struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	history  map[string][]Transaction
	seqs     map[string]uint64
	lastTime map[string]time.Time
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		accounts: make(map[string]*Account),
		history:  make(map[string][]Transaction),
		seqs:     make(map[string]uint64),
		lastTime: make(map[string]time.Time),
	}
}

func (m *MemoryBackend) Create(ctx context.Context, accountID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[accountID]; ok {
		return nil, ErrAlreadyExists
	}

	acct := &Account{ID: accountID, Balance: 0, CreatedAt: time.Now().UTC()}
	m.accounts[accountID] = acct

	out := *acct
	return &out, nil
}

func (m *MemoryBackend) Get(ctx context.Context, accountID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[accountID]
	if !ok {
		return nil, ErrNotFound
	}

	out := *acct
	return &out, nil
}

func (m *MemoryBackend) ApplyDelta(ctx context.Context, accountID string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[accountID]
	if !ok {
		return 0, ErrNotFound
	}
	if delta < 0 && acct.Balance+delta < 0 {
		return 0, ErrInsufficientFunds
	}

	acct.Balance += delta
	return acct.Balance, nil
}

func (m *MemoryBackend) Append(ctx context.Context, accountID string, kind Kind, amount, resultingBalance int64) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := m.seqs[accountID] + 1
	m.seqs[accountID] = seq

	// Wall clocks can stand still or step backwards; the per-account
	// timestamp must not.
	ts := time.Now().UTC()
	if last, ok := m.lastTime[accountID]; ok && !ts.After(last) {
		ts = last.Add(time.Nanosecond)
	}
	m.lastTime[accountID] = ts

	tx := Transaction{
		ID:               uuid.NewString(),
		AccountID:        accountID,
		Sequence:         seq,
		Kind:             kind,
		Amount:           amount,
		ResultingBalance: resultingBalance,
		Timestamp:        ts,
	}
	m.history[accountID] = append(m.history[accountID], tx)
	return &tx, nil
}

func (m *MemoryBackend) ListFor(ctx context.Context, accountID string) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.history[accountID]
	out := make([]Transaction, len(src))
	copy(out, src)
	return out, nil
}

var _ Backend = (*MemoryBackend)(nil)
