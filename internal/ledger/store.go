package ledger

import (
	"context"
	"time"
)

// Kind classifies a balance-affecting event.
type Kind string

const (
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
)

// Account holds a single non-negative balance in integer minor units
// (cents). Balances are never stored as floats.
type Account struct {
	ID        string    `json:"id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// Transaction is the immutable record of one committed mutation. Sequence
// and Timestamp are monotonically increasing per account. ResultingBalance
// snapshots the balance immediately after the commit, so a history can be
// replay-verified without re-summing from zero.
type Transaction struct {
	ID               string    `json:"id"`
	AccountID        string    `json:"account_id"`
	Sequence         uint64    `json:"sequence"`
	Kind             Kind      `json:"kind"`
	Amount           int64     `json:"amount"`
	ResultingBalance int64     `json:"resulting_balance"`
	Timestamp        time.Time `json:"timestamp"`
}

// AccountStore holds one balance record per account.
type AccountStore interface {
	// Create registers a new account with a zero balance. It fails with
	// ErrAlreadyExists if the ID is taken, leaving the existing account
	// untouched.
	Create(ctx context.Context, accountID string) (*Account, error)

	// Get returns the latest committed state, or ErrNotFound.
	Get(ctx context.Context, accountID string) (*Account, error)

	// ApplyDelta atomically reads the current balance, rejects a negative
	// delta that would overdraw with ErrInsufficientFunds, and commits the
	// new balance. The check-and-set is a single atomic step with respect
	// to concurrent callers on the same account.
	ApplyDelta(ctx context.Context, accountID string, delta int64) (int64, error)
}

// TransactionLog is the append-only audit trail. Appended records are never
// mutated or removed.
type TransactionLog interface {
	// Append records a committed mutation, assigning the per-account
	// sequence number and timestamp.
	Append(ctx context.Context, accountID string, kind Kind, amount, resultingBalance int64) (*Transaction, error)

	// ListFor returns the account's transactions oldest first, as a stable
	// snapshot taken at call time.
	ListFor(ctx context.Context, accountID string) ([]Transaction, error)
}

// Backend bundles the two halves of an account's consistency unit: the
// balance record and its transaction history are always updated together,
// never independently.
type Backend interface {
	AccountStore
	TransactionLog
}

// atomicApplier is an optional fast path. Backends that can commit the
// balance mutation and the log append inside one storage transaction bypass
// the engine's lock-and-compensate protocol.
type atomicApplier interface {
	applyAndLog(ctx context.Context, accountID string, kind Kind, amount int64) (*Transaction, error)
}
