package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Notifier is told about transactions after their atomic unit is durable.
// Notification failures never affect the committed operation.
type Notifier interface {
	TransactionCommitted(ctx context.Context, tx Transaction)
}

// Engine owns the write path to accounts and their transaction logs. Every
// deposit or withdrawal updates the balance and appends a matching
// transaction as one atomic unit of work: either both are visible afterwards
// or neither is.
type Engine struct {
	backend  Backend
	atomic   atomicApplier // non-nil when the backend commits both halves itself
	notifier Notifier
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithNotifier registers a post-commit notification hook.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// NewEngine builds an engine on top of a backend. If the backend can commit
// the balance mutation and the log append in one storage transaction, the
// engine uses that; otherwise it serializes per account and compensates the
// balance when the append fails.
func NewEngine(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend: backend,
		logger:  slog.Default(),
		locks:   make(map[string]*sync.Mutex),
	}
	if aa, ok := backend.(atomicApplier); ok {
		e.atomic = aa
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateAccount registers a new account with a zero balance. Repeated
// registration fails with ErrAlreadyExists and leaves the existing account
// untouched.
func (e *Engine) CreateAccount(ctx context.Context, accountID string) (*Account, error) {
	return e.backend.Create(ctx, accountID)
}

// Balance returns the latest committed balance in minor units.
func (e *Engine) Balance(ctx context.Context, accountID string) (int64, error) {
	acct, err := e.backend.Get(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// History returns the account's transactions oldest first.
func (e *Engine) History(ctx context.Context, accountID string) ([]Transaction, error) {
	if _, err := e.backend.Get(ctx, accountID); err != nil {
		return nil, err
	}
	return e.backend.ListFor(ctx, accountID)
}

// Deposit credits the account and records a deposit transaction.
func (e *Engine) Deposit(ctx context.Context, accountID string, amount int64) (*Transaction, error) {
	return e.commit(ctx, accountID, KindDeposit, amount)
}

// Withdraw debits the account and records a withdraw transaction. It fails
// with ErrInsufficientFunds when the amount exceeds the balance at commit
// time, in which case nothing is logged.
func (e *Engine) Withdraw(ctx context.Context, accountID string, amount int64) (*Transaction, error) {
	return e.commit(ctx, accountID, KindWithdraw, amount)
}

func (e *Engine) commit(ctx context.Context, accountID string, kind Kind, amount int64) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var (
		tx  *Transaction
		err error
	)
	if e.atomic != nil {
		tx, err = e.atomic.applyAndLog(ctx, accountID, kind, amount)
	} else {
		tx, err = e.lockedCommit(ctx, accountID, kind, amount)
	}
	if err != nil {
		return nil, err
	}

	e.logger.Debug("transaction committed",
		"account_id", tx.AccountID,
		"kind", tx.Kind,
		"amount", tx.Amount,
		"seq", tx.Sequence,
		"balance", tx.ResultingBalance,
	)
	if e.notifier != nil {
		e.notifier.TransactionCommitted(ctx, *tx)
	}
	return tx, nil
}

// lockedCommit serializes mutations per account, applies the delta, and
// appends the transaction. If the append fails the delta is compensated so
// the balance is observably unchanged. The compensation itself cannot
// overdraw: it reverses a delta this call just applied under the same lock.
func (e *Engine) lockedCommit(ctx context.Context, accountID string, kind Kind, amount int64) (*Transaction, error) {
	lock := e.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	delta := amount
	if kind == KindWithdraw {
		delta = -amount
	}

	balance, err := e.backend.ApplyDelta(ctx, accountID, delta)
	if err != nil {
		return nil, err
	}

	tx, err := e.backend.Append(ctx, accountID, kind, amount, balance)
	if err != nil {
		if _, rbErr := e.backend.ApplyDelta(ctx, accountID, -delta); rbErr != nil {
			e.logger.Error("balance rollback failed after append failure",
				"account_id", accountID,
				"delta", delta,
				"append_error", err,
				"rollback_error", rbErr,
			)
			return nil, fmt.Errorf("%w: append failed and rollback failed: %v (append: %v)", ErrTransient, rbErr, err)
		}
		return nil, fmt.Errorf("%w: append transaction: %v", ErrTransient, err)
	}
	return tx, nil
}

// accountLock returns the mutex guarding one account's consistency unit.
// Operations on different accounts never contend on each other.
func (e *Engine) accountLock(accountID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[accountID] = lock
	}
	return lock
}
