package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgQueryTimeout = 5 * time.Second
	pgMaxRetries   = 3

	sqlstateSerializationFailure = "40001"
	sqlstateUniqueViolation      = "23505"
)

// PostgresBackend persists accounts and transaction logs in PostgreSQL.
// Mutations run in SERIALIZABLE transactions with the account row locked
// FOR UPDATE; serialization failures are retried a bounded number of times
// and then surfaced as ErrTransient.
//
// Expected schema:
//
//	CREATE TABLE accounts (
//	    id         TEXT PRIMARY KEY,
//	    balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
//	CREATE TABLE transactions (
//	    id                TEXT PRIMARY KEY,
//	    account_id        TEXT NOT NULL REFERENCES accounts(id),
//	    seq               BIGINT NOT NULL,
//	    kind              TEXT NOT NULL,
//	    amount            BIGINT NOT NULL CHECK (amount > 0),
//	    resulting_balance BIGINT NOT NULL CHECK (resulting_balance >= 0),
//	    created_at        TIMESTAMPTZ NOT NULL,
//	    UNIQUE (account_id, seq)
//	);
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend wraps an existing connection pool.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

func (p *PostgresBackend) Create(ctx context.Context, accountID string) (*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	var acct Account
	err := p.pool.QueryRow(queryCtx, `
		INSERT INTO accounts (id) VALUES ($1)
		RETURNING id, balance, created_at
	`, accountID).Scan(&acct.ID, &acct.Balance, &acct.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == sqlstateUniqueViolation {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("%w: insert account: %v", ErrTransient, err)
	}
	return &acct, nil
}

func (p *PostgresBackend) Get(ctx context.Context, accountID string) (*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	var acct Account
	err := p.pool.QueryRow(queryCtx, `
		SELECT id, balance, created_at FROM accounts WHERE id = $1
	`, accountID).Scan(&acct.ID, &acct.Balance, &acct.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: select account: %v", ErrTransient, err)
	}
	return &acct, nil
}

func (p *PostgresBackend) ApplyDelta(ctx context.Context, accountID string, delta int64) (int64, error) {
	var newBalance int64
	err := p.withSerializableRetry(ctx, func(ctx context.Context, tx pgx.Tx) error {
		balance, err := lockBalance(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if delta < 0 && balance+delta < 0 {
			return ErrInsufficientFunds
		}
		newBalance = balance + delta
		_, err = tx.Exec(ctx, `UPDATE accounts SET balance = $2 WHERE id = $1`, accountID, newBalance)
		return err
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (p *PostgresBackend) Append(ctx context.Context, accountID string, kind Kind, amount, resultingBalance int64) (*Transaction, error) {
	var out *Transaction
	err := p.withSerializableRetry(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rec, err := insertTransaction(ctx, tx, accountID, kind, amount, resultingBalance)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresBackend) ListFor(ctx context.Context, accountID string) ([]Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	rows, err := p.pool.Query(queryCtx, `
		SELECT id, account_id, seq, kind, amount, resulting_balance, created_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY seq ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: query transactions: %v", ErrTransient, err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var tx Transaction
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Sequence, &tx.Kind, &tx.Amount, &tx.ResultingBalance, &tx.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: scan transaction: %v", ErrTransient, err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate transactions: %v", ErrTransient, err)
	}
	return txs, nil
}

// applyAndLog commits the balance mutation and the log append in one SQL
// transaction, so the engine never has to compensate.
func (p *PostgresBackend) applyAndLog(ctx context.Context, accountID string, kind Kind, amount int64) (*Transaction, error) {
	var out *Transaction
	err := p.withSerializableRetry(ctx, func(ctx context.Context, tx pgx.Tx) error {
		balance, err := lockBalance(ctx, tx, accountID)
		if err != nil {
			return err
		}

		newBalance := balance + amount
		if kind == KindWithdraw {
			if balance < amount {
				return ErrInsufficientFunds
			}
			newBalance = balance - amount
		}

		if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = $2 WHERE id = $1`, accountID, newBalance); err != nil {
			return err
		}

		rec, err := insertTransaction(ctx, tx, accountID, kind, amount, newBalance)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func lockBalance(ctx context.Context, tx pgx.Tx, accountID string) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return balance, err
}

func insertTransaction(ctx context.Context, tx pgx.Tx, accountID string, kind Kind, amount, resultingBalance int64) (*Transaction, error) {
	rec := Transaction{
		ID:               uuid.NewString(),
		AccountID:        accountID,
		Kind:             kind,
		Amount:           amount,
		ResultingBalance: resultingBalance,
		Timestamp:        time.Now().UTC(),
	}

	// Timestamps within an account never go backwards, even if the clock
	// does. timestamptz stores microseconds, so step by one microsecond.
	var last *time.Time
	if err := tx.QueryRow(ctx, `
		SELECT MAX(created_at) FROM transactions WHERE account_id = $1
	`, accountID).Scan(&last); err != nil {
		return nil, err
	}
	if last != nil && !rec.Timestamp.After(*last) {
		rec.Timestamp = last.Add(time.Microsecond)
	}

	err := tx.QueryRow(ctx, `
		INSERT INTO transactions (id, account_id, seq, kind, amount, resulting_balance, created_at)
		SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5, $6
		FROM transactions WHERE account_id = $2
		RETURNING seq
	`, rec.ID, accountID, string(kind), amount, resultingBalance, rec.Timestamp).Scan(&rec.Sequence)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// withSerializableRetry runs fn inside a SERIALIZABLE transaction, retrying
// serialization failures with a short backoff the way contended commits are
// expected to behave. Domain sentinels pass through untouched; anything else
// is wrapped as transient.
func (p *PostgresBackend) withSerializableRetry(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt < pgMaxRetries; attempt++ {
		err = p.runTx(ctx, fn)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == sqlstateSerializationFailure {
			if attempt == pgMaxRetries-1 {
				return fmt.Errorf("%w: serialization failure after %d attempts: %v", ErrTransient, pgMaxRetries, err)
			}
			time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
			continue
		}
		break
	}

	if isDomainErr(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func (p *PostgresBackend) runTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	queryCtx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	tx, err := p.pool.BeginTx(queryCtx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer tx.Rollback(queryCtx)

	if err := fn(queryCtx, tx); err != nil {
		return err
	}
	return tx.Commit(queryCtx)
}

func isDomainErr(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrTransient)
}

var _ Backend = (*PostgresBackend)(nil)
var _ atomicApplier = (*PostgresBackend)(nil)
