package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    id         TEXT PRIMARY KEY,
    balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
    id                TEXT PRIMARY KEY,
    account_id        TEXT NOT NULL REFERENCES accounts(id),
    seq               INTEGER NOT NULL,
    kind              TEXT NOT NULL,
    amount            INTEGER NOT NULL CHECK (amount > 0),
    resulting_balance INTEGER NOT NULL CHECK (resulting_balance >= 0),
    created_at        TIMESTAMP NOT NULL,
    UNIQUE (account_id, seq)
);
`

// SQLiteBackend is a single-file durable backend for single-node
// deployments. SQLite serializes writers, so one SQL transaction per
// mutation gives the same atomic unit as the Postgres backend.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at path and applies the
// schema. WAL mode keeps readers from blocking behind the single writer.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection sidesteps SQLITE_BUSY between pooled writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// DB exposes the underlying handle so collaborators (the credential store)
// can share the same database file.
func (s *SQLiteBackend) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLiteBackend) Close() error { return s.db.Close() }

func (s *SQLiteBackend) Create(ctx context.Context, accountID string) (*Account, error) {
	acct := &Account{ID: accountID, Balance: 0, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, balance, created_at) VALUES (?, 0, ?)
	`, accountID, acct.CreatedAt)
	if err != nil {
		if isSQLiteConstraintErr(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("%w: insert account: %v", ErrTransient, err)
	}
	return acct, nil
}

func (s *SQLiteBackend) Get(ctx context.Context, accountID string) (*Account, error) {
	var acct Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, balance, created_at FROM accounts WHERE id = ?
	`, accountID).Scan(&acct.ID, &acct.Balance, &acct.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: select account: %v", ErrTransient, err)
	}
	return &acct, nil
}

func (s *SQLiteBackend) ApplyDelta(ctx context.Context, accountID string, delta int64) (int64, error) {
	var newBalance int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		balance, err := sqliteBalance(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if delta < 0 && balance+delta < 0 {
			return ErrInsufficientFunds
		}
		newBalance = balance + delta
		_, err = tx.ExecContext(ctx, `UPDATE accounts SET balance = ? WHERE id = ?`, newBalance, accountID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (s *SQLiteBackend) Append(ctx context.Context, accountID string, kind Kind, amount, resultingBalance int64) (*Transaction, error) {
	var out *Transaction
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rec, err := sqliteInsertTransaction(ctx, tx, accountID, kind, amount, resultingBalance)
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

func (s *SQLiteBackend) ListFor(ctx context.Context, accountID string) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, seq, kind, amount, resulting_balance, created_at
		FROM transactions
		WHERE account_id = ?
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
// transaction.
func (s *SQLiteBackend) applyAndLog(ctx context.Context, accountID string, kind Kind, amount int64) (*Transaction, error) {
	var out *Transaction
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		balance, err := sqliteBalance(ctx, tx, accountID)
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

		if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance = ? WHERE id = ?`, newBalance, accountID); err != nil {
			return err
		}

		rec, err := sqliteInsertTransaction(ctx, tx, accountID, kind, amount, newBalance)
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

func (s *SQLiteBackend) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", ErrTransient, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		if isDomainErr(err) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %v", ErrTransient, err)
	}
	return nil
}

func sqliteBalance(ctx context.Context, tx *sql.Tx, accountID string) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return balance, err
}

func sqliteInsertTransaction(ctx context.Context, tx *sql.Tx, accountID string, kind Kind, amount, resultingBalance int64) (*Transaction, error) {
	rec := Transaction{
		ID:               uuid.NewString(),
		AccountID:        accountID,
		Kind:             kind,
		Amount:           amount,
		ResultingBalance: resultingBalance,
		Timestamp:        time.Now().UTC(),
	}
	var last sql.NullTime
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1, MAX(created_at) FROM transactions WHERE account_id = ?
	`, accountID).Scan(&rec.Sequence, &last)
	if err != nil {
		return nil, err
	}
	// Timestamps within an account never go backwards, even if the clock
	// does.
	if last.Valid && !rec.Timestamp.After(last.Time) {
		rec.Timestamp = last.Time.Add(time.Nanosecond)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, seq, kind, amount, resulting_balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.AccountID, rec.Sequence, string(rec.Kind), rec.Amount, rec.ResultingBalance, rec.Timestamp)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func isSQLiteConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ Backend = (*SQLiteBackend)(nil)
var _ atomicApplier = (*SQLiteBackend)(nil)
