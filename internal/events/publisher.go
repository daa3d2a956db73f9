// Package events publishes committed-transaction notifications to external
// consumers. Publishing is strictly post-commit and best effort: a failed
// publish is logged and dropped, never unwinds the committed mutation.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/bank-ledger/internal/ledger"
)

// TransactionCommitted is emitted once per durably committed transaction.
type TransactionCommitted struct {
	TransactionID    string    `json:"transaction_id"`
	AccountID        string    `json:"account_id"`
	Sequence         uint64    `json:"sequence"`
	Kind             string    `json:"kind"`
	Amount           int64     `json:"amount"`
	ResultingBalance int64     `json:"resulting_balance"`
	CommittedAt      time.Time `json:"committed_at"`
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, event TransactionCommitted) error
}

// Notifier adapts a Publisher to the ledger engine's post-commit hook.
type Notifier struct {
	Publisher Publisher
	Logger    *slog.Logger
}

func (n *Notifier) TransactionCommitted(ctx context.Context, tx ledger.Transaction) {
	event := TransactionCommitted{
		TransactionID:    tx.ID,
		AccountID:        tx.AccountID,
		Sequence:         tx.Sequence,
		Kind:             string(tx.Kind),
		Amount:           tx.Amount,
		ResultingBalance: tx.ResultingBalance,
		CommittedAt:      tx.Timestamp,
	}

	if err := n.Publisher.Publish(ctx, event); err != nil {
		logger := n.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("failed to publish transaction event",
			"transaction_id", event.TransactionID,
			"account_id", event.AccountID,
			"error", err,
		)
	}
}

var _ ledger.Notifier = (*Notifier)(nil)
