package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-ledger/internal/ledger"
)

type capturingPublisher struct {
	events []TransactionCommitted
	err    error
}

func (c *capturingPublisher) Publish(ctx context.Context, event TransactionCommitted) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, event)
	return nil
}

func TestNotifierMapsTransaction(t *testing.T) {
	pub := &capturingPublisher{}
	n := &Notifier{Publisher: pub}

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n.TransactionCommitted(context.Background(), ledger.Transaction{
		ID:               "tx-1",
		AccountID:        "alice",
		Sequence:         7,
		Kind:             ledger.KindWithdraw,
		Amount:           250,
		ResultingBalance: 750,
		Timestamp:        ts,
	})

	require.Len(t, pub.events, 1)
	event := pub.events[0]
	assert.Equal(t, "tx-1", event.TransactionID)
	assert.Equal(t, "alice", event.AccountID)
	assert.Equal(t, uint64(7), event.Sequence)
	assert.Equal(t, "withdraw", event.Kind)
	assert.Equal(t, int64(250), event.Amount)
	assert.Equal(t, int64(750), event.ResultingBalance)
	assert.Equal(t, ts, event.CommittedAt)
}

// A broken broker must never surface to the caller of the committed
// operation.
func TestNotifierSwallowsPublishErrors(t *testing.T) {
	pub := &capturingPublisher{err: errors.New("broker down")}
	n := &Notifier{Publisher: pub}

	assert.NotPanics(t, func() {
		n.TransactionCommitted(context.Background(), ledger.Transaction{ID: "tx-1"})
	})
}
