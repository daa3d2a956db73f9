package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSQLiteRoundTrip(t *testing.T) {
	e := NewEngine(newSQLiteBackend(t))
	ctx := context.Background()

	_, err := e.CreateAccount(ctx, "alice")
	require.NoError(t, err)

	_, err = e.CreateAccount(ctx, "alice")
	require.ErrorIs(t, err, ErrAlreadyExists)

	tx, err := e.Deposit(ctx, "alice", 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tx.Sequence)
	assert.Equal(t, int64(100), tx.ResultingBalance)

	_, err = e.Withdraw(ctx, "alice", 150)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	tx, err = e.Withdraw(ctx, "alice", 30)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tx.Sequence)
	assert.Equal(t, int64(70), tx.ResultingBalance)

	bal, err := e.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(70), bal)

	history, err := e.History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, KindDeposit, history[0].Kind)
	assert.Equal(t, KindWithdraw, history[1].Kind)

	_, err = e.Balance(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteConcurrentWithdrawNoDoubleSpend(t *testing.T) {
	e := NewEngine(newSQLiteBackend(t))
	ctx := context.Background()

	_, err := e.CreateAccount(ctx, "alice")
	require.NoError(t, err)
	_, err = e.Deposit(ctx, "alice", 100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Withdraw(ctx, "alice", 70)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes int
	for err := range results {
		if err == nil {
			successes++
		} else {
			require.True(t, errors.Is(err, ErrInsufficientFunds), "unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)

	bal, err := e.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(30), bal)
}

func TestSQLiteTimestampsMonotonicPerAccount(t *testing.T) {
	e := NewEngine(newSQLiteBackend(t))
	ctx := context.Background()

	_, err := e.CreateAccount(ctx, "alice")
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		_, err := e.Deposit(ctx, "alice", 1)
		require.NoError(t, err)
	}

	history, err := e.History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 25)
	for i := 1; i < len(history); i++ {
		assert.True(t, history[i].Timestamp.After(history[i-1].Timestamp),
			"timestamp at seq %d not after seq %d", history[i].Sequence, history[i-1].Sequence)
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")
	ctx := context.Background()

	b, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	e := NewEngine(b)
	_, err = e.CreateAccount(ctx, "alice")
	require.NoError(t, err)
	_, err = e.Deposit(ctx, "alice", 250)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	reopened, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	defer reopened.Close()

	e2 := NewEngine(reopened)
	bal, err := e2.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(250), bal)

	history, err := e2.History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(250), history[0].ResultingBalance)
}
