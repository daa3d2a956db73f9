package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration coverage for the Postgres backend. Runs only when
// TEST_DATABASE_URL points at a database with the schema from postgres.go.
func newPostgresBackend(t *testing.T) *PostgresBackend {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewPostgresBackend(pool)
}

func uniqueAccountID(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

func TestPostgresRoundTrip(t *testing.T) {
	e := NewEngine(newPostgresBackend(t))
	ctx := context.Background()
	id := uniqueAccountID(t)

	_, err := e.CreateAccount(ctx, id)
	require.NoError(t, err)
	_, err = e.CreateAccount(ctx, id)
	require.ErrorIs(t, err, ErrAlreadyExists)

	tx, err := e.Deposit(ctx, id, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), tx.ResultingBalance)

	_, err = e.Withdraw(ctx, id, 150)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = e.Withdraw(ctx, id, 30)
	require.NoError(t, err)

	bal, err := e.Balance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(70), bal)

	history, err := e.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, uint64(1), history[0].Sequence)
	assert.Equal(t, uint64(2), history[1].Sequence)
}

func TestPostgresTimestampsMonotonicPerAccount(t *testing.T) {
	e := NewEngine(newPostgresBackend(t))
	ctx := context.Background()
	id := uniqueAccountID(t)

	_, err := e.CreateAccount(ctx, id)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := e.Deposit(ctx, id, 1)
		require.NoError(t, err)
	}

	history, err := e.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 10)
	for i := 1; i < len(history); i++ {
		assert.True(t, history[i].Timestamp.After(history[i-1].Timestamp),
			"timestamp at seq %d not after seq %d", history[i].Sequence, history[i-1].Sequence)
	}
}

func TestPostgresConcurrentWithdrawNoDoubleSpend(t *testing.T) {
	e := NewEngine(newPostgresBackend(t))
	ctx := context.Background()
	id := uniqueAccountID(t)

	_, err := e.CreateAccount(ctx, id)
	require.NoError(t, err)
	_, err = e.Deposit(ctx, id, 100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Withdraw(ctx, id, 70)
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

	bal, err := e.Balance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(30), bal)
}
