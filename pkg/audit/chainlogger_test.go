package audit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainAppendsAndVerifies(t *testing.T) {
	logger := NewChainLogger()

	logger.Append("method=POST path=/v1/deposit status=200")
	logger.Append("method=POST path=/v1/withdraw status=422")
	logger.Append("method=GET path=/v1/balance status=200")

	entries := logger.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(1), entries[0].Seq)
	assert.Equal(t, uint64(3), entries[2].Seq)
	assert.Equal(t, entries[0].Hash, entries[1].PreviousHash)
	assert.True(t, VerifyChain(entries))
}

func TestTamperedPayloadDetected(t *testing.T) {
	logger := NewChainLogger()
	logger.Append("method=POST path=/v1/deposit status=200")
	logger.Append("method=GET path=/v1/balance status=200")

	entries := logger.Entries()
	entries[0].Payload = "method=POST path=/v1/deposit status=500"
	assert.False(t, VerifyChain(entries))
}

func TestBrokenLinkDetected(t *testing.T) {
	logger := NewChainLogger()
	logger.Append("one")
	logger.Append("two")

	entries := logger.Entries()
	entries[1].PreviousHash = strings.Repeat("ab", 32)
	assert.False(t, VerifyChain(entries))
}

func TestEmptyChainIsValid(t *testing.T) {
	assert.True(t, VerifyChain(nil))
}

func TestEntriesIsSnapshot(t *testing.T) {
	logger := NewChainLogger()
	logger.Append("one")

	snap := logger.Entries()
	logger.Append("two")
	assert.Len(t, snap, 1)
	assert.Len(t, logger.Entries(), 2)
}
