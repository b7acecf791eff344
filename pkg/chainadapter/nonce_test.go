package chainadapter

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/logger"
)

// primedTracker returns a tracker that believes it synced recently, so
// Reserve never touches the RPC client.
func primedTracker(next uint64) *nonceTracker {
	nt := newNonceTracker("ethereum", &logger.EmptyLogger{})
	nt.current = next
	nt.lastSync = time.Now()
	return nt
}

func TestReserveAllocatesSequentially(t *testing.T) {
	nt := primedTracker(5)

	first, err := nt.Reserve(context.Background(), nil, common.Address{})
	require.NoError(t, err)
	second, err := nt.Reserve(context.Background(), nil, common.Address{})
	require.NoError(t, err)

	assert.Equal(t, uint64(5), first)
	assert.Equal(t, uint64(6), second)
}

func TestFailedReusesNonceRejectedBeforeTracking(t *testing.T) {
	nt := primedTracker(5)

	nonce, err := nt.Reserve(context.Background(), nil, common.Address{})
	require.NoError(t, err)
	require.Equal(t, uint64(5), nonce)

	// Rejected at submission: the transaction was never tracked, but the
	// nonce must not stay consumed or the account develops a gap.
	nt.Failed(nonce)

	again, err := nt.Reserve(context.Background(), nil, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), again)
}

func TestFailedKeepsAllocatorWhenLowerNonceStillPending(t *testing.T) {
	nt := primedTracker(5)

	first, err := nt.Reserve(context.Background(), nil, common.Address{})
	require.NoError(t, err)
	second, err := nt.Reserve(context.Background(), nil, common.Address{})
	require.NoError(t, err)

	nt.Track(first, common.HexToHash("0x01"))
	nt.Track(second, common.HexToHash("0x02"))

	// The lower nonce is still in flight: rewinding would reuse a nonce the
	// chain may yet consume.
	nt.Failed(second)

	next, err := nt.Reserve(context.Background(), nil, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), next)
	assert.Equal(t, 1, nt.PendingCount())
}

func TestConfirmedReleasesTrackedNonce(t *testing.T) {
	nt := primedTracker(5)

	nonce, err := nt.Reserve(context.Background(), nil, common.Address{})
	require.NoError(t, err)
	nt.Track(nonce, common.HexToHash("0x01"))
	require.Equal(t, 1, nt.PendingCount())

	nt.Confirmed(nonce)
	assert.Zero(t, nt.PendingCount())

	next, err := nt.Reserve(context.Background(), nil, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, uint64(6), next)
}
