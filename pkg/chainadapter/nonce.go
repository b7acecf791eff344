package chainadapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/logger"
)

// nonceSyncInterval bounds how stale the locally tracked nonce may get
// before it is re-read from the chain.
const nonceSyncInterval = 5 * time.Minute

// txRecord tracks one in-flight transaction by nonce.
type txRecord struct {
	hash      common.Hash
	createdAt time.Time
}

// nonceTracker allocates and tracks nonces for a single chain and signing
// address. Failed transactions release their nonce for reuse when no lower
// nonce is still pending, which keeps the account from getting stuck behind
// a gap.
type nonceTracker struct {
	chain    string
	mu       sync.Mutex
	current  uint64
	pending  map[uint64]*txRecord
	lastSync time.Time
	logger   logger.Logger
}

func newNonceTracker(chain string, log logger.Logger) *nonceTracker {
	return &nonceTracker{
		chain:   chain,
		pending: make(map[uint64]*txRecord),
		logger:  log,
	}
}

// Reserve allocates the next nonce, syncing with the chain when the local
// view is stale.
func (nt *nonceTracker) Reserve(ctx context.Context, client *ethclient.Client, address common.Address) (uint64, error) {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	if nt.lastSync.IsZero() || time.Since(nt.lastSync) > nonceSyncInterval {
		nonce, err := client.PendingNonceAt(ctx, address)
		if err != nil {
			return 0, fmt.Errorf("failed to get pending nonce: %v", err)
		}
		if nonce > nt.current {
			nt.logger.DebugWithChain(nt.chain, "Updating nonce: %d -> %d", nt.current, nonce)
			nt.current = nonce
		}
		nt.lastSync = time.Now()
	}

	nonce := nt.current
	nt.current++
	return nonce, nil
}

// Track records a submitted transaction under its nonce.
func (nt *nonceTracker) Track(nonce uint64, hash common.Hash) {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	nt.pending[nonce] = &txRecord{hash: hash, createdAt: time.Now()}
}

// Confirmed releases a confirmed transaction's nonce.
func (nt *nonceTracker) Confirmed(nonce uint64) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	delete(nt.pending, nonce)
}

// Failed releases a failed transaction's nonce. When no lower nonce is still
// pending the allocator rewinds so the nonce is reused instead of leaving a
// gap. This covers transactions rejected at submission, before they were
// ever tracked: their nonce was reserved but nothing on chain consumes it.
func (nt *nonceTracker) Failed(nonce uint64) {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	delete(nt.pending, nonce)

	lowest := nonce
	for n := range nt.pending {
		if n < lowest {
			lowest = n
		}
	}
	if lowest == nonce && nt.current > nonce {
		nt.logger.DebugWithChain(nt.chain, "Reusing nonce %d after transaction failure", nonce)
		nt.current = nonce
	}
}

// PendingCount returns the number of in-flight transactions.
func (nt *nonceTracker) PendingCount() int {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	return len(nt.pending)
}
