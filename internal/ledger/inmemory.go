package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/store"
)

type entryKey struct {
	requestID string
	walletID  uuid.UUID
	typ       TransactionType
}

type inMemoryLedger struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[entryKey]struct{}
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests.
// Writes made inside a store.MemoryTxManager transaction are undone on rollback.
func NewInMemory() Store {
	return &inMemoryLedger{index: make(map[entryKey]struct{})}
}

func (l *inMemoryLedger) Append(ctx context.Context, entries ...Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := make(map[entryKey]struct{}, len(entries))
	for _, e := range entries {
		k := entryKey{e.RequestTransactionID, e.WalletID, e.Type}
		if _, exists := l.index[k]; exists {
			return fmt.Errorf("%w: %s %s", ErrDuplicateEntry, e.RequestTransactionID, e.Type)
		}
		if _, exists := batch[k]; exists {
			return fmt.Errorf("%w: %s %s", ErrDuplicateEntry, e.RequestTransactionID, e.Type)
		}
		batch[k] = struct{}{}
	}

	for k := range batch {
		l.index[k] = struct{}{}
	}
	l.entries = append(l.entries, entries...)

	store.Track(ctx, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		kept := l.entries[:0]
		for _, e := range l.entries {
			if _, undo := batch[entryKey{e.RequestTransactionID, e.WalletID, e.Type}]; !undo {
				kept = append(kept, e)
			}
		}
		for k := range batch {
			delete(l.index, k)
		}
		l.entries = kept
	})
	return nil
}

func (l *inMemoryLedger) SumByDestination(_ context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sum := decimal.Zero
	for _, e := range l.entries {
		if e.DestinationWalletID == walletID {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (l *inMemoryLedger) ListSince(_ context.Context, walletID uuid.UUID, since time.Time) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, e := range l.entries {
		if e.DestinationWalletID == walletID && !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (l *inMemoryLedger) ExistsForRequest(_ context.Context, requestID string, walletID uuid.UUID, typ TransactionType) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, exists := l.index[entryKey{requestID, walletID, typ}]
	return exists, nil
}
