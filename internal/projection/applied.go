package projection

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/store"
)

// Key identifies one balance-update event.
type Key struct {
	RequestTransactionID string
	WalletID             uuid.UUID
	TransactionType      ledger.TransactionType
}

// AppliedLog remembers which events were folded into a balance.
type AppliedLog interface {
	// Record stores key and reports false when it was already present.
	Record(ctx context.Context, key Key) (bool, error)
}

// PostgresAppliedLog keeps the log in the projection_applied table.
type PostgresAppliedLog struct {
	db *store.DB
}

// NewPostgresAppliedLog constructs a PostgresAppliedLog.
func NewPostgresAppliedLog(db *store.DB) *PostgresAppliedLog {
	return &PostgresAppliedLog{db: db}
}

// Record implements AppliedLog.
func (l *PostgresAppliedLog) Record(ctx context.Context, key Key) (bool, error) {
	var inserted bool
	err := l.db.Run(ctx, func(ctx context.Context, q store.Querier) error {
		tag, err := q.Exec(ctx, `INSERT INTO projection_applied (request_transaction_id, wallet_id, transaction_type)
            VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			key.RequestTransactionID, key.WalletID, string(key.TransactionType))
		if err != nil {
			return err
		}
		inserted = tag.RowsAffected() == 1
		return nil
	})
	return inserted, err
}

type memoryAppliedLog struct {
	mu   sync.Mutex
	keys map[Key]struct{}
}

// NewMemoryAppliedLog builds an in-memory AppliedLog for tests.
func NewMemoryAppliedLog() AppliedLog {
	return &memoryAppliedLog{keys: make(map[Key]struct{})}
}

func (l *memoryAppliedLog) Record(ctx context.Context, key Key) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.keys[key]; ok {
		return false, nil
	}
	l.keys[key] = struct{}{}
	store.Track(ctx, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.keys, key)
	})
	return true, nil
}
