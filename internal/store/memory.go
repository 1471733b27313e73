package store

import (
	"context"
	"sync"
)

type memTxKey struct{}

type memTx struct {
	undo []func()
}

// MemoryTxManager serializes transactions over the in-memory repositories.
// Repositories register compensations with Track so a failed transaction
// leaves no partial writes behind.
type MemoryTxManager struct {
	mu sync.Mutex
}

// NewMemoryTxManager constructs a MemoryTxManager.
func NewMemoryTxManager() *MemoryTxManager {
	return &MemoryTxManager{}
}

// WithinTx implements TxManager.
func (m *MemoryTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return MapError(err)
	}

	tx := &memTx{}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return MapError(err)
	}
	return nil
}

// Track records undo to run if the transaction carried by ctx rolls back.
// Outside a transaction it does nothing.
func Track(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, undo)
	}
}
