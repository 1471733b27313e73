package wallet

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/congo-pay/walletledger/internal/store"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[uuid.UUID]Wallet
}

// NewMemoryRepository constructs an in-memory repository for tests. It honors
// version checks and store.MemoryTxManager rollbacks.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[uuid.UUID]Wallet)}
}

func (r *memoryRepository) Create(ctx context.Context, wallet Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.storage {
		if existing.UserID == wallet.UserID {
			return ErrWalletAlreadyExists
		}
	}
	r.storage[wallet.ID] = wallet
	store.Track(ctx, func() { r.restore(wallet.ID, Wallet{}, false) })
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id uuid.UUID) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wallet, ok := r.storage[id]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return wallet, nil
}

func (r *memoryRepository) FindByIDAndVersion(_ context.Context, id uuid.UUID, version int64) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wallet, ok := r.storage[id]
	if !ok || wallet.Version != version {
		return Wallet{}, ErrWalletNotFound
	}
	return wallet, nil
}

func (r *memoryRepository) ExistsForUser(_ context.Context, userID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.storage {
		if w.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepository) Save(ctx context.Context, wallet Wallet) (Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.storage[wallet.ID]
	if !ok || current.Version != wallet.Version {
		return Wallet{}, ErrConcurrentModification
	}
	wallet.Version++
	r.storage[wallet.ID] = wallet
	store.Track(ctx, func() { r.restore(current.ID, current, true) })
	return wallet, nil
}

func (r *memoryRepository) ClaimVersion(ctx context.Context, id uuid.UUID, version int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.storage[id]
	if !ok || current.Version != version {
		return 0, ErrConcurrentModification
	}
	next := current
	next.Version++
	r.storage[id] = next
	store.Track(ctx, func() { r.restore(id, current, true) })
	return next.Version, nil
}

func (r *memoryRepository) restore(id uuid.UUID, prev Wallet, existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !existed {
		delete(r.storage, id)
		return
	}
	r.storage[id] = prev
}
