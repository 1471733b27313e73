package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/congo-pay/walletledger/internal/store"
)

type memoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryRepository builds an in-memory user store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]User)}
}

func (r *memoryRepository) Create(ctx context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[user.Document]; exists {
		return ErrDocumentAlreadyExists
	}
	r.users[user.Document] = user
	store.Track(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.users, user.Document)
	})
	return nil
}

func (r *memoryRepository) FindByDocument(_ context.Context, document string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[document]
	if !ok {
		return User{}, ErrUserNotRegistered
	}
	return user, nil
}

func (r *memoryRepository) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.ID == id {
			return true, nil
		}
	}
	return false, nil
}
