package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/congo-pay/walletledger/internal/store"
)

type memoryStore struct {
	mu       sync.Mutex
	nextID   int64
	messages []Message
}

// NewMemoryStore builds an in-memory outbox for tests.
func NewMemoryStore() Store {
	return &memoryStore{}
}

func (s *memoryStore) Enqueue(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	msg.CreatedAt = time.Now().UTC()
	msg.PublishedAt = nil
	s.messages = append(s.messages, msg)

	id := msg.ID
	store.Track(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, m := range s.messages {
			if m.ID == id {
				s.messages = append(s.messages[:i], s.messages[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (s *memoryStore) Pending(_ context.Context, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if m.PublishedAt == nil {
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memoryStore) MarkPublished(_ context.Context, ids []int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for i := range s.messages {
		if _, ok := set[s.messages[i].ID]; ok {
			published := at
			s.messages[i].PublishedAt = &published
		}
	}
	return nil
}
