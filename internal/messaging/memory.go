package messaging

import (
	"context"
	"sync"
	"time"
)

// Bus is an in-process broker for tests. Published records are kept per
// topic and handed out in order by Drain.
type Bus struct {
	mu      sync.Mutex
	topics  map[string][]Message
	cursors map[string]int
	fail    error
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[string][]Message), cursors: make(map[string]int)}
}

// FailWith makes every later Publish return err. A nil err restores delivery.
func (b *Bus) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = err
}

// Publish implements Publisher.
func (b *Bus) Publish(_ context.Context, topic, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	msgs := b.topics[topic]
	b.topics[topic] = append(msgs, Message{
		Topic:  topic,
		Key:    key,
		Value:  append([]byte(nil), value...),
		Offset: int64(len(msgs)),
		Time:   time.Now().UTC(),
	})
	return nil
}

// Messages returns a copy of every record published to topic.
func (b *Bus) Messages(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.topics[topic]...)
}

// Drain hands every undelivered record of topic to handler, in order. It
// stops at the first handler error, leaving that record undelivered.
func (b *Bus) Drain(ctx context.Context, topic string, handler Handler) (int, error) {
	delivered := 0
	for {
		b.mu.Lock()
		cursor := b.cursors[topic]
		msgs := b.topics[topic]
		if cursor >= len(msgs) {
			b.mu.Unlock()
			return delivered, nil
		}
		msg := msgs[cursor]
		b.mu.Unlock()

		if err := handler(ctx, msg); err != nil {
			return delivered, err
		}

		b.mu.Lock()
		b.cursors[topic] = cursor + 1
		b.mu.Unlock()
		delivered++
	}
}
