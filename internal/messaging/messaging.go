// Package messaging is the broker contract used by the admission and
// settlement tiers.
package messaging

import (
	"context"
	"time"
)

// Message is a record read from or written to a topic.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Partition int
	Offset    int64
	Time      time.Time
}

// Publisher writes a record to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Handler processes one consumed record. A nil return acknowledges it.
type Handler func(ctx context.Context, msg Message) error
