// Package outbox stores messages in the database transaction that produced
// them and relays them to the broker afterwards.
package outbox

import (
	"context"
	"time"
)

// Message is one pending broker record.
type Message struct {
	ID          int64
	Topic       string
	Key         string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// Store persists outbox messages.
type Store interface {
	// Enqueue records msg using the transaction carried by ctx.
	Enqueue(ctx context.Context, msg Message) error
	// Pending returns up to limit unpublished messages in insertion order.
	Pending(ctx context.Context, limit int) ([]Message, error)
	// MarkPublished flags ids as published at at.
	MarkPublished(ctx context.Context, ids []int64, at time.Time) error
}
