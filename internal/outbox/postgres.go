package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/congo-pay/walletledger/internal/store"
)

// PostgresStore keeps the outbox in the outbox table.
type PostgresStore struct {
	db *store.DB
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *store.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Enqueue implements Store.
func (s *PostgresStore) Enqueue(ctx context.Context, msg Message) error {
	return s.db.Run(ctx, func(ctx context.Context, q store.Querier) error {
		_, err := q.Exec(ctx, `INSERT INTO outbox (topic, message_key, payload, created_at) VALUES ($1, $2, $3, $4)`,
			msg.Topic, msg.Key, msg.Payload, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("enqueue outbox message: %w", err)
		}
		return nil
	})
}

// Pending implements Store. Rows are locked with SKIP LOCKED so concurrent
// relays inside a transaction never pick the same message.
func (s *PostgresStore) Pending(ctx context.Context, limit int) ([]Message, error) {
	var out []Message
	err := s.db.Run(ctx, func(ctx context.Context, q store.Querier) error {
		rows, err := q.Query(ctx, `SELECT id, topic, message_key, payload, created_at FROM outbox
            WHERE published_at IS NULL
            ORDER BY id
            LIMIT $1
            FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m Message
			if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &m.Payload, &m.CreatedAt); err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("load pending outbox: %w", err)
	}
	return out, nil
}

// MarkPublished implements Store.
func (s *PostgresStore) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Run(ctx, func(ctx context.Context, q store.Querier) error {
		_, err := q.Exec(ctx, `UPDATE outbox SET published_at = $2 WHERE id = ANY($1)`, ids, at.UTC())
		if err != nil {
			return fmt.Errorf("mark outbox published: %w", err)
		}
		return nil
	})
}
