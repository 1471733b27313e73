package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/congo-pay/walletledger/internal/messaging"
	"github.com/congo-pay/walletledger/internal/metrics"
	"github.com/congo-pay/walletledger/internal/store"
)

// Relay polls the outbox and publishes pending messages in order.
type Relay struct {
	tx        store.TxManager
	store     Store
	publisher messaging.Publisher
	interval  time.Duration
	batch     int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewRelay constructs a relay.
func NewRelay(tx store.TxManager, s Store, publisher messaging.Publisher, interval time.Duration, batch int, logger *slog.Logger, m *metrics.Metrics) *Relay {
	if batch <= 0 {
		batch = 100
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Relay{tx: tx, store: s, publisher: publisher, interval: interval, batch: batch, logger: logger, metrics: m}
}

// Run relays until ctx is cancelled. A full batch is followed immediately by
// the next one.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		n, err := r.RelayOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Error("relay outbox", slog.Any("error", err))
		}
		if err == nil && n == r.batch {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch and returns how many messages went out.
// Messages published before a failure are still marked, so a redelivery
// only repeats the failed message onwards.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var (
		published  int
		publishErr error
	)
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		pending, err := r.store.Pending(ctx, r.batch)
		if err != nil {
			return err
		}

		ids := make([]int64, 0, len(pending))
		for _, m := range pending {
			if err := r.publisher.Publish(ctx, m.Topic, m.Key, m.Payload); err != nil {
				publishErr = fmt.Errorf("publish outbox message %d: %w", m.ID, err)
				break
			}
			ids = append(ids, m.ID)
		}

		if err := r.store.MarkPublished(ctx, ids, time.Now().UTC()); err != nil {
			return err
		}
		published = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.metrics.OutboxRelayed(published)
	return published, publishErr
}
