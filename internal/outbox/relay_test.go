package outbox

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/messaging"
	"github.com/congo-pay/walletledger/internal/metrics"
	"github.com/congo-pay/walletledger/internal/store"
)

// flakyPublisher fails once the given number of messages went through.
type flakyPublisher struct {
	bus       *messaging.Bus
	failAfter int
	sent      int
}

func (p *flakyPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	if p.failAfter >= 0 && p.sent >= p.failAfter {
		return errors.New("broker unavailable")
	}
	p.sent++
	return p.bus.Publish(ctx, topic, key, value)
}

func enqueue(t *testing.T, s Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.Enqueue(context.Background(), Message{
			Topic:   "wallet-balance-updates",
			Key:     fmt.Sprintf("w-%d", i),
			Payload: []byte(fmt.Sprintf(`{"n":%d}`, i)),
		}))
	}
}

func TestRelayPublishesInOrderOnce(t *testing.T) {
	s := NewMemoryStore()
	bus := messaging.NewBus()
	relay := NewRelay(store.NewMemoryTxManager(), s, bus, 0, 2, logging.Discard(), metrics.New(prometheus.NewRegistry()))
	enqueue(t, s, 3)

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	msgs := bus.Messages("wallet-balance-updates")
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("w-%d", i), m.Key)
	}
}

func TestRelayKeepsUnpublishedAfterFailure(t *testing.T) {
	s := NewMemoryStore()
	bus := messaging.NewBus()
	pub := &flakyPublisher{bus: bus, failAfter: 1}
	relay := NewRelay(store.NewMemoryTxManager(), s, pub, 0, 10, logging.Discard(), nil)
	enqueue(t, s, 3)

	n, err := relay.RelayOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)

	pending, err := s.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	pub.failAfter = -1
	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, bus.Messages("wallet-balance-updates"), 3)
}

func TestEnqueueRolledBackWithTransaction(t *testing.T) {
	s := NewMemoryStore()
	tx := store.NewMemoryTxManager()

	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		require.NoError(t, s.Enqueue(ctx, Message{Topic: "t", Key: "k", Payload: []byte("{}")}))
		return errors.New("abort")
	})
	require.Error(t, err)

	pending, err := s.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	relay := NewRelay(store.NewMemoryTxManager(), NewMemoryStore(), messaging.NewBus(), 0, 1, logging.Discard(), nil)
	assert.NoError(t, relay.Run(ctx))
}
