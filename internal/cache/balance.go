package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/metrics"
)

const balancePrefix = "balance:"

// BalanceKey returns the cache key for a wallet balance.
func BalanceKey(walletID uuid.UUID) string {
	return balancePrefix + walletID.String()
}

// Balances is a read-through cache of wallet balances. Every method is best
// effort: failures are logged and reported as a miss, never as an error.
type Balances struct {
	client  *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBalances constructs a balance cache. A zero ttl keeps entries until invalidated.
func NewBalances(client *redis.Client, ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) *Balances {
	return &Balances{client: client, ttl: ttl, logger: logger, metrics: m}
}

// Get returns the cached balance and whether it was present.
func (b *Balances) Get(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, bool) {
	raw, err := b.client.Get(ctx, BalanceKey(walletID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			b.logger.Warn("balance cache read failed", slog.String("wallet_id", walletID.String()), slog.Any("error", err))
		}
		b.metrics.CacheLookup(false)
		return decimal.Zero, false
	}

	value, err := decimal.NewFromString(raw)
	if err != nil {
		b.logger.Warn("balance cache holds invalid value", slog.String("wallet_id", walletID.String()), slog.String("value", raw))
		b.metrics.CacheLookup(false)
		return decimal.Zero, false
	}

	b.metrics.CacheLookup(true)
	return value, true
}

// Set stores balance for walletID.
func (b *Balances) Set(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal) {
	if err := b.client.Set(ctx, BalanceKey(walletID), balance.String(), b.ttl).Err(); err != nil {
		b.logger.Warn("balance cache write failed", slog.String("wallet_id", walletID.String()), slog.Any("error", err))
	}
}

// Invalidate drops the cached balance of every given wallet.
func (b *Balances) Invalidate(ctx context.Context, walletIDs ...uuid.UUID) error {
	if len(walletIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(walletIDs))
	for _, id := range walletIDs {
		keys = append(keys, BalanceKey(id))
	}
	if err := b.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate balances: %w", err)
	}
	return nil
}
