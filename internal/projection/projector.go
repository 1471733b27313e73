// Package projection folds balance-update events into the materialized
// wallet balance.
package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/walletledger/internal/command"
	"github.com/congo-pay/walletledger/internal/messaging"
	"github.com/congo-pay/walletledger/internal/metrics"
	"github.com/congo-pay/walletledger/internal/store"
	"github.com/congo-pay/walletledger/internal/wallet"
)

const maxConflictAttempts = 3

var errAlreadyApplied = errors.New("event already applied")

// Invalidator drops cached balances.
type Invalidator interface {
	Invalidate(ctx context.Context, walletIDs ...uuid.UUID) error
}

// Projector applies balance deltas with optimistic retry.
type Projector struct {
	tx       store.TxManager
	wallets  wallet.Repository
	applied  AppliedLog
	balances Invalidator
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewProjector constructs a Projector.
func NewProjector(tx store.TxManager, wallets wallet.Repository, applied AppliedLog, balances Invalidator, m *metrics.Metrics, logger *slog.Logger) *Projector {
	return &Projector{
		tx:       tx,
		wallets:  wallets,
		applied:  applied,
		balances: balances,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle decodes a balance-update record and applies it.
func (p *Projector) Handle(ctx context.Context, msg messaging.Message) error {
	ev, err := command.DecodeBalanceUpdate(msg.Value)
	if err != nil {
		p.metrics.Projection("error")
		return err
	}
	return p.Apply(ctx, ev)
}

// Apply folds ev into the wallet balance. An event for a missing wallet is
// dropped. An event already applied is skipped. Version conflicts are retried
// with a fresh read before the error is surfaced for redelivery.
func (p *Projector) Apply(ctx context.Context, ev command.BalanceUpdate) error {
	logger := p.logger.With(
		slog.String("wallet_id", ev.WalletID.String()),
		slog.String("request_transaction_id", ev.RequestTransactionID),
		slog.String("transaction_type", string(ev.TransactionType)))

	for attempt := 1; ; attempt++ {
		err := p.tx.WithinTx(ctx, func(ctx context.Context) error {
			fresh, err := p.applied.Record(ctx, Key{
				RequestTransactionID: ev.RequestTransactionID,
				WalletID:             ev.WalletID,
				TransactionType:      ev.TransactionType,
			})
			if err != nil {
				return fmt.Errorf("record applied event: %w", err)
			}
			if !fresh {
				return errAlreadyApplied
			}

			w, err := p.wallets.FindByID(ctx, ev.WalletID)
			if err != nil {
				return err
			}
			w.Balance = w.Balance.Add(ev.Amount)
			w.LastBalanceUpdated = p.now()
			_, err = p.wallets.Save(ctx, w)
			return err
		})

		switch {
		case err == nil:
			p.metrics.Projection("applied")
			if err := p.balances.Invalidate(ctx, ev.WalletID); err != nil {
				logger.Warn("invalidate balance cache", slog.Any("error", err))
			}
			logger.Debug("balance projected", slog.String("amount", ev.Amount.String()))
			return nil
		case errors.Is(err, errAlreadyApplied):
			p.metrics.Projection("skipped")
			logger.Info("balance update already applied")
			return nil
		case errors.Is(err, wallet.ErrWalletNotFound):
			p.metrics.Projection("dropped")
			logger.Error("balance update for unknown wallet dropped")
			return nil
		case errors.Is(err, wallet.ErrConcurrentModification) && attempt < maxConflictAttempts:
			logger.Debug("balance projection conflict, retrying", slog.Int("attempt", attempt))
			continue
		default:
			p.metrics.Projection("error")
			logger.Error("balance projection failed", slog.Any("error", err))
			return err
		}
	}
}
