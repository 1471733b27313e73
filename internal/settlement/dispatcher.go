package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/congo-pay/walletledger/internal/command"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/messaging"
	"github.com/congo-pay/walletledger/internal/metrics"
	"github.com/congo-pay/walletledger/internal/notification"
	"github.com/congo-pay/walletledger/internal/wallet"
)

// Dispatcher decodes transaction commands and runs them through an executor.
type Dispatcher struct {
	executor command.Executor
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(executor command.Executor, notifier notification.Notifier, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{executor: executor, notifier: notifier, metrics: m, logger: logger}
}

// Handle is the messaging.Handler for the transactions topic.
func (d *Dispatcher) Handle(ctx context.Context, msg messaging.Message) error {
	cmd, err := command.Decode(msg.Value)
	if err != nil {
		d.logger.Error("decode command",
			slog.String("key", msg.Key),
			slog.Int64("offset", msg.Offset),
			slog.Any("error", err))
		return err
	}
	return d.Settle(ctx, cmd)
}

// Settle executes cmd and reports the outcome. Retryable failures are not
// notified since the command will be delivered again.
func (d *Dispatcher) Settle(ctx context.Context, cmd command.Command) error {
	err := cmd.Execute(ctx, d.executor)
	d.metrics.Settlement(cmd.Variant(), err)

	logger := d.logger.With(
		slog.String("variant", cmd.Variant()),
		slog.String("request_transaction_id", cmd.RequestID()))

	switch {
	case err == nil:
		d.notify(ctx, logger, notification.Message{
			Kind:                 notification.KindSettlementCompleted,
			RequestTransactionID: cmd.RequestID(),
			Destination:          cmd.PartitionKey(),
			Body:                 fmt.Sprintf("%s settled", cmd.Variant()),
		})
	case Permanent(err):
		logger.Error("settlement rejected", slog.Any("error", err))
		d.notify(ctx, logger, notification.Message{
			Kind:                 notification.KindSettlementFailed,
			RequestTransactionID: cmd.RequestID(),
			Destination:          cmd.PartitionKey(),
			Body:                 err.Error(),
		})
	default:
		logger.Warn("settlement failed", slog.Any("error", err))
	}
	return err
}

func (d *Dispatcher) notify(ctx context.Context, logger *slog.Logger, msg notification.Message) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Send(ctx, msg); err != nil {
		logger.Warn("send notification", slog.Any("error", err))
	}
}

// Permanent reports failures that redelivery cannot fix. Version claim
// conflicts and timeouts are retried; a transfer admitted against a stale
// source version is not.
func Permanent(err error) bool {
	for _, target := range []error{
		errStaleAdmission,
		command.ErrSerialization,
		command.ErrUnknownCommand,
		wallet.ErrWalletNotFound,
		wallet.ErrSourceWalletNotFound,
		wallet.ErrDestinationWalletNotFound,
		wallet.ErrWalletInactive,
		wallet.ErrDestinationWalletInactive,
		wallet.ErrInsufficientFunds,
		ledger.ErrDuplicateEntry,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
