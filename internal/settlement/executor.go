// Package settlement applies admitted commands to the ledger.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/command"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/outbox"
	"github.com/congo-pay/walletledger/internal/store"
	"github.com/congo-pay/walletledger/internal/wallet"
)

// State is a step of the settlement state machine.
type State string

const (
	StateStarted       State = "STARTED"
	StateWalletLoaded  State = "WALLET_LOADED"
	StateValidated     State = "VALIDATED"
	StateLedgerWritten State = "LEDGER_WRITTEN"
	StateEventEmitted  State = "EVENT_EMITTED"
	StateCommitted     State = "COMMITTED"
	StateRolledBack    State = "ROLLED_BACK"
)

var (
	errAlreadySettled = errors.New("command already settled")
	// errStaleAdmission marks a transfer admitted against a source version
	// that has since moved. The version is fixed in the command, so
	// redelivery cannot succeed.
	errStaleAdmission = errors.New("transfer admitted against a stale source version")
)

// Invalidator drops cached balances.
type Invalidator interface {
	Invalidate(ctx context.Context, walletIDs ...uuid.UUID) error
}

// Dependencies wires an Executor.
type Dependencies struct {
	Tx           store.TxManager
	Wallets      wallet.Repository
	Ledger       ledger.Store
	Outbox       outbox.Store
	Balances     Invalidator
	BalanceTopic string
	Logger       *slog.Logger
	Now          func() time.Time
}

// Executor settles deposits, withdrawals and transfers. It implements
// command.Executor.
type Executor struct {
	tx           store.TxManager
	wallets      wallet.Repository
	ledger       ledger.Store
	outbox       outbox.Store
	balances     Invalidator
	balanceTopic string
	logger       *slog.Logger
	now          func() time.Time
}

var _ command.Executor = (*Executor)(nil)

// NewExecutor constructs an Executor.
func NewExecutor(d Dependencies) *Executor {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Executor{
		tx:           d.Tx,
		wallets:      d.Wallets,
		ledger:       d.Ledger,
		outbox:       d.Outbox,
		balances:     d.Balances,
		balanceTopic: d.BalanceTopic,
		logger:       d.Logger,
		now:          now,
	}
}

type trace struct {
	logger *slog.Logger
	state  State
}

func (e *Executor) begin(variant, requestID string) *trace {
	t := &trace{logger: e.logger.With(
		slog.String("variant", variant),
		slog.String("request_transaction_id", requestID))}
	t.to(StateStarted)
	return t
}

func (t *trace) to(s State) {
	t.state = s
	t.logger.Debug("settlement state", slog.String("state", string(s)))
}

// finish closes the trace. An already settled command is acknowledged.
func (t *trace) finish(err error) error {
	switch {
	case err == nil:
		t.to(StateCommitted)
		return nil
	case errors.Is(err, errAlreadySettled):
		t.logger.Info("command already settled, acknowledging")
		return nil
	default:
		t.logger.Debug("settlement state",
			slog.String("state", string(StateRolledBack)),
			slog.String("failed_in", string(t.state)))
		return err
	}
}

// ExecuteDeposit credits the wallet.
func (e *Executor) ExecuteDeposit(ctx context.Context, cmd command.Deposit) error {
	ev := cmd.Event
	t := e.begin(cmd.Variant(), ev.RequestTransactionID)

	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		w, err := e.wallets.FindByID(ctx, ev.WalletID)
		if err != nil {
			return err
		}
		t.to(StateWalletLoaded)

		if !w.Active() {
			return wallet.ErrWalletInactive
		}
		if err := e.checkSettled(ctx, ev.RequestTransactionID, w.ID, ledger.TypeDeposit); err != nil {
			return err
		}
		t.to(StateValidated)

		if _, err := e.wallets.ClaimVersion(ctx, w.ID, w.Version); err != nil {
			return err
		}
		if err := e.ledger.Append(ctx, e.entry(ev, w.ID, w.ID)); err != nil {
			return err
		}
		t.to(StateLedgerWritten)

		if err := e.emit(ctx, ev.BalanceUpdate()); err != nil {
			return err
		}
		t.to(StateEventEmitted)
		return nil
	})
	if err == nil {
		e.invalidate(ctx, t, ev.WalletID)
	}
	return t.finish(err)
}

// ExecuteWithdraw debits the wallet. Funds are checked against the ledger
// after the version claim, so earlier settlements of the wallet count even
// before they are projected.
func (e *Executor) ExecuteWithdraw(ctx context.Context, cmd command.Withdraw) error {
	ev := cmd.Event
	t := e.begin(cmd.Variant(), ev.RequestTransactionID)

	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		w, err := e.wallets.FindByID(ctx, ev.WalletID)
		if err != nil {
			return err
		}
		t.to(StateWalletLoaded)

		if !w.Active() {
			return wallet.ErrWalletInactive
		}
		if err := e.checkSettled(ctx, ev.RequestTransactionID, w.ID, ledger.TypeWithdraw); err != nil {
			return err
		}
		if _, err := e.wallets.ClaimVersion(ctx, w.ID, w.Version); err != nil {
			return err
		}
		if err := e.ensureFunds(ctx, w.ID, ev.Amount); err != nil {
			return err
		}
		t.to(StateValidated)

		if err := e.ledger.Append(ctx, e.entry(ev, w.ID, w.ID)); err != nil {
			return err
		}
		t.to(StateLedgerWritten)

		if err := e.emit(ctx, ev.BalanceUpdate()); err != nil {
			return err
		}
		t.to(StateEventEmitted)
		return nil
	})
	if err == nil {
		e.invalidate(ctx, t, ev.WalletID)
	}
	return t.finish(err)
}

// ExecuteTransfer debits the source and credits the destination. Both
// entries are written under the source partition and both balance updates
// are enqueued in the same transaction.
func (e *Executor) ExecuteTransfer(ctx context.Context, cmd command.Transfer) error {
	src, dst := cmd.Source, cmd.Destination
	t := e.begin(cmd.Variant(), src.RequestTransactionID)

	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		source, err := e.wallets.FindByID(ctx, src.WalletID)
		if errors.Is(err, wallet.ErrWalletNotFound) {
			return wallet.ErrSourceWalletNotFound
		}
		if err != nil {
			return err
		}
		if err := e.checkSettled(ctx, src.RequestTransactionID, source.ID, ledger.TypeTransferOut); err != nil {
			return err
		}

		source, err = e.wallets.FindByIDAndVersion(ctx, src.WalletID, cmd.SourceVersion)
		if errors.Is(err, wallet.ErrWalletNotFound) {
			return fmt.Errorf("%w: %w: source version %d",
				errStaleAdmission, wallet.ErrConcurrentModification, cmd.SourceVersion)
		}
		if err != nil {
			return err
		}

		destination, err := e.wallets.FindByID(ctx, dst.WalletID)
		if errors.Is(err, wallet.ErrWalletNotFound) {
			return wallet.ErrDestinationWalletNotFound
		}
		if err != nil {
			return err
		}
		t.to(StateWalletLoaded)

		if !source.Active() {
			return wallet.ErrWalletInactive
		}
		if !destination.Active() {
			return wallet.ErrDestinationWalletInactive
		}

		if _, err := e.wallets.ClaimVersion(ctx, source.ID, source.Version); err != nil {
			return err
		}
		if _, err := e.wallets.ClaimVersion(ctx, destination.ID, destination.Version); err != nil {
			return err
		}
		if err := e.ensureFunds(ctx, source.ID, src.Amount); err != nil {
			return err
		}
		t.to(StateValidated)

		if err := e.ledger.Append(ctx,
			e.entry(src, source.ID, source.ID),
			e.entry(dst, source.ID, destination.ID),
		); err != nil {
			return err
		}
		t.to(StateLedgerWritten)

		if err := e.emit(ctx, src.BalanceUpdate()); err != nil {
			return err
		}
		if err := e.emit(ctx, dst.BalanceUpdate()); err != nil {
			return err
		}
		t.to(StateEventEmitted)
		return nil
	})
	if err == nil {
		e.invalidate(ctx, t, src.WalletID, dst.WalletID)
	}
	return t.finish(err)
}

func (e *Executor) checkSettled(ctx context.Context, requestID string, walletID uuid.UUID, typ ledger.TransactionType) error {
	exists, err := e.ledger.ExistsForRequest(ctx, requestID, walletID, typ)
	if err != nil {
		return fmt.Errorf("check settled: %w", err)
	}
	if exists {
		return errAlreadySettled
	}
	return nil
}

// ensureFunds compares the magnitude of amount with the ledger total of
// walletID. Callers hold the wallet's version claim.
func (e *Executor) ensureFunds(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) error {
	sum, err := e.ledger.SumByDestination(ctx, walletID)
	if err != nil {
		return fmt.Errorf("sum ledger: %w", err)
	}
	if sum.LessThan(amount.Abs()) {
		return wallet.ErrInsufficientFunds
	}
	return nil
}

func (e *Executor) entry(ev command.Event, partition, destination uuid.UUID) ledger.Entry {
	return ledger.Entry{
		ID:                   uuid.New(),
		RequestTransactionID: ev.RequestTransactionID,
		WalletID:             partition,
		DestinationWalletID:  destination,
		Type:                 ev.Type,
		Amount:               ev.Amount,
		Status:               ledger.StatusDone,
		Timestamp:            e.now(),
	}
}

func (e *Executor) emit(ctx context.Context, ev command.BalanceUpdate) error {
	payload, err := command.EncodeBalanceUpdate(ev)
	if err != nil {
		return err
	}
	return e.outbox.Enqueue(ctx, outbox.Message{
		Topic:   e.balanceTopic,
		Key:     ev.WalletID.String(),
		Payload: payload,
	})
}

// invalidate runs after commit; a failure leaves a stale entry until its TTL.
func (e *Executor) invalidate(ctx context.Context, t *trace, walletIDs ...uuid.UUID) {
	if err := e.balances.Invalidate(ctx, walletIDs...); err != nil {
		t.logger.Warn("invalidate balance cache", slog.Any("error", err))
	}
}
