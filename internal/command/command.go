// Package command defines the transaction commands carried on the
// transactions topic and the balance-update events that settle them.
package command

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/ledger"
)

// Variant names, used for logging and metrics labels.
const (
	VariantDeposit  = "deposit"
	VariantWithdraw = "withdraw"
	VariantTransfer = "transfer"
)

// Event is the payload shared by every command leg. Amount is signed.
type Event struct {
	RequestTransactionID string                 `json:"requestTransactionId"`
	WalletID             uuid.UUID              `json:"walletId"`
	Amount               decimal.Decimal        `json:"amount"`
	Type                 ledger.TransactionType `json:"type"`
	Timestamp            time.Time              `json:"timestamp"`
}

// BalanceUpdate derives the projection event for this leg.
func (e Event) BalanceUpdate() BalanceUpdate {
	return BalanceUpdate{
		RequestTransactionID: e.RequestTransactionID,
		WalletID:             e.WalletID,
		Amount:               e.Amount,
		TransactionType:      e.Type,
	}
}

// Executor settles each command variant. Dispatch is exhaustive: a new
// variant does not compile until every Executor handles it.
type Executor interface {
	ExecuteDeposit(ctx context.Context, cmd Deposit) error
	ExecuteWithdraw(ctx context.Context, cmd Withdraw) error
	ExecuteTransfer(ctx context.Context, cmd Transfer) error
}

// Command is the closed set {Deposit, Withdraw, Transfer}.
type Command interface {
	RequestID() string
	Variant() string
	// PartitionKey keeps commands for one wallet on one partition.
	PartitionKey() string
	Execute(ctx context.Context, x Executor) error

	payload() any
}

// Deposit credits a wallet.
type Deposit struct {
	Event Event
}

// NewDeposit builds a deposit of amount into walletID.
func NewDeposit(requestID string, walletID uuid.UUID, amount decimal.Decimal, at time.Time) Deposit {
	return Deposit{Event: Event{
		RequestTransactionID: requestID,
		WalletID:             walletID,
		Amount:               amount.Abs(),
		Type:                 ledger.TypeDeposit,
		Timestamp:            at.UTC(),
	}}
}

func (c Deposit) RequestID() string    { return c.Event.RequestTransactionID }
func (c Deposit) Variant() string      { return VariantDeposit }
func (c Deposit) PartitionKey() string { return c.Event.WalletID.String() }

func (c Deposit) Execute(ctx context.Context, x Executor) error {
	return x.ExecuteDeposit(ctx, c)
}

func (c Deposit) payload() any { return c.Event }

// Withdraw debits a wallet. The event amount is negative.
type Withdraw struct {
	Event Event
}

// NewWithdraw builds a withdrawal of the magnitude of amount from walletID.
func NewWithdraw(requestID string, walletID uuid.UUID, amount decimal.Decimal, at time.Time) Withdraw {
	return Withdraw{Event: Event{
		RequestTransactionID: requestID,
		WalletID:             walletID,
		Amount:               amount.Abs().Neg(),
		Type:                 ledger.TypeWithdraw,
		Timestamp:            at.UTC(),
	}}
}

func (c Withdraw) RequestID() string    { return c.Event.RequestTransactionID }
func (c Withdraw) Variant() string      { return VariantWithdraw }
func (c Withdraw) PartitionKey() string { return c.Event.WalletID.String() }

func (c Withdraw) Execute(ctx context.Context, x Executor) error {
	return x.ExecuteWithdraw(ctx, c)
}

func (c Withdraw) payload() any { return c.Event }

// Transfer moves funds between two wallets. SourceVersion is the source
// wallet version observed when the transfer was admitted.
type Transfer struct {
	Source        Event
	Destination   Event
	SourceVersion int64
}

// NewTransfer builds a transfer of the magnitude of amount from source to destination.
func NewTransfer(requestID string, source, destination uuid.UUID, amount decimal.Decimal, sourceVersion int64, at time.Time) Transfer {
	at = at.UTC()
	return Transfer{
		Source: Event{
			RequestTransactionID: requestID,
			WalletID:             source,
			Amount:               amount.Abs().Neg(),
			Type:                 ledger.TypeTransferOut,
			Timestamp:            at,
		},
		Destination: Event{
			RequestTransactionID: requestID,
			WalletID:             destination,
			Amount:               amount.Abs(),
			Type:                 ledger.TypeTransferIn,
			Timestamp:            at,
		},
		SourceVersion: sourceVersion,
	}
}

func (c Transfer) RequestID() string    { return c.Source.RequestTransactionID }
func (c Transfer) Variant() string      { return VariantTransfer }
func (c Transfer) PartitionKey() string { return c.Source.WalletID.String() }

func (c Transfer) Execute(ctx context.Context, x Executor) error {
	return x.ExecuteTransfer(ctx, c)
}

func (c Transfer) payload() any {
	return transferBody{EventSource: c.Source, EventDestination: c.Destination, SourceVersion: c.SourceVersion}
}
