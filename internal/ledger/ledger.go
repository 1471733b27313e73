package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrDuplicateEntry indicates an entry with the same request id, wallet and
// type was already recorded.
var ErrDuplicateEntry = errors.New("duplicate ledger entry")

// TransactionType classifies a balance movement.
type TransactionType string

const (
	TypeDeposit     TransactionType = "DEPOSIT"
	TypeWithdraw    TransactionType = "WITHDRAW"
	TypeTransferOut TransactionType = "TRANSFER_OUT"
	TypeTransferIn  TransactionType = "TRANSFER_IN"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdraw, TypeTransferOut, TypeTransferIn:
		return true
	}
	return false
}

// Status is the processing state of an entry or an admission acknowledgment.
// Settlement only writes DONE entries and admission answers PROCESSING.
// ERROR and BLOCKED are reserved values of the stored status column; rejected
// commands leave no entry and are reported through notifications instead.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusDone       Status = "DONE"
	StatusError      Status = "ERROR"
	StatusBlocked    Status = "BLOCKED"
)

// Entry is one immutable balance movement.
//
// WalletID is the ledger partition the entry was written under. For transfers
// both legs live in the source wallet's partition. DestinationWalletID is the
// wallet whose balance the entry moves, so balances and history are computed
// from it.
type Entry struct {
	ID                   uuid.UUID
	RequestTransactionID string
	WalletID             uuid.UUID
	DestinationWalletID  uuid.UUID
	Type                 TransactionType
	Amount               decimal.Decimal
	Status               Status
	Timestamp            time.Time
}

// Store is the append-only transaction record.
type Store interface {
	// Append records entries. A repeated (request id, wallet, type) triple
	// fails with ErrDuplicateEntry.
	Append(ctx context.Context, entries ...Entry) error
	// SumByDestination returns the signed total of entries moving walletID,
	// zero when none exist.
	SumByDestination(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error)
	// ListSince returns entries moving walletID with a timestamp at or after
	// since, oldest first.
	ListSince(ctx context.Context, walletID uuid.UUID, since time.Time) ([]Entry, error)
	// ExistsForRequest reports whether an entry for the triple was recorded.
	ExistsForRequest(ctx context.Context, requestID string, walletID uuid.UUID, typ TransactionType) (bool, error)
}
