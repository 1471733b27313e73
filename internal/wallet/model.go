package wallet

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrWalletNotFound            = errors.New("wallet not found")
	ErrSourceWalletNotFound      = errors.New("source wallet not found")
	ErrDestinationWalletNotFound = errors.New("destination wallet not found")
	ErrWalletInactive            = errors.New("wallet is not active")
	ErrDestinationWalletInactive = errors.New("destination wallet is not active")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrWalletAlreadyExists       = errors.New("wallet already exists for user")
	ErrInvalidAmount             = errors.New("amount must be positive with at most two decimal places")
	ErrSameWallet                = errors.New("source and destination wallets must differ")

	// ErrConcurrentModification is returned when a version-matched write finds
	// the wallet changed since it was read.
	ErrConcurrentModification = errors.New("wallet was modified concurrently")
)

// Status is the lifecycle state of a wallet.
type Status string

// StatusActive is the only state that accepts balance movements.
const StatusActive Status = "ACTIVE"

// Wallet is the versioned account aggregate. Balance is the materialized
// projection of the ledger; Version increments on every persisted mutation.
type Wallet struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	RequestTransactionID string
	Balance              decimal.Decimal
	Status               Status
	Version              int64
	LastBalanceUpdated   time.Time
	CreatedAt            time.Time
}

// Active reports whether the wallet accepts movements.
func (w Wallet) Active() bool {
	return w.Status == StatusActive
}

// Covers reports whether the materialized balance is enough for amount. The
// sign of amount is ignored and an equal balance is sufficient.
func (w Wallet) Covers(amount decimal.Decimal) bool {
	return !w.Balance.LessThan(amount.Abs())
}
