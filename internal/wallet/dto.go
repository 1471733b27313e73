package wallet

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/command"
	"github.com/congo-pay/walletledger/internal/ledger"
)

// TransactionDTO acknowledges an admitted movement. TransactionID stays nil
// until the movement settles.
type TransactionDTO struct {
	RequestTransactionID string                 `json:"requestTransactionId"`
	TransactionID        *uuid.UUID             `json:"transactionId"`
	WalletID             uuid.UUID              `json:"walletId"`
	CounterpartyWalletID *uuid.UUID             `json:"counterpartyWalletId"`
	Type                 ledger.TransactionType `json:"type"`
	Status               ledger.Status          `json:"status"`
	Amount               decimal.Decimal        `json:"amount"`
	Timestamp            time.Time              `json:"timestamp"`
}

// HistoricalTransaction is one line of a wallet history report.
type HistoricalTransaction struct {
	TransactionID        uuid.UUID              `json:"transactionId"`
	RequestTransactionID string                 `json:"requestTransactionId"`
	WalletID             uuid.UUID              `json:"walletId"`
	DestinationWalletID  uuid.UUID              `json:"destinationWalletId"`
	Type                 ledger.TransactionType `json:"type"`
	Status               ledger.Status          `json:"status"`
	Amount               decimal.Decimal        `json:"amount"`
	Timestamp            time.Time              `json:"timestamp"`
}

// WalletDTO is the wire form of a wallet.
type WalletDTO struct {
	ID                   uuid.UUID       `json:"id"`
	UserID               uuid.UUID       `json:"userId"`
	RequestTransactionID string          `json:"requestTransactionId"`
	Balance              decimal.Decimal `json:"balance"`
	Status               Status          `json:"status"`
	LastBalanceUpdated   time.Time       `json:"lastBalanceUpdated"`
	CreatedAt            time.Time       `json:"createdAt"`
}

// BalanceDTO is the wire form of a balance read.
type BalanceDTO struct {
	WalletID  uuid.UUID       `json:"walletId"`
	Balance   decimal.Decimal `json:"balance"`
	Timestamp time.Time       `json:"timestamp"`
}

// ToWalletDTO converts a wallet for the wire.
func ToWalletDTO(w Wallet) WalletDTO {
	return WalletDTO{
		ID:                   w.ID,
		UserID:               w.UserID,
		RequestTransactionID: w.RequestTransactionID,
		Balance:              w.Balance,
		Status:               w.Status,
		LastBalanceUpdated:   w.LastBalanceUpdated,
		CreatedAt:            w.CreatedAt,
	}
}

// ToHistoricalTransaction converts a ledger entry into a report line.
func ToHistoricalTransaction(e ledger.Entry) HistoricalTransaction {
	return HistoricalTransaction{
		TransactionID:        e.ID,
		RequestTransactionID: e.RequestTransactionID,
		WalletID:             e.WalletID,
		DestinationWalletID:  e.DestinationWalletID,
		Type:                 e.Type,
		Status:               e.Status,
		Amount:               e.Amount,
		Timestamp:            e.Timestamp,
	}
}

func processing(e command.Event, counterparty *uuid.UUID) TransactionDTO {
	return TransactionDTO{
		RequestTransactionID: e.RequestTransactionID,
		WalletID:             e.WalletID,
		CounterpartyWalletID: counterparty,
		Type:                 e.Type,
		Status:               ledger.StatusProcessing,
		Amount:               e.Amount,
		Timestamp:            e.Timestamp,
	}
}
