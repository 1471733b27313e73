package command

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/ledger"
)

// BalanceUpdate is the delta a settled command applies to one wallet's
// materialized balance.
type BalanceUpdate struct {
	RequestTransactionID string                 `json:"requestTransactionId"`
	WalletID             uuid.UUID              `json:"walletId"`
	Amount               decimal.Decimal        `json:"amount"`
	TransactionType      ledger.TransactionType `json:"transactionType"`
}

// EncodeBalanceUpdate renders ev as JSON.
func EncodeBalanceUpdate(ev BalanceUpdate) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}

// DecodeBalanceUpdate parses and validates a balance-update payload.
func DecodeBalanceUpdate(data []byte) (BalanceUpdate, error) {
	var ev BalanceUpdate
	if err := json.Unmarshal(data, &ev); err != nil {
		return BalanceUpdate{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if ev.RequestTransactionID == "" || ev.WalletID == uuid.Nil {
		return BalanceUpdate{}, fmt.Errorf("%w: incomplete balance update", ErrSerialization)
	}
	if !ev.TransactionType.Valid() {
		return BalanceUpdate{}, fmt.Errorf("%w: %q", ErrUnknownCommand, ev.TransactionType)
	}
	return ev, nil
}
