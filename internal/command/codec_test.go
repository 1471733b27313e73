package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletledger/internal/ledger"
)

type recordingExecutor struct {
	called string
}

func (r *recordingExecutor) ExecuteDeposit(context.Context, Deposit) error {
	r.called = VariantDeposit
	return nil
}

func (r *recordingExecutor) ExecuteWithdraw(context.Context, Withdraw) error {
	r.called = VariantWithdraw
	return nil
}

func (r *recordingExecutor) ExecuteTransfer(context.Context, Transfer) error {
	r.called = VariantTransfer
	return nil
}

func TestEncodeDecodeResolvesVariant(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a, b := uuid.New(), uuid.New()
	amount := decimal.RequireFromString("40.00")

	cases := []Command{
		NewDeposit("req-dep-1", a, amount, now),
		NewWithdraw("req-wd-1", a, amount, now),
		NewTransfer("req-tr-1", a, b, amount, 7, now),
	}

	for _, cmd := range cases {
		t.Run(cmd.Variant(), func(t *testing.T) {
			data, err := Encode(cmd)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, cmd.Variant(), decoded.Variant())
			assert.Equal(t, cmd.RequestID(), decoded.RequestID())
			assert.Equal(t, cmd.PartitionKey(), decoded.PartitionKey())

			exec := &recordingExecutor{}
			require.NoError(t, decoded.Execute(context.Background(), exec))
			assert.Equal(t, cmd.Variant(), exec.called)
		})
	}
}

func TestWithdrawAndTransferSigns(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	amount := decimal.RequireFromString("25.50")

	wd := NewWithdraw("req-wd-2", a, amount, time.Now())
	assert.True(t, wd.Event.Amount.Equal(amount.Neg()))

	tr := NewTransfer("req-tr-2", a, b, amount.Neg(), 3, time.Now())
	assert.True(t, tr.Source.Amount.Equal(amount.Neg()))
	assert.True(t, tr.Destination.Amount.Equal(amount))
	assert.Equal(t, ledger.TypeTransferOut, tr.Source.Type)
	assert.Equal(t, ledger.TypeTransferIn, tr.Destination.Type)
	assert.True(t, tr.Source.Amount.Add(tr.Destination.Amount).IsZero())
}

func TestDecodeTransferWithoutTopLevelType(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	payload := `{"event":{"eventSource":{"requestTransactionId":"req-tr-3","walletId":"` + a.String() +
		`","amount":-10.00,"type":"TRANSFER_OUT"},"eventDestination":{"requestTransactionId":"req-tr-3","walletId":"` +
		b.String() + `","amount":10.00,"type":"TRANSFER_IN"},"sourceVersion":2}}`

	cmd, err := Decode([]byte(payload))
	require.NoError(t, err)

	tr, ok := cmd.(Transfer)
	require.True(t, ok)
	assert.Equal(t, int64(2), tr.SourceVersion)
	assert.Equal(t, b, tr.Destination.WalletID)
	assert.True(t, tr.Source.Amount.Equal(decimal.NewFromInt(-10)))
}

func TestDecodeRejectsUnknownAndMalformed(t *testing.T) {
	wallet := uuid.NewString()

	_, err := Decode([]byte(`{"event":{"requestTransactionId":"req-x1","walletId":"` + wallet + `","amount":1,"type":"REFUND"}}`))
	assert.True(t, errors.Is(err, ErrUnknownCommand), "got %v", err)

	_, err = Decode([]byte(`{"event":{"requestTransactionId":"req-x2","walletId":"` + wallet + `","amount":1}}`))
	assert.True(t, errors.Is(err, ErrUnknownCommand), "absent type must not default to transfer, got %v", err)

	_, err = Decode([]byte(`{"event":`))
	assert.True(t, errors.Is(err, ErrSerialization), "got %v", err)

	_, err = Decode([]byte(`{}`))
	assert.True(t, errors.Is(err, ErrSerialization), "got %v", err)

	_, err = Decode([]byte(`{"event":{"walletId":"` + wallet + `","amount":1,"type":"DEPOSIT"}}`))
	assert.True(t, errors.Is(err, ErrSerialization), "got %v", err)
}

func TestBalanceUpdateRoundTrip(t *testing.T) {
	ev := NewDeposit("req-bu-1", uuid.New(), decimal.NewFromInt(50), time.Now()).Event.BalanceUpdate()

	data, err := EncodeBalanceUpdate(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"transactionType":"DEPOSIT"`)

	decoded, err := DecodeBalanceUpdate(data)
	require.NoError(t, err)
	assert.Equal(t, ev.WalletID, decoded.WalletID)
	assert.True(t, ev.Amount.Equal(decoded.Amount))

	_, err = DecodeBalanceUpdate([]byte(`not json`))
	assert.ErrorIs(t, err, ErrSerialization)
}
