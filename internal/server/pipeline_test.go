package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletledger/internal/config"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/messaging"
	"github.com/congo-pay/walletledger/internal/wallet"
)

const (
	transactionsTopic = "wallet-transactions"
	balanceTopic      = "wallet-balance-updates"
)

type pipeline struct {
	srv     *Server
	bus     *messaging.Bus
	backend Backends
	seq     int
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	bus := messaging.NewBus()
	backend := MemoryBackends()
	srv, err := New(Options{
		Config: config.Config{
			AppName:             "wallet-ledger-test",
			TransactionsTopic:   transactionsTopic,
			BalanceUpdatesTopic: balanceTopic,
			OutboxBatchSize:     100,
		},
		Backends:  backend,
		Redis:     client,
		Publisher: bus,
		Registry:  prometheus.NewRegistry(),
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	return &pipeline{srv: srv, bus: bus, backend: backend}
}

func (p *pipeline) requestID() string {
	p.seq++
	return fmt.Sprintf("req-%06d", p.seq)
}

func (p *pipeline) do(t *testing.T, method, path, requestID, body string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("requestTransactionId", requestID)
	}
	resp, err := p.srv.App().Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

// openWallet registers a user, creates a wallet and funds it through a
// settled deposit.
func (p *pipeline) openWallet(t *testing.T, funding string) uuid.UUID {
	t.Helper()
	doc := uuid.NewString()[:11]
	status, body := p.do(t, http.MethodPost, "/user", p.requestID(),
		fmt.Sprintf(`{"username":"u-%s","name":"Test","email":"t@example.com","cpf":"%s"}`, doc, doc))
	require.Equal(t, http.StatusCreated, status, string(body))
	var user struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &user))

	status, body = p.do(t, http.MethodPost, "/wallet", p.requestID(), fmt.Sprintf(`{"userId":"%s"}`, user.ID))
	require.Equal(t, http.StatusCreated, status, string(body))
	var w wallet.WalletDTO
	require.NoError(t, json.Unmarshal(body, &w))

	if funding != "" {
		p.deposit(t, w.ID, funding)
		p.settle(t)
	}
	return w.ID
}

func (p *pipeline) deposit(t *testing.T, walletID uuid.UUID, amount string) {
	t.Helper()
	status, body := p.do(t, http.MethodPost, fmt.Sprintf("/wallet/%s/deposit", walletID), p.requestID(),
		fmt.Sprintf(`{"amount":%s}`, amount))
	require.Equal(t, http.StatusAccepted, status, string(body))
}

func (p *pipeline) transfer(t *testing.T, requestID string, from, to uuid.UUID, amount string) (int, []byte) {
	t.Helper()
	return p.do(t, http.MethodPost, fmt.Sprintf("/wallet/%s/transfer/%s", from, to), requestID,
		fmt.Sprintf(`{"amount":%s}`, amount))
}

// settle runs every queued command, relays the outbox and projects the
// resulting balance updates.
func (p *pipeline) settle(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := p.bus.Drain(ctx, transactionsTopic, p.srv.Dispatcher().Handle)
	require.NoError(t, err)
	p.project(t)
}

func (p *pipeline) project(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := p.srv.Relay().RelayOnce(ctx)
	require.NoError(t, err)
	_, err = p.bus.Drain(ctx, balanceTopic, p.srv.Projector().Handle)
	require.NoError(t, err)
}

func (p *pipeline) balance(t *testing.T, walletID uuid.UUID) decimal.Decimal {
	t.Helper()
	status, body := p.do(t, http.MethodGet, fmt.Sprintf("/wallet/%s/balance", walletID), p.requestID(), "")
	require.Equal(t, http.StatusOK, status, string(body))
	var dto wallet.BalanceDTO
	require.NoError(t, json.Unmarshal(body, &dto))
	return dto.Balance
}

func (p *pipeline) materialized(t *testing.T, walletID uuid.UUID) decimal.Decimal {
	t.Helper()
	w, err := p.backend.Wallets.FindByID(context.Background(), walletID)
	require.NoError(t, err)
	return w.Balance
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDepositSettlesAndProjects(t *testing.T) {
	p := newPipeline(t)
	a := p.openWallet(t, "100.00")

	p.deposit(t, a, "50.00")
	p.settle(t)

	assert.True(t, p.balance(t, a).Equal(dec("150")))
	assert.True(t, p.materialized(t, a).Equal(dec("150")))

	entries, err := p.backend.Ledger.ListSince(context.Background(), a, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.TypeDeposit, entries[1].Type)
	assert.True(t, entries[1].Amount.Equal(dec("50")))
}

func TestTransferMovesFundsBetweenWallets(t *testing.T) {
	p := newPipeline(t)
	a := p.openWallet(t, "100.00")
	b := p.openWallet(t, "20.00")

	status, body := p.transfer(t, p.requestID(), a, b, "40.00")
	require.Equal(t, http.StatusAccepted, status, string(body))

	var ack wallet.TransactionDTO
	require.NoError(t, json.Unmarshal(body, &ack))
	assert.Equal(t, ledger.StatusProcessing, ack.Status)
	assert.Nil(t, ack.TransactionID)
	require.NotNil(t, ack.CounterpartyWalletID)
	assert.Equal(t, b, *ack.CounterpartyWalletID)

	p.settle(t)

	assert.True(t, p.balance(t, a).Equal(dec("60")))
	assert.True(t, p.balance(t, b).Equal(dec("60")))
	assert.True(t, p.materialized(t, a).Equal(dec("60")))
	assert.True(t, p.materialized(t, b).Equal(dec("60")))

	out, err := p.backend.Ledger.ListSince(context.Background(), a, time.Time{})
	require.NoError(t, err)
	in, err := p.backend.Ledger.ListSince(context.Background(), b, time.Time{})
	require.NoError(t, err)
	debit, credit := out[len(out)-1], in[len(in)-1]
	assert.Equal(t, ack.RequestTransactionID, debit.RequestTransactionID)
	assert.Equal(t, ack.RequestTransactionID, credit.RequestTransactionID)
	assert.Equal(t, a, credit.WalletID)
	assert.True(t, debit.Amount.Add(credit.Amount).IsZero())
}

func TestWithdrawBoundaries(t *testing.T) {
	p := newPipeline(t)
	a := p.openWallet(t, "50.00")

	status, _ := p.do(t, http.MethodPost, fmt.Sprintf("/wallet/%s/withdraw", a), p.requestID(), `{"amount":999999}`)
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Empty(t, p.pendingCommands(t))

	status, _ = p.do(t, http.MethodPost, fmt.Sprintf("/wallet/%s/withdraw", a), p.requestID(), `{"amount":50.01}`)
	assert.Equal(t, http.StatusPaymentRequired, status)

	status, body := p.do(t, http.MethodPost, fmt.Sprintf("/wallet/%s/withdraw", a), p.requestID(), `{"amount":50.00}`)
	require.Equal(t, http.StatusAccepted, status, string(body))
	p.settle(t)

	assert.True(t, p.balance(t, a).IsZero())
	assert.True(t, p.materialized(t, a).IsZero())
}

func TestConcurrentWithdrawalsCannotOverdraw(t *testing.T) {
	p := newPipeline(t)
	a := p.openWallet(t, "100")
	path := fmt.Sprintf("/wallet/%s/withdraw", a)

	status, _ := p.do(t, http.MethodPost, path, p.requestID(), `{"amount":100}`)
	require.Equal(t, http.StatusAccepted, status)
	status, _ = p.do(t, http.MethodPost, path, p.requestID(), `{"amount":100}`)
	require.Equal(t, http.StatusAccepted, status)

	_, err := p.bus.Drain(context.Background(), transactionsTopic, p.srv.Dispatcher().Handle)
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	p.project(t)

	assert.True(t, p.balance(t, a).IsZero())
	assert.True(t, p.materialized(t, a).IsZero())
}

func TestSubCentAmountIsRejected(t *testing.T) {
	p := newPipeline(t)
	a := p.openWallet(t, "10")

	status, body := p.do(t, http.MethodPost, fmt.Sprintf("/wallet/%s/deposit", a), p.requestID(), `{"amount":0.005}`)
	assert.Equal(t, http.StatusBadRequest, status, string(body))
	assert.Empty(t, p.pendingCommands(t))
}

func (p *pipeline) pendingCommands(t *testing.T) []messaging.Message {
	t.Helper()
	var pending []messaging.Message
	_, err := p.bus.Drain(context.Background(), transactionsTopic, func(_ context.Context, msg messaging.Message) error {
		pending = append(pending, msg)
		return nil
	})
	require.NoError(t, err)
	return pending
}

func TestDuplicateRequestIsRejected(t *testing.T) {
	p := newPipeline(t)
	a := p.openWallet(t, "10")

	reqID := p.requestID()
	path := fmt.Sprintf("/wallet/%s/deposit", a)
	status, _ := p.do(t, http.MethodPost, path, reqID, `{"amount":5}`)
	require.Equal(t, http.StatusAccepted, status)
	status, _ = p.do(t, http.MethodPost, path, reqID, `{"amount":5}`)
	assert.Equal(t, http.StatusConflict, status)

	p.settle(t)
	assert.True(t, p.balance(t, a).Equal(dec("15")))
}

func TestConcurrentTransfersFromSameVersion(t *testing.T) {
	p := newPipeline(t)
	a := p.openWallet(t, "100")
	b := p.openWallet(t, "0")
	c := p.openWallet(t, "0")

	status, _ := p.transfer(t, p.requestID(), a, b, "30")
	require.Equal(t, http.StatusAccepted, status)
	status, _ = p.transfer(t, p.requestID(), a, c, "30")
	require.Equal(t, http.StatusAccepted, status)

	_, err := p.bus.Drain(context.Background(), transactionsTopic, p.srv.Dispatcher().Handle)
	require.ErrorIs(t, err, wallet.ErrConcurrentModification)
	p.project(t)

	assert.True(t, p.materialized(t, a).Equal(dec("70")))
	assert.True(t, p.materialized(t, b).Equal(dec("30")))
	assert.True(t, p.materialized(t, c).IsZero())
}

func TestRedeliveredMessagesDoNotDoubleCount(t *testing.T) {
	p := newPipeline(t)
	a := p.openWallet(t, "100")
	b := p.openWallet(t, "20")

	status, _ := p.transfer(t, p.requestID(), a, b, "40")
	require.Equal(t, http.StatusAccepted, status)
	p.settle(t)

	ctx := context.Background()
	for _, msg := range p.bus.Messages(transactionsTopic) {
		require.NoError(t, p.srv.Dispatcher().Handle(ctx, msg))
	}
	for _, msg := range p.bus.Messages(balanceTopic) {
		require.NoError(t, p.srv.Projector().Handle(ctx, msg))
	}
	p.project(t)

	assert.True(t, p.materialized(t, a).Equal(dec("60")))
	assert.True(t, p.materialized(t, b).Equal(dec("60")))
	assert.True(t, p.balance(t, a).Equal(dec("60")))
	assert.True(t, p.balance(t, b).Equal(dec("60")))
}

func TestCachedBalanceInvalidatedAtSettlement(t *testing.T) {
	p := newPipeline(t)
	a := p.openWallet(t, "100")

	require.True(t, p.balance(t, a).Equal(dec("100")))

	p.deposit(t, a, "25")
	assert.True(t, p.balance(t, a).Equal(dec("100")), "admission does not touch the cache")

	_, err := p.bus.Drain(context.Background(), transactionsTopic, p.srv.Dispatcher().Handle)
	require.NoError(t, err)
	assert.True(t, p.balance(t, a).Equal(dec("125")))
}

func TestHistoryListsSettledEntries(t *testing.T) {
	p := newPipeline(t)
	a := p.openWallet(t, "100")
	p.deposit(t, a, "1")
	p.settle(t)

	status, body := p.do(t, http.MethodGet, fmt.Sprintf("/wallet/%s/balance/history?daysBefore=1", a), p.requestID(), "")
	require.Equal(t, http.StatusOK, status, string(body))
	var report []wallet.HistoricalTransaction
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Len(t, report, 2)

	status, _ = p.do(t, http.MethodGet, fmt.Sprintf("/wallet/%s/balance/history", uuid.New()), p.requestID(), "")
	assert.Equal(t, http.StatusNotFound, status)
}
