package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/cache"
	"github.com/congo-pay/walletledger/internal/command"
	"github.com/congo-pay/walletledger/internal/idempotency"
	"github.com/congo-pay/walletledger/internal/identity"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/messaging"
	"github.com/congo-pay/walletledger/internal/store"
)

const topic = "wallet-transactions"

type fixture struct {
	svc      *Service
	repo     Repository
	ledger   ledger.Store
	users    *identity.Service
	bus      *messaging.Bus
	mr       *miniredis.Miniredis
	balances *cache.Balances
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	tx := store.NewMemoryTxManager()
	guard := idempotency.NewRedisGuard(client, 0, logging.Discard())
	users := identity.NewService(tx, identity.NewMemoryRepository(), guard, nil, logging.Discard())
	balances := cache.NewBalances(client, 0, logging.Discard(), nil)

	f := &fixture{
		repo:     NewMemoryRepository(),
		ledger:   ledger.NewInMemory(),
		users:    users,
		bus:      messaging.NewBus(),
		mr:       mr,
		balances: balances,
	}
	f.svc = NewService(Dependencies{
		Tx:                tx,
		Wallets:           f.repo,
		Ledger:            f.ledger,
		Users:             users,
		Guard:             guard,
		Balances:          balances,
		Publisher:         f.bus,
		TransactionsTopic: topic,
		Logger:            logging.Discard(),
	})
	return f
}

func (f *fixture) seedWallet(t *testing.T, balance string) Wallet {
	t.Helper()
	w := Wallet{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		RequestTransactionID: "seed-" + uuid.NewString(),
		Balance:              decimal.RequireFromString(balance),
		Status:               StatusActive,
		CreatedAt:            time.Now().UTC(),
	}
	if err := f.repo.Create(context.Background(), w); err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
	return w
}

func TestCreateWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.users.Register(ctx, "req-user-01", identity.Registration{Username: "ana", Document: "12345678901"})
	if err != nil {
		t.Fatalf("register user: %v", err)
	}

	w, err := f.svc.CreateWallet(ctx, "req-wallet-01", user.ID)
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if !w.Balance.IsZero() || w.Status != StatusActive || w.Version != 0 {
		t.Fatalf("unexpected wallet %+v", w)
	}
	if _, err := f.repo.FindByID(ctx, w.ID); err != nil {
		t.Fatalf("wallet not stored: %v", err)
	}

	if _, err := f.svc.CreateWallet(ctx, "req-wallet-01", user.ID); !errors.Is(err, idempotency.ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate transaction, got %v", err)
	}
	if _, err := f.svc.CreateWallet(ctx, "req-wallet-02", user.ID); !errors.Is(err, ErrWalletAlreadyExists) {
		t.Fatalf("expected wallet already exists, got %v", err)
	}
	if _, err := f.svc.CreateWallet(ctx, "req-wallet-03", uuid.New()); !errors.Is(err, identity.ErrUserNotRegistered) {
		t.Fatalf("expected user not registered, got %v", err)
	}
}

func TestDepositPublishesProcessingCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.seedWallet(t, "100.00")

	dto, err := f.svc.Deposit(ctx, "req-dep-01", w.ID, decimal.RequireFromString("50.00"))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if dto.Status != ledger.StatusProcessing || dto.TransactionID != nil {
		t.Fatalf("expected unsettled acknowledgment, got %+v", dto)
	}

	msgs := f.bus.Messages(topic)
	if len(msgs) != 1 {
		t.Fatalf("expected one published command, got %d", len(msgs))
	}
	if msgs[0].Key != w.ID.String() {
		t.Fatalf("expected key %s, got %s", w.ID, msgs[0].Key)
	}
	cmd, err := command.Decode(msgs[0].Value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	dep, ok := cmd.(command.Deposit)
	if !ok || !dep.Event.Amount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unexpected command %#v", cmd)
	}

	// Admission never touches the materialized balance.
	stored, _ := f.repo.FindByID(ctx, w.ID)
	if !stored.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance changed at admission: %s", stored.Balance)
	}

	if _, err := f.svc.Deposit(ctx, "req-dep-01", w.ID, decimal.NewFromInt(1)); !errors.Is(err, idempotency.ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if len(f.bus.Messages(topic)) != 1 {
		t.Fatal("duplicate admission must not publish")
	}
}

func TestDepositRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.seedWallet(t, "10")

	if _, err := f.svc.Deposit(ctx, "req-dep-02", uuid.New(), decimal.NewFromInt(5)); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected wallet not found, got %v", err)
	}
	if _, err := f.svc.Deposit(ctx, "req-dep-03", w.ID, decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := f.svc.Deposit(ctx, "req-dep-04", w.ID, decimal.RequireFromString("0.005")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected sub-cent amount to be rejected, got %v", err)
	}
	if _, err := f.svc.Withdraw(ctx, "req-dep-05", w.ID, decimal.RequireFromString("1.239")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected sub-cent withdrawal to be rejected, got %v", err)
	}
	if _, err := f.svc.Deposit(ctx, "req-dep-06", w.ID, decimal.RequireFromString("1.500")); err != nil {
		t.Fatalf("trailing zeros are exact: %v", err)
	}
	if n := len(f.bus.Messages(topic)); n != 1 {
		t.Fatalf("expected only the exact deposit to publish, got %d", n)
	}

	// A rejected admission leaves the request id reusable.
	if _, err := f.svc.Deposit(ctx, "req-dep-02", w.ID, decimal.NewFromInt(5)); err != nil {
		t.Fatalf("retry with released request id: %v", err)
	}
}

func TestWithdrawBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.seedWallet(t, "50.00")

	if _, err := f.svc.Withdraw(ctx, "req-wd-01", w.ID, decimal.RequireFromString("50.01")); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if _, err := f.svc.Withdraw(ctx, "req-wd-02", w.ID, decimal.NewFromInt(999999)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if n := len(f.bus.Messages(topic)); n != 0 {
		t.Fatalf("rejected withdrawals must not publish, got %d", n)
	}

	dto, err := f.svc.Withdraw(ctx, "req-wd-03", w.ID, decimal.RequireFromString("50.00"))
	if err != nil {
		t.Fatalf("withdraw full balance: %v", err)
	}
	if !dto.Amount.Equal(decimal.NewFromInt(-50)) || dto.Type != ledger.TypeWithdraw {
		t.Fatalf("unexpected acknowledgment %+v", dto)
	}
}

func TestTransferAdmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seedWallet(t, "100.00")
	b := f.seedWallet(t, "20.00")

	if _, err := f.svc.Transfer(ctx, "req-tr-01", uuid.New(), b.ID, decimal.NewFromInt(1)); !errors.Is(err, ErrSourceWalletNotFound) {
		t.Fatalf("expected source not found, got %v", err)
	}
	if _, err := f.svc.Transfer(ctx, "req-tr-02", a.ID, uuid.New(), decimal.NewFromInt(1)); !errors.Is(err, ErrDestinationWalletNotFound) {
		t.Fatalf("expected destination not found, got %v", err)
	}
	if _, err := f.svc.Transfer(ctx, "req-tr-03", a.ID, a.ID, decimal.NewFromInt(1)); !errors.Is(err, ErrSameWallet) {
		t.Fatalf("expected same wallet, got %v", err)
	}
	if _, err := f.svc.Transfer(ctx, "req-tr-04", a.ID, b.ID, decimal.RequireFromString("100.01")); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	dto, err := f.svc.Transfer(ctx, "req-tr-05", a.ID, b.ID, decimal.RequireFromString("40.00"))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if dto.CounterpartyWalletID == nil || *dto.CounterpartyWalletID != b.ID {
		t.Fatalf("expected counterparty %s, got %+v", b.ID, dto.CounterpartyWalletID)
	}

	msgs := f.bus.Messages(topic)
	if len(msgs) != 1 {
		t.Fatalf("expected one published command, got %d", len(msgs))
	}
	cmd, err := command.Decode(msgs[0].Value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tr := cmd.(command.Transfer)
	if tr.SourceVersion != a.Version {
		t.Fatalf("expected source version %d, got %d", a.Version, tr.SourceVersion)
	}
}

func TestPublishFailureReleasesRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.seedWallet(t, "1")

	f.bus.FailWith(errors.New("broker down"))
	if _, err := f.svc.Deposit(ctx, "req-dep-10", w.ID, decimal.NewFromInt(1)); err == nil {
		t.Fatal("expected publish error")
	}

	f.bus.FailWith(nil)
	if _, err := f.svc.Deposit(ctx, "req-dep-10", w.ID, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("retry after broker recovery: %v", err)
	}
}

func TestGetBalanceReadThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.seedWallet(t, "0")

	if _, err := f.svc.GetBalance(ctx, uuid.New()); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected wallet not found, got %v", err)
	}

	empty, err := f.svc.GetBalance(ctx, w.ID)
	if err != nil || !empty.IsZero() {
		t.Fatalf("expected zero balance without entries, got %s %v", empty, err)
	}

	if err := f.ledger.Append(ctx, ledger.Entry{
		ID: uuid.New(), RequestTransactionID: "req-seed", WalletID: w.ID, DestinationWalletID: w.ID,
		Type: ledger.TypeDeposit, Amount: decimal.RequireFromString("75.50"), Status: ledger.StatusDone, Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// The zero computed above is still cached.
	stale, _ := f.svc.GetBalance(ctx, w.ID)
	if !stale.IsZero() {
		t.Fatalf("expected cached zero, got %s", stale)
	}

	if err := f.balances.Invalidate(ctx, w.ID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	fresh, err := f.svc.GetBalance(ctx, w.ID)
	if err != nil || !fresh.Equal(decimal.RequireFromString("75.5")) {
		t.Fatalf("expected 75.5 from ledger, got %s %v", fresh, err)
	}
	if raw, err := f.mr.Get(cache.BalanceKey(w.ID)); err != nil || raw != "75.5" {
		t.Fatalf("expected write-back of 75.5, got %q %v", raw, err)
	}
}

func TestGetBalanceSurvivesCacheOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.seedWallet(t, "0")

	f.mr.SetError("ERR unavailable")
	balance, err := f.svc.GetBalance(ctx, w.ID)
	if err != nil {
		t.Fatalf("balance read must not fail on cache errors: %v", err)
	}
	if !balance.IsZero() {
		t.Fatalf("expected zero, got %s", balance)
	}
}

func TestGetHistoricalTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.seedWallet(t, "0")
	now := time.Now().UTC()

	for i, age := range []int{10, 2, 0} {
		err := f.ledger.Append(ctx, ledger.Entry{
			ID: uuid.New(), RequestTransactionID: "req-h-" + string(rune('a'+i)), WalletID: w.ID, DestinationWalletID: w.ID,
			Type: ledger.TypeDeposit, Amount: decimal.NewFromInt(1), Status: ledger.StatusDone, Timestamp: now.AddDate(0, 0, -age),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	report, err := f.svc.GetHistoricalTransactions(ctx, w.ID, 5)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(report) != 2 {
		t.Fatalf("expected 2 entries in window, got %d", len(report))
	}

	if _, err := f.svc.GetHistoricalTransactions(ctx, uuid.New(), 5); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected wallet not found, got %v", err)
	}
	if _, err := f.svc.GetHistoricalTransactions(ctx, w.ID, -1); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected invalid period, got %v", err)
	}
}
