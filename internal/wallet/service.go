package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/command"
	"github.com/congo-pay/walletledger/internal/idempotency"
	"github.com/congo-pay/walletledger/internal/identity"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/messaging"
	"github.com/congo-pay/walletledger/internal/metrics"
	"github.com/congo-pay/walletledger/internal/store"
)

// ErrInvalidPeriod is returned for a negative history window.
var ErrInvalidPeriod = errors.New("daysBefore must not be negative")

// UserDirectory answers whether a user is registered.
type UserDirectory interface {
	Exists(ctx context.Context, userID uuid.UUID) (bool, error)
}

// BalanceCache is the read-through cache consulted by GetBalance.
type BalanceCache interface {
	Get(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, bool)
	Set(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal)
}

// Dependencies groups the collaborators of Service.
type Dependencies struct {
	Tx                store.TxManager
	Wallets           Repository
	Ledger            ledger.Store
	Users             UserDirectory
	Guard             idempotency.Guard
	Balances          BalanceCache
	Publisher         messaging.Publisher
	TransactionsTopic string
	Metrics           *metrics.Metrics
	Logger            *slog.Logger
	Now               func() time.Time
}

// Service is the synchronous admission and read path. Movements are only
// validated and published here; settlement happens asynchronously.
type Service struct {
	tx        store.TxManager
	repo      Repository
	ledger    ledger.Store
	users     UserDirectory
	guard     idempotency.Guard
	balances  BalanceCache
	publisher messaging.Publisher
	topic     string
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds a wallet service instance.
func NewService(d Dependencies) *Service {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		tx:        d.Tx,
		repo:      d.Wallets,
		ledger:    d.Ledger,
		users:     d.Users,
		guard:     d.Guard,
		balances:  d.Balances,
		publisher: d.Publisher,
		topic:     d.TransactionsTopic,
		metrics:   d.Metrics,
		logger:    logger,
		now:       now,
	}
}

// CreateWallet provisions an empty ACTIVE wallet for a registered user that
// has none yet.
func (s *Service) CreateWallet(ctx context.Context, requestID string, userID uuid.UUID) (w Wallet, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(metrics.OpCreateWallet, start, err) }()

	if err := s.guard.CheckAndMark(ctx, requestID); err != nil {
		return Wallet{}, err
	}

	now := s.now()
	w = Wallet{
		ID:                   uuid.New(),
		UserID:               userID,
		RequestTransactionID: requestID,
		Balance:              decimal.Zero,
		Status:               StatusActive,
		LastBalanceUpdated:   now,
		CreatedAt:            now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		registered, err := s.users.Exists(ctx, userID)
		if err != nil {
			return fmt.Errorf("lookup user: %w", err)
		}
		if !registered {
			return identity.ErrUserNotRegistered
		}
		exists, err := s.repo.ExistsForUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("lookup wallet: %w", err)
		}
		if exists {
			return ErrWalletAlreadyExists
		}
		return s.repo.Create(ctx, w)
	})
	if err != nil {
		s.reject(ctx, requestID, "create_wallet", err)
		return Wallet{}, err
	}

	s.logger.Info("wallet created",
		slog.String("wallet_id", w.ID.String()),
		slog.String("user_id", userID.String()),
		slog.String("request_transaction_id", requestID))
	return w, nil
}

// GetBalance serves the cached balance when present and falls back to the
// ledger otherwise. A cached value may lag in-flight settlements.
func (s *Service) GetBalance(ctx context.Context, walletID uuid.UUID) (balance decimal.Decimal, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(metrics.OpBalance, start, err) }()

	if cached, ok := s.balances.Get(ctx, walletID); ok {
		return cached, nil
	}
	return s.fetchBalanceFromDatabase(ctx, walletID)
}

func (s *Service) fetchBalanceFromDatabase(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	if _, err := s.repo.FindByID(ctx, walletID); err != nil {
		return decimal.Zero, err
	}
	balance, err := s.ledger.SumByDestination(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}
	s.balances.Set(ctx, walletID, balance)
	return balance, nil
}

// GetHistoricalTransactions lists the ledger entries moving walletID over the
// last daysBefore days. It never reads the cache.
func (s *Service) GetHistoricalTransactions(ctx context.Context, walletID uuid.UUID, daysBefore int) (report []HistoricalTransaction, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(metrics.OpHistoricalBalance, start, err) }()

	if daysBefore < 0 {
		return nil, ErrInvalidPeriod
	}
	if _, err := s.repo.FindByID(ctx, walletID); err != nil {
		return nil, err
	}

	since := s.now().AddDate(0, 0, -daysBefore)
	entries, err := s.ledger.ListSince(ctx, walletID, since)
	if err != nil {
		return nil, err
	}

	report = make([]HistoricalTransaction, 0, len(entries))
	for _, e := range entries {
		report = append(report, ToHistoricalTransaction(e))
	}
	return report, nil
}

// Deposit admits a deposit and returns a PROCESSING acknowledgment.
func (s *Service) Deposit(ctx context.Context, requestID string, walletID uuid.UUID, amount decimal.Decimal) (TransactionDTO, error) {
	return s.admit(ctx, metrics.OpDeposit, requestID, amount, func(ctx context.Context) (TransactionDTO, error) {
		w, err := s.loadActive(ctx, walletID)
		if err != nil {
			return TransactionDTO{}, err
		}
		cmd := command.NewDeposit(requestID, w.ID, amount, s.now())
		if err := s.publish(ctx, cmd); err != nil {
			return TransactionDTO{}, err
		}
		return processing(cmd.Event, nil), nil
	})
}

// Withdraw admits a withdrawal of the magnitude of amount.
func (s *Service) Withdraw(ctx context.Context, requestID string, walletID uuid.UUID, amount decimal.Decimal) (TransactionDTO, error) {
	return s.admit(ctx, metrics.OpWithdraw, requestID, amount, func(ctx context.Context) (TransactionDTO, error) {
		signed := amount.Abs().Neg()
		w, err := s.loadActive(ctx, walletID)
		if err != nil {
			return TransactionDTO{}, err
		}
		if !w.Covers(signed) {
			return TransactionDTO{}, ErrInsufficientFunds
		}
		cmd := command.NewWithdraw(requestID, w.ID, signed, s.now())
		if err := s.publish(ctx, cmd); err != nil {
			return TransactionDTO{}, err
		}
		return processing(cmd.Event, nil), nil
	})
}

// Transfer admits a transfer from sourceID to destinationID. The command
// carries the source version seen here so settlement can detect a race.
func (s *Service) Transfer(ctx context.Context, requestID string, sourceID, destinationID uuid.UUID, amount decimal.Decimal) (TransactionDTO, error) {
	return s.admit(ctx, metrics.OpTransfer, requestID, amount, func(ctx context.Context) (TransactionDTO, error) {
		if sourceID == destinationID {
			return TransactionDTO{}, ErrSameWallet
		}

		source, err := s.repo.FindByID(ctx, sourceID)
		if errors.Is(err, ErrWalletNotFound) {
			return TransactionDTO{}, ErrSourceWalletNotFound
		}
		if err != nil {
			return TransactionDTO{}, err
		}
		if !source.Active() {
			return TransactionDTO{}, ErrWalletInactive
		}

		destination, err := s.repo.FindByID(ctx, destinationID)
		if errors.Is(err, ErrWalletNotFound) {
			return TransactionDTO{}, ErrDestinationWalletNotFound
		}
		if err != nil {
			return TransactionDTO{}, err
		}
		if !destination.Active() {
			return TransactionDTO{}, ErrDestinationWalletInactive
		}

		if !source.Covers(amount) {
			return TransactionDTO{}, ErrInsufficientFunds
		}

		cmd := command.NewTransfer(requestID, source.ID, destination.ID, amount, source.Version, s.now())
		if err := s.publish(ctx, cmd); err != nil {
			return TransactionDTO{}, err
		}
		return processing(cmd.Source, &destination.ID), nil
	})
}

// admit wraps an admission with validation, the idempotency guard and
// metrics. A rejected admission releases its marker since nothing was published.
func (s *Service) admit(ctx context.Context, op, requestID string, amount decimal.Decimal, fn func(ctx context.Context) (TransactionDTO, error)) (dto TransactionDTO, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(op, start, err) }()

	if !validAmount(amount) {
		return TransactionDTO{}, ErrInvalidAmount
	}
	if err := s.guard.CheckAndMark(ctx, requestID); err != nil {
		return TransactionDTO{}, err
	}

	dto, err = fn(ctx)
	if err != nil {
		s.reject(ctx, requestID, op, err)
		return TransactionDTO{}, err
	}

	s.logger.Info("command admitted",
		slog.String("operation", op),
		slog.String("wallet_id", dto.WalletID.String()),
		slog.String("request_transaction_id", requestID))
	return dto, nil
}

// moneyScale is the number of fractional digits the ledger stores.
const moneyScale = 2

func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Truncate(moneyScale))
}

func (s *Service) loadActive(ctx context.Context, walletID uuid.UUID) (Wallet, error) {
	w, err := s.repo.FindByID(ctx, walletID)
	if err != nil {
		return Wallet{}, err
	}
	if !w.Active() {
		return Wallet{}, ErrWalletInactive
	}
	return w, nil
}

func (s *Service) publish(ctx context.Context, cmd command.Command) error {
	payload, err := command.Encode(cmd)
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, s.topic, cmd.PartitionKey(), payload); err != nil {
		return fmt.Errorf("publish %s command: %w", cmd.Variant(), err)
	}
	return nil
}

func (s *Service) reject(ctx context.Context, requestID, op string, err error) {
	s.guard.Release(ctx, requestID)
	s.logger.Info("admission rejected",
		slog.String("operation", op),
		slog.String("request_transaction_id", requestID),
		slog.Any("error", err))
}
