package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/walletledger/internal/idempotency"
	"github.com/congo-pay/walletledger/internal/metrics"
	"github.com/congo-pay/walletledger/internal/store"
)

// Service manages the user directory.
type Service struct {
	tx      store.TxManager
	repo    Repository
	guard   idempotency.Guard
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService creates a new identity service.
func NewService(tx store.TxManager, repo Repository, guard idempotency.Guard, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{tx: tx, repo: repo, guard: guard, metrics: m, logger: logger}
}

// Register stores a new user. The document number must be unused.
func (s *Service) Register(ctx context.Context, requestID string, in Registration) (user User, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(metrics.OpRegisterUser, start, err) }()

	in.Document = strings.TrimSpace(in.Document)
	if in.Document == "" || strings.TrimSpace(in.Username) == "" {
		return User{}, ErrInvalidRegistration
	}

	if err := s.guard.CheckAndMark(ctx, requestID); err != nil {
		return User{}, err
	}

	user = User{
		ID:                   uuid.New(),
		RequestTransactionID: requestID,
		Username:             in.Username,
		Name:                 in.Name,
		Email:                in.Email,
		Document:             in.Document,
		CreatedAt:            time.Now().UTC(),
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.FindByDocument(ctx, in.Document); err == nil {
			return ErrDocumentAlreadyExists
		} else if !errors.Is(err, ErrUserNotRegistered) {
			return fmt.Errorf("lookup document: %w", err)
		}
		return s.repo.Create(ctx, user)
	})
	if err != nil {
		s.guard.Release(ctx, requestID)
		return User{}, err
	}

	s.logger.Info("user registered", slog.String("user_id", user.ID.String()), slog.String("request_transaction_id", requestID))
	return user, nil
}

// GetByDocument returns the user holding document.
func (s *Service) GetByDocument(ctx context.Context, document string) (User, error) {
	return s.repo.FindByDocument(ctx, strings.TrimSpace(document))
}

// Exists reports whether userID is registered.
func (s *Service) Exists(ctx context.Context, userID uuid.UUID) (bool, error) {
	return s.repo.Exists(ctx, userID)
}
