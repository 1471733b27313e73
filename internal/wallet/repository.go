package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/store"
)

// Repository persists wallets with optimistic versioning.
type Repository interface {
	Create(ctx context.Context, wallet Wallet) error
	FindByID(ctx context.Context, id uuid.UUID) (Wallet, error)
	// FindByIDAndVersion returns ErrWalletNotFound when the wallet is absent
	// or its version differs.
	FindByIDAndVersion(ctx context.Context, id uuid.UUID, version int64) (Wallet, error)
	ExistsForUser(ctx context.Context, userID uuid.UUID) (bool, error)
	// Save writes balance and status when the stored version still equals
	// wallet.Version and returns the wallet with its new version.
	Save(ctx context.Context, wallet Wallet) (Wallet, error)
	// ClaimVersion bumps the version from version to version+1 without
	// touching the balance.
	ClaimVersion(ctx context.Context, id uuid.UUID, version int64) (int64, error)
}

// PostgresRepository stores wallets in PostgreSQL.
type PostgresRepository struct {
	db *store.DB
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *store.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectWallet = `SELECT id, user_id, request_transaction_id, balance::text, status, version,
        last_balance_updated, created_at FROM wallets`

// Create inserts a wallet record.
func (r *PostgresRepository) Create(ctx context.Context, wallet Wallet) error {
	return r.db.Run(ctx, func(ctx context.Context, q store.Querier) error {
		_, err := q.Exec(ctx, `INSERT INTO wallets
            (id, user_id, request_transaction_id, balance, status, version, last_balance_updated, created_at)
            VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)`,
			wallet.ID, wallet.UserID, wallet.RequestTransactionID, wallet.Balance.String(),
			string(wallet.Status), wallet.Version, wallet.LastBalanceUpdated.UTC(), wallet.CreatedAt.UTC())
		if store.IsUniqueViolation(err) {
			return ErrWalletAlreadyExists
		}
		return err
	})
}

// FindByID fetches a wallet by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id uuid.UUID) (Wallet, error) {
	var w Wallet
	err := r.db.Run(ctx, func(ctx context.Context, q store.Querier) error {
		var err error
		w, err = scanWallet(q.QueryRow(ctx, selectWallet+` WHERE id = $1`, id))
		return err
	})
	return w, err
}

// FindByIDAndVersion implements Repository.
func (r *PostgresRepository) FindByIDAndVersion(ctx context.Context, id uuid.UUID, version int64) (Wallet, error) {
	var w Wallet
	err := r.db.Run(ctx, func(ctx context.Context, q store.Querier) error {
		var err error
		w, err = scanWallet(q.QueryRow(ctx, selectWallet+` WHERE id = $1 AND version = $2`, id, version))
		return err
	})
	return w, err
}

// ExistsForUser reports whether the user already owns a wallet.
func (r *PostgresRepository) ExistsForUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.Run(ctx, func(ctx context.Context, q store.Querier) error {
		return q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM wallets WHERE user_id = $1)`, userID).Scan(&exists)
	})
	return exists, err
}

// Save implements Repository.
func (r *PostgresRepository) Save(ctx context.Context, wallet Wallet) (Wallet, error) {
	err := r.db.Run(ctx, func(ctx context.Context, q store.Querier) error {
		var next int64
		err := q.QueryRow(ctx, `UPDATE wallets
            SET balance = $3::numeric, status = $4, last_balance_updated = $5, version = version + 1
            WHERE id = $1 AND version = $2
            RETURNING version`,
			wallet.ID, wallet.Version, wallet.Balance.String(), string(wallet.Status), wallet.LastBalanceUpdated.UTC(),
		).Scan(&next)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConcurrentModification
		}
		if err != nil {
			return fmt.Errorf("save wallet: %w", err)
		}
		wallet.Version = next
		return nil
	})
	return wallet, err
}

// ClaimVersion implements Repository.
func (r *PostgresRepository) ClaimVersion(ctx context.Context, id uuid.UUID, version int64) (int64, error) {
	var next int64
	err := r.db.Run(ctx, func(ctx context.Context, q store.Querier) error {
		err := q.QueryRow(ctx, `UPDATE wallets SET version = version + 1
            WHERE id = $1 AND version = $2 RETURNING version`, id, version).Scan(&next)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConcurrentModification
		}
		return err
	})
	return next, err
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w          Wallet
		balanceRaw string
		status     string
	)
	if err := row.Scan(&w.ID, &w.UserID, &w.RequestTransactionID, &balanceRaw, &status, &w.Version,
		&w.LastBalanceUpdated, &w.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, fmt.Errorf("scan wallet: %w", err)
	}
	balance, err := decimal.NewFromString(balanceRaw)
	if err != nil {
		return Wallet{}, fmt.Errorf("parse wallet balance: %w", err)
	}
	w.Balance = balance
	w.Status = Status(status)
	w.LastBalanceUpdated = w.LastBalanceUpdated.UTC()
	w.CreatedAt = w.CreatedAt.UTC()
	return w, nil
}
