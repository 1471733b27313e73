package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/congo-pay/walletledger/internal/store"
)

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByDocument(ctx context.Context, document string) (User, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *store.DB
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *store.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	return r.db.Run(ctx, func(ctx context.Context, q store.Querier) error {
		_, err := q.Exec(ctx, `INSERT INTO users (id, request_transaction_id, username, name, email, document, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			user.ID, user.RequestTransactionID, user.Username, user.Name, user.Email, user.Document, user.CreatedAt.UTC())
		if store.IsUniqueViolation(err) {
			return ErrDocumentAlreadyExists
		}
		return err
	})
}

// FindByDocument fetches a user by document number.
func (r *PostgresRepository) FindByDocument(ctx context.Context, document string) (User, error) {
	var user User
	err := r.db.Run(ctx, func(ctx context.Context, q store.Querier) error {
		row := q.QueryRow(ctx, `SELECT id, request_transaction_id, username, name, email, document, created_at
            FROM users WHERE document = $1`, document)
		err := row.Scan(&user.ID, &user.RequestTransactionID, &user.Username, &user.Name, &user.Email,
			&user.Document, &user.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotRegistered
		}
		if err != nil {
			return fmt.Errorf("find user: %w", err)
		}
		user.CreatedAt = user.CreatedAt.UTC()
		return nil
	})
	return user, err
}

// Exists reports whether a user with id is registered.
func (r *PostgresRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.Run(ctx, func(ctx context.Context, q store.Querier) error {
		return q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	})
	return exists, err
}
