package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/store"
)

// PostgresLedger persists entries in the transactions table.
type PostgresLedger struct {
	db *store.DB
}

// NewPostgresLedger constructs a Postgres-backed ledger.
func NewPostgresLedger(db *store.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Append inserts entries using the transaction carried by ctx, if any.
func (l *PostgresLedger) Append(ctx context.Context, entries ...Entry) error {
	const query = `INSERT INTO transactions
        (id, request_transaction_id, wallet_id, destination_wallet_id, type, amount, status, timestamp)
        VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)`

	return l.db.Run(ctx, func(ctx context.Context, q store.Querier) error {
		for _, e := range entries {
			_, err := q.Exec(ctx, query, e.ID, e.RequestTransactionID, e.WalletID, e.DestinationWalletID,
				string(e.Type), e.Amount.String(), string(e.Status), e.Timestamp.UTC())
			if err != nil {
				if store.IsUniqueViolation(err) {
					return fmt.Errorf("%w: %s %s", ErrDuplicateEntry, e.RequestTransactionID, e.Type)
				}
				return fmt.Errorf("insert ledger entry: %w", err)
			}
		}
		return nil
	})
}

// SumByDestination implements Store.
func (l *PostgresLedger) SumByDestination(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	var raw string
	err := l.db.Run(ctx, func(ctx context.Context, q store.Querier) error {
		return q.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0)::text FROM transactions
            WHERE destination_wallet_id = $1`, walletID).Scan(&raw)
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum ledger: %w", err)
	}
	sum, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse ledger sum: %w", err)
	}
	return sum, nil
}

// ListSince implements Store.
func (l *PostgresLedger) ListSince(ctx context.Context, walletID uuid.UUID, since time.Time) ([]Entry, error) {
	var out []Entry
	err := l.db.Run(ctx, func(ctx context.Context, q store.Querier) error {
		rows, err := q.Query(ctx, `SELECT id, request_transaction_id, wallet_id, destination_wallet_id,
                type, amount::text, status, timestamp
            FROM transactions
            WHERE destination_wallet_id = $1 AND timestamp >= $2
            ORDER BY timestamp, id`, walletID, since.UTC())
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				e         Entry
				typ       string
				status    string
				amountRaw string
			)
			if err := rows.Scan(&e.ID, &e.RequestTransactionID, &e.WalletID, &e.DestinationWalletID,
				&typ, &amountRaw, &status, &e.Timestamp); err != nil {
				return err
			}
			if e.Amount, err = decimal.NewFromString(amountRaw); err != nil {
				return err
			}
			e.Type = TransactionType(typ)
			e.Status = Status(status)
			e.Timestamp = e.Timestamp.UTC()
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return out, nil
}

// ExistsForRequest implements Store.
func (l *PostgresLedger) ExistsForRequest(ctx context.Context, requestID string, walletID uuid.UUID, typ TransactionType) (bool, error) {
	var exists bool
	err := l.db.Run(ctx, func(ctx context.Context, q store.Querier) error {
		return q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions
            WHERE request_transaction_id = $1 AND wallet_id = $2 AND type = $3)`,
			requestID, walletID, string(typ)).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("lookup ledger entry: %w", err)
	}
	return exists, nil
}
