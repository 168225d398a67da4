package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"firesync/internal/domain/ledger"
)

// TransactionRepository implements ledger.TransactionStore for PostgreSQL.
type TransactionRepository struct {
	db *DB
}

// NewTransactionRepository creates a new PostgreSQL transaction repository.
func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `
	id, user_id, account_id, external_id, external_account_id, amount, currency,
	date, description, pending, deleted, active, balance_after,
	provider_updated_at, created_at, updated_at
`

func scanTransaction(s interface{ Scan(...any) error }) (*ledger.Transaction, error) {
	var tx ledger.Transaction
	var providerUpdatedAt sql.NullTime

	err := s.Scan(
		&tx.ID, &tx.UserID, &tx.AccountID, &tx.ExternalID, &tx.ExternalAccountID,
		&tx.Amount, &tx.Currency, &tx.Date, &tx.Description,
		&tx.Pending, &tx.Deleted, &tx.Active, &tx.BalanceAfter,
		&providerUpdatedAt, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if providerUpdatedAt.Valid {
		tx.ProviderUpdatedAt = &providerUpdatedAt.Time
	}
	return &tx, nil
}

// Upsert inserts the transaction or conditionally updates the existing row.
// The guard in the ON CONFLICT clause repeats the update rule inside the
// statement so concurrent upserts for the same external id stay correct even
// when the Go-side check raced against another writer. A guarded-out update
// returns no row; the stored row is fetched and returned unchanged.
func (r *TransactionRepository) Upsert(ctx context.Context, params ledger.UpsertTransactionParams) (*ledger.Transaction, error) {
	query := `
		INSERT INTO transactions (user_id, account_id, external_id, external_account_id,
		                          amount, currency, date, description, pending, deleted,
		                          active, balance_after, provider_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id, external_id) DO UPDATE SET
			account_id          = EXCLUDED.account_id,
			external_account_id = EXCLUDED.external_account_id,
			amount              = EXCLUDED.amount,
			currency            = EXCLUDED.currency,
			date                = EXCLUDED.date,
			description         = EXCLUDED.description,
			pending             = EXCLUDED.pending,
			deleted             = EXCLUDED.deleted,
			active              = EXCLUDED.active,
			balance_after       = EXCLUDED.balance_after,
			provider_updated_at = EXCLUDED.provider_updated_at,
			updated_at          = NOW()
		WHERE transactions.provider_updated_at IS NULL
		   OR EXCLUDED.provider_updated_at > transactions.provider_updated_at
		   OR EXCLUDED.pending IS DISTINCT FROM transactions.pending
		   OR EXCLUDED.deleted IS DISTINCT FROM transactions.deleted
		   OR EXCLUDED.active IS DISTINCT FROM transactions.active
		   OR EXCLUDED.balance_after IS DISTINCT FROM transactions.balance_after
		   OR EXCLUDED.amount IS DISTINCT FROM transactions.amount
		   OR EXCLUDED.description IS DISTINCT FROM transactions.description
		RETURNING ` + transactionColumns

	tx, err := scanTransaction(r.db.QueryRowContext(
		ctx, query,
		params.UserID, params.AccountID, params.ExternalID, params.ExternalAccountID,
		params.Amount, params.Currency, params.Date, params.Description,
		params.Pending, params.Deleted, params.Active, params.BalanceAfter,
		nullTime(params.ProviderUpdatedAt),
	))
	if err == sql.ErrNoRows {
		return r.mustFind(ctx, params.UserID, params.ExternalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert transaction: %w", err)
	}
	return tx, nil
}

func (r *TransactionRepository) mustFind(ctx context.Context, userID int64, externalID string) (*ledger.Transaction, error) {
	tx, err := r.FindByExternalID(ctx, userID, externalID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction %s vanished during guarded upsert", externalID)
	}
	return tx, nil
}

// FindByExternalID returns the transaction or nil when none matches.
func (r *TransactionRepository) FindByExternalID(ctx context.Context, userID int64, externalID string) (*ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1 AND external_id = $2`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, userID, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return tx, nil
}

// CountByConnection counts stored transactions belonging to one connection's
// accounts.
func (r *TransactionRepository) CountByConnection(ctx context.Context, connectionID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE a.connection_id = $1`

	var count int
	if err := r.db.QueryRowContext(ctx, query, connectionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}
