package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"firesync/internal/domain/ledger"
)

// AccountRepository implements ledger.AccountStore for PostgreSQL.
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new PostgreSQL account repository.
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `
	id, user_id, connection_id, external_id, name, account_type, subtype,
	currency, balance, available_balance, metadata, disabled, is_primary,
	created_at, updated_at
`

func scanAccount(s interface{ Scan(...any) error }) (*ledger.Account, error) {
	var acc ledger.Account
	var subtype sql.NullString
	var metadata []byte

	err := s.Scan(
		&acc.ID, &acc.UserID, &acc.ConnectionID, &acc.ExternalID,
		&acc.Name, &acc.AccountType, &subtype,
		&acc.Currency, &acc.Balance, &acc.AvailableBalance, &metadata,
		&acc.Disabled, &acc.Primary,
		&acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if subtype.Valid {
		acc.Subtype = subtype.String
	}
	acc.Metadata = metadata
	return &acc, nil
}

// Upsert writes the full account snapshot. The aggregator is authoritative
// for account state, so every mutable column is overwritten on conflict.
// The local is_primary flag is never touched by sync.
func (r *AccountRepository) Upsert(ctx context.Context, params ledger.UpsertAccountParams) (*ledger.Account, error) {
	query := `
		INSERT INTO accounts (user_id, connection_id, external_id, name, account_type,
		                      subtype, currency, balance, available_balance, metadata, disabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, external_id) DO UPDATE SET
			connection_id     = EXCLUDED.connection_id,
			name              = EXCLUDED.name,
			account_type      = EXCLUDED.account_type,
			subtype           = EXCLUDED.subtype,
			currency          = EXCLUDED.currency,
			balance           = EXCLUDED.balance,
			available_balance = EXCLUDED.available_balance,
			metadata          = EXCLUDED.metadata,
			disabled          = EXCLUDED.disabled,
			updated_at        = NOW()
		RETURNING ` + accountColumns

	acc, err := scanAccount(r.db.QueryRowContext(
		ctx, query,
		params.UserID, params.ConnectionID, params.ExternalID, params.Name,
		params.AccountType, nullString(params.Subtype), params.Currency,
		params.Balance, params.AvailableBalance, metadataOrNull(params.Metadata),
		params.Disabled,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}
	return acc, nil
}

// FindByExternalID returns the account or nil when none matches.
func (r *AccountRepository) FindByExternalID(ctx context.Context, userID int64, externalID string) (*ledger.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 AND external_id = $2`

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, userID, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return acc, nil
}

// ListByConnection returns all accounts synced through one connection.
func (r *AccountRepository) ListByConnection(ctx context.Context, connectionID int64) ([]*ledger.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE connection_id = $1 ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*ledger.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// SetPrimary marks one account primary and clears the flag on the user's
// other accounts, in a single transaction so there is never more than one.
func (r *AccountRepository) SetPrimary(ctx context.Context, userID, accountID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET is_primary = FALSE, updated_at = NOW() WHERE user_id = $1 AND is_primary = TRUE`,
		userID,
	); err != nil {
		return fmt.Errorf("failed to clear primary flag: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE accounts SET is_primary = TRUE, updated_at = NOW() WHERE id = $1 AND user_id = $2`,
		accountID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to set primary flag: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ledger.ErrAccountNotFound
	}

	return tx.Commit()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func metadataOrNull(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
