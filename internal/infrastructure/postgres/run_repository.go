package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"firesync/internal/domain/ledger"
)

// RunRepository implements ledger.RunStore for PostgreSQL.
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new PostgreSQL sync run repository.
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Record persists one finished run and fills in its assigned ID.
func (r *RunRepository) Record(ctx context.Context, run *ledger.SyncRun) error {
	query := `
		INSERT INTO sync_runs (connection_id, status, window_kind, window_fallback,
		                       accounts_found, accounts_enabled, accounts_enable_failed, accounts_failed,
		                       transactions_found, created, updated, unchanged, skipped, failed,
		                       error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`

	err := r.db.QueryRowContext(
		ctx, query,
		run.ConnectionID, run.Status, run.WindowKind, run.WindowFallback,
		run.AccountsFound, run.AccountsEnabled, run.AccountsEnableFailed, run.AccountsFailed,
		run.TransactionsFound, run.Created, run.Updated, run.Unchanged, run.Skipped, run.Failed,
		nullStringPtr(run.Error), run.StartedAt, run.FinishedAt,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// Latest returns the most recent run for a connection, nil when none exists.
func (r *RunRepository) Latest(ctx context.Context, connectionID int64) (*ledger.SyncRun, error) {
	query := `
		SELECT id, connection_id, status, window_kind, window_fallback,
		       accounts_found, accounts_enabled, accounts_enable_failed, accounts_failed,
		       transactions_found, created, updated, unchanged, skipped, failed,
		       error, started_at, finished_at
		FROM sync_runs
		WHERE connection_id = $1
		ORDER BY started_at DESC
		LIMIT 1`

	var run ledger.SyncRun
	var runErr sql.NullString

	err := r.db.QueryRowContext(ctx, query, connectionID).Scan(
		&run.ID, &run.ConnectionID, &run.Status, &run.WindowKind, &run.WindowFallback,
		&run.AccountsFound, &run.AccountsEnabled, &run.AccountsEnableFailed, &run.AccountsFailed,
		&run.TransactionsFound, &run.Created, &run.Updated, &run.Unchanged, &run.Skipped, &run.Failed,
		&runErr, &run.StartedAt, &run.FinishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}

	if runErr.Valid {
		run.Error = &runErr.String
	}
	return &run, nil
}

// Prune deletes run history older than the given instant and reports how many
// rows went.
func (r *RunRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sync_runs WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sync runs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// Stats returns an aggregate snapshot for the housekeeping gauges.
func (r *RunRepository) Stats(ctx context.Context) (*ledger.Stats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM connections),
			(SELECT COUNT(*) FROM connections WHERE status = 'ACTIVE'),
			(SELECT COUNT(*) FROM connections WHERE last_sync_status = 'failed'),
			(SELECT COUNT(*) FROM accounts),
			(SELECT COUNT(*) FROM transactions),
			(SELECT COUNT(*) FROM sync_runs WHERE started_at > NOW() - INTERVAL '24 hours')`

	var stats ledger.Stats
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.Connections, &stats.ActiveConnections, &stats.FailedConnections,
		&stats.Accounts, &stats.Transactions, &stats.RunsLast24h,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	return &stats, nil
}
