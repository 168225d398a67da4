package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"firesync/internal/domain/ledger"
)

// ConnectionRepository implements ledger.ConnectionStore for PostgreSQL.
type ConnectionRepository struct {
	db *DB
}

// NewConnectionRepository creates a new PostgreSQL connection repository.
func NewConnectionRepository(db *DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = `
	id, user_id, external_id, connector_id, status, sync_enabled,
	encrypted_credential, credential_expires_at, external_user_ref,
	cursor, last_synced_at, last_success_at, last_sync_status, last_sync_error,
	created_at, updated_at
`

func scanConnection(s interface{ Scan(...any) error }) (*ledger.Connection, error) {
	var conn ledger.Connection
	var credExpires, cursor, lastSynced, lastSuccess sql.NullTime
	var lastStatus, lastError sql.NullString

	err := s.Scan(
		&conn.ID, &conn.UserID, &conn.ExternalID, &conn.ConnectorID,
		&conn.Status, &conn.SyncEnabled,
		&conn.EncryptedCredential, &credExpires, &conn.ExternalUserRef,
		&cursor, &lastSynced, &lastSuccess, &lastStatus, &lastError,
		&conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if credExpires.Valid {
		conn.CredentialExpiresAt = &credExpires.Time
	}
	if cursor.Valid {
		conn.Cursor = &cursor.Time
	}
	if lastSynced.Valid {
		conn.LastSyncedAt = &lastSynced.Time
	}
	if lastSuccess.Valid {
		conn.LastSuccessAt = &lastSuccess.Time
	}
	if lastStatus.Valid {
		conn.LastSyncStatus = ledger.SyncStatus(lastStatus.String)
	}
	if lastError.Valid {
		conn.LastSyncError = &lastError.String
	}
	return &conn, nil
}

// Create registers a new connection in ACTIVE state with sync enabled.
func (r *ConnectionRepository) Create(ctx context.Context, params ledger.CreateConnectionParams) (*ledger.Connection, error) {
	query := `
		INSERT INTO connections (user_id, external_id, connector_id, status, sync_enabled,
		                         encrypted_credential, credential_expires_at, external_user_ref)
		VALUES ($1, $2, $3, 'ACTIVE', TRUE, $4, $5, $6)
		RETURNING ` + connectionColumns

	conn, err := scanConnection(r.db.QueryRowContext(
		ctx, query,
		params.UserID, params.ExternalID, params.ConnectorID,
		params.EncryptedCredential, nullTime(params.CredentialExpiresAt), params.ExternalUserRef,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	return conn, nil
}

// GetByID retrieves a connection by its ID.
func (r *ConnectionRepository) GetByID(ctx context.Context, id int64) (*ledger.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ledger.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

// GetByExternalID retrieves a connection by its aggregator-side ID.
func (r *ConnectionRepository) GetByExternalID(ctx context.Context, userID int64, externalID string) (*ledger.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE user_id = $1 AND external_id = $2`

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, userID, externalID))
	if err == sql.ErrNoRows {
		return nil, ledger.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

// ListSyncEnabled returns all active connections with sync enabled.
func (r *ConnectionRepository) ListSyncEnabled(ctx context.Context) ([]*ledger.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE sync_enabled = TRUE AND status = 'ACTIVE'
		ORDER BY id`

	return r.list(ctx, query)
}

// ListStale returns sync-enabled active connections that have not succeeded
// since the given instant, never succeeded at all, or whose last run failed.
func (r *ConnectionRepository) ListStale(ctx context.Context, olderThan time.Time) ([]*ledger.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE sync_enabled = TRUE AND status = 'ACTIVE'
		  AND (last_success_at IS NULL OR last_success_at < $1 OR last_sync_status = 'failed')
		ORDER BY last_success_at ASC NULLS FIRST`

	return r.list(ctx, query, olderThan)
}

// ListCredentialsExpiringBefore returns active connections whose credential
// expiry falls before the given instant. Non-expiring credentials never match.
func (r *ConnectionRepository) ListCredentialsExpiringBefore(ctx context.Context, before time.Time) ([]*ledger.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE status = 'ACTIVE'
		  AND credential_expires_at IS NOT NULL
		  AND credential_expires_at < $1
		ORDER BY credential_expires_at ASC`

	return r.list(ctx, query, before)
}

func (r *ConnectionRepository) list(ctx context.Context, query string, args ...any) ([]*ledger.Connection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var connections []*ledger.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		connections = append(connections, conn)
	}
	return connections, rows.Err()
}

// Update applies a partial update. Nil patch fields are left untouched.
func (r *ConnectionRepository) Update(ctx context.Context, id int64, patch ledger.ConnectionPatch) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}
	arg := 2

	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, arg))
		args = append(args, value)
		arg++
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.SyncEnabled != nil {
		add("sync_enabled", *patch.SyncEnabled)
	}
	if patch.LastSyncedAt != nil {
		add("last_synced_at", *patch.LastSyncedAt)
	}
	if patch.LastSuccessAt != nil {
		add("last_success_at", *patch.LastSuccessAt)
	}
	if patch.LastSyncStatus != nil {
		add("last_sync_status", *patch.LastSyncStatus)
	}
	if patch.LastSyncError != nil {
		add("last_sync_error", *patch.LastSyncError)
	}

	query := fmt.Sprintf("UPDATE connections SET %s WHERE id = $1", strings.Join(sets, ", "))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	return requireRow(result, ledger.ErrConnectionNotFound)
}

// UpdateCredential replaces the encrypted credential blob and its expiry.
func (r *ConnectionRepository) UpdateCredential(ctx context.Context, id int64, encrypted string, expiresAt *time.Time) error {
	query := `
		UPDATE connections
		SET encrypted_credential = $2, credential_expires_at = $3, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, encrypted, nullTime(expiresAt))
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	return requireRow(result, ledger.ErrConnectionNotFound)
}

// GetCursor returns the connection's sync cursor, nil when never set.
func (r *ConnectionRepository) GetCursor(ctx context.Context, id int64) (*time.Time, error) {
	var cursor sql.NullTime
	err := r.db.QueryRowContext(ctx, `SELECT cursor FROM connections WHERE id = $1`, id).Scan(&cursor)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	if !cursor.Valid {
		return nil, nil
	}
	return &cursor.Time, nil
}

// SetCursor advances the sync cursor. GREATEST keeps the cursor monotonic
// even when two finalizing runs race.
func (r *ConnectionRepository) SetCursor(ctx context.Context, id int64, cursor time.Time) error {
	query := `
		UPDATE connections
		SET cursor = GREATEST(COALESCE(cursor, $2), $2), updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, cursor)
	if err != nil {
		return fmt.Errorf("failed to set cursor: %w", err)
	}
	return requireRow(result, ledger.ErrConnectionNotFound)
}

// SetSyncStatus records the outcome of the latest run.
func (r *ConnectionRepository) SetSyncStatus(ctx context.Context, id int64, status ledger.SyncStatus, message *string) error {
	query := `
		UPDATE connections
		SET last_sync_status = $2, last_sync_error = $3, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, status, nullStringPtr(message))
	if err != nil {
		return fmt.Errorf("failed to set sync status: %w", err)
	}
	return requireRow(result, ledger.ErrConnectionNotFound)
}

func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
