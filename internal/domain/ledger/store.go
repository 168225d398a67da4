package ledger

import (
	"context"
	"time"
)

// ConnectionStore persists connections, their credentials and sync cursors.
type ConnectionStore interface {
	Create(ctx context.Context, params CreateConnectionParams) (*Connection, error)
	GetByID(ctx context.Context, id int64) (*Connection, error)
	GetByExternalID(ctx context.Context, userID int64, externalID string) (*Connection, error)
	ListSyncEnabled(ctx context.Context) ([]*Connection, error)
	// ListStale returns sync-enabled connections whose last successful sync is
	// older than the given instant (or that never succeeded), plus connections
	// whose last run failed.
	ListStale(ctx context.Context, olderThan time.Time) ([]*Connection, error)
	// ListCredentialsExpiringBefore returns connections whose credential
	// expiry falls before the given instant. Uses the plaintext expiry column;
	// the credential blob itself stays encrypted.
	ListCredentialsExpiringBefore(ctx context.Context, before time.Time) ([]*Connection, error)
	Update(ctx context.Context, id int64, patch ConnectionPatch) error
	// UpdateCredential replaces the encrypted credential blob and its expiry
	// in place. A connection holds exactly one live credential.
	UpdateCredential(ctx context.Context, id int64, encrypted string, expiresAt *time.Time) error

	GetCursor(ctx context.Context, id int64) (*time.Time, error)
	// SetCursor advances the sync cursor. The cursor is monotonic; the store
	// rejects regressions by keeping the greater of the two values.
	SetCursor(ctx context.Context, id int64, cursor time.Time) error
	SetSyncStatus(ctx context.Context, id int64, status SyncStatus, message *string) error
}

// AccountStore persists account snapshots.
type AccountStore interface {
	Upsert(ctx context.Context, params UpsertAccountParams) (*Account, error)
	FindByExternalID(ctx context.Context, userID int64, externalID string) (*Account, error)
	ListByConnection(ctx context.Context, connectionID int64) ([]*Account, error)
	// SetPrimary marks one account primary and clears the flag on every other
	// account of the same user, in a single atomic transaction.
	SetPrimary(ctx context.Context, userID, accountID int64) error
}

// TransactionStore persists ledger entries. Upsert applies the
// newer-wins-or-meaningfully-different rule and must be safe under concurrent
// invocation for the same external id (unique constraint + guarded upsert).
type TransactionStore interface {
	Upsert(ctx context.Context, params UpsertTransactionParams) (*Transaction, error)
	FindByExternalID(ctx context.Context, userID int64, externalID string) (*Transaction, error)
	CountByConnection(ctx context.Context, connectionID int64) (int, error)
}

// RunStore keeps the sync run history.
type RunStore interface {
	Record(ctx context.Context, run *SyncRun) error
	Latest(ctx context.Context, connectionID int64) (*SyncRun, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	Stats(ctx context.Context) (*Stats, error)
}
