// Package ledger defines the persisted entities of the aggregation engine and
// the store contracts the sync core depends on.
package ledger

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Domain errors
var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrAccountNotFound    = errors.New("account not found")
)

// ConnectionStatus is the lifecycle state of an aggregator connection.
type ConnectionStatus string

const (
	ConnectionActive   ConnectionStatus = "ACTIVE"
	ConnectionDisabled ConnectionStatus = "DISABLED"
	ConnectionRevoked  ConnectionStatus = "REVOKED"
)

// SyncStatus classifies the outcome of one sync run.
type SyncStatus string

const (
	SyncSuccess        SyncStatus = "success"
	SyncPartialSuccess SyncStatus = "partial_success"
	SyncFailed         SyncStatus = "failed"
)

// Connection is the aggregator-side link to one bank for one user.
// It carries the encrypted credential and the per-connection sync cursor.
// Connections are created on first successful authorization and are never
// implicitly deleted.
type Connection struct {
	ID                  int64            `json:"id"`
	UserID              int64            `json:"userId"`
	ExternalID          string           `json:"externalId"`
	ConnectorID         string           `json:"connectorId"`
	Status              ConnectionStatus `json:"status"`
	SyncEnabled         bool             `json:"syncEnabled"`
	EncryptedCredential string           `json:"-"`
	CredentialExpiresAt *time.Time       `json:"credentialExpiresAt"`
	ExternalUserRef     string           `json:"externalUserRef"`
	Cursor              *time.Time       `json:"cursor"`
	LastSyncedAt        *time.Time       `json:"lastSyncedAt"`
	LastSuccessAt       *time.Time       `json:"lastSuccessAt"`
	LastSyncStatus      SyncStatus       `json:"lastSyncStatus"`
	LastSyncError       *string          `json:"lastSyncError"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// Account is a snapshot of one bank account. Unique per (user, external id).
// Mutable fields are overwritten wholesale on every sync pass; the aggregator
// is authoritative for account state.
type Account struct {
	ID               int64               `json:"id"`
	UserID           int64               `json:"userId"`
	ConnectionID     int64               `json:"connectionId"`
	ExternalID       string              `json:"externalId"`
	Name             string              `json:"name"`
	AccountType      string              `json:"accountType"`
	Subtype          string              `json:"subtype"`
	Currency         string              `json:"currency"`
	Balance          decimal.Decimal     `json:"balance"`
	AvailableBalance decimal.NullDecimal `json:"availableBalance"`
	Metadata         json.RawMessage     `json:"metadata"`
	Disabled         bool                `json:"disabled"`
	Primary          bool                `json:"primary"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// Transaction is one ledger entry. Unique per (user, external id). Created
// once, updated conditionally, never hard-deleted — removal is the Deleted
// flag.
type Transaction struct {
	ID                int64               `json:"id"`
	UserID            int64               `json:"userId"`
	AccountID         int64               `json:"accountId"`
	ExternalID        string              `json:"externalId"`
	ExternalAccountID string              `json:"externalAccountId"`
	Amount            decimal.Decimal     `json:"amount"`
	Currency          string              `json:"currency"`
	Date              time.Time           `json:"date"`
	Description       string              `json:"description"`
	Pending           bool                `json:"pending"`
	Deleted           bool                `json:"deleted"`
	Active            bool                `json:"active"`
	BalanceAfter      decimal.NullDecimal `json:"balanceAfter"`
	ProviderUpdatedAt *time.Time          `json:"providerUpdatedAt"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// SyncRun is the persisted summary of one orchestrator run.
type SyncRun struct {
	ID                   int64      `json:"id"`
	ConnectionID         int64      `json:"connectionId"`
	Status               SyncStatus `json:"status"`
	WindowKind           string     `json:"windowKind"`
	WindowFallback       bool       `json:"windowFallback"`
	AccountsFound        int        `json:"accountsFound"`
	AccountsEnabled      int        `json:"accountsEnabled"`
	AccountsEnableFailed int        `json:"accountsEnableFailed"`
	AccountsFailed       int        `json:"accountsFailed"`
	TransactionsFound    int        `json:"transactionsFound"`
	Created              int        `json:"created"`
	Updated              int        `json:"updated"`
	Unchanged            int        `json:"unchanged"`
	Skipped              int        `json:"skipped"`
	Failed               int        `json:"failed"`
	Error                *string    `json:"error"`
	StartedAt            time.Time  `json:"startedAt"`
	FinishedAt           time.Time  `json:"finishedAt"`
}

// CreateConnectionParams contains parameters for registering a new connection.
type CreateConnectionParams struct {
	UserID              int64
	ExternalID          string
	ConnectorID         string
	ExternalUserRef     string
	EncryptedCredential string
	CredentialExpiresAt *time.Time
}

// ConnectionPatch is a partial connection update. Nil fields are left
// untouched; presence is explicit so an absent value can never overwrite a
// stored one.
type ConnectionPatch struct {
	Status         *ConnectionStatus
	SyncEnabled    *bool
	LastSyncedAt   *time.Time
	LastSuccessAt  *time.Time
	LastSyncStatus *SyncStatus
	LastSyncError  *string
}

// UpsertAccountParams contains the full account snapshot written on every
// pass. There is no conflict resolution for accounts; last fetch wins.
type UpsertAccountParams struct {
	UserID           int64
	ConnectionID     int64
	ExternalID       string
	Name             string
	AccountType      string
	Subtype          string
	Currency         string
	Balance          decimal.Decimal
	AvailableBalance decimal.NullDecimal
	Metadata         json.RawMessage
	Disabled         bool
}

// UpsertTransactionParams contains an incoming transaction snapshot.
type UpsertTransactionParams struct {
	UserID            int64
	AccountID         int64
	ExternalID        string
	ExternalAccountID string
	Amount            decimal.Decimal
	Currency          string
	Date              time.Time
	Description       string
	Pending           bool
	Deleted           bool
	Active            bool
	BalanceAfter      decimal.NullDecimal
	ProviderUpdatedAt *time.Time
}

// Stats is an aggregate snapshot for housekeeping metrics.
type Stats struct {
	Connections       int64
	ActiveConnections int64
	FailedConnections int64
	Accounts          int64
	Transactions      int64
	RunsLast24h       int64
}
