package sync

import (
	"context"
	"time"

	"firesync/internal/domain/ledger"
	"firesync/internal/infrastructure/aggregator"
)

// Shared mocks for the sync package tests.

type MockConnectionStore struct {
	CreateFunc                        func(ctx context.Context, params ledger.CreateConnectionParams) (*ledger.Connection, error)
	GetByIDFunc                       func(ctx context.Context, id int64) (*ledger.Connection, error)
	GetByExternalIDFunc               func(ctx context.Context, userID int64, externalID string) (*ledger.Connection, error)
	ListSyncEnabledFunc               func(ctx context.Context) ([]*ledger.Connection, error)
	ListStaleFunc                     func(ctx context.Context, olderThan time.Time) ([]*ledger.Connection, error)
	ListCredentialsExpiringBeforeFunc func(ctx context.Context, before time.Time) ([]*ledger.Connection, error)
	UpdateFunc                        func(ctx context.Context, id int64, patch ledger.ConnectionPatch) error
	UpdateCredentialFunc              func(ctx context.Context, id int64, encrypted string, expiresAt *time.Time) error
	GetCursorFunc                     func(ctx context.Context, id int64) (*time.Time, error)
	SetCursorFunc                     func(ctx context.Context, id int64, cursor time.Time) error
	SetSyncStatusFunc                 func(ctx context.Context, id int64, status ledger.SyncStatus, message *string) error
}

func (m *MockConnectionStore) Create(ctx context.Context, params ledger.CreateConnectionParams) (*ledger.Connection, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, params)
	}
	return nil, nil
}
func (m *MockConnectionStore) GetByID(ctx context.Context, id int64) (*ledger.Connection, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, ledger.ErrConnectionNotFound
}
func (m *MockConnectionStore) GetByExternalID(ctx context.Context, userID int64, externalID string) (*ledger.Connection, error) {
	if m.GetByExternalIDFunc != nil {
		return m.GetByExternalIDFunc(ctx, userID, externalID)
	}
	return nil, ledger.ErrConnectionNotFound
}
func (m *MockConnectionStore) ListSyncEnabled(ctx context.Context) ([]*ledger.Connection, error) {
	if m.ListSyncEnabledFunc != nil {
		return m.ListSyncEnabledFunc(ctx)
	}
	return nil, nil
}
func (m *MockConnectionStore) ListStale(ctx context.Context, olderThan time.Time) ([]*ledger.Connection, error) {
	if m.ListStaleFunc != nil {
		return m.ListStaleFunc(ctx, olderThan)
	}
	return nil, nil
}
func (m *MockConnectionStore) ListCredentialsExpiringBefore(ctx context.Context, before time.Time) ([]*ledger.Connection, error) {
	if m.ListCredentialsExpiringBeforeFunc != nil {
		return m.ListCredentialsExpiringBeforeFunc(ctx, before)
	}
	return nil, nil
}
func (m *MockConnectionStore) Update(ctx context.Context, id int64, patch ledger.ConnectionPatch) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, patch)
	}
	return nil
}
func (m *MockConnectionStore) UpdateCredential(ctx context.Context, id int64, encrypted string, expiresAt *time.Time) error {
	if m.UpdateCredentialFunc != nil {
		return m.UpdateCredentialFunc(ctx, id, encrypted, expiresAt)
	}
	return nil
}
func (m *MockConnectionStore) GetCursor(ctx context.Context, id int64) (*time.Time, error) {
	if m.GetCursorFunc != nil {
		return m.GetCursorFunc(ctx, id)
	}
	return nil, nil
}
func (m *MockConnectionStore) SetCursor(ctx context.Context, id int64, cursor time.Time) error {
	if m.SetCursorFunc != nil {
		return m.SetCursorFunc(ctx, id, cursor)
	}
	return nil
}
func (m *MockConnectionStore) SetSyncStatus(ctx context.Context, id int64, status ledger.SyncStatus, message *string) error {
	if m.SetSyncStatusFunc != nil {
		return m.SetSyncStatusFunc(ctx, id, status, message)
	}
	return nil
}

type MockAccountStore struct {
	UpsertFunc           func(ctx context.Context, params ledger.UpsertAccountParams) (*ledger.Account, error)
	FindByExternalIDFunc func(ctx context.Context, userID int64, externalID string) (*ledger.Account, error)
	ListByConnectionFunc func(ctx context.Context, connectionID int64) ([]*ledger.Account, error)
	SetPrimaryFunc       func(ctx context.Context, userID, accountID int64) error
}

func (m *MockAccountStore) Upsert(ctx context.Context, params ledger.UpsertAccountParams) (*ledger.Account, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, params)
	}
	return &ledger.Account{ID: 1, UserID: params.UserID, ExternalID: params.ExternalID}, nil
}
func (m *MockAccountStore) FindByExternalID(ctx context.Context, userID int64, externalID string) (*ledger.Account, error) {
	if m.FindByExternalIDFunc != nil {
		return m.FindByExternalIDFunc(ctx, userID, externalID)
	}
	return nil, nil
}
func (m *MockAccountStore) ListByConnection(ctx context.Context, connectionID int64) ([]*ledger.Account, error) {
	if m.ListByConnectionFunc != nil {
		return m.ListByConnectionFunc(ctx, connectionID)
	}
	return nil, nil
}
func (m *MockAccountStore) SetPrimary(ctx context.Context, userID, accountID int64) error {
	if m.SetPrimaryFunc != nil {
		return m.SetPrimaryFunc(ctx, userID, accountID)
	}
	return nil
}

type MockTransactionStore struct {
	UpsertFunc            func(ctx context.Context, params ledger.UpsertTransactionParams) (*ledger.Transaction, error)
	FindByExternalIDFunc  func(ctx context.Context, userID int64, externalID string) (*ledger.Transaction, error)
	CountByConnectionFunc func(ctx context.Context, connectionID int64) (int, error)
}

func (m *MockTransactionStore) Upsert(ctx context.Context, params ledger.UpsertTransactionParams) (*ledger.Transaction, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, params)
	}
	return &ledger.Transaction{ID: 1, UserID: params.UserID, ExternalID: params.ExternalID}, nil
}
func (m *MockTransactionStore) FindByExternalID(ctx context.Context, userID int64, externalID string) (*ledger.Transaction, error) {
	if m.FindByExternalIDFunc != nil {
		return m.FindByExternalIDFunc(ctx, userID, externalID)
	}
	return nil, nil
}
func (m *MockTransactionStore) CountByConnection(ctx context.Context, connectionID int64) (int, error) {
	if m.CountByConnectionFunc != nil {
		return m.CountByConnectionFunc(ctx, connectionID)
	}
	return 0, nil
}

type MockRunStore struct {
	RecordFunc func(ctx context.Context, run *ledger.SyncRun) error
	LatestFunc func(ctx context.Context, connectionID int64) (*ledger.SyncRun, error)
	PruneFunc  func(ctx context.Context, before time.Time) (int64, error)
	StatsFunc  func(ctx context.Context) (*ledger.Stats, error)
}

func (m *MockRunStore) Record(ctx context.Context, run *ledger.SyncRun) error {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, run)
	}
	return nil
}
func (m *MockRunStore) Latest(ctx context.Context, connectionID int64) (*ledger.SyncRun, error) {
	if m.LatestFunc != nil {
		return m.LatestFunc(ctx, connectionID)
	}
	return nil, nil
}
func (m *MockRunStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	if m.PruneFunc != nil {
		return m.PruneFunc(ctx, before)
	}
	return 0, nil
}
func (m *MockRunStore) Stats(ctx context.Context) (*ledger.Stats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx)
	}
	return &ledger.Stats{}, nil
}

type MockClient struct {
	AuthenticateFunc      func(ctx context.Context, userRef string) (*aggregator.Credential, error)
	ListConnectionsFunc   func(ctx context.Context, cred aggregator.Credential) ([]aggregator.Connection, error)
	ListAccountsFunc      func(ctx context.Context, cred aggregator.Credential, userRef string, includeDisabled bool) ([]aggregator.Account, error)
	EnableAccountFunc     func(ctx context.Context, cred aggregator.Credential, userRef, accountID string) error
	ListTransactionsFunc  func(ctx context.Context, cred aggregator.Credential, userRef string, window aggregator.Window) ([]aggregator.Transaction, error)
	CreateConnectionFunc  func(ctx context.Context, cred aggregator.Credential, connectorID string, fields map[string]string) (*aggregator.Connection, error)
	RefreshCredentialFunc func(ctx context.Context, cred aggregator.Credential) (*aggregator.Credential, error)
}

func (m *MockClient) Authenticate(ctx context.Context, userRef string) (*aggregator.Credential, error) {
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, userRef)
	}
	return &aggregator.Credential{Token: "test-token-0123456789"}, nil
}
func (m *MockClient) ListConnections(ctx context.Context, cred aggregator.Credential) ([]aggregator.Connection, error) {
	if m.ListConnectionsFunc != nil {
		return m.ListConnectionsFunc(ctx, cred)
	}
	return nil, nil
}
func (m *MockClient) ListAccounts(ctx context.Context, cred aggregator.Credential, userRef string, includeDisabled bool) ([]aggregator.Account, error) {
	if m.ListAccountsFunc != nil {
		return m.ListAccountsFunc(ctx, cred, userRef, includeDisabled)
	}
	return nil, nil
}
func (m *MockClient) EnableAccount(ctx context.Context, cred aggregator.Credential, userRef, accountID string) error {
	if m.EnableAccountFunc != nil {
		return m.EnableAccountFunc(ctx, cred, userRef, accountID)
	}
	return nil
}
func (m *MockClient) ListTransactions(ctx context.Context, cred aggregator.Credential, userRef string, window aggregator.Window) ([]aggregator.Transaction, error) {
	if m.ListTransactionsFunc != nil {
		return m.ListTransactionsFunc(ctx, cred, userRef, window)
	}
	return nil, nil
}
func (m *MockClient) CreateConnection(ctx context.Context, cred aggregator.Credential, connectorID string, fields map[string]string) (*aggregator.Connection, error) {
	if m.CreateConnectionFunc != nil {
		return m.CreateConnectionFunc(ctx, cred, connectorID, fields)
	}
	return nil, nil
}
func (m *MockClient) RefreshCredential(ctx context.Context, cred aggregator.Credential) (*aggregator.Credential, error) {
	if m.RefreshCredentialFunc != nil {
		return m.RefreshCredentialFunc(ctx, cred)
	}
	return &aggregator.Credential{Token: "refreshed-token-0123456789"}, nil
}
