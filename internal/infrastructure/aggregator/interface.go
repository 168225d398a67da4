package aggregator

import (
	"context"
)

// ClientInterface defines the methods the sync core requires from the
// aggregator API client.
type ClientInterface interface {
	Authenticate(ctx context.Context, userRef string) (*Credential, error)
	ListConnections(ctx context.Context, cred Credential) ([]Connection, error)
	ListAccounts(ctx context.Context, cred Credential, userRef string, includeDisabled bool) ([]Account, error)
	EnableAccount(ctx context.Context, cred Credential, userRef, accountID string) error
	ListTransactions(ctx context.Context, cred Credential, userRef string, window Window) ([]Transaction, error)
	CreateConnection(ctx context.Context, cred Credential, connectorID string, fields map[string]string) (*Connection, error)
	RefreshCredential(ctx context.Context, cred Credential) (*Credential, error)
}
