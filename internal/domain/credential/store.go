// Package credential manages the lifecycle of aggregator credentials:
// encryption at rest, expiry tracking and proactive refresh.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"firesync/internal/domain/ledger"
	"firesync/internal/infrastructure/aggregator"
	"firesync/internal/infrastructure/crypto"
)

// ErrNoCredential is returned when a connection has no stored credential at
// all. This is a configuration failure; no network call has been made yet.
var ErrNoCredential = errors.New("connection has no credential")

// Store persists exactly one live credential per connection, encrypted with
// AES-256-GCM. The expiry is kept in a plain column so sweeps can query it
// without decrypting.
type Store struct {
	connections ledger.ConnectionStore
	encryptor   *crypto.Encryptor
	client      aggregator.ClientInterface
}

// NewStore creates a credential store.
func NewStore(connections ledger.ConnectionStore, encryptor *crypto.Encryptor, client aggregator.ClientInterface) *Store {
	return &Store{
		connections: connections,
		encryptor:   encryptor,
		client:      client,
	}
}

// Get returns the decrypted credential for a connection. Decryption failures
// propagate; ciphertext is never returned as if it were plaintext.
func (s *Store) Get(ctx context.Context, connectionID int64) (*aggregator.Credential, error) {
	conn, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return s.decode(conn)
}

// GetFor decrypts the credential already loaded on a connection row.
func (s *Store) GetFor(conn *ledger.Connection) (*aggregator.Credential, error) {
	return s.decode(conn)
}

func (s *Store) decode(conn *ledger.Connection) (*aggregator.Credential, error) {
	if conn.EncryptedCredential == "" {
		return nil, ErrNoCredential
	}

	plaintext, err := s.encryptor.Decrypt(conn.EncryptedCredential)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential for connection %d: %w", conn.ID, err)
	}

	var cred aggregator.Credential
	if err := json.Unmarshal([]byte(plaintext), &cred); err != nil {
		return nil, fmt.Errorf("failed to decode credential for connection %d: %w", conn.ID, err)
	}
	if cred.ExpiresAt == nil {
		cred.ExpiresAt = conn.CredentialExpiresAt
	}
	if cred.ExternalUserRef == "" {
		cred.ExternalUserRef = conn.ExternalUserRef
	}
	return &cred, nil
}

// Save encrypts and persists a credential, replacing the previous one in
// place.
func (s *Store) Save(ctx context.Context, connectionID int64, cred *aggregator.Credential) error {
	encrypted, err := s.Encode(cred)
	if err != nil {
		return err
	}
	if err := s.connections.UpdateCredential(ctx, connectionID, encrypted, cred.ExpiresAt); err != nil {
		return fmt.Errorf("failed to persist credential: %w", err)
	}
	log.Printf("Connection %d: credential %s saved (expires %v)", connectionID, cred.Redacted(), expiryForLog(cred.ExpiresAt))
	return nil
}

// Encode serializes and encrypts a credential without persisting it. Used
// when the connection row is created in the same statement.
func (s *Store) Encode(cred *aggregator.Credential) (string, error) {
	plaintext, err := json.Marshal(cred)
	if err != nil {
		return "", fmt.Errorf("failed to encode credential: %w", err)
	}
	encrypted, err := s.encryptor.Encrypt(string(plaintext))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt credential: %w", err)
	}
	return encrypted, nil
}

// IsExpired reports whether the credential's expiry has passed.
func (s *Store) IsExpired(cred *aggregator.Credential) bool {
	return cred.ExpiresAt != nil && !cred.ExpiresAt.After(time.Now())
}

// ExpiresWithin reports whether the credential expires inside the lookahead
// window. Non-expiring credentials never do.
func (s *Store) ExpiresWithin(cred *aggregator.Credential, lookahead time.Duration) bool {
	return cred.ExpiresAt != nil && cred.ExpiresAt.Before(time.Now().Add(lookahead))
}

// Refresh obtains a fresh credential from the aggregator (refresh token, or
// re-authentication when none exists) and persists it.
func (s *Store) Refresh(ctx context.Context, connectionID int64) (*aggregator.Credential, error) {
	cred, err := s.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	refreshed, err := s.client.RefreshCredential(ctx, *cred)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh credential for connection %d: %w", connectionID, err)
	}

	if err := s.Save(ctx, connectionID, refreshed); err != nil {
		return nil, err
	}
	log.Printf("Connection %d: credential refreshed (%s -> %s)", connectionID, cred.Redacted(), refreshed.Redacted())
	return refreshed, nil
}

// Revoke discards the stored credential and marks the connection revoked.
func (s *Store) Revoke(ctx context.Context, connectionID int64) error {
	if err := s.connections.UpdateCredential(ctx, connectionID, "", nil); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	status := ledger.ConnectionRevoked
	return s.connections.Update(ctx, connectionID, ledger.ConnectionPatch{Status: &status})
}

func expiryForLog(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
