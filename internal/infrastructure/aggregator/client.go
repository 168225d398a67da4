// Package aggregator wraps outbound calls to the external financial-data
// aggregator API.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultTimeout   = 60 * time.Second
	maxAttempts      = 3
	initialBackoff   = 500 * time.Millisecond
	authPath         = "/auth/token"
	refreshPath      = "/auth/refresh"
	connectionsPath  = "/connections"
	accountsPath     = "/users/%s/accounts"
	enablePath       = "/users/%s/accounts/%s/enable"
	transactionsPath = "/users/%s/transactions"
)

// Client handles communication with the aggregator API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// Config carries the client's connection settings.
type Config struct {
	BaseURL  string
	ClientID string
	Secret   string
	Timeout  time.Duration
}

// NewClient creates a new aggregator API client with a bounded per-request
// timeout.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		clientID:   cfg.ClientID,
		secret:     cfg.Secret,
	}
}

// envelope is the aggregator's standard response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// Authenticate issues a fresh credential for the given external user
// reference using the client's API keys.
func (c *Client) Authenticate(ctx context.Context, userRef string) (*Credential, error) {
	body := map[string]string{
		"clientId": c.clientID,
		"secret":   c.secret,
		"userRef":  userRef,
	}
	var cred Credential
	if err := c.do(ctx, http.MethodPost, authPath, "", body, &cred); err != nil {
		return nil, err
	}
	if cred.ExternalUserRef == "" {
		cred.ExternalUserRef = userRef
	}
	return &cred, nil
}

// ListConnections fetches all connections visible to the credential.
func (c *Client) ListConnections(ctx context.Context, cred Credential) ([]Connection, error) {
	var connections []Connection
	if err := c.do(ctx, http.MethodGet, connectionsPath, cred.Token, nil, &connections); err != nil {
		return nil, err
	}
	return connections, nil
}

// ListAccounts fetches the user's accounts. With includeDisabled the
// aggregator also reports accounts it is withholding pending consent.
func (c *Client) ListAccounts(ctx context.Context, cred Credential, userRef string, includeDisabled bool) ([]Account, error) {
	path := fmt.Sprintf(accountsPath, url.PathEscape(userRef))
	if includeDisabled {
		path += "?includeDisabled=true"
	}
	var accounts []Account
	if err := c.do(ctx, http.MethodGet, path, cred.Token, nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// EnableAccount asks the aggregator to start delivering data for one withheld
// account. Each call stands alone; a failure must not abort sibling enables.
func (c *Client) EnableAccount(ctx context.Context, cred Credential, userRef, accountID string) error {
	path := fmt.Sprintf(enablePath, url.PathEscape(userRef), url.PathEscape(accountID))
	return c.do(ctx, http.MethodPost, path, cred.Token, nil, nil)
}

// ListTransactions fetches transactions within the given window. Incremental
// fetches include soft-deleted items so removals propagate.
func (c *Client) ListTransactions(ctx context.Context, cred Credential, userRef string, window Window) ([]Transaction, error) {
	q := url.Values{}
	switch {
	case window.FullHistory:
		q.Set("fullHistory", "true")
	case window.Since != nil:
		q.Set("since", window.Since.UTC().Format(time.RFC3339))
		q.Set("includeDeleted", "true")
	default:
		if window.From != nil {
			q.Set("from", window.From.UTC().Format("2006-01-02"))
		}
		if window.To != nil {
			q.Set("to", window.To.UTC().Format("2006-01-02"))
		}
	}
	path := fmt.Sprintf(transactionsPath, url.PathEscape(userRef)) + "?" + q.Encode()
	var transactions []Transaction
	if err := c.do(ctx, http.MethodGet, path, cred.Token, nil, &transactions); err != nil {
		return nil, err
	}
	return transactions, nil
}

// CreateConnection registers a new bank connection for the credential's user.
func (c *Client) CreateConnection(ctx context.Context, cred Credential, connectorID string, fields map[string]string) (*Connection, error) {
	body := map[string]any{
		"connectorId": connectorID,
		"fields":      fields,
	}
	var connection Connection
	if err := c.do(ctx, http.MethodPost, connectionsPath, cred.Token, body, &connection); err != nil {
		return nil, err
	}
	return &connection, nil
}

// RefreshCredential exchanges the refresh token for a new credential. When the
// credential has no refresh token it re-authenticates from scratch.
func (c *Client) RefreshCredential(ctx context.Context, cred Credential) (*Credential, error) {
	if cred.RefreshToken == "" {
		log.Printf("Aggregator: credential %s has no refresh token, re-authenticating", cred.Redacted())
		return c.Authenticate(ctx, cred.ExternalUserRef)
	}
	body := map[string]string{"refreshToken": cred.RefreshToken}
	var refreshed Credential
	if err := c.do(ctx, http.MethodPost, refreshPath, cred.Token, body, &refreshed); err != nil {
		return nil, err
	}
	if refreshed.ExternalUserRef == "" {
		refreshed.ExternalUserRef = cred.ExternalUserRef
	}
	return &refreshed, nil
}

// do executes one API call with bounded retries for transient failures and
// maps HTTP status codes onto the error taxonomy.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var lastErr error
	backoff := initialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return &Error{Kind: KindTransient, Op: path, Message: "context cancelled during retry", Err: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		err := c.doOnce(ctx, method, path, token, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return err
		}
		log.Printf("Aggregator: transient failure on %s %s (attempt %d/%d): %v", method, path, attempt, maxAttempts, err)
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection resets are retryable.
		return &Error{Kind: KindTransient, Op: path, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindTransient, Op: path, StatusCode: resp.StatusCode, Message: "failed to read response body", Err: err}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		var env envelope
		message := string(raw)
		if jsonErr := json.Unmarshal(raw, &env); jsonErr == nil && env.Message != "" {
			message = fmt.Sprintf("%s - %s", env.Error, env.Message)
		}
		return &Error{Kind: kindForStatus(resp.StatusCode), Op: path, StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &Error{Kind: KindPermanent, Op: path, StatusCode: resp.StatusCode, Message: "failed to unmarshal response", Err: err}
	}
	if !env.Success {
		return &Error{Kind: KindPermanent, Op: path, StatusCode: resp.StatusCode, Message: "API returned success=false"}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{Kind: KindPermanent, Op: path, StatusCode: resp.StatusCode, Message: "failed to unmarshal response data", Err: err}
	}
	return nil
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}
