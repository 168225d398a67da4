package aggregator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Credential is an aggregator-issued token authorizing API calls on a user's
// behalf. ExpiresAt is nil for non-expiring tokens.
type Credential struct {
	Token           string     `json:"token"`
	RefreshToken    string     `json:"refreshToken,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	ExternalUserRef string     `json:"userRef"`
}

// Redacted returns a log-safe preview of the token. The plaintext value must
// never reach a log line.
func (c Credential) Redacted() string {
	if len(c.Token) <= 8 {
		return "****"
	}
	return c.Token[:4] + "…" + c.Token[len(c.Token)-4:]
}

// Connection represents one bank link as reported by the aggregator.
type Connection struct {
	ID              string `json:"id"`
	ConnectorID     string `json:"connectorId"`
	Status          string `json:"status"`
	ExternalUserRef string `json:"userRef"`
	CreatedAt       string `json:"createdAt"`
}

// Account represents a bank account as reported by the aggregator.
// Monetary fields come over the wire as strings.
type Account struct {
	ID                     string          `json:"id"`
	Name                   string          `json:"name"`
	Type                   string          `json:"type"`
	Subtype                string          `json:"subtype"`
	CurrencyCode           string          `json:"currencyCode"`
	BalanceString          string          `json:"balance"`
	AvailableBalanceString *string         `json:"availableBalance"`
	Disabled               bool            `json:"disabled"`
	Metadata               json.RawMessage `json:"metadata,omitempty"`
}

// GetBalance returns the balance as a decimal.
func (a *Account) GetBalance() (decimal.Decimal, error) {
	if a.BalanceString == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(a.BalanceString)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance '%s': %w", a.BalanceString, err)
	}
	return d, nil
}

// GetAvailableBalance returns the available balance if the aggregator sent one.
func (a *Account) GetAvailableBalance() (decimal.NullDecimal, error) {
	if a.AvailableBalanceString == nil || *a.AvailableBalanceString == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*a.AvailableBalanceString)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("failed to parse availableBalance '%s': %w", *a.AvailableBalanceString, err)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

// Transaction represents a ledger entry as reported by the aggregator.
type Transaction struct {
	ID                 string  `json:"id"`
	AccountID          string  `json:"accountId"`
	AmountString       string  `json:"amount"`
	CurrencyCode       string  `json:"currencyCode"`
	DateString         string  `json:"date"`
	Description        string  `json:"description"`
	Pending            bool    `json:"pending"`
	Deleted            bool    `json:"deleted"`
	Active             bool    `json:"active"`
	BalanceAfterString *string `json:"balanceAfter"`
	UpdatedAtString    string  `json:"updatedAt"`
}

// GetAmount returns the amount as a decimal.
func (t *Transaction) GetAmount() (decimal.Decimal, error) {
	if t.AmountString == "" {
		return decimal.Zero, fmt.Errorf("transaction amount is required")
	}
	d, err := decimal.NewFromString(t.AmountString)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount '%s': %w", t.AmountString, err)
	}
	return d, nil
}

// GetBalanceAfter returns the post-transaction balance if present.
func (t *Transaction) GetBalanceAfter() (decimal.NullDecimal, error) {
	if t.BalanceAfterString == nil || *t.BalanceAfterString == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*t.BalanceAfterString)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("failed to parse balanceAfter '%s': %w", *t.BalanceAfterString, err)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

// GetDate parses and returns the transaction date.
func (t *Transaction) GetDate() (*time.Time, error) {
	if t.DateString == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, t.DateString)
	if err != nil {
		parsed, err = time.Parse("2006-01-02", t.DateString)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date '%s': %w", t.DateString, err)
		}
	}
	return &parsed, nil
}

// GetUpdatedAt parses the aggregator's own last-modified timestamp.
func (t *Transaction) GetUpdatedAt() (*time.Time, error) {
	if t.UpdatedAtString == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, t.UpdatedAtString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updatedAt '%s': %w", t.UpdatedAtString, err)
	}
	return &parsed, nil
}

// Window bounds a transaction fetch. Exactly one form is set: full history,
// incremental since a cursor, or an explicit date range.
type Window struct {
	FullHistory bool
	Since       *time.Time
	From        *time.Time
	To          *time.Time
}

// Kind names the window form for run reports.
func (w Window) Kind() string {
	switch {
	case w.FullHistory:
		return "full_history"
	case w.Since != nil:
		return "incremental"
	default:
		return "range"
	}
}
