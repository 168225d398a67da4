package sync

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"firesync/internal/domain/ledger"
	"firesync/internal/infrastructure/aggregator"
)

func TestShouldUpdate(t *testing.T) {
	older := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)

	base := func() *ledger.Transaction {
		return &ledger.Transaction{
			Amount:            decimal.NewFromFloat(25.50),
			Description:       "Grocery Store",
			Pending:           false,
			Deleted:           false,
			Active:            true,
			BalanceAfter:      decimal.NullDecimal{Decimal: decimal.NewFromInt(100), Valid: true},
			ProviderUpdatedAt: &older,
		}
	}
	incoming := func() ledger.UpsertTransactionParams {
		return ledger.UpsertTransactionParams{
			Amount:            decimal.NewFromFloat(25.50),
			Description:       "Grocery Store",
			Pending:           false,
			Deleted:           false,
			Active:            true,
			BalanceAfter:      decimal.NullDecimal{Decimal: decimal.NewFromInt(100), Valid: true},
			ProviderUpdatedAt: &older,
		}
	}

	tests := []struct {
		name     string
		stored   func() *ledger.Transaction
		incoming func() ledger.UpsertTransactionParams
		want     bool
	}{
		{
			name:     "identical snapshot does not update",
			stored:   base,
			incoming: incoming,
			want:     false,
		},
		{
			name: "stored row without timestamp always updates",
			stored: func() *ledger.Transaction {
				s := base()
				s.ProviderUpdatedAt = nil
				return s
			},
			incoming: incoming,
			want:     true,
		},
		{
			name:   "newer provider timestamp updates",
			stored: base,
			incoming: func() ledger.UpsertTransactionParams {
				p := incoming()
				p.ProviderUpdatedAt = &newer
				return p
			},
			want: true,
		},
		{
			name:   "pending flip updates even with stale timestamp",
			stored: base,
			incoming: func() ledger.UpsertTransactionParams {
				p := incoming()
				p.Pending = true
				return p
			},
			want: true,
		},
		{
			name:   "deleted flip updates",
			stored: base,
			incoming: func() ledger.UpsertTransactionParams {
				p := incoming()
				p.Deleted = true
				return p
			},
			want: true,
		},
		{
			name:   "active flip updates",
			stored: base,
			incoming: func() ledger.UpsertTransactionParams {
				p := incoming()
				p.Active = false
				return p
			},
			want: true,
		},
		{
			name:   "balance after change updates",
			stored: base,
			incoming: func() ledger.UpsertTransactionParams {
				p := incoming()
				p.BalanceAfter = decimal.NullDecimal{Decimal: decimal.NewFromInt(75), Valid: true}
				return p
			},
			want: true,
		},
		{
			name:   "balance after appearing updates",
			stored: base,
			incoming: func() ledger.UpsertTransactionParams {
				p := incoming()
				p.BalanceAfter = decimal.NullDecimal{}
				return p
			},
			want: true,
		},
		{
			name:   "amount change updates",
			stored: base,
			incoming: func() ledger.UpsertTransactionParams {
				p := incoming()
				p.Amount = decimal.NewFromFloat(26.00)
				return p
			},
			want: true,
		},
		{
			name:   "amount with different exponent but equal value does not update",
			stored: base,
			incoming: func() ledger.UpsertTransactionParams {
				p := incoming()
				p.Amount = decimal.RequireFromString("25.5000")
				return p
			},
			want: false,
		},
		{
			name:   "description change updates",
			stored: base,
			incoming: func() ledger.UpsertTransactionParams {
				p := incoming()
				p.Description = "GROCERY STORE #42"
				return p
			},
			want: true,
		},
		{
			name:   "older timestamp with identical fields does not update",
			stored: base,
			incoming: func() ledger.UpsertTransactionParams {
				p := incoming()
				early := older.Add(-time.Hour)
				p.ProviderUpdatedAt = &early
				return p
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldUpdate(tt.stored(), tt.incoming())
			if got != tt.want {
				t.Errorf("ShouldUpdate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func apiTransaction(id string) aggregator.Transaction {
	return aggregator.Transaction{
		ID:              id,
		AccountID:       "acc-ext-1",
		AmountString:    "10.00",
		CurrencyCode:    "USD",
		DateString:      "2025-06-01T10:00:00Z",
		Description:     "Coffee",
		Active:          true,
		UpdatedAtString: "2025-06-01T10:00:00Z",
	}
}

func TestReconcileTransaction(t *testing.T) {
	ctx := context.Background()
	conn := &ledger.Connection{ID: 7, UserID: 3}
	account := &ledger.Account{ID: 11, UserID: 3, ExternalID: "acc-ext-1"}

	t.Run("new transaction is created", func(t *testing.T) {
		accounts := &MockAccountStore{
			FindByExternalIDFunc: func(ctx context.Context, userID int64, externalID string) (*ledger.Account, error) {
				return account, nil
			},
		}
		upserts := 0
		transactions := &MockTransactionStore{
			UpsertFunc: func(ctx context.Context, params ledger.UpsertTransactionParams) (*ledger.Transaction, error) {
				upserts++
				if params.AccountID != account.ID {
					t.Errorf("AccountID = %d, want %d", params.AccountID, account.ID)
				}
				return &ledger.Transaction{ID: 1}, nil
			},
		}

		r, err := NewReconciler(accounts, transactions)
		if err != nil {
			t.Fatalf("NewReconciler: %v", err)
		}
		report := newReport(conn.ID, time.Now())
		r.ReconcileTransaction(ctx, conn, apiTransaction("tx-1"), report)

		if report.Created != 1 || report.Failed != 0 || report.Skipped != 0 {
			t.Errorf("counts = created %d failed %d skipped %d, want 1/0/0",
				report.Created, report.Failed, report.Skipped)
		}
		if upserts != 1 {
			t.Errorf("upserts = %d, want 1", upserts)
		}
	})

	t.Run("identical existing transaction is unchanged and not written", func(t *testing.T) {
		updatedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
		stored := &ledger.Transaction{
			ID:                1,
			UserID:            3,
			AccountID:         11,
			ExternalID:        "tx-1",
			Amount:            decimal.RequireFromString("10.00"),
			Description:       "Coffee",
			Active:            true,
			ProviderUpdatedAt: &updatedAt,
		}
		accounts := &MockAccountStore{
			FindByExternalIDFunc: func(ctx context.Context, userID int64, externalID string) (*ledger.Account, error) {
				return account, nil
			},
		}
		upserts := 0
		transactions := &MockTransactionStore{
			FindByExternalIDFunc: func(ctx context.Context, userID int64, externalID string) (*ledger.Transaction, error) {
				return stored, nil
			},
			UpsertFunc: func(ctx context.Context, params ledger.UpsertTransactionParams) (*ledger.Transaction, error) {
				upserts++
				return stored, nil
			},
		}

		r, err := NewReconciler(accounts, transactions)
		if err != nil {
			t.Fatalf("NewReconciler: %v", err)
		}
		report := newReport(conn.ID, time.Now())
		r.ReconcileTransaction(ctx, conn, apiTransaction("tx-1"), report)
		// Same snapshot twice: still a single no-op.
		r.ReconcileTransaction(ctx, conn, apiTransaction("tx-1"), report)

		if report.Unchanged != 2 || report.Created != 0 || report.Updated != 0 {
			t.Errorf("counts = unchanged %d created %d updated %d, want 2/0/0",
				report.Unchanged, report.Created, report.Updated)
		}
		if upserts != 0 {
			t.Errorf("upserts = %d, want 0", upserts)
		}
	})

	t.Run("transaction without matching account is skipped", func(t *testing.T) {
		accounts := &MockAccountStore{
			FindByExternalIDFunc: func(ctx context.Context, userID int64, externalID string) (*ledger.Account, error) {
				return nil, nil
			},
		}
		transactions := &MockTransactionStore{
			UpsertFunc: func(ctx context.Context, params ledger.UpsertTransactionParams) (*ledger.Transaction, error) {
				t.Error("upsert should not be called for an unmatched account")
				return nil, nil
			},
		}

		r, err := NewReconciler(accounts, transactions)
		if err != nil {
			t.Fatalf("NewReconciler: %v", err)
		}
		report := newReport(conn.ID, time.Now())
		r.ReconcileTransaction(ctx, conn, apiTransaction("tx-orphan"), report)

		if report.Skipped != 1 || report.Failed != 0 {
			t.Errorf("skipped = %d failed = %d, want 1/0", report.Skipped, report.Failed)
		}
		if len(report.Errors) != 0 {
			t.Errorf("errors recorded for a skip: %v", report.Errors)
		}
	})

	t.Run("malformed amount is counted failed with an error", func(t *testing.T) {
		r, err := NewReconciler(&MockAccountStore{}, &MockTransactionStore{})
		if err != nil {
			t.Fatalf("NewReconciler: %v", err)
		}
		bad := apiTransaction("tx-bad")
		bad.AmountString = "not-a-number"

		report := newReport(conn.ID, time.Now())
		r.ReconcileTransaction(ctx, conn, bad, report)

		if report.Failed != 1 {
			t.Errorf("failed = %d, want 1", report.Failed)
		}
		if len(report.Errors) != 1 {
			t.Errorf("errors = %v, want one entry", report.Errors)
		}
	})

	t.Run("empty external id is rejected", func(t *testing.T) {
		r, err := NewReconciler(&MockAccountStore{}, &MockTransactionStore{})
		if err != nil {
			t.Fatalf("NewReconciler: %v", err)
		}
		report := newReport(conn.ID, time.Now())
		r.ReconcileTransaction(ctx, conn, apiTransaction(""), report)

		if report.Failed != 1 {
			t.Errorf("failed = %d, want 1", report.Failed)
		}
	})
}

func TestReconcileAccount(t *testing.T) {
	ctx := context.Background()
	conn := &ledger.Connection{ID: 7, UserID: 3}

	apiAccount := aggregator.Account{
		ID:            "acc-ext-1",
		Name:          "Checking",
		Type:          "BANK",
		Subtype:       "CHECKING_ACCOUNT",
		CurrencyCode:  "USD",
		BalanceString: "1250.75",
	}

	t.Run("unknown account reports created", func(t *testing.T) {
		accounts := &MockAccountStore{
			FindByExternalIDFunc: func(ctx context.Context, userID int64, externalID string) (*ledger.Account, error) {
				return nil, nil
			},
			UpsertFunc: func(ctx context.Context, params ledger.UpsertAccountParams) (*ledger.Account, error) {
				if !params.Balance.Equal(decimal.RequireFromString("1250.75")) {
					t.Errorf("Balance = %s, want 1250.75", params.Balance)
				}
				return &ledger.Account{ID: 11, UserID: 3, ExternalID: "acc-ext-1"}, nil
			},
		}
		r, err := NewReconciler(accounts, &MockTransactionStore{})
		if err != nil {
			t.Fatalf("NewReconciler: %v", err)
		}

		created, err := r.ReconcileAccount(ctx, conn, apiAccount)
		if err != nil {
			t.Fatalf("ReconcileAccount: %v", err)
		}
		if !created {
			t.Error("created = false, want true")
		}
	})

	t.Run("known account reports updated", func(t *testing.T) {
		accounts := &MockAccountStore{
			FindByExternalIDFunc: func(ctx context.Context, userID int64, externalID string) (*ledger.Account, error) {
				return &ledger.Account{ID: 11, UserID: 3, ExternalID: "acc-ext-1"}, nil
			},
		}
		r, err := NewReconciler(accounts, &MockTransactionStore{})
		if err != nil {
			t.Fatalf("NewReconciler: %v", err)
		}

		created, err := r.ReconcileAccount(ctx, conn, apiAccount)
		if err != nil {
			t.Fatalf("ReconcileAccount: %v", err)
		}
		if created {
			t.Error("created = true, want false")
		}
	})

	t.Run("unparsable balance is an error", func(t *testing.T) {
		r, err := NewReconciler(&MockAccountStore{}, &MockTransactionStore{})
		if err != nil {
			t.Fatalf("NewReconciler: %v", err)
		}
		bad := apiAccount
		bad.BalanceString = "NaN-ish"

		if _, err := r.ReconcileAccount(ctx, conn, bad); err == nil {
			t.Error("expected error for unparsable balance")
		}
	})
}
