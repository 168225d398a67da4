// Package sync implements the synchronization and reconciliation engine: it
// merges fetched accounts and transactions into local storage under
// idempotence and conflict-resolution rules and drives full sync runs.
package sync

import (
	"context"
	"fmt"
	"log"

	"github.com/dgraph-io/ristretto"
	"github.com/shopspring/decimal"

	"firesync/internal/domain/ledger"
	"firesync/internal/infrastructure/aggregator"
)

// Reconciler applies idempotent upserts for accounts and transactions.
// Upserts for the same external id are safe under concurrent invocation; the
// store's unique constraints and guarded upserts are the authority, the
// in-process logic only decides counting and avoids spurious writes.
type Reconciler struct {
	accounts     ledger.AccountStore
	transactions ledger.TransactionStore
	cache        *ristretto.Cache
}

// NewReconciler creates a reconciler. The ristretto cache holds account rows
// keyed by (user, external account id) so the per-transaction account lookup
// does not hit the store for every item of a batch.
func NewReconciler(accounts ledger.AccountStore, transactions ledger.TransactionStore) (*Reconciler, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize account cache: %w", err)
	}
	return &Reconciler{
		accounts:     accounts,
		transactions: transactions,
		cache:        cache,
	}, nil
}

func accountCacheKey(userID int64, externalID string) string {
	return fmt.Sprintf("%d|%s", userID, externalID)
}

// ReconcileAccount upserts one account snapshot. All mutable fields are
// overwritten unconditionally; the aggregator is authoritative for account
// state on every pass. Returns whether the account was newly created.
func (r *Reconciler) ReconcileAccount(ctx context.Context, conn *ledger.Connection, apiAccount aggregator.Account) (bool, error) {
	balance, err := apiAccount.GetBalance()
	if err != nil {
		return false, fmt.Errorf("failed to parse balance: %w", err)
	}
	available, err := apiAccount.GetAvailableBalance()
	if err != nil {
		return false, fmt.Errorf("failed to parse available balance: %w", err)
	}

	existing, err := r.accounts.FindByExternalID(ctx, conn.UserID, apiAccount.ID)
	if err != nil {
		return false, fmt.Errorf("failed to check account existence: %w", err)
	}

	params := ledger.UpsertAccountParams{
		UserID:           conn.UserID,
		ConnectionID:     conn.ID,
		ExternalID:       apiAccount.ID,
		Name:             apiAccount.Name,
		AccountType:      apiAccount.Type,
		Subtype:          apiAccount.Subtype,
		Currency:         apiAccount.CurrencyCode,
		Balance:          balance,
		AvailableBalance: available,
		Metadata:         apiAccount.Metadata,
		Disabled:         apiAccount.Disabled,
	}

	account, err := r.accounts.Upsert(ctx, params)
	if err != nil {
		return false, fmt.Errorf("failed to upsert account: %w", err)
	}

	r.cache.Set(accountCacheKey(conn.UserID, apiAccount.ID), account, 1)
	return existing == nil, nil
}

// resolveAccount finds the local account owning a transaction, going through
// the cache first.
func (r *Reconciler) resolveAccount(ctx context.Context, userID int64, externalAccountID string) (*ledger.Account, error) {
	key := accountCacheKey(userID, externalAccountID)
	if cached, found := r.cache.Get(key); found {
		if account, ok := cached.(*ledger.Account); ok {
			return account, nil
		}
	}

	account, err := r.accounts.FindByExternalID(ctx, userID, externalAccountID)
	if err != nil {
		return nil, err
	}
	if account != nil {
		r.cache.Set(key, account, 1)
	}
	return account, nil
}

// ReconcileTransaction merges one fetched transaction into the ledger and
// updates the report counts. Per-item failures are recorded, never raised.
func (r *Reconciler) ReconcileTransaction(ctx context.Context, conn *ledger.Connection, apiTx aggregator.Transaction, report *Report) {
	if apiTx.ID == "" {
		report.Failed++
		report.addError("transaction with empty id rejected")
		return
	}

	params, err := r.buildParams(conn, apiTx)
	if err != nil {
		// Malformed item from the aggregator: skip this one, keep the batch.
		report.Failed++
		report.addError(fmt.Sprintf("transaction %s invalid: %v", apiTx.ID, err))
		log.Printf("Connection %d: skipping malformed transaction %s: %v", conn.ID, apiTx.ID, err)
		return
	}

	account, err := r.resolveAccount(ctx, conn.UserID, apiTx.AccountID)
	if err != nil {
		report.Failed++
		report.addError(fmt.Sprintf("transaction %s: account lookup failed: %v", apiTx.ID, err))
		return
	}
	if account == nil {
		// No matching local account: skipped, not failed.
		report.Skipped++
		log.Printf("Connection %d: skipping transaction %s: no local account for external id %s",
			conn.ID, apiTx.ID, apiTx.AccountID)
		return
	}
	params.AccountID = account.ID

	existing, err := r.transactions.FindByExternalID(ctx, conn.UserID, apiTx.ID)
	if err != nil {
		report.Failed++
		report.addError(fmt.Sprintf("transaction %s: lookup failed: %v", apiTx.ID, err))
		return
	}

	if existing != nil && !ShouldUpdate(existing, params) {
		// Nothing meaningfully different; leave the stored row untouched.
		report.Unchanged++
		return
	}

	if _, err := r.transactions.Upsert(ctx, params); err != nil {
		report.Failed++
		report.addError(fmt.Sprintf("transaction %s: upsert failed: %v", apiTx.ID, err))
		return
	}

	if existing == nil {
		report.Created++
	} else {
		report.Updated++
	}
}

func (r *Reconciler) buildParams(conn *ledger.Connection, apiTx aggregator.Transaction) (ledger.UpsertTransactionParams, error) {
	amount, err := apiTx.GetAmount()
	if err != nil {
		return ledger.UpsertTransactionParams{}, err
	}
	balanceAfter, err := apiTx.GetBalanceAfter()
	if err != nil {
		return ledger.UpsertTransactionParams{}, err
	}
	date, err := apiTx.GetDate()
	if err != nil {
		return ledger.UpsertTransactionParams{}, err
	}
	if date == nil {
		return ledger.UpsertTransactionParams{}, fmt.Errorf("transaction date is required")
	}
	updatedAt, err := apiTx.GetUpdatedAt()
	if err != nil {
		return ledger.UpsertTransactionParams{}, err
	}

	return ledger.UpsertTransactionParams{
		UserID:            conn.UserID,
		ExternalID:        apiTx.ID,
		ExternalAccountID: apiTx.AccountID,
		Amount:            amount,
		Currency:          apiTx.CurrencyCode,
		Date:              *date,
		Description:       apiTx.Description,
		Pending:           apiTx.Pending,
		Deleted:           apiTx.Deleted,
		Active:            apiTx.Active,
		BalanceAfter:      balanceAfter,
		ProviderUpdatedAt: updatedAt,
	}, nil
}

// ShouldUpdate decides whether an incoming transaction snapshot overwrites
// the stored row. True when the stored row has no last-modified timestamp,
// the incoming one is strictly newer, or any tracked field differs
// (pending/deleted/active flags, balance-after, amount, description).
//
// Note the rule ORs timestamp recency with field differences: a
// stale-timestamped update can still win when a tracked field differs. This
// matches the aggregator's observed behavior and is kept deliberately; see
// DESIGN.md before tightening it to strict last-writer-wins.
func ShouldUpdate(stored *ledger.Transaction, incoming ledger.UpsertTransactionParams) bool {
	if stored.ProviderUpdatedAt == nil {
		return true
	}
	if incoming.ProviderUpdatedAt != nil && incoming.ProviderUpdatedAt.After(*stored.ProviderUpdatedAt) {
		return true
	}
	if incoming.Pending != stored.Pending || incoming.Deleted != stored.Deleted || incoming.Active != stored.Active {
		return true
	}
	if !nullDecimalEqual(incoming.BalanceAfter, stored.BalanceAfter) {
		return true
	}
	if !incoming.Amount.Equal(stored.Amount) {
		return true
	}
	if incoming.Description != stored.Description {
		return true
	}
	return false
}

func nullDecimalEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	if !a.Valid {
		return true
	}
	return a.Decimal.Equal(b.Decimal)
}
