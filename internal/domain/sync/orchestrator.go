package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	gosync "sync"
	"time"

	"firesync/internal/domain/credential"
	"firesync/internal/domain/ledger"
	"firesync/internal/infrastructure/aggregator"
)

// Options tune a single run.
type Options struct {
	// FullHistory forces an unbounded fetch regardless of cursor state.
	FullHistory bool
	// IncludeTransactions controls whether the run fetches transactions. A
	// refresh-only run (false) touches credentials and accounts but never the
	// cursor.
	IncludeTransactions bool
	// ForceRefresh refreshes the credential even when it has not expired.
	ForceRefresh bool
}

// DefaultOptions is a regular incremental sync.
func DefaultOptions() Options {
	return Options{IncludeTransactions: true}
}

// Orchestrator drives full sync runs: credential acquisition, account
// enablement and persistence, window selection, transaction reconciliation
// and finalization. Runs are single-flight per connection.
type Orchestrator struct {
	client       aggregator.ClientInterface
	credentials  *credential.Store
	connections  ledger.ConnectionStore
	reconciler   *Reconciler
	transactions ledger.TransactionStore
	runs         ledger.RunStore

	mu       gosync.Mutex
	inflight map[int64]struct{}

	now func() time.Time
}

// NewOrchestrator creates a sync orchestrator.
func NewOrchestrator(
	client aggregator.ClientInterface,
	credentials *credential.Store,
	connections ledger.ConnectionStore,
	reconciler *Reconciler,
	transactions ledger.TransactionStore,
	runs ledger.RunStore,
) *Orchestrator {
	return &Orchestrator{
		client:       client,
		credentials:  credentials,
		connections:  connections,
		reconciler:   reconciler,
		transactions: transactions,
		runs:         runs,
		inflight:     make(map[int64]struct{}),
		now:          time.Now,
	}
}

func (o *Orchestrator) acquire(connectionID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, running := o.inflight[connectionID]; running {
		return false
	}
	o.inflight[connectionID] = struct{}{}
	return true
}

func (o *Orchestrator) release(connectionID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, connectionID)
}

// Run executes one sync for a connection. It always returns a report; the
// error is non-nil only for whole-run-fatal conditions (per-item failures
// accumulate in the report instead). A second Run for the same connection
// while one is in flight returns ErrSyncInProgress immediately.
func (o *Orchestrator) Run(ctx context.Context, connectionID int64, opts Options) (*Report, error) {
	if !o.acquire(connectionID) {
		return nil, fmt.Errorf("connection %d: %w", connectionID, ErrSyncInProgress)
	}
	defer o.release(connectionID)

	startedAt := o.now()
	report := newReport(connectionID, startedAt)

	conn, err := o.connections.GetByID(ctx, connectionID)
	if err != nil {
		if errors.Is(err, ledger.ErrConnectionNotFound) {
			return report, fatal(FatalConfig, err)
		}
		return report, fatal(FatalStore, fmt.Errorf("failed to load connection %d: %w", connectionID, err))
	}

	runErr := o.run(ctx, conn, opts, report)
	report.FinishedAt = o.now()

	if runErr != nil {
		report.Status = ledger.SyncFailed
		report.addError(runErr.Error())
		log.Printf("Connection %d: sync aborted: %v", conn.ID, runErr)
	} else {
		report.Status = report.classify()
		log.Printf("Connection %d: sync finished (%s): %d accounts, %d created, %d updated, %d unchanged, %d skipped, %d failed",
			conn.ID, report.Status, report.AccountsFound, report.Created, report.Updated,
			report.Unchanged, report.Skipped, report.Failed)
	}

	o.finalize(ctx, conn, opts, report)
	return report, runErr
}

// run walks the sync pipeline for one connection. Returned errors are always
// FatalError; everything recoverable is counted on the report.
func (o *Orchestrator) run(ctx context.Context, conn *ledger.Connection, opts Options, report *Report) error {
	cred, err := o.acquireCredential(ctx, conn, opts)
	if err != nil {
		return err
	}

	accounts, err := o.fetchAccounts(ctx, conn, cred)
	if err != nil {
		return err
	}

	accounts = o.enableAccounts(ctx, conn, cred, accounts, report)
	o.persistAccounts(ctx, conn, accounts, report)

	if !opts.IncludeTransactions {
		return nil
	}

	window, fallback := o.selectWindow(ctx, conn, opts)
	report.setWindow(window, fallback)
	if fallback {
		log.Printf("Connection %d: cursor missing with existing transactions, falling back to %s window",
			conn.ID, window.Kind())
	}

	transactions, err := o.fetchTransactions(ctx, conn, cred, window)
	if err != nil {
		return err
	}
	report.TransactionsFound = len(transactions)

	for _, tx := range transactions {
		o.reconciler.ReconcileTransaction(ctx, conn, tx, report)
	}
	return nil
}

// acquireCredential loads and decrypts the stored credential, refreshing it
// when expired or explicitly forced. Decryption failures fail closed; there
// is no path from an undecryptable blob to an API call.
func (o *Orchestrator) acquireCredential(ctx context.Context, conn *ledger.Connection, opts Options) (*aggregator.Credential, error) {
	cred, err := o.credentials.GetFor(conn)
	if err != nil {
		if errors.Is(err, credential.ErrNoCredential) {
			return nil, fatal(FatalConfig, err)
		}
		return nil, fatal(FatalConfig, fmt.Errorf("failed to acquire credential: %w", err))
	}

	if !opts.ForceRefresh && !o.credentials.IsExpired(cred) {
		return cred, nil
	}

	refreshed, err := o.credentials.Refresh(ctx, conn.ID)
	if err != nil {
		if aggregator.IsAuth(err) {
			return nil, fatal(FatalAuth, fmt.Errorf("credential refresh rejected: %w", err))
		}
		return nil, fatal(FatalProvider, fmt.Errorf("credential refresh failed: %w", err))
	}
	return refreshed, nil
}

// fetchAccounts lists all accounts, including disabled ones, with a single
// reauthentication retry on an auth failure.
func (o *Orchestrator) fetchAccounts(ctx context.Context, conn *ledger.Connection, cred *aggregator.Credential) ([]aggregator.Account, error) {
	accounts, err := o.client.ListAccounts(ctx, *cred, cred.ExternalUserRef, true)
	if err != nil && aggregator.IsAuth(err) {
		refreshed, refreshErr := o.credentials.Refresh(ctx, conn.ID)
		if refreshErr != nil {
			return nil, fatal(FatalAuth, fmt.Errorf("reauthentication failed: %w", refreshErr))
		}
		*cred = *refreshed
		accounts, err = o.client.ListAccounts(ctx, *cred, cred.ExternalUserRef, true)
	}
	if err != nil {
		if aggregator.IsAuth(err) {
			return nil, fatal(FatalAuth, fmt.Errorf("failed to list accounts: %w", err))
		}
		return nil, fatal(FatalProvider, fmt.Errorf("failed to list accounts: %w", err))
	}
	return accounts, nil
}

// enableAccounts asks the aggregator to enable every disabled account. Each
// failure is recorded and skipped; one refusal never blocks the rest. After
// any successful enablement the list is fetched once more so the run
// persists the converged state.
func (o *Orchestrator) enableAccounts(ctx context.Context, conn *ledger.Connection, cred *aggregator.Credential, accounts []aggregator.Account, report *Report) []aggregator.Account {
	enabled := 0
	for _, account := range accounts {
		if !account.Disabled {
			continue
		}
		report.AccountsDisabled++
		if err := o.client.EnableAccount(ctx, *cred, cred.ExternalUserRef, account.ID); err != nil {
			report.AccountsEnableFailed++
			report.addError(fmt.Sprintf("account %s: enable failed: %v", account.ID, err))
			log.Printf("Connection %d: failed to enable account %s: %v", conn.ID, account.ID, err)
			continue
		}
		enabled++
	}
	report.AccountsEnabled = enabled

	if enabled == 0 {
		return accounts
	}

	refetched, err := o.client.ListAccounts(ctx, *cred, cred.ExternalUserRef, true)
	if err != nil {
		// Keep the pre-enablement list; the enabled accounts land next run.
		log.Printf("Connection %d: re-fetch after enabling %d accounts failed: %v", conn.ID, enabled, err)
		return accounts
	}
	return refetched
}

func (o *Orchestrator) persistAccounts(ctx context.Context, conn *ledger.Connection, accounts []aggregator.Account, report *Report) {
	report.AccountsFound = len(accounts)
	for _, account := range accounts {
		created, err := o.reconciler.ReconcileAccount(ctx, conn, account)
		if err != nil {
			report.AccountsFailed++
			report.addError(fmt.Sprintf("account %s: %v", account.ID, err))
			log.Printf("Connection %d: failed to persist account %s: %v", conn.ID, account.ID, err)
			continue
		}
		if created {
			log.Printf("Connection %d: discovered account %s", conn.ID, account.ID)
		}
	}
}

func (o *Orchestrator) selectWindow(ctx context.Context, conn *ledger.Connection, opts Options) (aggregator.Window, bool) {
	if opts.FullHistory {
		return SelectWindow(true, nil, 0, o.now())
	}
	storedCount := 0
	if conn.Cursor == nil {
		count, err := o.transactions.CountByConnection(ctx, conn.ID)
		if err != nil {
			// Counting is advisory; treat as empty and take the bounded
			// initial backfill.
			log.Printf("Connection %d: failed to count stored transactions: %v", conn.ID, err)
		} else {
			storedCount = count
		}
	}
	return SelectWindow(false, conn.Cursor, storedCount, o.now())
}

func (o *Orchestrator) fetchTransactions(ctx context.Context, conn *ledger.Connection, cred *aggregator.Credential, window aggregator.Window) ([]aggregator.Transaction, error) {
	transactions, err := o.client.ListTransactions(ctx, *cred, cred.ExternalUserRef, window)
	if err != nil && aggregator.IsAuth(err) {
		refreshed, refreshErr := o.credentials.Refresh(ctx, conn.ID)
		if refreshErr != nil {
			return nil, fatal(FatalAuth, fmt.Errorf("reauthentication failed: %w", refreshErr))
		}
		*cred = *refreshed
		transactions, err = o.client.ListTransactions(ctx, *cred, cred.ExternalUserRef, window)
	}
	if err != nil {
		if aggregator.IsAuth(err) {
			return nil, fatal(FatalAuth, fmt.Errorf("failed to list transactions: %w", err))
		}
		return nil, fatal(FatalProvider, fmt.Errorf("failed to list transactions: %w", err))
	}
	return transactions, nil
}

// finalize records the run and updates connection sync state. It runs even
// when the request context is already cancelled so an interrupted run still
// leaves an accurate trail.
func (o *Orchestrator) finalize(ctx context.Context, conn *ledger.Connection, opts Options, report *Report) {
	ctx = context.WithoutCancel(ctx)

	var message *string
	if len(report.Errors) > 0 {
		message = &report.Errors[0]
	}
	if err := o.connections.SetSyncStatus(ctx, conn.ID, report.Status, message); err != nil {
		log.Printf("Connection %d: failed to record sync status: %v", conn.ID, err)
	}

	now := o.now()
	patch := ledger.ConnectionPatch{LastSyncedAt: &now}
	if report.Status != ledger.SyncFailed {
		patch.LastSuccessAt = &now
	}
	if err := o.connections.Update(ctx, conn.ID, patch); err != nil {
		log.Printf("Connection %d: failed to update sync timestamps: %v", conn.ID, err)
	}

	// The cursor only moves when transaction data was actually incorporated.
	// A failed run, or a refresh-only run, leaves it untouched so the next
	// incremental fetch re-covers the gap.
	if opts.IncludeTransactions && report.Status != ledger.SyncFailed {
		if err := o.connections.SetCursor(ctx, conn.ID, report.StartedAt); err != nil {
			log.Printf("Connection %d: failed to advance cursor: %v", conn.ID, err)
		} else {
			report.CursorAdvanced = true
		}
	}

	if err := o.runs.Record(ctx, report.toRun()); err != nil {
		log.Printf("Connection %d: failed to record sync run: %v", conn.ID, err)
	}
}
