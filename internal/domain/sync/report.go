package sync

import (
	"fmt"
	"time"

	"firesync/internal/domain/ledger"
	"firesync/internal/infrastructure/aggregator"
)

// Report summarizes one sync run. Every sync entry point returns one; a
// single bad item never crashes the caller.
type Report struct {
	ConnectionID int64             `json:"connectionId"`
	Status       ledger.SyncStatus `json:"status"`

	WindowKind     string `json:"windowKind,omitempty"`
	WindowFallback bool   `json:"windowFallback,omitempty"`

	AccountsFound        int `json:"accountsFound"`
	AccountsDisabled     int `json:"accountsDisabled"`
	AccountsEnabled      int `json:"accountsEnabled"`
	AccountsEnableFailed int `json:"accountsEnableFailed"`
	AccountsFailed       int `json:"accountsFailed"`

	TransactionsFound int `json:"transactionsFound"`
	Created           int `json:"created"`
	Updated           int `json:"updated"`
	Unchanged         int `json:"unchanged"`
	Skipped           int `json:"skipped"`
	Failed            int `json:"failed"`

	CursorAdvanced bool     `json:"cursorAdvanced"`
	Errors         []string `json:"errors"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

func newReport(connectionID int64, startedAt time.Time) *Report {
	return &Report{
		ConnectionID: connectionID,
		StartedAt:    startedAt,
		Errors:       []string{},
	}
}

func (r *Report) addError(msg string) {
	r.Errors = append(r.Errors, msg)
}

func (r *Report) setWindow(w aggregator.Window, fallback bool) {
	r.WindowKind = w.Kind()
	r.WindowFallback = fallback
}

// classify applies the run-outcome thresholds: failed when at least half of
// the fetched transactions failed, partial_success when some items failed but
// fewer than half, success otherwise. Account-level failures alone degrade a
// run to partial_success, never to failed.
func (r *Report) classify() ledger.SyncStatus {
	if r.TransactionsFound > 0 && r.Failed*2 >= r.TransactionsFound {
		return ledger.SyncFailed
	}
	if r.Failed > 0 || r.AccountsFailed > 0 || r.AccountsEnableFailed > 0 {
		return ledger.SyncPartialSuccess
	}
	return ledger.SyncSuccess
}

// toRun converts the report into its persisted form.
func (r *Report) toRun() *ledger.SyncRun {
	run := &ledger.SyncRun{
		ConnectionID:         r.ConnectionID,
		Status:               r.Status,
		WindowKind:           r.WindowKind,
		WindowFallback:       r.WindowFallback,
		AccountsFound:        r.AccountsFound,
		AccountsEnabled:      r.AccountsEnabled,
		AccountsEnableFailed: r.AccountsEnableFailed,
		AccountsFailed:       r.AccountsFailed,
		TransactionsFound:    r.TransactionsFound,
		Created:              r.Created,
		Updated:              r.Updated,
		Unchanged:            r.Unchanged,
		Skipped:              r.Skipped,
		Failed:               r.Failed,
		StartedAt:            r.StartedAt,
		FinishedAt:           r.FinishedAt,
	}
	if len(r.Errors) > 0 {
		msg := r.Errors[0]
		if len(r.Errors) > 1 {
			msg = fmt.Sprintf("%s (and %d more)", msg, len(r.Errors)-1)
		}
		run.Error = &msg
	}
	return run
}
