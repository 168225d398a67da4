package sync

import (
	"time"

	"firesync/internal/infrastructure/aggregator"
)

const (
	// initialBackfill bounds the first fetch for a connection with no cursor
	// and no stored transactions.
	initialBackfill = 365 * 24 * time.Hour
	// recoveryBackfill bounds the fallback fetch when the cursor is missing
	// but transactions already exist locally (symptom of an earlier
	// incomplete run).
	recoveryBackfill = 30 * 24 * time.Hour
)

// SelectWindow picks the transaction fetch window. Evaluated in order:
// explicit full-history request, incremental from the cursor, bounded initial
// backfill, and last the 30-day recovery fallback. The returned bool reports
// the fallback path so the run report can flag it.
func SelectWindow(fullHistory bool, cursor *time.Time, storedCount int, now time.Time) (aggregator.Window, bool) {
	if fullHistory {
		return aggregator.Window{FullHistory: true}, false
	}
	if cursor != nil {
		since := *cursor
		return aggregator.Window{Since: &since}, false
	}
	if storedCount == 0 {
		from := now.Add(-initialBackfill)
		return aggregator.Window{From: &from, To: &now}, false
	}
	// Cursor missing but transactions exist: an earlier run persisted data
	// without finalizing. Recover with a bounded lookback and flag it.
	from := now.Add(-recoveryBackfill)
	return aggregator.Window{From: &from, To: &now}, true
}
