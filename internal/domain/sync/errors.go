package sync

import (
	"errors"
	"fmt"
)

// ErrSyncInProgress is returned when a run is requested for a connection that
// already has one in flight. Runs are single-flight per connection.
var ErrSyncInProgress = errors.New("sync already in progress for connection")

// FatalKind names a whole-run-fatal condition. Per-item failures never carry
// one of these; they accumulate in the run report instead.
type FatalKind string

const (
	// FatalAuth: credential invalid or expired and unrefreshable after the
	// single allowed reauth attempt.
	FatalAuth FatalKind = "auth"
	// FatalStore: the ledger store itself is unreachable.
	FatalStore FatalKind = "store"
	// FatalConfig: required setup missing (e.g. no credential at all),
	// detected before any network call.
	FatalConfig FatalKind = "config"
	// FatalProvider: the aggregator rejected the run outright (permanent
	// error, or transient retries exhausted) before any item was processed.
	FatalProvider FatalKind = "provider"
)

// FatalError aborts a run. It is the only error class allowed to propagate
// out of the orchestrator's item loops.
type FatalError struct {
	Kind FatalKind
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("sync aborted (%s): %v", e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatal(kind FatalKind, err error) *FatalError {
	return &FatalError{Kind: kind, Err: err}
}

// IsFatal reports whether err is whole-run-fatal and, if so, its kind.
func IsFatal(err error) (FatalKind, bool) {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}
