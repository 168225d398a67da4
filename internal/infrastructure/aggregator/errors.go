package aggregator

import (
	"errors"
	"fmt"
)

// ErrorKind partitions provider failures the way the sync engine needs to
// react to them.
type ErrorKind string

const (
	// KindAuth covers 401-class responses: the credential is invalid or
	// expired. Callers get one reauth attempt before failing the run.
	KindAuth ErrorKind = "auth"
	// KindTransient covers timeouts, 408/429 and 5xx responses. Retried with
	// backoff before surfacing.
	KindTransient ErrorKind = "transient"
	// KindPermanent covers every other 4xx: retrying will not help.
	KindPermanent ErrorKind = "permanent"
)

// Error is a classified provider failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Op         string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("aggregator %s: %s (status %d)", e.Op, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("aggregator %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsAuth reports whether err is a 401-class provider failure.
func IsAuth(err error) bool { return hasKind(err, KindAuth) }

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool { return hasKind(err, KindTransient) }

// IsPermanent reports whether err is a non-retryable client error.
func IsPermanent(err error) bool { return hasKind(err, KindPermanent) }

func hasKind(err error, kind ErrorKind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}
