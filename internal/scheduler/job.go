// Package scheduler runs the recurring sync, refresh and housekeeping jobs
// over a bounded worker pool.
package scheduler

import "context"

// Job represents a unit of work that can be executed by the worker pool.
type Job interface {
	// Execute runs the job with the given context.
	// Context should be respected for cancellation and timeouts.
	Execute(ctx context.Context) error

	// ConnectionID returns the connection this job operates on, 0 for jobs
	// not tied to a single connection.
	ConnectionID() int64

	// Description returns a human-readable description of the job.
	// Used for logging purposes.
	Description() string
}
