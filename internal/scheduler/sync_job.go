package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"

	syncengine "firesync/internal/domain/sync"
)

// SyncJob runs one sync for one connection. It implements the Job interface.
type SyncJob struct {
	connectionID int64
	orchestrator *syncengine.Orchestrator
	options      syncengine.Options
	description  string
}

// NewSyncJob creates a regular incremental sync job.
func NewSyncJob(connectionID int64, orchestrator *syncengine.Orchestrator) *SyncJob {
	return &SyncJob{
		connectionID: connectionID,
		orchestrator: orchestrator,
		options:      syncengine.DefaultOptions(),
		description:  "sync",
	}
}

// NewRefreshJob creates a credential-refresh job. It forces a refresh and
// skips transactions, so the cursor stays where it is.
func NewRefreshJob(connectionID int64, orchestrator *syncengine.Orchestrator) *SyncJob {
	return &SyncJob{
		connectionID: connectionID,
		orchestrator: orchestrator,
		options: syncengine.Options{
			IncludeTransactions: false,
			ForceRefresh:        true,
		},
		description: "credential refresh",
	}
}

// Execute runs the sync. A run already in flight for the connection is not an
// error; the other run is doing the work.
func (j *SyncJob) Execute(ctx context.Context) error {
	report, err := j.orchestrator.Run(ctx, j.connectionID, j.options)
	if err != nil {
		if errors.Is(err, syncengine.ErrSyncInProgress) {
			log.Printf("Connection %d: %s skipped, run already in flight", j.connectionID, j.description)
			return nil
		}
		return fmt.Errorf("%s failed: %w", j.description, err)
	}

	if len(report.Errors) > 0 {
		log.Printf("Connection %d: %s finished %s with %d item errors",
			j.connectionID, j.description, report.Status, len(report.Errors))
	}
	return nil
}

func (j *SyncJob) ConnectionID() int64 { return j.connectionID }

func (j *SyncJob) Description() string { return j.description }
