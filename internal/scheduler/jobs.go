package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/metric"

	"firesync/internal/domain/ledger"
	syncengine "firesync/internal/domain/sync"
)

var (
	statConnections, _  = jobMeter.Int64Gauge("firesync.connections", metric.WithDescription("Known connections"))
	statActive, _       = jobMeter.Int64Gauge("firesync.connections.active", metric.WithDescription("Connections in ACTIVE state"))
	statFailing, _      = jobMeter.Int64Gauge("firesync.connections.failing", metric.WithDescription("Connections whose last run failed"))
	statAccounts, _     = jobMeter.Int64Gauge("firesync.accounts", metric.WithDescription("Stored accounts"))
	statTransactions, _ = jobMeter.Int64Gauge("firesync.transactions", metric.WithDescription("Stored transactions"))
	statRuns24h, _      = jobMeter.Int64Gauge("firesync.runs.last24h", metric.WithDescription("Sync runs in the last 24 hours"))
)

// JobSet builds the recurring job families from the sync engine and stores.
type JobSet struct {
	orchestrator *syncengine.Orchestrator
	connections  ledger.ConnectionStore
	runs         ledger.RunStore

	// StalenessThreshold is how old a connection's last success may get
	// before the health check forces a sync.
	StalenessThreshold time.Duration
	// RefreshLookahead is how far ahead of expiry the token sweep refreshes
	// credentials.
	RefreshLookahead time.Duration
	// RunRetention is how long finished run records are kept.
	RunRetention time.Duration
}

// NewJobSet creates the job families with their default horizons.
func NewJobSet(orchestrator *syncengine.Orchestrator, connections ledger.ConnectionStore, runs ledger.RunStore) *JobSet {
	return &JobSet{
		orchestrator:       orchestrator,
		connections:        connections,
		runs:               runs,
		StalenessThreshold: 24 * time.Hour,
		RefreshLookahead:   1 * time.Hour,
		RunRetention:       30 * 24 * time.Hour,
	}
}

// Intervals configures how often each job family fires.
type Intervals struct {
	FullSweep    time.Duration
	HealthCheck  time.Duration
	TokenRefresh time.Duration
	Housekeeping time.Duration
}

// Descriptors returns the four recurring job families.
func (js *JobSet) Descriptors(iv Intervals) []JobDescriptor {
	return []JobDescriptor{
		{Name: "full-sweep", Interval: iv.FullSweep, Produce: js.fullSweep},
		{Name: "health-check", Interval: iv.HealthCheck, Produce: js.healthCheck},
		{Name: "token-refresh", Interval: iv.TokenRefresh, Produce: js.tokenRefresh},
		{Name: "housekeeping", Interval: iv.Housekeeping, Produce: js.housekeeping},
	}
}

// fullSweep schedules a sync for every sync-enabled connection.
func (js *JobSet) fullSweep(ctx context.Context) ([]Job, error) {
	connections, err := js.connections.ListSyncEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync-enabled connections: %w", err)
	}

	jobs := make([]Job, 0, len(connections))
	for _, conn := range connections {
		jobs = append(jobs, NewSyncJob(conn.ID, js.orchestrator))
	}
	return jobs, nil
}

// healthCheck schedules a sync for connections that have gone stale or whose
// last run failed, catching anything the full sweep missed.
func (js *JobSet) healthCheck(ctx context.Context) ([]Job, error) {
	stale, err := js.connections.ListStale(ctx, time.Now().Add(-js.StalenessThreshold))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale connections: %w", err)
	}

	jobs := make([]Job, 0, len(stale))
	for _, conn := range stale {
		log.Printf("Connection %d: stale (last success %v), scheduling recovery sync", conn.ID, conn.LastSuccessAt)
		jobs = append(jobs, NewSyncJob(conn.ID, js.orchestrator))
	}
	return jobs, nil
}

// tokenRefresh schedules a credential refresh for connections whose
// credential expires inside the lookahead window.
func (js *JobSet) tokenRefresh(ctx context.Context) ([]Job, error) {
	expiring, err := js.connections.ListCredentialsExpiringBefore(ctx, time.Now().Add(js.RefreshLookahead))
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring credentials: %w", err)
	}

	jobs := make([]Job, 0, len(expiring))
	for _, conn := range expiring {
		jobs = append(jobs, NewRefreshJob(conn.ID, js.orchestrator))
	}
	return jobs, nil
}

// housekeeping prunes old run history and publishes the aggregate gauges.
func (js *JobSet) housekeeping(ctx context.Context) ([]Job, error) {
	return []Job{&housekeepingJob{runs: js.runs, retention: js.RunRetention}}, nil
}

type housekeepingJob struct {
	runs      ledger.RunStore
	retention time.Duration
}

func (j *housekeepingJob) Execute(ctx context.Context) error {
	pruned, err := j.runs.Prune(ctx, time.Now().Add(-j.retention))
	if err != nil {
		return fmt.Errorf("failed to prune run history: %w", err)
	}
	if pruned > 0 {
		log.Printf("Housekeeping: pruned %d old sync runs", pruned)
	}

	stats, err := j.runs.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	statConnections.Record(ctx, stats.Connections)
	statActive.Record(ctx, stats.ActiveConnections)
	statFailing.Record(ctx, stats.FailedConnections)
	statAccounts.Record(ctx, stats.Accounts)
	statTransactions.Record(ctx, stats.Transactions)
	statRuns24h.Record(ctx, stats.RunsLast24h)
	return nil
}

func (j *housekeepingJob) ConnectionID() int64 { return 0 }

func (j *housekeepingJob) Description() string { return "housekeeping" }
