package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"firesync/internal/domain/ledger"
)

type stubJob struct {
	id       int64
	executed *atomic.Int64
	err      error
}

func (j *stubJob) Execute(ctx context.Context) error {
	if j.executed != nil {
		j.executed.Add(1)
	}
	return j.err
}
func (j *stubJob) ConnectionID() int64 { return j.id }
func (j *stubJob) Description() string { return "stub" }

func TestSchedulerFiresDescriptorsOnTheirIntervals(t *testing.T) {
	var executed atomic.Int64

	descriptors := []JobDescriptor{
		{
			Name:     "fast",
			Interval: 20 * time.Millisecond,
			Produce: func(ctx context.Context) ([]Job, error) {
				return []Job{&stubJob{id: 1, executed: &executed}}, nil
			},
		},
	}

	s, err := New(Config{WorkerCount: 2, QueueSize: 10, JobTimeout: time.Second}, descriptors)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.Start()
	time.Sleep(100 * time.Millisecond)
	s.Shutdown(time.Second)

	if executed.Load() < 2 {
		t.Errorf("executed = %d, want at least 2 firings", executed.Load())
	}
}

func TestSchedulerRunOnStartup(t *testing.T) {
	var executed atomic.Int64

	descriptors := []JobDescriptor{
		{
			Name:     "slow",
			Interval: time.Hour,
			Produce: func(ctx context.Context) ([]Job, error) {
				return []Job{&stubJob{id: 1, executed: &executed}}, nil
			},
		},
	}

	s, err := New(Config{WorkerCount: 1, QueueSize: 10, RunOnStartup: true, JobTimeout: time.Second}, descriptors)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Shutdown(time.Second)

	if executed.Load() != 1 {
		t.Errorf("executed = %d, want exactly 1 startup firing", executed.Load())
	}
}

func TestSchedulerTriggerNow(t *testing.T) {
	var executed atomic.Int64

	descriptors := []JobDescriptor{
		{
			Name:     "manual",
			Interval: time.Hour,
			Produce: func(ctx context.Context) ([]Job, error) {
				return []Job{&stubJob{id: 1, executed: &executed}}, nil
			},
		},
	}

	s, err := New(Config{WorkerCount: 1, QueueSize: 10, JobTimeout: time.Second}, descriptors)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	defer s.Shutdown(time.Second)

	if err := s.TriggerNow("manual"); err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	if err := s.TriggerNow("missing"); err == nil {
		t.Error("TriggerNow for unknown family should fail")
	}

	deadline := time.After(time.Second)
	for executed.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("manual trigger never executed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSchedulerRejectsBadDescriptors(t *testing.T) {
	if _, err := New(Config{WorkerCount: 1}, nil); err == nil {
		t.Error("expected error for empty descriptor list")
	}
	if _, err := New(Config{WorkerCount: 1}, []JobDescriptor{{Name: "x", Produce: func(ctx context.Context) ([]Job, error) { return nil, nil }}}); err == nil {
		t.Error("expected error for descriptor without interval")
	}
	if _, err := New(Config{WorkerCount: 1}, []JobDescriptor{{Name: "x", Interval: time.Minute}}); err == nil {
		t.Error("expected error for descriptor without producer")
	}
}

func TestWorkerPoolDropsWhenQueueFull(t *testing.T) {
	// No workers started: nothing drains the queue.
	wp := NewWorkerPool(1, 0, 1, time.Second)

	if err := wp.Submit(&stubJob{id: 1}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := wp.Submit(&stubJob{id: 2}); err == nil {
		t.Error("second submit should fail on a full queue")
	}
}

func TestWorkerPoolProcessesAllJobs(t *testing.T) {
	var executed atomic.Int64

	wp := NewWorkerPool(3, 0, 20, time.Second)
	wp.Start()

	var jobs []Job
	for i := 0; i < 10; i++ {
		jobs = append(jobs, &stubJob{id: int64(i), executed: &executed})
	}
	wp.SubmitBatch(jobs)
	wp.ShutdownWithTimeout(2 * time.Second)

	if executed.Load() != 10 {
		t.Errorf("executed = %d, want 10", executed.Load())
	}
}

// producer-side store mocks

type fakeConnections struct {
	ledger.ConnectionStore
	mu       sync.Mutex
	enabled  []*ledger.Connection
	stale    []*ledger.Connection
	expiring []*ledger.Connection
	listErr  error
}

func (f *fakeConnections) ListSyncEnabled(ctx context.Context) ([]*ledger.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled, f.listErr
}
func (f *fakeConnections) ListStale(ctx context.Context, olderThan time.Time) ([]*ledger.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stale, f.listErr
}
func (f *fakeConnections) ListCredentialsExpiringBefore(ctx context.Context, before time.Time) ([]*ledger.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expiring, f.listErr
}

type fakeRuns struct {
	ledger.RunStore
	pruned atomic.Int64
}

func (f *fakeRuns) Prune(ctx context.Context, before time.Time) (int64, error) {
	f.pruned.Add(1)
	return 3, nil
}
func (f *fakeRuns) Stats(ctx context.Context) (*ledger.Stats, error) {
	return &ledger.Stats{Connections: 2, ActiveConnections: 2}, nil
}

func TestJobSetProducers(t *testing.T) {
	ctx := context.Background()
	connections := &fakeConnections{
		enabled:  []*ledger.Connection{{ID: 1}, {ID: 2}, {ID: 3}},
		stale:    []*ledger.Connection{{ID: 2}},
		expiring: []*ledger.Connection{{ID: 3}},
	}
	runs := &fakeRuns{}

	js := NewJobSet(nil, connections, runs)
	descriptors := js.Descriptors(Intervals{
		FullSweep:    time.Hour,
		HealthCheck:  time.Hour,
		TokenRefresh: time.Hour,
		Housekeeping: time.Hour,
	})
	if len(descriptors) != 4 {
		t.Fatalf("descriptors = %d, want 4", len(descriptors))
	}

	byName := map[string]JobDescriptor{}
	for _, d := range descriptors {
		byName[d.Name] = d
	}

	sweep, err := byName["full-sweep"].Produce(ctx)
	if err != nil || len(sweep) != 3 {
		t.Errorf("full-sweep = %d jobs, err %v, want 3, nil", len(sweep), err)
	}

	stale, err := byName["health-check"].Produce(ctx)
	if err != nil || len(stale) != 1 || stale[0].ConnectionID() != 2 {
		t.Errorf("health-check = %v, err %v, want one job for connection 2", stale, err)
	}

	refresh, err := byName["token-refresh"].Produce(ctx)
	if err != nil || len(refresh) != 1 || refresh[0].ConnectionID() != 3 {
		t.Errorf("token-refresh = %v, err %v, want one job for connection 3", refresh, err)
	}
	if refresh[0].Description() != "credential refresh" {
		t.Errorf("token-refresh job description = %q", refresh[0].Description())
	}

	housekeeping, err := byName["housekeeping"].Produce(ctx)
	if err != nil || len(housekeeping) != 1 {
		t.Fatalf("housekeeping = %d jobs, err %v, want 1, nil", len(housekeeping), err)
	}
	if err := housekeeping[0].Execute(ctx); err != nil {
		t.Errorf("housekeeping execute: %v", err)
	}
	if runs.pruned.Load() != 1 {
		t.Errorf("prune calls = %d, want 1", runs.pruned.Load())
	}

	connections.listErr = errors.New("db down")
	if _, err := byName["full-sweep"].Produce(ctx); err == nil {
		t.Error("expected producer error when store fails")
	}
}
