package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// JobDescriptor is one recurring job family: a name, how often it fires, and
// a producer that yields the batch to run. The scheduler owns its descriptors
// explicitly; there is no global registry.
type JobDescriptor struct {
	Name     string
	Interval time.Duration
	Produce  func(ctx context.Context) ([]Job, error)
}

// Scheduler fires each descriptor on its own interval and feeds the produced
// jobs to a shared worker pool.
type Scheduler struct {
	workerPool   *WorkerPool
	descriptors  []JobDescriptor
	runOnStartup bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds scheduler configuration.
type Config struct {
	WorkerCount  int
	JobDelay     time.Duration
	QueueSize    int
	JobTimeout   time.Duration
	RunOnStartup bool
}

// New creates a scheduler over the given descriptors.
func New(config Config, descriptors []JobDescriptor) (*Scheduler, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("at least one job descriptor is required")
	}
	for _, d := range descriptors {
		if d.Interval <= 0 {
			return nil, fmt.Errorf("descriptor %q has no interval", d.Name)
		}
		if d.Produce == nil {
			return nil, fmt.Errorf("descriptor %q has no producer", d.Name)
		}
	}

	workerPool := NewWorkerPool(config.WorkerCount, config.JobDelay, config.QueueSize, config.JobTimeout)
	ctx, cancel := context.WithCancel(context.Background())

	log.Printf("Scheduler initialized with %d job families", len(descriptors))
	log.Printf("Worker pool: %d workers, %v delay between jobs", config.WorkerCount, config.JobDelay)

	return &Scheduler{
		workerPool:   workerPool,
		descriptors:  descriptors,
		runOnStartup: config.RunOnStartup,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start launches the worker pool and one ticker loop per descriptor.
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	s.workerPool.Start()

	for _, d := range s.descriptors {
		s.wg.Add(1)
		go s.loop(d)
	}

	log.Println("Scheduler started")
}

func (s *Scheduler) loop(d JobDescriptor) {
	defer s.wg.Done()

	log.Printf("Scheduler: %s every %v", d.Name, d.Interval)

	if s.runOnStartup {
		s.fire(d)
	}

	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Printf("Scheduler: %s loop shutting down", d.Name)
			return
		case <-ticker.C:
			s.fire(d)
		}
	}
}

// fire runs one descriptor's producer and submits the batch.
func (s *Scheduler) fire(d JobDescriptor) {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	jobs, err := d.Produce(ctx)
	if err != nil {
		log.Printf("Scheduler: %s: failed to produce jobs: %v", d.Name, err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	log.Printf("Scheduler: %s: submitting %d jobs", d.Name, len(jobs))
	s.workerPool.SubmitBatch(jobs)
}

// TriggerNow fires the named descriptor immediately, out of schedule.
func (s *Scheduler) TriggerNow(name string) error {
	for _, d := range s.descriptors {
		if d.Name == name {
			log.Printf("Scheduler: manual trigger of %s", name)
			go s.fire(d)
			return nil
		}
	}
	return fmt.Errorf("no job family named %q", name)
}

// Shutdown gracefully stops the ticker loops and the worker pool.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	log.Println("Scheduler: Initiating graceful shutdown...")

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Scheduler: Ticker loops stopped gracefully")
	case <-time.After(timeout):
		log.Println("Scheduler: Timeout waiting for ticker loops to stop")
	}

	s.workerPool.ShutdownWithTimeout(timeout)

	log.Println("Scheduler: Shutdown complete")
}
