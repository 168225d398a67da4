package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "firesync/internal/interfaces/http"
	"firesync/internal/scheduler"
	"firesync/internal/shared/config"
	"firesync/internal/shared/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  getEnvOr("ENVIRONMENT", "development"),
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			MetricsPort:  getEnvOr("METRICS_PORT", "9090"),
		})
		if err != nil {
			log.Printf("Warning: telemetry init failed: %v", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					log.Printf("Telemetry shutdown: %v", err)
				}
			}()
		}
	}

	deps, err := NewDependencies(cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(
			scheduler.Config{
				WorkerCount:  cfg.Scheduler.WorkerCount,
				JobDelay:     cfg.Scheduler.JobDelay,
				QueueSize:    cfg.Scheduler.QueueSize,
				JobTimeout:   cfg.Scheduler.JobTimeout,
				RunOnStartup: cfg.Scheduler.RunOnStartup,
			},
			deps.JobSet.Descriptors(scheduler.Intervals{
				FullSweep:    cfg.Scheduler.SweepInterval,
				HealthCheck:  cfg.Scheduler.HealthCheckInterval,
				TokenRefresh: cfg.Scheduler.TokenRefreshInterval,
				Housekeeping: cfg.Scheduler.HousekeepingInterval,
			}),
		)
		if err != nil {
			return err
		}
		sched.Start()
	} else {
		log.Println("Scheduler is disabled")
	}

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpapi.NewRouter(deps.SyncHandler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")

	if sched != nil {
		sched.Shutdown(30 * time.Second)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	log.Println("Server stopped")
	return nil
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
