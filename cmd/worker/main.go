// Package main provides the job queue worker service.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // #nosec G108 - pprof is intentionally exposed for debugging, isolated to separate port
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/config"
	"github.com/muaviaUsmani/jobqueue/internal/logger"
	"github.com/muaviaUsmani/jobqueue/internal/worker"
	"github.com/muaviaUsmani/jobqueue/pkg/client"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := log.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}()
	logger.SetDefault(log)

	workerLog := log.WithComponent(logger.ComponentWorker).WithSource(logger.LogSourceInternal)

	workerCfg, err := config.LoadWorkerConfig()
	if err != nil {
		workerLog.Error("Failed to load worker config", "error", err)
		os.Exit(1)
	}
	cfg.WorkerConcurrency = workerCfg.Concurrency
	if len(workerCfg.RoutingKeys) > 0 {
		cfg.WorkerRoutingKeys = workerCfg.RoutingKeys
	}

	queueName := os.Getenv("QUEUE_NAME")
	if queueName == "" {
		queueName = "default"
	}
	instanceID := os.Getenv("INSTANCE_ID")

	workerLog.Info("Worker starting",
		"queue", queueName,
		"job_timeout", cfg.JobTimeout,
		"redis_url", cfg.RedisURL)
	workerLog.Info("Worker configuration details", "config", workerCfg.String())

	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6061"
	}
	go func() {
		workerLog.Info("Starting pprof server", "port", pprofPort, "url", fmt.Sprintf("http://localhost:%s/debug/pprof/", pprofPort))
		server := &http.Server{
			Addr:              ":" + pprofPort,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := server.ListenAndServe(); err != nil {
			workerLog.Error("pprof server failed", "error", err)
		}
	}()

	c, err := client.New(cfg, queueName, client.Options{
		PriorityLevels: workerCfg.PriorityLevels,
		InstanceID:     instanceID,
		WorkerConfig:   workerCfg,
	})
	if err != nil {
		workerLog.Error("Failed to build client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := c.Close(); err != nil {
			workerLog.Error("Failed to close client", "error", err)
		}
	}()

	// TODO: Replace example handlers with real job handlers for this service.
	exampleHandlers := map[string]worker.HandlerFunc{
		"count_items":  worker.HandleCountItems,
		"send_email":   worker.HandleSendEmail,
		"process_data": worker.HandleProcessData,
	}
	for name, handler := range exampleHandlers {
		if workerCfg.Mode == config.WorkerModeJobSpecialized && !containsString(workerCfg.JobTypes, name) {
			continue
		}
		c.RegisterHandler(name, handler)
	}
	workerLog.Info("Registered job handlers", "count", c.Workers.Count())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := c.RunWorker(ctx); err != nil && ctx.Err() == nil {
			workerLog.Error("Worker loop exited", "error", err)
		}
	}()
	go func() {
		if err := c.RunStalledChecker(ctx); err != nil && ctx.Err() == nil {
			workerLog.Error("Stalled checker exited", "error", err)
		}
	}()
	go func() {
		if err := c.RunCleanup(ctx); err != nil && ctx.Err() == nil {
			workerLog.Error("Cleanup sweeper exited", "error", err)
		}
	}()
	if cfg.Leader.Enabled {
		go func() {
			if err := c.RunLeaderElection(ctx); err != nil && ctx.Err() == nil {
				workerLog.Error("Leader election exited", "error", err)
			}
		}()
	}
	if cfg.Coordination.Enabled {
		go func() {
			if err := c.RunCoordinator(ctx); err != nil && ctx.Err() == nil {
				workerLog.Error("Work coordinator exited", "error", err)
			}
		}()
	}

	sig := <-sigChan
	workerLog.Info("Received shutdown signal, initiating graceful shutdown", "signal", sig)
	cancel()
	time.Sleep(2 * time.Second)
	workerLog.Info("Worker shut down successfully")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
