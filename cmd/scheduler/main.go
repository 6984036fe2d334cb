// Package main provides the job queue cron scheduler service.
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

	schedulerLog := log.WithComponent(logger.ComponentScheduler).WithSource(logger.LogSourceInternal)

	queueName := os.Getenv("QUEUE_NAME")
	if queueName == "" {
		queueName = "default"
	}
	instanceID := os.Getenv("INSTANCE_ID")

	schedulerLog.Info("Scheduler starting",
		"queue", queueName,
		"redis_url", cfg.RedisURL,
		"cron_enabled", cfg.CronSchedulerEnabled,
		"cron_interval", cfg.CronSchedulerInterval)

	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6062"
	}
	go func() {
		schedulerLog.Info("Starting pprof server", "port", pprofPort, "url", fmt.Sprintf("http://localhost:%s/debug/pprof/", pprofPort))
		server := &http.Server{
			Addr:              ":" + pprofPort,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := server.ListenAndServe(); err != nil {
			schedulerLog.Error("pprof server failed", "error", err)
		}
	}()

	c, err := client.New(cfg, queueName, client.Options{InstanceID: instanceID})
	if err != nil {
		schedulerLog.Error("Failed to build client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := c.Close(); err != nil {
			schedulerLog.Error("Failed to close client", "error", err)
		}
	}()
	schedulerLog.Info("Connected to Redis")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// TODO: register recurring schedules for this deployment, e.g.:
	// c.Schedule(&cron.Schedule{ID: "daily-report", Cron: "0 0 * * *", JobName: "generate_report", Enabled: true})

	if cfg.CronSchedulerEnabled {
		schedulerLog.Info("Cron scheduler enabled", "schedules", c.CronReg.Count())
		go func() {
			if err := c.RunCron(ctx); err != nil && ctx.Err() == nil {
				schedulerLog.Error("Cron scheduler exited", "error", err)
			}
		}()
	}

	if cfg.Leader.Enabled {
		go func() {
			if err := c.RunLeaderElection(ctx); err != nil && ctx.Err() == nil {
				schedulerLog.Error("Leader election exited", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	schedulerLog.Info("Received shutdown signal, initiating graceful shutdown", "signal", sig)
	cancel()
	time.Sleep(2 * time.Second)
	schedulerLog.Info("Scheduler shut down successfully")
}
