package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/mattjoyce/bootrelay/internal/api"
	"github.com/mattjoyce/bootrelay/internal/config"
	"github.com/mattjoyce/bootrelay/internal/entrypoint"
	"github.com/mattjoyce/bootrelay/internal/events"
	"github.com/mattjoyce/bootrelay/internal/lock"
	"github.com/mattjoyce/bootrelay/internal/log"
	"github.com/mattjoyce/bootrelay/internal/relay"
	"github.com/mattjoyce/bootrelay/internal/source"
	"github.com/mattjoyce/bootrelay/internal/state"
	"github.com/mattjoyce/bootrelay/internal/storage"
	"github.com/mattjoyce/bootrelay/internal/worker"
)

const hubBuffer = 256

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("bootrelay starting", "version", version, "config", cfg.Path)

	lockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.Acquire(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
		return 1
	}
	defer func() { _ = pidLock.Release() }()
	logger.Info("acquired PID lock", "path", lockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	logger.Info("database opened", "path", cfg.State.Path)

	registry, err := entrypoint.Discover(cfg.Worker.Roots(), log.WithComponent("entrypoint"))
	if err != nil {
		_ = db.Close()
		logger.Error("worker discovery failed", "roots", cfg.Worker.Roots(), "error", err)
		return 1
	}
	logger.Info("worker discovery complete", "count", len(registry.All()))

	svc, err := relay.New(relay.Options{
		DB:       db,
		Store:    state.NewSQLiteStore(db),
		Resolver: registry,
		Launcher: &worker.ProcessLauncher{
			StopGrace: cfg.Worker.StopGrace,
			Env:       workerEnv(cfg.Worker.Env),
			Logger:    log.WithComponent("launcher"),
		},
		Hub:         events.NewHub(hubBuffer),
		CallTimeout: cfg.Worker.CallTimeout,
		Logger:      log.WithComponent("relay"),
	})
	if err != nil {
		_ = db.Close()
		logger.Error("failed to build relay", "error", err)
		return 1
	}
	defer func() {
		if err := svc.Shutdown(); err != nil {
			logger.Warn("relay shutdown reported an error", "error", err)
		}
	}()

	if pruned, err := svc.PruneJournal(ctx, cfg.Service.JournalRetention); err != nil {
		logger.Warn("failed to prune dispatch journal", "error", err)
	} else if pruned > 0 {
		logger.Info("pruned dispatch journal", "rows", pruned, "retention", cfg.Service.JournalRetention)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen:  cfg.API.Listen,
			APIKey:  cfg.API.Auth.APIKey,
			MaxWait: cfg.API.MaxWait,
		}, svc, svc.Hub(), log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	// A nil channel never delivers, so the receiver only emits the start-up
	// event when signal sources are off.
	var bootSignals chan os.Signal
	if cfg.Sources.Signals {
		bootSignals = make(chan os.Signal, 4)
		signal.Notify(bootSignals, syscall.SIGUSR1, syscall.SIGHUP)
		defer signal.Stop(bootSignals)
	}
	receiver := source.NewReceiver(svc, log.WithComponent("source"),
		source.WithBootOnStart(cfg.Sources.BootOnStart),
		source.WithName("signal"),
	)
	go func() {
		if err := receiver.Run(ctx, bootSignals); err != nil {
			errCh <- fmt.Errorf("source: %w", err)
		}
	}()

	logger.Info("bootrelay running (press Ctrl+C to stop)", "pid", os.Getpid())

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("bootrelay stopped")
	return 0
}

// workerEnv flattens the configured worker environment in a stable order.
func workerEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
