// Command dbcore runs a standalone process that loads a pool
// definition file, opens every configured pool, and serves the admin
// API (stats, health, Prometheus metrics) until signaled to stop. It
// exists to exercise the core end to end; embedders of package pool
// and package async are not required to use this binary.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dbcore/dbcore/api"
	"github.com/dbcore/dbcore/async"
	"github.com/dbcore/dbcore/config"
	"github.com/dbcore/dbcore/health"
	"github.com/dbcore/dbcore/loop"
	"github.com/dbcore/dbcore/metrics"
	"github.com/dbcore/dbcore/pool"

	_ "github.com/dbcore/dbcore/driver/duckdb"
	_ "github.com/dbcore/dbcore/driver/mysql"
	_ "github.com/dbcore/dbcore/driver/postgres"
	_ "github.com/dbcore/dbcore/driver/sqlite"
)

func main() {
	configPath := flag.String("config", "configs/dbcore.yaml", "path to pool configuration file")
	workers := flag.Int("workers", 8, "worker-pool goroutine count")
	flag.Parse()

	slog.Info("dbcore starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded", "path", *configPath, "pools", len(cfg.Pools))

	l := loop.New(*workers)
	engine := async.New(l)
	m := metrics.New()
	engine.SetMetrics(m)
	manager := pool.NewManager(engine, l)
	manager.SetMetrics(m)
	hc := health.NewChecker(m, cfg.Health.Interval, cfg.Health.FailureThreshold, cfg.Health.CheckTimeout)

	openPools(context.Background(), manager, hc, cfg)

	hc.Start()
	go statsLoop(manager, m)

	apiServer := api.NewServer(manager, hc, m, cfg.API)
	if err := apiServer.Start(); err != nil {
		slog.Error("failed to start admin API", "error", err)
		os.Exit(1)
	}

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		slog.Info("reconciling pools after config reload")
		reconcilePools(context.Background(), manager, hc, newCfg)
	})
	if err != nil {
		slog.Warn("config hot-reload not available", "error", err)
	}

	slog.Info("dbcore ready", "api_addr", cfg.API.Bind, "api_port", cfg.API.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig.String())

	if configWatcher != nil {
		configWatcher.Stop()
	}
	apiServer.Stop()
	hc.Stop()
	manager.DestroyAll()
	l.Stop()

	slog.Info("dbcore stopped")
}

// openPools creates every pool named in cfg, logging and skipping any
// that fail rather than aborting the whole process over one bad entry.
func openPools(ctx context.Context, manager *pool.Manager, hc *health.Checker, cfg *config.Config) {
	for name, pc := range cfg.Pools {
		kind, err := pc.DriverKind()
		if err != nil {
			slog.Error("skipping pool with unsupported driver", "pool", name, "error", err)
			continue
		}
		initial := pc.EffectiveInitialSize(cfg.Defaults)
		max := pc.EffectiveMaxSize(cfg.Defaults)
		mode := pc.EffectiveCallbackMode(cfg.Defaults)

		p, err := manager.Create(ctx, name, kind, pc.ConnInfo, mode, initial, max)
		if err != nil {
			slog.Error("failed to open pool", "pool", name, "driver", kind.String(), "error", err)
			continue
		}
		hc.Register(name, p)
		slog.Info("pool opened", "pool", name, "driver", kind.String(), "initial_size", initial, "max_size", max)
	}
}

// reconcilePools adds pools newly present in newCfg and removes pools
// no longer present. It never recreates a pool that already exists —
// changing an existing pool's driver or conninfo requires a restart.
func reconcilePools(ctx context.Context, manager *pool.Manager, hc *health.Checker, newCfg *config.Config) {
	existing := manager.List()
	for name := range existing {
		if _, stillConfigured := newCfg.Pools[name]; !stillConfigured {
			manager.Remove(name)
			hc.Unregister(name)
			slog.Info("pool removed after config reload", "pool", name)
		}
	}
	for name, pc := range newCfg.Pools {
		if _, already := existing[name]; already {
			continue
		}
		kind, err := pc.DriverKind()
		if err != nil {
			slog.Error("skipping pool with unsupported driver", "pool", name, "error", err)
			continue
		}
		initial := pc.EffectiveInitialSize(newCfg.Defaults)
		max := pc.EffectiveMaxSize(newCfg.Defaults)
		mode := pc.EffectiveCallbackMode(newCfg.Defaults)

		p, err := manager.Create(ctx, name, kind, pc.ConnInfo, mode, initial, max)
		if err != nil {
			slog.Error("failed to open pool after config reload", "pool", name, "driver", kind.String(), "error", err)
			continue
		}
		hc.Register(name, p)
		slog.Info("pool opened after config reload", "pool", name, "driver", kind.String())
	}
}

// statsLoop periodically pushes every pool's occupancy stats to the
// metrics collector.
func statsLoop(manager *pool.Manager, m *metrics.Collector) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		for _, ns := range manager.AllStats() {
			m.UpdatePoolStats(ns.Name, ns.Driver.String(), ns.Stats.Idle, ns.Stats.ResidentInUse, ns.Stats.TransientInUse, ns.Stats.Waiting, ns.Stats.PendingTemp)
		}
	}
}
