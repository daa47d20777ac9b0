package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/curator/config"
	"github.com/mohammad-safakhou/curator/internal/engine"
	"github.com/mohammad-safakhou/curator/internal/lock"
	"github.com/mohammad-safakhou/curator/internal/scheduler"
	"github.com/mohammad-safakhou/curator/internal/server"
	"github.com/mohammad-safakhou/curator/internal/store"
	"github.com/mohammad-safakhou/curator/internal/telemetry"
	"github.com/mohammad-safakhou/curator/provider"
)

// app holds the wired collaborators of one process.
type app struct {
	cfg    *config.Config
	store  *store.Store
	guard  *lock.Guard
	tele   *telemetry.Telemetry
	engine *engine.Engine
}

func (a *app) close() {
	if a.guard != nil {
		_ = a.guard.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// bootstrap loads config and connects every collaborator. The oracle is
// optional: without an API key the engine runs on the deterministic
// fallback selector alone.
func bootstrap(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return nil, err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return nil, err
	}

	logger := log.New(log.Writer(), "[CYCLE] ", log.LstdFlags)

	guard, err := lock.Connect(ctx, cfg.Storage.Redis, cfg.General.DefaultTimeout)
	if err != nil {
		logger.Printf("redis unavailable, cycle lock and title cache degraded to store-only: %v", err)
		guard = nil
	}

	deps := engine.Deps{Store: st}
	if guard != nil {
		deps.Titles = guard
	}
	if cfg.Oracle.APIKey != "" {
		prov, err := provider.New(cfg.Oracle)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		deps.Oracle = prov
		deps.Embedder = prov
		if cfg.Oracle.Categorization {
			deps.Categorizer = prov
		}
	} else {
		logger.Printf("no oracle api key configured, cycles will use the fallback selector")
	}

	tele := telemetry.New()
	deps.Telemetry = tele

	return &app{
		cfg:    cfg,
		store:  st,
		guard:  guard,
		tele:   tele,
		engine: engine.New(cfg, logger, deps),
	}, nil
}

func onceCMD() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single selection cycle and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			acquired, err := a.guard.AcquireCycle(ctx, a.cfg.Scheduler.LockTTL)
			if err != nil {
				return err
			}
			if !acquired {
				return errors.New("another cycle is already running against this store")
			}
			defer func() { _ = a.guard.ReleaseCycle(ctx) }()

			res, err := a.engine.RunCycle(ctx)
			if err != nil {
				a.tele.RecordAbort()
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")
	return cmd
}

func runCMD() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the cycle scheduler daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			go func() {
				if err := server.Run(a.cfg.Server.Address, a.tele); err != nil {
					log.Printf("[HTTP] ops server stopped: %v", err)
				}
			}()

			sched := &scheduler.Scheduler{
				Logger:   log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
				Engine:   a.engine,
				Guard:    a.guard,
				CronSpec: a.cfg.Scheduler.CronSpec,
				LockTTL:  a.cfg.Scheduler.LockTTL,
			}
			return sched.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")
	return cmd
}

func serveCMD() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ops endpoints without scheduling cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return server.Run(cfg.Server.Address, telemetry.New())
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")
	return cmd
}
