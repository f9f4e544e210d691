package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rajchodisetti/vote-trader/internal/adapters"
	"github.com/Rajchodisetti/vote-trader/internal/alerts"
	"github.com/Rajchodisetti/vote-trader/internal/config"
	"github.com/Rajchodisetti/vote-trader/internal/engine"
	"github.com/Rajchodisetti/vote-trader/internal/jobs"
	"github.com/Rajchodisetti/vote-trader/internal/observ"
	"github.com/Rajchodisetti/vote-trader/internal/portfolio"
	"github.com/Rajchodisetti/vote-trader/internal/server"
	"github.com/Rajchodisetti/vote-trader/internal/store"
	"github.com/Rajchodisetti/vote-trader/internal/strategy"
)

var version = "dev"

func main() {
	cfgPath := flag.String("config", "configs/trader.yaml", "config file; empty for defaults")
	envPath := flag.String("env", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := run(*cfgPath, *envPath); err != nil {
		fmt.Fprintln(os.Stderr, "trader:", err)
		os.Exit(1)
	}
}

func run(cfgPath, envPath string) error {
	if err := config.LoadDotEnv(envPath); err != nil {
		return fmt.Errorf("load %s: %w", envPath, err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	observ.Init(observ.LogConfig{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	observ.SetVersion(version)
	log := observ.Logger("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Store.Kind, cfg.Store.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	ledger, err := portfolio.Open(ctx, st, cfg.Engine.Symbol, cfg.Engine.StartEquity, cfg.Risk,
		portfolio.WithIOTimeout(time.Duration(cfg.Store.IOTimeoutSeconds*float64(time.Second))))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	source, err := newSource(cfg)
	if err != nil {
		return err
	}

	reg := strategy.NewRegistry()
	strategies, err := reg.Build(cfg.Strategies)
	if err != nil {
		return err
	}

	hub := alerts.NewHub(alerts.HubConfig{QueueSize: cfg.Server.WSQueueSize, OriginPatterns: cfg.Server.CORSOrigins})
	defer hub.Close()

	eng := engine.New(engine.Config{
		Symbol:       cfg.Engine.Symbol,
		BuyFraction:  cfg.Engine.BuyFraction,
		SellFraction: cfg.Engine.SellFraction,
		Thresholds:   cfg.Engine.Thresholds,
		PriceTimeout: feedTimeout(cfg) + fallbackHeadroom,
	}, source, ledger, reg, strategies, alerts.Fanout{alerts.LogSink{}, hub})

	sched := engine.NewScheduler(eng, cfg.TickInterval())
	if cfg.Engine.AutoStart {
		sched.Start(ctx)
	}

	runner := jobs.NewRunner(ctx, 30*time.Second)
	if err := runner.Add(cfg.Jobs.EquityReport, jobs.EquityReport{Account: ledger}); err != nil {
		return err
	}
	if err := runner.Add(cfg.Jobs.Checkpoint, jobs.Checkpoint{Target: eng}); err != nil {
		return err
	}
	runner.Start()

	srv := server.New(server.Config{
		Port:        cfg.Server.Port,
		APIKey:      cfg.Server.APIKey,
		CORSOrigins: cfg.Server.CORSOrigins,
		Engine:      eng,
		Scheduler:   sched,
		Hub:         hub,
		BaseContext: ctx,
	})
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()

	a := ledger.Snapshot()
	log.Info().
		Str("symbol", a.Symbol).
		Float64("equity", a.Equity).
		Bool("halted", a.Halted).
		Str("store", cfg.Store.Kind).
		Str("feed", cfg.Feed.Source).
		Strs("strategies", reg.Names()).
		Msg("trader started")

	select {
	case <-ctx.Done():
	case err = <-srvErr:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, context.DeadlineExceeded) {
		log.Warn().Err(serr).Msg("http shutdown")
	}
	sched.Stop()
	runner.Stop()
	if cerr := eng.Checkpoint(shutdownCtx); cerr != nil {
		log.Error().Err(cerr).Msg("final checkpoint failed")
	}
	return err
}

func newSource(cfg config.Root) (adapters.PriceSource, error) {
	synth := adapters.NewSyntheticSource(adapters.SyntheticConfig{
		Symbol:     cfg.Engine.Symbol,
		Start:      cfg.Feed.SyntheticStart,
		Volatility: cfg.Feed.SyntheticVolatility,
		Seed:       cfg.Feed.Seed,
	})
	if cfg.Feed.Source == "synthetic" {
		return synth, nil
	}
	primary, err := adapters.NewBinanceSource(adapters.BinanceConfig{
		BaseURL:            cfg.Feed.BaseURL,
		Symbol:             cfg.Engine.Symbol,
		TimeoutSeconds:     cfg.Feed.TimeoutSeconds,
		RateLimitPerMinute: cfg.Feed.RateLimitPerMinute,
	})
	if err != nil {
		return nil, err
	}
	fb := adapters.NewFallbackSource(primary, synth)
	fb.PrimaryTimeout = feedTimeout(cfg)
	return fb, nil
}

// fallbackHeadroom is what a cycle keeps for the synthetic price after the
// feed times out.
const fallbackHeadroom = 2 * time.Second

func feedTimeout(cfg config.Root) time.Duration {
	return time.Duration(cfg.Feed.TimeoutSeconds * float64(time.Second))
}
