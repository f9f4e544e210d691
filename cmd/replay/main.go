package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/Rajchodisetti/vote-trader/internal/adapters"
	"github.com/Rajchodisetti/vote-trader/internal/alerts"
	"github.com/Rajchodisetti/vote-trader/internal/config"
	"github.com/Rajchodisetti/vote-trader/internal/engine"
	"github.com/Rajchodisetti/vote-trader/internal/observ"
	"github.com/Rajchodisetti/vote-trader/internal/portfolio"
	"github.com/Rajchodisetti/vote-trader/internal/store"
	"github.com/Rajchodisetti/vote-trader/internal/strategy"
)

// summary is the last line written, after every cycle line.
type summary struct {
	Symbol      string  `json:"symbol"`
	Cycles      int     `json:"cycles"`
	Failures    int     `json:"failures"`
	Trades      int     `json:"trades"`
	Equity      float64 `json:"equity"`
	PeakEquity  float64 `json:"peak_equity"`
	RealizedPnL float64 `json:"realized_pnl"`
	Drawdown    float64 `json:"drawdown"`
	Halted      bool    `json:"halted"`
}

func main() {
	log.SetFlags(0)
	ticksPath := flag.String("ticks", "fixtures/ticks.json", "recorded ticks fixture")
	cfgPath := flag.String("config", "", "config file; empty for defaults")
	dataDir := flag.String("data", "", "store directory; empty uses a temp dir")
	quiet := flag.Bool("quiet", false, "print only the summary")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	// cycle lines go to stdout; engine events only when something breaks
	observ.Init(observ.LogConfig{Level: "error", Output: os.Stderr})

	ticks, err := adapters.LoadTicks(*ticksPath, cfg.Engine.Symbol)
	if err != nil {
		log.Fatalf("ticks: %v", err)
	}
	if len(ticks) == 0 {
		log.Fatalf("no %s ticks in %s", cfg.Engine.Symbol, *ticksPath)
	}

	dir := *dataDir
	if dir == "" {
		if dir, err = os.MkdirTemp("", "replay-"); err != nil {
			log.Fatal(err)
		}
		defer os.RemoveAll(dir)
	}
	st, err := store.Open(cfg.Store.Kind, dir)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	ledger, err := portfolio.Open(ctx, st, cfg.Engine.Symbol, cfg.Engine.StartEquity, cfg.Risk)
	if err != nil {
		log.Fatalf("ledger: %v", err)
	}
	reg := strategy.NewRegistry()
	strategies, err := reg.Build(cfg.Strategies)
	if err != nil {
		log.Fatal(err)
	}
	eng := engine.New(engine.Config{
		Symbol:       cfg.Engine.Symbol,
		BuyFraction:  cfg.Engine.BuyFraction,
		SellFraction: cfg.Engine.SellFraction,
		Thresholds:   cfg.Engine.Thresholds,
	}, adapters.NewReplaySource(ticks), ledger, reg, strategies, alerts.NopSink{})

	out := json.NewEncoder(os.Stdout)
	sum := summary{Symbol: cfg.Engine.Symbol}
	for {
		res, err := eng.Tick(ctx)
		if errors.Is(err, adapters.ErrExhausted) {
			break
		}
		sum.Cycles++
		if err != nil {
			sum.Failures++
			fmt.Fprintf(os.Stderr, "cycle %d: %v\n", sum.Cycles, err)
			continue
		}
		sum.Trades += len(res.Exits)
		if res.Trade != nil {
			sum.Trades++
		}
		if !*quiet {
			_ = out.Encode(res)
		}
	}

	a := ledger.Snapshot()
	sum.Equity = a.Equity
	sum.PeakEquity = a.PeakEquity
	sum.RealizedPnL = a.RealizedPnL
	sum.Drawdown = a.Drawdown()
	sum.Halted = a.Halted
	_ = out.Encode(sum)
}
