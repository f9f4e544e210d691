package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Rajchodisetti/vote-trader/internal/decision"
	"github.com/Rajchodisetti/vote-trader/internal/risk"
	"github.com/Rajchodisetti/vote-trader/internal/strategy"
)

type Engine struct {
	Symbol       string              `yaml:"symbol"`
	TickSeconds  float64             `yaml:"tick_seconds"`
	StartEquity  float64             `yaml:"start_equity"`
	BuyFraction  float64             `yaml:"buy_fraction"`
	SellFraction float64             `yaml:"sell_fraction"`
	Thresholds   decision.Thresholds `yaml:"thresholds"`
	AutoStart    bool                `yaml:"auto_start"`
}

type Feed struct {
	Source              string  `yaml:"source"` // binance | synthetic
	BaseURL             string  `yaml:"base_url"`
	TimeoutSeconds      float64 `yaml:"timeout_seconds"`
	RateLimitPerMinute  int     `yaml:"rate_limit_per_minute"`
	SyntheticStart      float64 `yaml:"synthetic_start"`
	SyntheticVolatility float64 `yaml:"synthetic_volatility"`
	Seed                int64   `yaml:"seed"`
}

type Store struct {
	Kind             string  `yaml:"kind"` // file | sqlite
	DataDir          string  `yaml:"data_dir"`
	IOTimeoutSeconds float64 `yaml:"io_timeout_seconds"`
}

type Server struct {
	Port        int      `yaml:"port"`
	APIKey      string   `yaml:"api_key"`
	CORSOrigins []string `yaml:"cors_origins"`
	WSQueueSize int      `yaml:"ws_queue_size"`
}

// Jobs holds cron specs; an empty spec disables the job.
type Jobs struct {
	EquityReport string `yaml:"equity_report"`
	Checkpoint   string `yaml:"checkpoint"`
}

type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Root struct {
	Engine     Engine          `yaml:"engine"`
	Risk       risk.Config     `yaml:"risk"`
	Feed       Feed            `yaml:"feed"`
	Store      Store           `yaml:"store"`
	Strategies []strategy.Spec `yaml:"strategies"`
	Server     Server          `yaml:"server"`
	Jobs       Jobs            `yaml:"jobs"`
	Log        Log             `yaml:"log"`
}

// Default is the configuration used for anything a file leaves out.
func Default() Root {
	return Root{
		Engine: Engine{
			Symbol:       "BTCUSDT",
			TickSeconds:  1,
			StartEquity:  100,
			BuyFraction:  1,
			SellFraction: 1,
			Thresholds:   decision.DefaultThresholds,
		},
		Risk: risk.DefaultConfig(),
		Feed: Feed{
			Source:              "binance",
			BaseURL:             "https://api.binance.com",
			TimeoutSeconds:      5,
			RateLimitPerMinute:  600,
			SyntheticStart:      50000,
			SyntheticVolatility: 0.002,
		},
		Store:      Store{Kind: "file", DataDir: "data", IOTimeoutSeconds: 5},
		Strategies: strategy.DefaultSpecs(),
		Server:     Server{Port: 8080, WSQueueSize: 64},
		Jobs:       Jobs{EquityReport: "@every 1m", Checkpoint: "@every 30s"},
		Log:        Log{Level: "info"},
	}
}

// Load reads path over the defaults, then applies TRADER_* environment
// overrides. An empty path uses defaults and the environment only.
func Load(path string) (Root, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, err
		}
		// fields absent from the file keep their defaults
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&c); err != nil {
		return c, err
	}
	c.fill()
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (c *Root) fill() {
	d := Default()
	if c.Engine.Symbol == "" {
		c.Engine.Symbol = d.Engine.Symbol
	}
	c.Engine.Symbol = strings.ToUpper(c.Engine.Symbol)
	if c.Engine.BuyFraction <= 0 {
		c.Engine.BuyFraction = d.Engine.BuyFraction
	}
	if c.Engine.SellFraction <= 0 {
		c.Engine.SellFraction = d.Engine.SellFraction
	}
	if c.Engine.Thresholds == (decision.Thresholds{}) {
		c.Engine.Thresholds = d.Engine.Thresholds
	}
	if c.Feed.Source == "" {
		c.Feed.Source = d.Feed.Source
	}
	if c.Store.Kind == "" {
		c.Store.Kind = d.Store.Kind
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = d.Store.DataDir
	}
	if c.Store.IOTimeoutSeconds <= 0 {
		c.Store.IOTimeoutSeconds = d.Store.IOTimeoutSeconds
	}
	if len(c.Strategies) == 0 {
		c.Strategies = d.Strategies
	}
	if c.Server.WSQueueSize <= 0 {
		c.Server.WSQueueSize = d.Server.WSQueueSize
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// Validate rejects settings the engine cannot start with.
func (c Root) Validate() error {
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if c.Engine.StartEquity <= 0 {
		return fmt.Errorf("engine.start_equity must be positive, got %v", c.Engine.StartEquity)
	}
	if c.Engine.TickSeconds <= 0 {
		return fmt.Errorf("engine.tick_seconds must be positive, got %v", c.Engine.TickSeconds)
	}
	if c.Engine.Thresholds.Sell >= c.Engine.Thresholds.Buy {
		return fmt.Errorf("engine.thresholds: sell %v must be below buy %v", c.Engine.Thresholds.Sell, c.Engine.Thresholds.Buy)
	}
	switch c.Feed.Source {
	case "binance", "synthetic":
	default:
		return fmt.Errorf("feed.source %q: want binance or synthetic", c.Feed.Source)
	}
	switch c.Store.Kind {
	case "file", "sqlite":
	default:
		return fmt.Errorf("store.kind %q: want file or sqlite", c.Store.Kind)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

// TickInterval is engine.tick_seconds as a duration.
func (c Root) TickInterval() time.Duration {
	return time.Duration(c.Engine.TickSeconds * float64(time.Second))
}

func applyEnv(c *Root) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *float64) error {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = f
		return nil
	}

	str("TRADER_SYMBOL", &c.Engine.Symbol)
	str("TRADER_STORE", &c.Store.Kind)
	str("TRADER_DATA_DIR", &c.Store.DataDir)
	str("TRADER_API_KEY", &c.Server.APIKey)
	str("TRADER_LOG_LEVEL", &c.Log.Level)
	str("TRADER_FEED", &c.Feed.Source)

	for key, dst := range map[string]*float64{
		"TRADER_TICK_SEC":     &c.Engine.TickSeconds,
		"TRADER_START_EQUITY": &c.Engine.StartEquity,
		"TRADER_MAX_DD_PCT":   &c.Risk.MaxDrawdownPct,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if v, ok := os.LookupEnv("TRADER_PORT"); ok && v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TRADER_PORT: %w", err)
		}
		c.Server.Port = p
	}
	return nil
}
