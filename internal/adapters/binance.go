package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultBinanceURL = "https://api.binance.com"

// BinanceConfig configures the public ticker client.
type BinanceConfig struct {
	BaseURL            string
	Symbol             string
	TimeoutSeconds     float64
	RateLimitPerMinute int
}

// BinanceSource polls /api/v3/ticker/price for the last traded price.
type BinanceSource struct {
	cfg         BinanceConfig
	endpoint    string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

func NewBinanceSource(cfg BinanceConfig) (*BinanceSource, error) {
	cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if cfg.Symbol == "" {
		return nil, errors.New("binance: symbol is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBinanceURL
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 5
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 600
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("binance: base url: %w", err)
	}
	base.Path += "/api/v3/ticker/price"
	base.RawQuery = url.Values{"symbol": {cfg.Symbol}}.Encode()

	return &BinanceSource{
		cfg:      cfg,
		endpoint: base.String(),
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds * float64(time.Second)),
		},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
	}, nil
}

type binanceTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func (b *BinanceSource) Next(ctx context.Context) (Tick, error) {
	symbol := b.cfg.Symbol
	if err := b.rateLimiter.Wait(ctx); err != nil {
		return Tick{}, NewRateLimitError(symbol, "rate limit wait cancelled", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint, nil)
	if err != nil {
		return Tick{}, NewNetworkError(symbol, "failed to create request", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return Tick{}, NewNetworkError(symbol, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Tick{}, NewNetworkError(symbol, "read body", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418:
		return Tick{}, NewRateLimitError(symbol, fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return Tick{}, NewProviderError(symbol, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(body, 200)), nil)
	}

	var t binanceTicker
	if err := json.Unmarshal(body, &t); err != nil {
		return Tick{}, NewProviderError(symbol, "decode ticker", err)
	}
	price, err := strconv.ParseFloat(t.Price, 64)
	if err != nil || price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		return Tick{}, NewBadPriceError(symbol, fmt.Sprintf("unusable price %q", t.Price))
	}

	return Tick{Symbol: symbol, Price: price, Timestamp: time.Now().UTC(), Source: "binance"}, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
