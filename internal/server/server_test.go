package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/vote-trader/internal/adapters"
	"github.com/Rajchodisetti/vote-trader/internal/alerts"
	"github.com/Rajchodisetti/vote-trader/internal/engine"
	"github.com/Rajchodisetti/vote-trader/internal/observ"
	"github.com/Rajchodisetti/vote-trader/internal/portfolio"
	"github.com/Rajchodisetti/vote-trader/internal/risk"
	"github.com/Rajchodisetti/vote-trader/internal/store"
	"github.com/Rajchodisetti/vote-trader/internal/strategy"
)

const testKey = "sekret"

type flatSource struct{ price float64 }

func (f flatSource) Next(context.Context) (adapters.Tick, error) {
	return adapters.Tick{Symbol: "BTCUSDT", Price: f.price, Timestamp: time.Now().UTC(), Source: "flat"}, nil
}

type holdStrategy struct{}

func (holdStrategy) Name() string { return "hold" }
func (holdStrategy) OnPrice(float64) strategy.Vote {
	return strategy.Vote{Strategy: "hold", Confidence: 1}
}

type fixture struct {
	srv    *httptest.Server
	eng    *engine.Engine
	sched  *engine.Scheduler
	ledger *portfolio.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, nil)
}

func newFixtureOn(t *testing.T, wrap func(portfolio.Store) portfolio.Store) *fixture {
	t.Helper()
	observ.Reset()
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	var st portfolio.Store = fs
	if wrap != nil {
		st = wrap(fs)
	}
	l, err := portfolio.Open(context.Background(), st, "BTCUSDT", 100, risk.DefaultConfig())
	require.NoError(t, err)

	eng := engine.New(engine.Config{Symbol: "BTCUSDT"}, flatSource{price: 20}, l,
		strategy.NewRegistry(), []strategy.Strategy{holdStrategy{}}, alerts.NopSink{})
	sched := engine.NewScheduler(eng, time.Hour)
	hub := alerts.NewHub(alerts.HubConfig{})
	t.Cleanup(func() {
		sched.Stop()
		hub.Close()
	})

	s := New(Config{APIKey: testKey, Engine: eng, Scheduler: sched, Hub: hub})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &fixture{srv: ts, eng: eng, sched: sched, ledger: l}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(APIKeyHeader, testKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestAPIKeyRequired(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/api/status", nil)
	req.Header.Set(APIKeyHeader, "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// health stays open without a key
	resp, err = http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Tick(context.Background())
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 100.0, body["equity"])
	assert.EqualValues(t, 1, body["cycles"])
	sched, ok := body["scheduler"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "idle", sched["state"])
}

func TestPutRisk(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPut, "/api/risk", `{"stake_cap_pct": 1.5}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "stake_cap_pct")
	assert.Equal(t, risk.DefaultConfig(), f.ledger.Snapshot().Risk, "previous limits kept")

	resp, body = f.do(t, http.MethodPut, "/api/risk", `{"max_open_positions": 7}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 7, body["max_open_positions"])

	resp, body = f.do(t, http.MethodGet, "/api/risk", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 7, body["max_open_positions"])

	resp, _ = f.do(t, http.MethodPut, "/api/risk", `{"bogus": 1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOrders(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/orders/preview", `{"side":"buy"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "no price seen yet")

	_, err := f.eng.Tick(context.Background())
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodPost, "/api/orders/preview", `{"side":"buy"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 10.0, body["notional"])
	assert.Equal(t, 100.0, f.ledger.Snapshot().Cash, "preview does not trade")

	resp, body = f.do(t, http.MethodPost, "/api/orders", `{"side":"BUY"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	trade := body["trade"].(map[string]any)
	assert.Equal(t, "manual", trade["note"])
	assert.InDelta(t, 90.0, f.ledger.Snapshot().Cash, 1e-9)

	resp, body = f.do(t, http.MethodPost, "/api/orders", `{"side":"exit"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/api/orders", `{"side":"sell"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	verdict := body["verdict"].(map[string]any)
	assert.Equal(t, string(risk.ReasonNoPosition), verdict["reason"])

	resp, _ = f.do(t, http.MethodPost, "/api/orders", `{"side":"short"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/api/orders", `{"side":"buy","fraction":2}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/trades?limit=10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["count"])

	resp, _ = f.do(t, http.MethodGet, "/api/trades?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// brokenDisk fails snapshot writes once armed.
type brokenDisk struct {
	portfolio.Store
	armed atomic.Bool
}

func (b *brokenDisk) WriteSnapshot(ctx context.Context, a portfolio.Account) error {
	if b.armed.Load() {
		return errors.New("disk full")
	}
	return b.Store.WriteSnapshot(ctx, a)
}

func TestSubmitOrder_FilledButNotDurable(t *testing.T) {
	disk := &brokenDisk{}
	f := newFixtureOn(t, func(s portfolio.Store) portfolio.Store {
		disk.Store = s
		return disk
	})
	_, err := f.eng.Tick(context.Background())
	require.NoError(t, err)
	disk.armed.Store(true)

	resp, body := f.do(t, http.MethodPost, "/api/orders", `{"side":"buy"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotNil(t, body["trade"])
	assert.Contains(t, body["error"], "disk full")
	assert.InDelta(t, 90.0, f.ledger.Snapshot().Cash, 1e-9)
	assert.Equal(t, 1, f.ledger.Pending())
}

func TestSchedulerControls(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPut, "/api/scheduler", `{"interval_ms": 2000, "enabled": false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2000.0, body["interval_ms"])
	assert.Equal(t, false, body["enabled"])
	assert.Equal(t, 2*time.Second, f.sched.Interval())

	resp, body = f.do(t, http.MethodPost, "/api/scheduler/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["changed"])
	assert.Equal(t, engine.Running, f.sched.State())

	_, body = f.do(t, http.MethodPost, "/api/scheduler/start", "")
	assert.Equal(t, false, body["changed"], "second start is a no-op")

	_, body = f.do(t, http.MethodPost, "/api/scheduler/stop", "")
	assert.Equal(t, true, body["changed"])
	assert.Equal(t, engine.Idle, f.sched.State())

	resp, _ = f.do(t, http.MethodPut, "/api/scheduler", `{"interval_ms": -1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClearHalt(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Halt(context.Background(), "drawdown"))

	resp, body := f.do(t, http.MethodPost, "/api/halt/clear", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	acct := body["account"].(map[string]any)
	assert.Equal(t, false, acct["halted"])
	assert.False(t, f.ledger.Snapshot().Halted)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Tick(context.Background())
	require.NoError(t, err)

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var dump struct {
		Counters map[string]map[string]int64 `json:"counters"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dump))
	assert.Contains(t, dump.Counters, "cycles_total")
}
