package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/vote-trader/internal/portfolio"
	"github.com/Rajchodisetti/vote-trader/internal/risk"
)

var ts = time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)

func sampleAccount() portfolio.Account {
	a := portfolio.NewAccount("BTCUSDT", 100, risk.DefaultConfig())
	a.Seq = 7
	a.UpdatedAt = ts
	a.Cash = 90.5
	a.Equity = 101.25
	a.PeakEquity = 102
	a.RealizedPnL = -1.5
	a.Positions = []portfolio.Position{{
		Symbol: "BTCUSDT", Quantity: 0.25, AvgEntry: 40, Stake: 10,
		Lots: 2, Mark: 43, OpenedAt: ts.Add(-time.Hour),
	}}
	return a
}

func entry(id string, price float64) portfolio.TradeLogEntry {
	return portfolio.TradeLogEntry{
		ID: id, Seq: 1, Timestamp: ts, Symbol: "BTCUSDT", Side: risk.Buy,
		Quantity: 0.1, Price: price, StakeOrProceeds: 0.1 * price, BalanceAfter: 50, Note: "decision",
	}
}

func stores(t *testing.T) map[string]portfolio.Store {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "file"))
	require.NoError(t, err)
	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "trader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]portfolio.Store{"file": fs, "sqlite": sq}
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := st.LoadSnapshot(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			want := sampleAccount()
			require.NoError(t, st.WriteSnapshot(ctx, want))
			got, ok, err := st.LoadSnapshot(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want, got)

			want.Cash = 1
			want.Halted = true
			require.NoError(t, st.WriteSnapshot(ctx, want))
			got, _, err = st.LoadSnapshot(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestStore_LogIsOrderedAndAppendOnly(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rows, err := st.ReadLog(ctx)
			require.NoError(t, err)
			assert.Empty(t, rows)

			for i, id := range []string{"a", "b", "c"} {
				require.NoError(t, st.AppendLog(ctx, entry(id, float64(10+i))))
			}
			rows, err = st.ReadLog(ctx)
			require.NoError(t, err)
			require.Len(t, rows, 3)
			assert.Equal(t, entry("a", 10), rows[0])
			assert.Equal(t, "b", rows[1].ID)
			assert.Equal(t, "c", rows[2].ID)
		})
	}
}

func TestStore_RejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			a := sampleAccount()
			a.SchemaVersion = portfolio.SchemaVersion + 1
			require.NoError(t, st.WriteSnapshot(ctx, a))
			_, _, err := st.LoadSnapshot(ctx)
			assert.ErrorIs(t, err, ErrSchema)
		})
	}
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, st.WriteSnapshot(ctx, sampleAccount()))
			assert.Error(t, st.AppendLog(ctx, entry("x", 1)))
		})
	}
}

func TestFileStore_MigratesUnversionedSnapshot(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFileStore(dir)
	require.NoError(t, err)

	legacy := map[string]any{"symbol": "BTCUSDT", "cash": 80, "equity": 120}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(st.StatePath(), data, 0o644))

	a, ok, err := st.LoadSnapshot(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, portfolio.SchemaVersion, a.SchemaVersion)
	assert.Equal(t, 120.0, a.InitialEquity)
	assert.Equal(t, 120.0, a.PeakEquity)
	assert.NotNil(t, a.Positions)
}

func TestFileStore_SkipsTornTail(t *testing.T) {
	ctx := context.Background()
	st, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.AppendLog(ctx, entry("a", 10)))

	f, err := os.OpenFile(st.TradesPath(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"b","pri`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rows, err := st.ReadLog(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].ID)
}

func TestFileStore_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFileStore(dir)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, st.WriteSnapshot(context.Background(), sampleAccount()))
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, stateFile, entries[0].Name())
}

func TestSyncDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, syncDir(dir))
	assert.Error(t, syncDir(filepath.Join(dir, "missing")))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	st, err := Open("file", dir)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, st)

	st, err = Open("sqlite", dir)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, st)
	require.NoError(t, st.Close())

	_, err = Open("redis", dir)
	assert.Error(t, err)
}

func TestLedgerOverStores(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l, err := portfolio.Open(ctx, st, "BTCUSDT", 100, risk.DefaultConfig())
			require.NoError(t, err)
			_, err = l.ApplyFill(ctx, portfolio.Fill{Side: risk.Buy, Quantity: 0.2, Price: 50})
			require.NoError(t, err)
			_, err = l.ApplyFill(ctx, portfolio.Fill{Side: risk.Sell, Quantity: 0.1, Price: 60})
			require.NoError(t, err)

			reloaded, err := portfolio.Open(ctx, st, "BTCUSDT", 100, risk.DefaultConfig())
			require.NoError(t, err)
			assert.Equal(t, l.Snapshot(), reloaded.Snapshot())

			rows, err := reloaded.Trades(ctx, 0)
			require.NoError(t, err)
			require.Len(t, rows, 2)
			assert.Equal(t, risk.Buy, rows[0].Side)
			assert.Equal(t, risk.Sell, rows[1].Side)
		})
	}
}
