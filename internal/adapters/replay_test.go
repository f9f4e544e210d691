package adapters

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTicks(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "ticks.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadTicks(t *testing.T) {
	p := writeTicks(t, `{"ticks":[
		{"symbol":"btcusdt","last":100},
		{"symbol":"ETHUSDT","last":5},
		{"symbol":"BTCUSDT","last":101.5,"ts":"2024-03-01T10:00:00Z"}
	]}`)

	ticks, err := LoadTicks(p, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, "BTCUSDT", ticks[0].Symbol)
	assert.Equal(t, 100.0, ticks[0].Price)
	assert.Equal(t, "replay", ticks[0].Source)
	assert.Equal(t, 2024, ticks[1].Timestamp.Year())

	all, err := LoadTicks(p, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLoadTicks_RejectsBadPrice(t *testing.T) {
	p := writeTicks(t, `{"ticks":[{"symbol":"BTCUSDT","last":0}]}`)
	_, err := LoadTicks(p, "BTCUSDT")
	var pe *PriceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "bad_price", pe.Type)

	_, err = LoadTicks(writeTicks(t, `not json`), "")
	assert.Error(t, err)
}

func TestReplaySource(t *testing.T) {
	ctx := context.Background()
	r := NewReplaySource([]Tick{{Symbol: "X", Price: 1}, {Symbol: "X", Price: 2}})
	assert.Equal(t, 2, r.Remaining())

	a, err := r.Next(ctx)
	require.NoError(t, err)
	b, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, []float64{a.Price, b.Price})

	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Zero(t, r.Remaining())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewReplaySource([]Tick{{Price: 1}}).Next(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}
