package sim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickcast/internal/marketdata/binance"
	"tickcast/internal/model"
)

func TestNew_DedupesAndPrices(t *testing.T) {
	s := New(Config{Symbols: []string{"btcusdt", "BTCUSDT", "", "FOOUSDT"}, Seed: 1}, zerolog.Nop())
	assert.Equal(t, []string{"BTCUSDT", "FOOUSDT"}, s.Symbols())
	assert.Equal(t, 65000.0, s.prices["BTCUSDT"])
	assert.Equal(t, 100.0, s.prices["FOOUSDT"])
}

func TestStep_RandomWalkIsBounded(t *testing.T) {
	s := New(Config{Symbols: []string{"ETHUSDT"}, Seed: 7, MaxStep: 0.001}, zerolog.Nop())
	prev := s.prices["ETHUSDT"]
	for i := 0; i < 100; i++ {
		s.Step(time.UnixMilli(int64(i)))
		cur := s.prices["ETHUSDT"]
		assert.LessOrEqual(t, abs(cur/prev-1), 0.001+1e-12)
		prev = cur
	}
	assert.Equal(t, 100, s.history["ETHUSDT"].Len())
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func TestEncodeFrame_ParsesAsTrade(t *testing.T) {
	f := encodeFrame("BTCUSDT", trade{ID: 3, Price: 65001.5, Qty: 0.25, TS: 1_700_000_000_000})
	assert.Equal(t, "btcusdt@trade", f.stream)

	tick, ok, err := binance.ParseTrade(f.payload)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.Tick{Instrument: "BTCUSDT", Price: 65001.5, TS: 1_700_000_000_000}, tick)
}

func TestAggTrades_ServesHistoryClient(t *testing.T) {
	s := New(Config{Symbols: []string{"BTCUSDT"}, Seed: 3}, zerolog.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	now := time.Now()
	for i := 10; i >= 1; i-- {
		s.Step(now.Add(-time.Duration(i) * time.Second))
	}
	// Outside the requested span.
	s.Step(now.Add(-time.Hour))

	ticks, err := binance.NewHistory(srv.URL, nil).Fetch(context.Background(), "BTCUSDT", time.Minute)
	require.NoError(t, err)
	require.Len(t, ticks, 10)
	for i := 1; i < len(ticks); i++ {
		assert.Greater(t, ticks[i].TS, ticks[i-1].TS)
	}
}

func TestAggTrades_PagesByID(t *testing.T) {
	s := New(Config{Symbols: []string{"ETHUSDT"}, Seed: 4}, zerolog.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	now := time.Now()
	for i := 2500; i >= 1; i-- {
		s.Step(now.Add(-time.Duration(i) * time.Millisecond))
	}

	ticks, err := binance.NewHistory(srv.URL, nil).Fetch(context.Background(), "ETHUSDT", time.Minute)
	require.NoError(t, err)
	assert.Len(t, ticks, 2500)
}

func TestAggTrades_UnknownSymbol(t *testing.T) {
	s := New(Config{Symbols: []string{"BTCUSDT"}}, zerolog.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	_, err := binance.NewHistory(srv.URL, nil).Fetch(context.Background(), "DOGEUSDT", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestStream_FiltersSubscribedStreams(t *testing.T) {
	s := New(Config{Symbols: []string{"BTCUSDT", "ETHUSDT"}, Seed: 5}, zerolog.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream?streams=ethusdt@trade"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.fanout.Len() == 1 }, time.Second, 5*time.Millisecond)

	s.Step(time.UnixMilli(1_700_000_000_000))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	tick, ok, err := binance.ParseTrade(msg)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ETHUSDT", tick.Instrument)
}

func TestFeedAgainstSimulator(t *testing.T) {
	s := New(Config{Symbols: []string{"BTCUSDT"}, Seed: 9}, zerolog.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	feed, err := binance.NewFeed(binance.FeedConfig{
		URL:              "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream",
		Symbols:          []string{"BTCUSDT"},
		ReconnectBackoff: 20 * time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan model.Tick, 16)
	go func() { _ = feed.Run(ctx, out) }()

	require.Eventually(t, func() bool { return s.fanout.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	s.Step(time.UnixMilli(1_700_000_000_000))

	select {
	case tick := <-out:
		assert.Equal(t, "BTCUSDT", tick.Instrument)
		assert.Equal(t, int64(1_700_000_000_000), tick.TS)
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(New(Config{Symbols: []string{"BTCUSDT"}}, zerolog.Nop()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
