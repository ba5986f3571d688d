// Package sim simulates the Binance market-data endpoints the forecaster
// consumes: a combined trade stream at /stream and the aggTrades history
// endpoint. Prices follow a small random walk per symbol.
package sim

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tickcast/internal/bus"
	"tickcast/internal/model"
	"tickcast/internal/ringbuf"
)

// DefaultPrices are the starting prices of well-known symbols. Others start
// at 100.
var DefaultPrices = map[string]float64{
	"BTCUSDT": 65000,
	"ETHUSDT": 3200,
	"BNBUSDT": 580,
	"XRPUSDT": 0.52,
	"ADAUSDT": 0.45,
}

const maxAggTrades = 1000

// Config configures a Simulator.
type Config struct {
	Symbols []string
	// History is the number of trades kept per symbol for aggTrades.
	History int
	// MaxStep is the largest relative move per trade (default 0.001).
	MaxStep float64
	Seed    int64
}

type trade struct {
	ID    int64
	Price float64
	Qty   float64
	TS    int64
}

type frame struct {
	stream  string
	payload []byte
}

// Simulator generates trades and serves them.
type Simulator struct {
	cfg     Config
	symbols []string
	log     zerolog.Logger
	fanout  *bus.FanOut[frame]

	mu      sync.Mutex
	rng     *rand.Rand
	prices  map[string]float64
	history map[string]*ringbuf.Ring[trade]
	nextID  int64
}

// New creates a Simulator.
func New(cfg Config, log zerolog.Logger) *Simulator {
	if cfg.History <= 0 {
		cfg.History = 5000
	}
	if cfg.MaxStep <= 0 {
		cfg.MaxStep = 0.001
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	s := &Simulator{
		cfg:     cfg,
		log:     log.With().Str("component", "sim").Logger(),
		fanout:  bus.New[frame](256),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		prices:  make(map[string]float64),
		history: make(map[string]*ringbuf.Ring[trade]),
	}
	for _, sym := range cfg.Symbols {
		k := model.Key(sym)
		if k == "" {
			continue
		}
		if _, dup := s.prices[k]; dup {
			continue
		}
		price := DefaultPrices[k]
		if price == 0 {
			price = 100
		}
		s.symbols = append(s.symbols, k)
		s.prices[k] = price
		s.history[k] = ringbuf.New[trade](cfg.History)
	}
	return s
}

// Symbols returns the simulated symbols.
func (s *Simulator) Symbols() []string {
	return append([]string(nil), s.symbols...)
}

// Step generates one trade per symbol stamped now and broadcasts it.
func (s *Simulator) Step(now time.Time) {
	ts := now.UnixMilli()
	frames := make([]frame, 0, len(s.symbols))

	s.mu.Lock()
	for _, sym := range s.symbols {
		step := (s.rng.Float64()*2 - 1) * s.cfg.MaxStep
		price := s.prices[sym] * (1 + step)
		s.prices[sym] = price
		s.nextID++
		tr := trade{ID: s.nextID, Price: price, Qty: float64(s.rng.Intn(100)+1) / 100, TS: ts}
		s.history[sym].Push(tr)
		frames = append(frames, encodeFrame(sym, tr))
	}
	s.mu.Unlock()

	for _, f := range frames {
		s.fanout.Publish(f)
	}
}

// Run calls Step every interval until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.fanout.Close()
			return
		case now := <-ticker.C:
			s.Step(now)
		}
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func encodeFrame(sym string, tr trade) frame {
	stream := strings.ToLower(sym) + "@trade"
	payload, _ := json.Marshal(map[string]interface{}{
		"stream": stream,
		"data": map[string]interface{}{
			"e": "trade",
			"E": tr.TS,
			"s": sym,
			"t": tr.ID,
			"p": formatFloat(tr.Price),
			"q": formatFloat(tr.Qty),
			"T": tr.TS,
		},
	})
	return frame{stream: stream, payload: payload}
}

// Handler serves /stream, /api/v3/aggTrades and /health.
func (s *Simulator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stream", s.serveStream)
	mux.HandleFunc("GET /api/v3/aggTrades", s.serveAggTrades)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"tickserver"}`))
	})
	return mux
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func (s *Simulator) serveStream(w http.ResponseWriter, r *http.Request) {
	wanted := make(map[string]bool)
	for _, st := range strings.Split(r.URL.Query().Get("streams"), "/") {
		if st = strings.ToLower(strings.TrimSpace(st)); st != "" {
			wanted[st] = true
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	id, frames := s.fanout.Subscribe()
	s.log.Info().Str("remote", r.RemoteAddr).Int("streams", len(wanted)).Msg("client connected")

	defer func() {
		s.fanout.Unsubscribe(id)
		conn.Close()
		s.log.Info().Str("remote", r.RemoteAddr).Msg("client disconnected")
	}()

	// Drain client frames so pings are answered and closes are noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if len(wanted) > 0 && !wanted[f.stream] {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, f.payload); err != nil {
				return
			}
		}
	}
}

func (s *Simulator) serveAggTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sym := model.Key(q.Get("symbol"))
	start, _ := strconv.ParseInt(q.Get("startTime"), 10, 64)
	end, _ := strconv.ParseInt(q.Get("endTime"), 10, 64)
	fromID, _ := strconv.ParseInt(q.Get("fromId"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > maxAggTrades {
		limit = maxAggTrades
	}

	s.mu.Lock()
	ring, ok := s.history[sym]
	var trades []trade
	if ok {
		trades = ring.Slice()
	}
	s.mu.Unlock()

	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
		return
	}

	out := make([]map[string]interface{}, 0, limit)
	for _, tr := range trades {
		if q.Has("fromId") {
			if tr.ID < fromID {
				continue
			}
		} else if (start > 0 && tr.TS < start) || (end > 0 && tr.TS > end) {
			continue
		}
		out = append(out, map[string]interface{}{
			"a": tr.ID,
			"p": formatFloat(tr.Price),
			"q": formatFloat(tr.Qty),
			"T": tr.TS,
			"m": false,
		})
		if len(out) == limit {
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
