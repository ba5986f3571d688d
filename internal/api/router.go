// Package api serves the read-only HTTP query surface: recent ticks,
// validation statistics, forecasts and a live event stream.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"tickcast/internal/ledger"
	"tickcast/internal/model"
	"tickcast/internal/publisher"
	"tickcast/internal/tickstore"
)

// DefaultMaxTicks is the tick count returned when max_ticks is absent.
const DefaultMaxTicks = 200

// Deps are the stores the routes read from. Events may be nil, in which
// case /api/v1/stream is not registered.
type Deps struct {
	Store  *tickstore.Store
	Ledger *ledger.Ledger
	Events *publisher.Local
	Log    zerolog.Logger
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, symbol, msg string) {
	writeJSON(w, code, map[string]string{"symbol": symbol, "error": msg})
}

type instrumentInfo struct {
	Symbol    string  `json:"symbol"`
	Ticks     int     `json:"ticks"`
	Warm      bool    `json:"warm"`
	LastPrice float64 `json:"last_price"`
	LastTS    int64   `json:"last_timestamp"`
}

// NewRouter registers every route on a new mux.
func NewRouter(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{"status": "ok"}
		if d.Events != nil {
			resp["stream_clients"] = d.Events.Subscribers()
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("GET /api/v1/ticks/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		sym := model.Key(r.PathValue("symbol"))
		limit := DefaultMaxTicks
		if raw := r.URL.Query().Get("max_ticks"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, sym, "max_ticks must be a positive integer")
				return
			}
			limit = n
		}

		ticks := d.Store.Snapshot(sym, limit)
		if len(ticks) == 0 {
			writeError(w, http.StatusNotFound, sym, "no data available")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"symbol": sym,
			"ticks":  ticks,
			"count":  len(ticks),
		})
	})

	mux.HandleFunc("GET /api/v1/price_stats/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		st := d.Store.Stats(r.PathValue("symbol"))
		if st.Samples == 0 {
			writeError(w, http.StatusNotFound, st.Instrument, "no statistics available")
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	mux.HandleFunc("GET /api/v1/forecasts/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		sym := model.Key(r.PathValue("symbol"))
		list := d.Ledger.List(sym)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"symbol":    sym,
			"forecasts": list,
			"count":     len(list),
		})
	})

	mux.HandleFunc("GET /api/v1/forecasts/{symbol}/latest", func(w http.ResponseWriter, r *http.Request) {
		sym := model.Key(r.PathValue("symbol"))
		f, ok := d.Ledger.Latest(sym)
		if !ok {
			writeError(w, http.StatusNotFound, sym, "no forecasts recorded")
			return
		}
		writeJSON(w, http.StatusOK, f)
	})

	mux.HandleFunc("GET /api/v1/accuracy/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		sym := model.Key(r.PathValue("symbol"))
		writeJSON(w, http.StatusOK, Summarize(sym, d.Ledger.List(sym)))
	})

	mux.HandleFunc("GET /api/v1/warm/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		sym := model.Key(r.PathValue("symbol"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"symbol": sym,
			"warm":   d.Store.IsWarm(sym),
		})
	})

	mux.HandleFunc("GET /api/v1/symbols", func(w http.ResponseWriter, r *http.Request) {
		syms := d.Store.Instruments()
		details := make([]instrumentInfo, 0, len(syms))
		for _, sym := range syms {
			info := instrumentInfo{Symbol: sym, Ticks: d.Store.Len(sym), Warm: d.Store.IsWarm(sym)}
			if last, ok := d.Store.Last(sym); ok {
				info.LastPrice, info.LastTS = last.Price, last.TS
			}
			details = append(details, info)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"symbols":     syms,
			"instruments": details,
		})
	})

	if d.Events != nil {
		mux.Handle("GET /api/v1/stream", &streamHandler{events: d.Events, log: d.Log})
	}

	return mux
}

// Server runs the query API.
type Server struct {
	addr string
	srv  *http.Server
	log  zerolog.Logger
}

// NewServer creates the API server on addr.
func NewServer(addr string, d Deps) *Server {
	return &Server{
		addr: addr,
		log:  d.Log,
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(d),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("api server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("api server error")
		}
	}()
}

// Stop gracefully shuts down the server. Open streams are closed by
// closing the Local publisher.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
