// Command tickserver is a local stand-in for the Binance endpoints the
// forecaster uses. Point TICKCAST_FEED_URL at ws://localhost:9001/stream and
// TICKCAST_REST_URL at http://localhost:9001 to run without network access.
//
// Config (env vars):
//
//	TICKSERVER_ADDR      listen address (default ":9001")
//	TICKSERVER_SYMBOLS   comma-separated symbols (default the five majors)
//	TICKSERVER_INTERVAL  trade interval per symbol (default 100ms)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"

	"tickcast/internal/logger"
	"tickcast/internal/marketdata/sim"
)

type config struct {
	Addr     string        `envconfig:"ADDR" default:":9001"`
	Symbols  []string      `envconfig:"SYMBOLS" default:"ETHUSDT,BTCUSDT,BNBUSDT,XRPUSDT,ADAUSDT"`
	Interval time.Duration `envconfig:"INTERVAL" default:"100ms"`
	Debug    bool          `envconfig:"DEBUG" default:"false"`
}

func main() {
	var cfg config
	if err := envconfig.Process("TICKSERVER", &cfg); err != nil {
		log := logger.Init("tickserver", "info")
		log.Fatal().Err(err).Msg("load config")
	}
	log := logger.Init("tickserver", logger.LevelFor(cfg.Debug))

	s := sim.New(sim.Config{Symbols: cfg.Symbols}, log)
	if len(s.Symbols()) == 0 {
		log.Fatal().Msg("no symbols configured via TICKSERVER_SYMBOLS")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go s.Run(ctx, cfg.Interval)

	srv := &http.Server{Addr: cfg.Addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", cfg.Addr).
		Strs("symbols", s.Symbols()).
		Dur("interval", cfg.Interval).
		Msg("tickserver listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("tickserver stopped")
}
