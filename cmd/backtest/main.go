// Command backtest runs recorded or freshly fetched ticks through the
// forecaster on a simulated clock and reports forecast accuracy per symbol.
//
// Usage:
//
//	go run ./cmd/backtest --file=ticks.jsonl --interval=10s --horizon=60s
//	go run ./cmd/backtest --symbols=BTCUSDT,ETHUSDT --minutes=30 --save=ticks.jsonl
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"tickcast/internal/api"
	"tickcast/internal/coordinator"
	"tickcast/internal/forecast"
	"tickcast/internal/ledger"
	"tickcast/internal/logger"
	"tickcast/internal/marketdata/binance"
	"tickcast/internal/marketdata/replay"
	"tickcast/internal/model"
	"tickcast/internal/notification"
	"tickcast/internal/tickstore"
)

func main() {
	file := flag.String("file", "", "JSON-lines tick file to replay")
	symbolsFlag := flag.String("symbols", "BTCUSDT", "symbols to fetch when --file is empty")
	restURL := flag.String("rest", binance.DefaultRESTURL, "REST base for fetching history")
	minutes := flag.Int("minutes", 30, "minutes of history to fetch when --file is empty")
	save := flag.String("save", "", "write fetched ticks to this file")
	interval := flag.Duration("interval", 10*time.Second, "forecast interval")
	horizon := flag.Duration("horizon", 60*time.Second, "forecast horizon")
	minTicks := flag.Int("min-ticks", forecast.DefaultMinTicks, "minimum ticks per forecast")
	ledgerCap := flag.Int("ledger", 100_000, "ledger capacity")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	log := logger.Init("backtest", logger.LevelFor(*verbose))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var ticks []model.Tick
	var symbols []string
	var err error
	if *file != "" {
		ticks, err = loadFile(*file)
		if err != nil {
			log.Fatal().Err(err).Str("file", *file).Msg("load ticks")
		}
		symbols = distinct(ticks)
	} else {
		symbols = splitSymbols(*symbolsFlag)
		ticks, err = fetch(ctx, binance.NewHistory(*restURL, nil), symbols, time.Duration(*minutes)*time.Minute)
		if err != nil {
			log.Fatal().Err(err).Msg("fetch history")
		}
		if *save != "" {
			if err := saveFile(*save, ticks); err != nil {
				log.Fatal().Err(err).Str("file", *save).Msg("save ticks")
			}
			log.Info().Str("file", *save).Int("ticks", len(ticks)).Msg("ticks saved")
		}
	}
	if len(ticks) == 0 {
		log.Fatal().Msg("no ticks to replay")
	}

	coordLog := log
	if !*verbose {
		coordLog = log.Level(zerolog.WarnLevel)
	}

	// Retention is disabled so every forecast survives to the report.
	ldg := ledger.New(*ledgerCap, ledger.DefaultToleranceMs)
	coord := coordinator.New(coordinator.Config{
		Symbols:          symbols,
		ForecastInterval: *interval,
		Horizon:          *horizon,
		RetentionMs:      1 << 62,
	}, coordinator.Deps{
		Store:    tickstore.New(tickstore.Config{}),
		Ledger:   ldg,
		Engine:   forecast.New(*minTicks),
		Notifier: notifier(*verbose, log),
		Log:      coordLog,
	})

	start := time.Now()
	cycles := replay.Drive(ctx, ticks, *interval,
		func(t model.Tick) { coord.HandleTick(ctx, t) },
		func(now time.Time) { coord.ForecastOnce(ctx, now) })

	fmt.Println()
	fmt.Printf("Replayed %d ticks, %d cycles in %v\n", len(ticks), cycles, time.Since(start).Truncate(time.Millisecond))
	fmt.Printf("%-10s %7s %8s %12s %9s %9s %9s %8s\n", "SYMBOL", "TOTAL", "RESOLVED", "MAE", "MAPE%", "P50%", "P95%", "HIT")
	for _, sym := range symbols {
		a := api.Summarize(sym, ldg.List(sym))
		fmt.Printf("%-10s %7d %8d %12.6f %9.4f %9.4f %9.4f %8.3f\n",
			a.Instrument, a.Total, a.Resolved, a.MAE, a.MAPE, a.P50, a.P95, a.HitRate)
	}
}

func loadFile(path string) ([]model.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return replay.Load(f)
}

func saveFile(path string, ticks []model.Tick) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := replay.Write(f, ticks); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func fetch(ctx context.Context, h *binance.History, symbols []string, span time.Duration) ([]model.Tick, error) {
	var all []model.Tick
	for _, sym := range symbols {
		ticks, err := h.Fetch(ctx, sym, span)
		if err != nil {
			return nil, err
		}
		all = append(all, ticks...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].TS < all[j].TS })
	return all, nil
}

// notifier logs alerts only in verbose mode.
func notifier(verbose bool, log zerolog.Logger) notification.Notifier {
	if verbose {
		return notification.NewLogNotifier(log)
	}
	return notification.Multi{}
}

func splitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if k := model.Key(p); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func distinct(ticks []model.Tick) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range ticks {
		if !seen[t.Instrument] {
			seen[t.Instrument] = true
			out = append(out, t.Instrument)
		}
	}
	return out
}
