// Package binance connects to Binance market data: the combined trade
// WebSocket stream for live ticks and the aggTrades REST endpoint for a
// short historical backfill.
//
// The live feed is long-lived. It reconnects forever with a fixed backoff
// and only returns when its context is cancelled.
package binance

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"tickcast/internal/model"
)

const (
	// DefaultStreamURL is the USDⓈ-M futures combined stream endpoint.
	DefaultStreamURL = "wss://fstream.binance.com/stream"

	defaultReconnectBackoff = 5 * time.Second
	defaultReadTimeout      = 5 * time.Second
	defaultPingInterval     = 30 * time.Second
	// staleAfter bounds how long a connection may go without any frame
	// (data or pong) before it is considered dead.
	staleAfter = 90 * time.Second
)

// ErrNoSymbols is returned by NewFeed when no instrument is configured.
var ErrNoSymbols = errors.New("binance: at least one symbol is required")

// FeedConfig configures the trade stream client.
type FeedConfig struct {
	// URL is the combined-stream base, e.g. "wss://fstream.binance.com/stream".
	URL     string
	Symbols []string

	// ReconnectBackoff is the fixed delay between connection attempts.
	ReconnectBackoff time.Duration
	// ReadTimeout is how long the reader waits for a message before it
	// re-checks for shutdown. A timeout is not a connection failure.
	ReadTimeout  time.Duration
	PingInterval time.Duration
}

func (c *FeedConfig) defaults() {
	if c.URL == "" {
		c.URL = DefaultStreamURL
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = defaultReconnectBackoff
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
}

// Feed streams trade ticks for a fixed instrument set.
type Feed struct {
	cfg     FeedConfig
	symbols map[string]struct{}
	log     zerolog.Logger

	// Optional hooks.
	OnConnect   func()
	OnReconnect func(err error)
	OnMalformed func(raw []byte, err error)
}

// NewFeed validates cfg and returns a Feed.
func NewFeed(cfg FeedConfig, log zerolog.Logger) (*Feed, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, errors.Wrap(err, "binance: parse stream url")
	}

	f := &Feed{
		cfg:     cfg,
		symbols: make(map[string]struct{}, len(cfg.Symbols)),
		log:     log.With().Str("component", "binance_feed").Logger(),
	}
	for _, s := range cfg.Symbols {
		if k := model.Key(s); k != "" {
			f.symbols[k] = struct{}{}
		}
	}
	if len(f.symbols) == 0 {
		return nil, ErrNoSymbols
	}
	return f, nil
}

// StreamURL returns the combined-stream URL subscribing to <sym>@trade for
// every configured symbol, in configuration order.
func (f *Feed) StreamURL() string {
	streams := make([]string, 0, len(f.cfg.Symbols))
	seen := make(map[string]bool, len(f.cfg.Symbols))
	for _, s := range f.cfg.Symbols {
		k := model.Key(s)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		streams = append(streams, strings.ToLower(k)+"@trade")
	}
	return f.cfg.URL + "?streams=" + strings.Join(streams, "/")
}

// Run connects and pushes parsed ticks into out until ctx is cancelled.
// Connection failures are logged and retried after ReconnectBackoff.
func (f *Feed) Run(ctx context.Context, out chan<- model.Tick) error {
	streamURL := f.StreamURL()
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := f.consume(ctx, streamURL, out)
		if ctx.Err() != nil {
			return nil
		}

		f.log.Warn().Err(err).Dur("backoff", f.cfg.ReconnectBackoff).Msg("trade stream disconnected, reconnecting")
		if f.OnReconnect != nil {
			f.OnReconnect(err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.cfg.ReconnectBackoff):
		}
	}
}

type frame struct {
	raw []byte
	err error
}

// consume runs one connection until it fails or ctx is cancelled.
func (f *Feed) consume(ctx context.Context, streamURL string, out chan<- model.Tick) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer conn.Close()

	f.log.Info().Str("url", streamURL).Msg("connected to trade stream")
	if f.OnConnect != nil {
		f.OnConnect()
	}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(staleAfter))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(staleAfter))
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go f.keepAlive(connCtx, conn)

	frames := make(chan frame, 64)
	go func() {
		defer close(frames)
		for {
			_, raw, err := conn.ReadMessage()
			select {
			case frames <- frame{raw: raw, err: err}:
			case <-connCtx.Done():
				return
			}
			if err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(staleAfter))
		}
	}()

	idle := time.NewTimer(f.cfg.ReadTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			return nil

		case <-idle.C:
			// Nothing arrived within ReadTimeout; keep waiting on the same
			// connection.
			idle.Reset(f.cfg.ReadTimeout)

		case fr, ok := <-frames:
			if !ok {
				return errors.New("reader stopped")
			}
			if fr.err != nil {
				return errors.Wrap(fr.err, "read")
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(f.cfg.ReadTimeout)

			tick, ok, err := ParseTrade(fr.raw)
			if err != nil {
				f.log.Debug().Err(err).Bytes("raw", truncate(fr.raw, 100)).Msg("dropping malformed message")
				if f.OnMalformed != nil {
					f.OnMalformed(fr.raw, err)
				}
				continue
			}
			if !ok {
				continue
			}
			if _, want := f.symbols[tick.Instrument]; !want {
				continue
			}

			select {
			case out <- tick:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (f *Feed) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				f.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tradeEvent struct {
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// ParseTrade decodes one combined-stream message. ok is false (with a nil
// error) for well-formed messages from streams other than @trade. Price
// range checks are left to the tick store; only syntax is checked here.
func ParseTrade(raw []byte) (tick model.Tick, ok bool, err error) {
	var env streamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.Tick{}, false, errors.Wrap(err, "decode envelope")
	}
	if !strings.Contains(env.Stream, "@trade") {
		return model.Tick{}, false, nil
	}

	var ev tradeEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return model.Tick{}, false, errors.Wrap(err, "decode trade")
	}

	symbol := model.Key(ev.Symbol)
	if symbol == "" {
		symbol = streamSymbol(env.Stream)
	}
	if symbol == "" {
		return model.Tick{}, false, errors.New("missing symbol")
	}

	price, err := strconv.ParseFloat(ev.Price, 64)
	if err != nil {
		return model.Tick{}, false, errors.Wrapf(err, "invalid price %q", ev.Price)
	}
	if ev.TradeTime <= 0 {
		return model.Tick{}, false, errors.Errorf("invalid trade time %d", ev.TradeTime)
	}

	return model.Tick{Instrument: symbol, Price: price, TS: ev.TradeTime}, true, nil
}

// streamSymbol extracts "BTCUSDT" from "btcusdt@trade".
func streamSymbol(stream string) string {
	name, _, _ := strings.Cut(stream, "@")
	return model.Key(name)
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
