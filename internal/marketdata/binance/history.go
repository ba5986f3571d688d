package binance

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"tickcast/internal/model"
)

const (
	// DefaultRESTURL is the public REST API base used for backfill.
	DefaultRESTURL = "https://api.binance.com"

	aggTradesPath = "/api/v3/aggTrades"
	// MaxAggTrades is the largest page the aggTrades endpoint returns.
	MaxAggTrades = 1000
	// DefaultMaxPages bounds the requests one Fetch makes.
	DefaultMaxPages = 60
)

// History fetches recent trades over REST.
type History struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
	limit   int

	// MaxPages bounds the pages one Fetch requests. When the span holds
	// more trades the newest are left out and a warning is logged.
	MaxPages int
	Log      zerolog.Logger
}

// NewHistory returns a History for baseURL. A nil client gets a 10 s
// timeout client.
func NewHistory(baseURL string, client *http.Client) *History {
	if baseURL == "" {
		baseURL = DefaultRESTURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &History{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		client:   client,
		now:      time.Now,
		limit:    MaxAggTrades,
		MaxPages: DefaultMaxPages,
		Log:      zerolog.Nop(),
	}
}

type aggTrade struct {
	ID        int64  `json:"a"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// Fetch returns the aggregated trades of the last span for the instrument,
// oldest first. The endpoint pages forward from the start of the window, so
// Fetch follows the aggregate trade ids until it passes the end of the span
// or MaxPages is reached. Entries that fail to parse are skipped.
func (h *History) Fetch(ctx context.Context, instrument string, span time.Duration) ([]model.Tick, error) {
	symbol := model.Key(instrument)
	end := h.now().UnixMilli()
	start := end - span.Milliseconds()

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("startTime", strconv.FormatInt(start, 10))
	q.Set("endTime", strconv.FormatInt(end, 10))
	q.Set("limit", strconv.Itoa(h.limit))

	var ticks []model.Tick
	for page := 1; ; page++ {
		trades, err := h.page(ctx, symbol, q)
		if err != nil {
			return nil, err
		}

		lastID := int64(-1)
		for _, tr := range trades {
			if tr.TradeTime > end {
				return ticks, nil
			}
			lastID = tr.ID
			price, err := strconv.ParseFloat(tr.Price, 64)
			if err != nil || tr.TradeTime <= 0 {
				continue
			}
			ticks = append(ticks, model.Tick{Instrument: symbol, Price: price, TS: tr.TradeTime})
		}

		if len(trades) < h.limit || lastID < 0 {
			return ticks, nil
		}
		if page >= h.MaxPages {
			h.Log.Warn().
				Str("symbol", symbol).
				Int("pages", page).
				Int("ticks", len(ticks)).
				Dur("span", span).
				Msg("aggTrades page cap reached, newest trades of the span not loaded")
			return ticks, nil
		}

		q = url.Values{}
		q.Set("symbol", symbol)
		q.Set("fromId", strconv.FormatInt(lastID+1, 10))
		q.Set("limit", strconv.Itoa(h.limit))
	}
}

func (h *History) page(ctx context.Context, symbol string, q url.Values) ([]aggTrade, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+aggTradesPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build aggTrades request")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "aggTrades %s", symbol)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("aggTrades %s: status %d: %s", symbol, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var trades []aggTrade
	if err := json.NewDecoder(resp.Body).Decode(&trades); err != nil {
		return nil, errors.Wrapf(err, "decode aggTrades %s", symbol)
	}
	return trades, nil
}
