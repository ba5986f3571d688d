package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickcast/internal/model"
)

var overbought = model.Alert{
	Instrument: "BTCUSDT",
	Kind:       model.AlertOverbought,
	Message:    "BTCUSDT: OVERBOUGHT (RSI 75.2)",
	Value:      75.2,
	TS:         1_700_000_000_000,
}

func TestLevelOf(t *testing.T) {
	assert.Equal(t, LevelCritical, LevelOf(model.AlertSharpDrop))
	assert.Equal(t, LevelCritical, LevelOf(model.AlertSharpSpike))
	assert.Equal(t, LevelWarning, LevelOf(model.AlertUpperBand))
	assert.Equal(t, LevelWarning, LevelOf(model.AlertOversold))
	assert.Equal(t, LevelInfo, LevelOf("other"))
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf))

	require.NoError(t, n.Send(context.Background(), overbought))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "BTCUSDT", line["symbol"])
	assert.Equal(t, "overbought", line["kind"])
	assert.Equal(t, "WARNING", line["level"])
	assert.Equal(t, overbought.Message, line["message"])
}

func TestWebhookNotifier(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookNotifier(srv.URL).Send(context.Background(), overbought))
	assert.Equal(t, LevelWarning, got.Level)
	assert.Equal(t, "BTCUSDT overbought", got.Title)
	assert.Equal(t, 75.2, got.Value)
	assert.Equal(t, "2023-11-14T22:13:20Z", got.TS)
}

func TestWebhookNotifier_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), overbought)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestTelegramNotifier(t *testing.T) {
	var path string
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL
	require.NoError(t, n.Send(context.Background(), overbought))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "MarkdownV2", body["parse_mode"])
	assert.Contains(t, body["text"], `RSI 75\.2`)
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a\_b\*c\.`, escapeMarkdown("a_b*c."))
	assert.Equal(t, "plain", escapeMarkdown("plain"))
}

type stubNotifier struct {
	err  error
	sent []model.Alert
}

func (s *stubNotifier) Send(_ context.Context, a model.Alert) error {
	s.sent = append(s.sent, a)
	return s.err
}

func TestMulti(t *testing.T) {
	ok := &stubNotifier{}
	bad := &stubNotifier{err: errors.New("down")}

	err := Multi{bad, ok}.Send(context.Background(), overbought)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Len(t, ok.sent, 1, "a failing notifier does not stop the others")

	assert.NoError(t, Multi{ok}.Send(context.Background(), overbought))
}
