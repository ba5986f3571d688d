package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesServiceField(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "test-service", "info")
	l.Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "test-service", line["service"])
	assert.Equal(t, "hello", line["message"])
	assert.Contains(t, line, "time")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"DEBUG":   zerolog.DebugLevel,
		" warn ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestInit_DebugFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "svc", LevelFor(false))
	l.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	l = New(&buf, "svc", LevelFor(true))
	l.Debug().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TraceID(ctx))

	ctx = WithTraceID(ctx, "test-trace-123")
	assert.Equal(t, "test-trace-123", TraceID(ctx))
}

func TestGenerateTraceID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	tid := GenerateTraceID("BTCUSDT", ts)

	assert.Regexp(t, `^BTCUSDT-\d+$`, tid)
	assert.Contains(t, tid, "123456789")
}

func TestCtx_AddsTraceField(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, "svc", "info")

	plain := Ctx(context.Background(), base)
	plain.Info().Msg("plain")
	assert.NotContains(t, buf.String(), "trace_id")
	buf.Reset()

	ctx := WithTraceID(context.Background(), "abc-123")
	traced := Ctx(ctx, base)
	traced.Info().Msg("traced")
	assert.Contains(t, buf.String(), `"trace_id":"abc-123"`)
}
