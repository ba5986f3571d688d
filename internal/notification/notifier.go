// Package notification delivers alerts to external channels (log,
// webhooks, Telegram).
package notification

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"tickcast/internal/model"
)

// Level represents the severity of an alert.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// LevelOf maps an alert kind to its severity. Divergence between price
// action and the forecast direction is critical; indicator extremes are
// warnings.
func LevelOf(kind model.AlertKind) Level {
	switch kind {
	case model.AlertSharpDrop, model.AlertSharpSpike:
		return LevelCritical
	case model.AlertOverbought, model.AlertOversold, model.AlertUpperBand, model.AlertLowerBand:
		return LevelWarning
	default:
		return LevelInfo
	}
}

// Title returns a short human-readable headline for a.
func Title(a model.Alert) string {
	return fmt.Sprintf("%s %s", a.Instrument, a.Kind)
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert model.Alert) error
}

// LogNotifier writes alerts to the log. It is the fallback when no remote
// channel is configured.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Send(_ context.Context, alert model.Alert) error {
	n.log.Warn().
		Str("level", string(LevelOf(alert.Kind))).
		Str("symbol", alert.Instrument).
		Str("kind", string(alert.Kind)).
		Float64("value", alert.Value).
		Msg(alert.Message)
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert model.Alert) error {
	var failed []string
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			failed = append(failed, err.Error())
		}
	}
	if len(failed) > 0 {
		return errors.Errorf("notify: %d of %d failed: %v", len(failed), len(m), failed)
	}
	return nil
}
