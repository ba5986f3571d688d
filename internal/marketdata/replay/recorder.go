package replay

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rs/zerolog"

	"tickcast/internal/model"
)

// Source is a live tick source, such as the exchange feed.
type Source interface {
	Run(ctx context.Context, out chan<- model.Tick) error
}

// Recorder passes ticks from a Source through unchanged while appending
// each one to w as a JSON line, the format Load reads. A failed write stops
// recording; ticks keep flowing.
type Recorder struct {
	src Source
	w   io.Writer
	log zerolog.Logger
}

// NewRecorder wraps src so that everything it emits is recorded to w.
func NewRecorder(src Source, w io.Writer, log zerolog.Logger) *Recorder {
	return &Recorder{src: src, w: w, log: log.With().Str("component", "recorder").Logger()}
}

// Run runs the wrapped source and forwards its ticks into out. It returns
// the source's error once the source has stopped.
func (r *Recorder) Run(ctx context.Context, out chan<- model.Tick) error {
	in := make(chan model.Tick, cap(out))
	errc := make(chan error, 1)
	go func() {
		errc <- r.src.Run(ctx, in)
		close(in)
	}()

	enc := json.NewEncoder(r.w)
	recording := true
	recorded := 0
	for t := range in {
		if recording {
			if err := enc.Encode(t); err != nil {
				r.log.Error().Err(err).Int("recorded", recorded).Msg("tick recording stopped")
				recording = false
			} else {
				recorded++
			}
		}
		if ctx.Err() != nil {
			continue
		}
		select {
		case out <- t:
		case <-ctx.Done():
		}
	}

	r.log.Info().Int("recorded", recorded).Msg("tick recording finished")
	return <-errc
}
