package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper force-submits overdue attempts and reports how many it closed.
type Sweeper interface {
	SweepTimeouts(ctx context.Context) (int, error)
}

// AutoSubmitWorker periodically closes attempts whose deadline has passed.
type AutoSubmitWorker struct {
	sweeper  Sweeper
	interval time.Duration
	log      zerolog.Logger
}

// NewAutoSubmitWorker creates a new AutoSubmitWorker.
func NewAutoSubmitWorker(sweeper Sweeper, interval time.Duration, log zerolog.Logger) *AutoSubmitWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &AutoSubmitWorker{
		sweeper:  sweeper,
		interval: interval,
		log:      log.With().Str("component", "autosubmit_worker").Logger(),
	}
}

// Start sweeps once per interval until ctx is cancelled. Call in a goroutine.
func (w *AutoSubmitWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("AutoSubmitWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("AutoSubmitWorker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep.
func (w *AutoSubmitWorker) RunOnce(ctx context.Context) int {
	n, err := w.sweeper.SweepTimeouts(ctx)
	if err != nil && ctx.Err() == nil {
		w.log.Error().Err(err).Msg("Auto-submit sweep failed")
	}
	if n > 0 {
		w.log.Info().Int("submitted", n).Msg("Auto-submitted overdue attempts")
	}
	return n
}
