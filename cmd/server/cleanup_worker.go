package main

import (
	"context"
	"log/slog"
	"time"

	"mediaforge/internal/models"
	"mediaforge/internal/observability/metrics"
)

type cleanupStore interface {
	PurgeFailed(ctx context.Context, olderThan time.Time) ([]models.MediaItem, error)
	CountStaleTranscoding(ctx context.Context, olderThan time.Time) (int, error)
}

type cleanupTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) cleanupTicker

// cleanupWorker periodically purges old failed records and reports how many
// records have been stuck in the transcoding state past the stale threshold.
// Stale records are surfaced as a gauge only; completion is the provider's
// job and a late callback must still be able to land.
type cleanupWorker struct {
	store      cleanupStore
	logger     *slog.Logger
	metrics    *metrics.Recorder
	interval   time.Duration
	retention  time.Duration
	staleAfter time.Duration
	now        func() time.Time
	newTicker  tickerFactory
}

// Run blocks until ctx is cancelled. A zero or negative interval disables the
// worker entirely.
func (w *cleanupWorker) Run(ctx context.Context) error {
	if w == nil || w.store == nil || w.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	factory := w.newTicker
	if factory == nil {
		factory = func(d time.Duration) cleanupTicker {
			return timeTicker{ticker: time.NewTicker(d)}
		}
	}
	ticker := factory(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			w.runOnce(ctx)
		}
	}
}

func (w *cleanupWorker) runOnce(ctx context.Context) {
	now := time.Now()
	if w.now != nil {
		now = w.now()
	}

	if w.retention > 0 {
		purged, err := w.store.PurgeFailed(ctx, now.Add(-w.retention))
		switch {
		case err != nil:
			if w.logger != nil {
				w.logger.Error("failed to purge failed media", "error", err)
			}
		case len(purged) > 0:
			if w.metrics != nil {
				w.metrics.AddPurgedMedia(len(purged))
			}
			if w.logger != nil {
				w.logger.Info("purged failed media", "count", len(purged))
			}
		}
	}

	if w.staleAfter > 0 {
		stale, err := w.store.CountStaleTranscoding(ctx, now.Add(-w.staleAfter))
		if err != nil {
			if w.logger != nil {
				w.logger.Error("failed to count stale transcodes", "error", err)
			}
			return
		}
		if w.metrics != nil {
			w.metrics.SetStaleTranscoding(stale)
		}
		if stale > 0 && w.logger != nil {
			w.logger.Warn("transcodes stuck past the stale threshold", "count", stale)
		}
	}
}
