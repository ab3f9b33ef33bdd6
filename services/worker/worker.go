package worker

import (
	"context"
	"sync"
	"time"

	"priceowl/scrapeworker/logger"
	"priceowl/scrapeworker/services/ledger"
	"priceowl/scrapeworker/services/publisher"
)

// Runner executes one full scrape run for a source
type Runner interface {
	SourceID() string
	Run(ctx context.Context) (*ledger.Entry, error)
}

// Worker runs every configured source on a fixed interval. Sources run
// concurrently with each other; each run is sequential internally.
type Worker struct {
	runners   []Runner
	interval  time.Duration
	publisher publisher.Publisher
	store     ledger.Store
	retention time.Duration
	log       *logger.Logger
}

// NewWorker creates a worker over the given runners. Publisher may be nil.
func NewWorker(runners []Runner, interval time.Duration, pub publisher.Publisher) *Worker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Worker{
		runners:   runners,
		interval:  interval,
		publisher: pub,
		log:       logger.ForComponent("worker"),
	}
}

// SetCleanup enables ledger cleanup after every pass: finished runs older
// than the retention window are deleted. A zero retention disables it.
func (w *Worker) SetCleanup(store ledger.Store, retention time.Duration) {
	w.store = store
	w.retention = retention
}

// Start runs all sources immediately and then on every interval tick
// until the context is cancelled
func (w *Worker) Start(ctx context.Context) {
	w.log.Info().
		Int("sources", len(w.runners)).
		Str("interval", w.interval.String()).
		Msg("Worker started")

	w.runAll(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping")
			return
		case <-ticker.C:
			w.runAll(ctx)
		}
	}
}

func (w *Worker) runAll(ctx context.Context) {
	if len(w.runners) == 0 {
		w.log.Warn().Msg("No sources configured")
		return
	}

	var wg sync.WaitGroup
	for _, runner := range w.runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			entry, err := r.Run(ctx)
			if err != nil {
				w.log.Error().Err(err).Str("source", r.SourceID()).Msg("Run failed")
				return
			}
			if entry != nil {
				w.log.Info().
					Str("source", r.SourceID()).
					Str("status", string(entry.Status)).
					Int("found", entry.Counts.Found).
					Msg("Run finished")
			}
		}(runner)
	}
	wg.Wait()

	if w.publisher != nil {
		if err := w.publisher.TrimStreams(); err != nil {
			w.log.Warn().Err(err).Msg("Failed to trim event streams")
		}
	}

	if w.store != nil && w.retention > 0 {
		removed, err := w.store.Cleanup(ctx, time.Now().Add(-w.retention))
		if err != nil {
			w.log.Warn().Err(err).Msg("Ledger cleanup failed")
		} else if removed > 0 {
			w.log.Info().Int64("removed", removed).Msg("Pruned old ledger entries")
		}
	}
}
