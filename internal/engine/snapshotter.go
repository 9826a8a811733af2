package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/efreitasn/spotexchange/internal/domain"
)

// SnapshotStore persists captured book snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot *domain.BookSnapshot) error
}

// Snapshotter periodically captures the top of every book and refreshes the
// depth gauges.
type Snapshotter struct {
	interval time.Duration
	levels   int
	exchange *Exchange
	store    SnapshotStore
	recorder Recorder
	logger   *slog.Logger
}

// NewSnapshotter creates a Snapshotter. A non-positive interval disables
// the background loop; Capture still works on demand.
func NewSnapshotter(
	interval time.Duration,
	levels int,
	exchange *Exchange,
	store SnapshotStore,
	recorder Recorder,
	logger *slog.Logger,
) *Snapshotter {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{
		interval: interval,
		levels:   levels,
		exchange: exchange,
		store:    store,
		recorder: recorder,
		logger:   logger,
	}
}

// Start launches a background goroutine that ticks at the configured
// interval. It stops when ctx is cancelled.
func (s *Snapshotter) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

func (s *Snapshotter) tick(ctx context.Context) {
	for _, e := range s.exchange.Engines() {
		if _, err := s.Capture(ctx, e); err != nil {
			s.logger.Error("book snapshot failed",
				slog.String("instrument", e.Instrument()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Capture persists the current cumulative depth of one engine and updates
// its depth gauges.
func (s *Snapshotter) Capture(ctx context.Context, e *Engine) (*domain.BookSnapshot, error) {
	view := e.Depth(s.levels, true)
	bidDepth, askDepth := e.Totals()
	s.recorder.SetDepth(e.Instrument(), domain.SideBuy, bidDepth)
	s.recorder.SetDepth(e.Instrument(), domain.SideSell, askDepth)

	snapshot := &domain.BookSnapshot{
		Instrument: view.Instrument,
		Bids:       view.Bids,
		Asks:       view.Asks,
		Timestamp:  view.Timestamp,
	}
	if err := s.store.SaveSnapshot(ctx, snapshot); err != nil {
		return nil, &domain.PersistenceError{Op: "save_snapshot", Err: err}
	}
	return snapshot, nil
}
