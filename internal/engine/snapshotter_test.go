package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/store"
)

type depthRecorder struct {
	NopRecorder
	mu    sync.Mutex
	depth map[domain.Side]decimal.Decimal
}

func (r *depthRecorder) SetDepth(_ string, side domain.Side, qty decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.depth == nil {
		r.depth = make(map[domain.Side]decimal.Decimal)
	}
	r.depth[side] = qty
}

type failingSnapshots struct{}

func (failingSnapshots) SaveSnapshot(context.Context, *domain.BookSnapshot) error {
	return errStoreDown
}

func newSnapshotEnv(t *testing.T) (*Exchange, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	x := NewExchange([]string{testInstrument}, st, nil, nil, Options{}, nil)
	x.Start(context.Background())
	t.Cleanup(x.Stop)

	e, _ := x.Get(testInstrument)
	for _, o := range []*domain.Order{
		newOrder("b1", domain.SideBuy, domain.OrderTypeLimit, "99", "1"),
		newOrder("b2", domain.SideBuy, domain.OrderTypeLimit, "98", "2"),
		newOrder("a1", domain.SideSell, domain.OrderTypeLimit, "101", "0.5"),
	} {
		if _, err := e.Submit(context.Background(), o); err != nil {
			t.Fatalf("submit %s: %v", o.OrderID, err)
		}
	}
	return x, st
}

func TestSnapshotter_Capture(t *testing.T) {
	x, st := newSnapshotEnv(t)
	rec := &depthRecorder{}
	s := NewSnapshotter(0, 1, x, st, rec, nil)
	e, _ := x.Get(testInstrument)

	snap, err := s.Capture(context.Background(), e)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(snap.Bids) != 1 || len(snap.Asks) != 1 {
		t.Fatalf("expected one level per side, got %d/%d", len(snap.Bids), len(snap.Asks))
	}
	if !snap.Bids[0].Cumulative.Equal(dec("1")) {
		t.Errorf("expected cumulative depth, got %s", snap.Bids[0].Cumulative)
	}

	latest, err := st.LatestSnapshot(context.Background(), testInstrument)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != snap.ID {
		t.Errorf("expected snapshot %d to be latest, got %d", snap.ID, latest.ID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.depth[domain.SideBuy].Equal(dec("3")) || !rec.depth[domain.SideSell].Equal(dec("0.5")) {
		t.Errorf("unexpected depth gauges %v", rec.depth)
	}
}

func TestSnapshotter_CaptureFailure(t *testing.T) {
	x, _ := newSnapshotEnv(t)
	s := NewSnapshotter(0, 10, x, failingSnapshots{}, nil, nil)
	e, _ := x.Get(testInstrument)

	_, err := s.Capture(context.Background(), e)

	var persistErr *domain.PersistenceError
	if !errors.As(err, &persistErr) || persistErr.Op != "save_snapshot" {
		t.Fatalf("expected save_snapshot PersistenceError, got %v", err)
	}
}

func TestSnapshotter_StartTicks(t *testing.T) {
	x, st := newSnapshotEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	NewSnapshotter(10*time.Millisecond, 10, x, st, nil, nil).Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := st.LatestSnapshot(context.Background(), testInstrument); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected a periodic snapshot")
}

func TestSnapshotter_DisabledInterval(t *testing.T) {
	x, st := newSnapshotEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	NewSnapshotter(0, 10, x, st, nil, nil).Start(ctx)
	time.Sleep(30 * time.Millisecond)

	if _, err := st.LatestSnapshot(context.Background(), testInstrument); !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Errorf("expected no snapshot, got %v", err)
	}
}
