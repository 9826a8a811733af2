package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
)

// Options tunes every Engine created by an Exchange.
type Options struct {
	QueueSize       int
	BroadcastLevels int
}

// Engine owns the book of one instrument. All mutations go through its
// sequencer so they are applied strictly one at a time; depth reads take
// the book read lock and never observe a match half done.
type Engine struct {
	instrument string
	book       *OrderBook
	matcher    *Matcher
	seq        *Sequencer
	recorder   Recorder
	logger     *slog.Logger
}

// NewEngine wires a book, matcher and sequencer for one instrument.
func NewEngine(instrument string, store Store, publisher Publisher, recorder Recorder, opts Options, logger *slog.Logger) *Engine {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("instrument", instrument))
	book := NewOrderBook(instrument)
	return &Engine{
		instrument: instrument,
		book:       book,
		matcher:    NewMatcher(book, store, publisher, recorder, opts.BroadcastLevels),
		seq:        NewSequencer(opts.QueueSize, logger),
		recorder:   recorder,
		logger:     logger,
	}
}

// Instrument returns the instrument traded on this engine.
func (e *Engine) Instrument() string {
	return e.instrument
}

// Start launches the sequencer worker.
func (e *Engine) Start(ctx context.Context) {
	e.seq.Start(ctx)
}

// Stop fails queued work and waits for the order in progress.
func (e *Engine) Stop() {
	e.seq.Stop()
}

// Submit matches an accepted order. The engine works on its own copy; the
// caller's order is left untouched.
func (e *Engine) Submit(ctx context.Context, order *domain.Order) (*Result, error) {
	start := time.Now()
	incoming := order.Clone()

	var res *Result
	err := e.seq.Do(ctx, func(ctx context.Context) error {
		e.book.Lock()
		defer e.book.Unlock()

		r, err := e.matcher.Process(ctx, incoming)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	e.recorder.ObserveLatency(e.instrument, order.Type, time.Since(start))
	if err != nil {
		if !domain.IsClientFault(err) {
			e.logger.Error("order processing failed",
				slog.String("order_id", order.OrderID),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}
	return res, nil
}

// Cancel removes a resting order from the book. It returns
// domain.ErrOrderNotFound when the order is not resting.
func (e *Engine) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	return e.cancel(ctx, orderID, e.matcher.Cancel)
}

// CancelOrReconcile cancels a resting order, or settles a stale open record
// of an order that is no longer on the book. See Matcher.Reconcile.
func (e *Engine) CancelOrReconcile(ctx context.Context, orderID string) (*domain.Order, error) {
	return e.cancel(ctx, orderID, e.matcher.Reconcile)
}

func (e *Engine) cancel(ctx context.Context, orderID string, fn func(context.Context, string) (*domain.Order, error)) (*domain.Order, error) {
	var cancelled *domain.Order
	err := e.seq.Do(ctx, func(ctx context.Context) error {
		e.book.Lock()
		defer e.book.Unlock()

		o, err := fn(ctx, orderID)
		if err != nil {
			return err
		}
		cancelled = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// Restore replaces the book contents with the store's open orders. It is
// sequenced like any other mutation.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	var restored int
	err := e.seq.Do(ctx, func(ctx context.Context) error {
		e.book.Lock()
		defer e.book.Unlock()

		n, err := e.matcher.Restore(ctx)
		restored = n
		return err
	})
	return restored, err
}

// Depth returns the aggregated top levels of the book.
func (e *Engine) Depth(levels int, cumulative bool) DepthView {
	e.book.RLock()
	defer e.book.RUnlock()
	return e.book.Depth(levels, cumulative)
}

// Totals returns the total resting quantity per side.
func (e *Engine) Totals() (bidDepth, askDepth decimal.Decimal) {
	e.book.RLock()
	defer e.book.RUnlock()
	return e.book.Totals()
}

// Resting returns a copy of a resting order.
func (e *Engine) Resting(orderID string) (*domain.Order, bool) {
	e.book.RLock()
	defer e.book.RUnlock()
	o, ok := e.book.Get(orderID)
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Pending returns the number of queued operations.
func (e *Engine) Pending() int {
	return e.seq.Pending()
}

// Exchange is the fixed set of engines, one per configured instrument.
// The set never changes after construction, so lookups take no lock.
type Exchange struct {
	instruments []string
	engines     map[string]*Engine
	logger      *slog.Logger
}

// NewExchange creates one engine per instrument. Duplicate instruments are
// collapsed.
func NewExchange(instruments []string, store Store, publisher Publisher, recorder Recorder, opts Options, logger *slog.Logger) *Exchange {
	if logger == nil {
		logger = slog.Default()
	}
	x := &Exchange{
		engines: make(map[string]*Engine, len(instruments)),
		logger:  logger,
	}
	for _, instrument := range instruments {
		if _, ok := x.engines[instrument]; ok {
			continue
		}
		x.engines[instrument] = NewEngine(instrument, store, publisher, recorder, opts, logger)
		x.instruments = append(x.instruments, instrument)
	}
	return x
}

// Get returns the engine of an instrument.
func (x *Exchange) Get(instrument string) (*Engine, error) {
	e, ok := x.engines[instrument]
	if !ok {
		return nil, domain.ErrInstrumentNotFound
	}
	return e, nil
}

// Instruments returns the configured instruments in configuration order.
func (x *Exchange) Instruments() []string {
	out := make([]string, len(x.instruments))
	copy(out, x.instruments)
	return out
}

// Engines returns every engine in configuration order.
func (x *Exchange) Engines() []*Engine {
	out := make([]*Engine, 0, len(x.instruments))
	for _, instrument := range x.instruments {
		out = append(out, x.engines[instrument])
	}
	return out
}

// Start launches every engine.
func (x *Exchange) Start(ctx context.Context) {
	for _, e := range x.Engines() {
		e.Start(ctx)
	}
}

// Stop stops every engine.
func (x *Exchange) Stop() {
	for _, e := range x.Engines() {
		e.Stop()
	}
}

// Restore rebuilds every book from the store. It must run after Start and
// before the exchange accepts orders.
func (x *Exchange) Restore(ctx context.Context) error {
	for _, e := range x.Engines() {
		n, err := e.Restore(ctx)
		if err != nil {
			return err
		}
		x.logger.Info("order book restored",
			slog.String("instrument", e.Instrument()),
			slog.Int("orders", n),
		)
	}
	return nil
}
