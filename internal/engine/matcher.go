package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
)

// Store is the durable record of orders and trades. Implementations must
// copy what they are given; the engine keeps mutating resting orders.
type Store interface {
	// CreateOrder returns domain.ErrDuplicateOrder when the order id or
	// idempotency key is taken.
	CreateOrder(ctx context.Context, order *domain.Order) error
	SaveOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	CreateTrade(ctx context.Context, trade *domain.Trade) error
	// FindOpenOrders returns the open and partially filled orders of an
	// instrument ordered by created_at ascending.
	FindOpenOrders(ctx context.Context, instrument string) ([]*domain.Order, error)
}

// Publisher fans engine events out to live subscribers. Calls must not
// block and delivery failures are the publisher's problem.
type Publisher interface {
	PublishBook(view DepthView)
	PublishTrade(trade domain.Trade)
	PublishOrder(order domain.Order)
}

// Recorder receives engine counters and latencies. It never affects
// control flow.
type Recorder interface {
	OrderReceived(instrument string, orderType domain.OrderType, side domain.Side)
	OrderMatched(instrument string)
	OrderRejected(instrument, reason string)
	TradeExecuted(instrument string)
	ObserveLatency(instrument string, orderType domain.OrderType, d time.Duration)
	SetDepth(instrument string, side domain.Side, quantity decimal.Decimal)
}

// Result is the outcome of processing one incoming order.
type Result struct {
	Order  *domain.Order // final state of the incoming order
	Trades []*domain.Trade
}

// Matcher implements price-time priority matching for one book. It is not
// safe for concurrent use; the owning Engine runs it from its sequencer
// with the book write lock held.
type Matcher struct {
	book            *OrderBook
	store           Store
	publisher       Publisher
	recorder        Recorder
	broadcastLevels int
	now             func() time.Time
	newID           func() string
}

// NewMatcher creates a Matcher over book. A nil publisher or recorder
// disables that side effect.
func NewMatcher(book *OrderBook, store Store, publisher Publisher, recorder Recorder, broadcastLevels int) *Matcher {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Matcher{
		book:            book,
		store:           store,
		publisher:       publisher,
		recorder:        recorder,
		broadcastLevels: broadcastLevels,
		now:             time.Now,
		newID:           func() string { return uuid.New().String() },
	}
}

// Process records an accepted order, matches it against the book and returns
// its final state and the trades it produced.
func (m *Matcher) Process(ctx context.Context, order *domain.Order) (*Result, error) {
	m.recorder.OrderReceived(order.Instrument, order.Type, order.Side)

	if err := m.checkIncoming(order); err != nil {
		m.recorder.OrderRejected(order.Instrument, "invalid_order")
		return nil, err
	}

	if err := m.store.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, domain.ErrDuplicateOrder) {
			m.recorder.OrderRejected(order.Instrument, "duplicate")
			return nil, domain.ErrDuplicateOrder
		}
		return nil, &domain.PersistenceError{Op: "create_order", Err: err}
	}

	switch order.Type {
	case domain.OrderTypeMarket:
		return m.matchMarket(ctx, order)
	case domain.OrderTypeLimit:
		return m.matchLimit(ctx, order)
	}
	m.recorder.OrderRejected(order.Instrument, "invalid_type")
	return nil, &domain.InternalError{Message: fmt.Sprintf("order %s: unknown type %q", order.OrderID, order.Type)}
}

func (m *Matcher) checkIncoming(order *domain.Order) error {
	switch {
	case order.Instrument != m.book.Instrument():
		return &domain.InternalError{Message: fmt.Sprintf("order %s: instrument %s routed to %s", order.OrderID, order.Instrument, m.book.Instrument())}
	case !order.Side.Valid():
		return &domain.InternalError{Message: fmt.Sprintf("order %s: unknown side %q", order.OrderID, order.Side)}
	case order.Status != domain.OrderStatusOpen || !order.FilledQuantity.IsZero():
		return &domain.InternalError{Message: fmt.Sprintf("order %s: already processed (%s)", order.OrderID, order.Status)}
	case !order.Quantity.IsPositive():
		return &domain.InternalError{Message: fmt.Sprintf("order %s: non-positive quantity", order.OrderID)}
	}
	return nil
}

// matchMarket fills against the opposite side at any price. Unfilled
// quantity is dropped; market orders never rest.
func (m *Matcher) matchMarket(ctx context.Context, order *domain.Order) (*Result, error) {
	trades, err := m.match(ctx, order, nil)
	if err != nil {
		return nil, err
	}

	switch {
	case order.FilledQuantity.IsZero():
		order.Status = domain.OrderStatusRejected
	case order.IsFilled():
		order.Status = domain.OrderStatusFilled
	default:
		order.Status = domain.OrderStatusPartiallyFilled
	}
	order.UpdatedAt = m.now()

	if err := m.saveOrder(ctx, order); err != nil {
		return nil, err
	}

	if order.Status == domain.OrderStatusRejected {
		m.recorder.OrderRejected(order.Instrument, "no_liquidity")
	} else {
		m.recorder.OrderMatched(order.Instrument)
	}
	m.publishBook()

	return &Result{Order: order.Clone(), Trades: trades}, nil
}

// matchLimit fills while the order crosses the best opposite price, then
// rests any remainder on its own side.
func (m *Matcher) matchLimit(ctx context.Context, order *domain.Order) (*Result, error) {
	if !order.Price.IsPositive() {
		return nil, &domain.InternalError{Message: fmt.Sprintf("order %s: limit order without price", order.OrderID)}
	}

	crosses := func(restingPrice decimal.Decimal) bool {
		if order.Side == domain.SideBuy {
			return order.Price.GreaterThanOrEqual(restingPrice)
		}
		return order.Price.LessThanOrEqual(restingPrice)
	}

	trades, err := m.match(ctx, order, crosses)
	if err != nil {
		return nil, err
	}

	switch {
	case order.IsFilled():
		order.Status = domain.OrderStatusFilled
	case order.FilledQuantity.IsPositive():
		order.Status = domain.OrderStatusPartiallyFilled
	default:
		order.Status = domain.OrderStatusOpen
	}
	order.UpdatedAt = m.now()

	if err := m.saveOrder(ctx, order); err != nil {
		return nil, err
	}
	if order.Status.IsResting() {
		if err := m.book.Insert(order); err != nil {
			return nil, err
		}
	}

	if len(trades) > 0 {
		m.recorder.OrderMatched(order.Instrument)
	}
	m.publishBook()

	return &Result{Order: order.Clone(), Trades: trades}, nil
}

// match runs the fill loop shared by both order types. crosses is nil for
// market orders. Each step persists the trade before touching any
// in-memory state, so a failed trade write leaves the book as it was.
func (m *Matcher) match(ctx context.Context, order *domain.Order, crosses func(decimal.Decimal) bool) ([]*domain.Trade, error) {
	trades := make([]*domain.Trade, 0)
	opposite := order.Side.Opposite()

	for order.RemainingQuantity().IsPositive() {
		resting, ok := m.book.PeekBest(opposite)
		if !ok {
			break
		}
		if crosses != nil && !crosses(resting.Price) {
			break
		}

		qty := domain.MinDecimal(order.RemainingQuantity(), resting.RemainingQuantity())
		if !qty.IsPositive() {
			return trades, &domain.InternalError{Message: fmt.Sprintf("resting order %s has no remaining quantity", resting.OrderID)}
		}

		trade := m.newTrade(order, resting, qty)
		if err := m.store.CreateTrade(ctx, trade); err != nil {
			return trades, &domain.PersistenceError{Op: "create_trade", Err: err}
		}

		if err := resting.ApplyFill(qty); err != nil {
			return trades, err
		}
		if err := order.ApplyFill(qty); err != nil {
			return trades, err
		}
		resting.UpdatedAt = trade.ExecutedAt
		if resting.IsFilled() {
			m.book.RemoveBest(opposite)
			resting.Status = domain.OrderStatusFilled
		} else {
			resting.Status = domain.OrderStatusPartiallyFilled
		}

		if err := m.saveOrder(ctx, resting); err != nil {
			return trades, err
		}

		trades = append(trades, trade)
		m.recorder.TradeExecuted(order.Instrument)
		m.publisher.PublishTrade(*trade)
		m.publisher.PublishOrder(*resting)
	}

	return trades, nil
}

func (m *Matcher) newTrade(incoming, resting *domain.Order, qty decimal.Decimal) *domain.Trade {
	buy, sell := incoming, resting
	if incoming.Side == domain.SideSell {
		buy, sell = resting, incoming
	}
	return &domain.Trade{
		TradeID:      m.newID(),
		BuyOrderID:   buy.OrderID,
		SellOrderID:  sell.OrderID,
		Instrument:   incoming.Instrument,
		Price:        resting.Price,
		Quantity:     qty,
		BuyClientID:  buy.ClientID,
		SellClientID: sell.ClientID,
		ExecutedAt:   m.now(),
	}
}

// Cancel removes a resting order and persists it as cancelled. It returns
// domain.ErrOrderNotFound when the order is not on the book.
func (m *Matcher) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	o, ok := m.book.Cancel(orderID, m.now())
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if err := m.saveOrder(ctx, o); err != nil {
		return nil, err
	}
	m.publisher.PublishOrder(*o)
	m.publishBook()
	return o.Clone(), nil
}

// Reconcile cancels an order the store still shows as open although it is
// not on the book, which happens when a process stops between recording an
// order and settling it. Terminal orders are reported as they are:
// filled and rejected orders are not cancellable and cancelled ones are
// not found.
func (m *Matcher) Reconcile(ctx context.Context, orderID string) (*domain.Order, error) {
	if _, ok := m.book.Get(orderID); ok {
		return m.Cancel(ctx, orderID)
	}

	o, err := m.store.GetOrder(ctx, orderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get_order", Err: err}
	}
	if o.Instrument != m.book.Instrument() {
		return nil, domain.ErrOrderNotFound
	}

	switch o.Status {
	case domain.OrderStatusFilled, domain.OrderStatusRejected:
		return nil, domain.ErrOrderNotCancellable
	case domain.OrderStatusCancelled:
		return nil, domain.ErrOrderNotFound
	}

	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = m.now()
	if err := m.saveOrder(ctx, o); err != nil {
		return nil, err
	}
	m.publisher.PublishOrder(*o)
	return o, nil
}

// Restore rebuilds the book from the store's open orders. It produces no
// trades and publishes nothing.
func (m *Matcher) Restore(ctx context.Context) (int, error) {
	orders, err := m.store.FindOpenOrders(ctx, m.book.Instrument())
	if err != nil {
		return 0, &domain.PersistenceError{Op: "find_open_orders", Err: err}
	}

	m.book.Reset()
	restored := 0
	for _, o := range orders {
		if o.Type != domain.OrderTypeLimit || !o.Status.IsResting() || o.IsFilled() {
			continue
		}
		if o.Instrument != m.book.Instrument() {
			continue
		}
		if err := m.book.Insert(o.Clone()); err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}

func (m *Matcher) saveOrder(ctx context.Context, o *domain.Order) error {
	if err := m.store.SaveOrder(ctx, o); err != nil {
		return &domain.PersistenceError{Op: "save_order", Err: err}
	}
	return nil
}

func (m *Matcher) publishBook() {
	m.publisher.PublishBook(m.book.Depth(m.broadcastLevels, false))
}

type nopPublisher struct{}

func (nopPublisher) PublishBook(DepthView) {}
func (nopPublisher) PublishTrade(domain.Trade) {}
func (nopPublisher) PublishOrder(domain.Order) {}

// NopRecorder discards all measurements.
type NopRecorder struct{}

func (NopRecorder) OrderReceived(string, domain.OrderType, domain.Side) {}
func (NopRecorder) OrderMatched(string) {}
func (NopRecorder) OrderRejected(string, string) {}
func (NopRecorder) TradeExecuted(string) {}
func (NopRecorder) ObserveLatency(string, domain.OrderType, time.Duration) {}
func (NopRecorder) SetDepth(string, domain.Side, decimal.Decimal) {}
