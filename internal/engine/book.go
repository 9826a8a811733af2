package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
)

// OrderBookEntry represents a single order resting on the book. The sort
// key fields are copied from the order at insertion and never change while
// the order rests.
type OrderBookEntry struct {
	Price     decimal.Decimal
	CreatedAt time.Time
	OrderID   string
	Order     *domain.Order
}

// bidLess defines ordering for the bid side: price descending, then
// created_at ascending, then order_id ascending. This means Min()
// returns the best bid (highest price, earliest time).
func bidLess(a, b OrderBookEntry) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c > 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

// askLess defines ordering for the ask side: price ascending, then
// created_at ascending, then order_id ascending. Min() returns the
// best ask (lowest price, earliest time).
func askLess(a, b OrderBookEntry) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

// OrderBook maintains the bid and ask sides for a single instrument using
// B-trees with a secondary index for O(log n) removal by order ID.
//
// Mutating methods do not lock; the instrument's sequencer is the only
// writer and holds Lock for the duration of each operation. Readers outside
// the sequencer take RLock.
type OrderBook struct {
	instrument string
	mu         sync.RWMutex
	bids       *btree.BTreeG[OrderBookEntry]
	asks       *btree.BTreeG[OrderBookEntry]
	index      map[string]OrderBookEntry // order_id → entry
}

const btreeDegree = 32

// NewOrderBook creates an empty order book for the given instrument.
func NewOrderBook(instrument string) *OrderBook {
	return &OrderBook{
		instrument: instrument,
		bids:       btree.NewG[OrderBookEntry](btreeDegree, bidLess),
		asks:       btree.NewG[OrderBookEntry](btreeDegree, askLess),
		index:      make(map[string]OrderBookEntry),
	}
}

// Instrument returns the instrument this book belongs to.
func (ob *OrderBook) Instrument() string {
	return ob.instrument
}

// Lock acquires the write lock on the order book.
func (ob *OrderBook) Lock() {
	ob.mu.Lock()
}

// Unlock releases the write lock on the order book.
func (ob *OrderBook) Unlock() {
	ob.mu.Unlock()
}

// RLock acquires the read lock on the order book.
func (ob *OrderBook) RLock() {
	ob.mu.RLock()
}

// RUnlock releases the read lock on the order book.
func (ob *OrderBook) RUnlock() {
	ob.mu.RUnlock()
}

func (ob *OrderBook) side(s domain.Side) *btree.BTreeG[OrderBookEntry] {
	if s == domain.SideBuy {
		return ob.bids
	}
	return ob.asks
}

// Insert places a resting limit order on its own side of the book.
func (ob *OrderBook) Insert(o *domain.Order) error {
	if o.Type != domain.OrderTypeLimit {
		return &domain.InternalError{Message: fmt.Sprintf("order %s: only limit orders rest on the book", o.OrderID)}
	}
	if !o.Status.IsResting() || o.IsFilled() {
		return &domain.InternalError{Message: fmt.Sprintf("order %s: status %s cannot rest on the book", o.OrderID, o.Status)}
	}
	if o.Instrument != ob.instrument {
		return &domain.InternalError{Message: fmt.Sprintf("order %s: instrument %s on %s book", o.OrderID, o.Instrument, ob.instrument)}
	}
	if _, ok := ob.index[o.OrderID]; ok {
		return &domain.InternalError{Message: fmt.Sprintf("order %s already on the book", o.OrderID)}
	}

	entry := OrderBookEntry{
		Price:     o.Price,
		CreatedAt: o.CreatedAt,
		OrderID:   o.OrderID,
		Order:     o,
	}
	ob.side(o.Side).ReplaceOrInsert(entry)
	ob.index[o.OrderID] = entry
	return nil
}

// PeekBest returns the highest-priority order on the given side without
// removing it.
func (ob *OrderBook) PeekBest(s domain.Side) (*domain.Order, bool) {
	entry, ok := ob.side(s).Min()
	if !ok {
		return nil, false
	}
	return entry.Order, true
}

// RemoveBest removes and returns the highest-priority order on the given side.
func (ob *OrderBook) RemoveBest(s domain.Side) (*domain.Order, bool) {
	entry, ok := ob.side(s).DeleteMin()
	if !ok {
		return nil, false
	}
	delete(ob.index, entry.OrderID)
	return entry.Order, true
}

// Remove deletes an order from the book by order ID using the
// secondary index.
func (ob *OrderBook) Remove(orderID string) (*domain.Order, bool) {
	entry, ok := ob.index[orderID]
	if !ok {
		return nil, false
	}
	delete(ob.index, orderID)
	ob.side(entry.Order.Side).Delete(entry)
	return entry.Order, true
}

// Cancel removes a resting order and marks it cancelled. It returns false
// when the order is not on the book (filled, already cancelled, never
// booked).
func (ob *OrderBook) Cancel(orderID string, now time.Time) (*domain.Order, bool) {
	o, ok := ob.Remove(orderID)
	if !ok {
		return nil, false
	}
	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = now
	return o, true
}

// Get returns a resting order by ID.
func (ob *OrderBook) Get(orderID string) (*domain.Order, bool) {
	entry, ok := ob.index[orderID]
	if !ok {
		return nil, false
	}
	return entry.Order, true
}

// Walk iterates one side in priority order. The callback returns true to
// continue, false to stop.
func (ob *OrderBook) Walk(s domain.Side, fn func(*domain.Order) bool) {
	ob.side(s).Ascend(func(entry OrderBookEntry) bool {
		return fn(entry.Order)
	})
}

// Reset empties both sides.
func (ob *OrderBook) Reset() {
	ob.bids.Clear(false)
	ob.asks.Clear(false)
	ob.index = make(map[string]OrderBookEntry)
}

// BidCount returns the number of individual bid orders on the book.
func (ob *OrderBook) BidCount() int {
	return ob.bids.Len()
}

// AskCount returns the number of individual ask orders on the book.
func (ob *OrderBook) AskCount() int {
	return ob.asks.Len()
}
