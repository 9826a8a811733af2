package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType distinguishes limit orders from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	return t == OrderTypeLimit || t == OrderTypeMarket
}

// Side indicates whether an order buys or sells the instrument.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the side an order of side s matches against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus represents the lifecycle state of an order.
//
//	open → partially_filled → filled
//	open → filled | cancelled
//	partially_filled → cancelled
//
// rejected is reached only by market orders that filled nothing.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Valid reports whether s is one of the five known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusOpen, OrderStatusPartiallyFilled, OrderStatusFilled,
		OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// IsResting reports whether an order in this status may sit on the book,
// be matched further, or be cancelled.
func (s OrderStatus) IsResting() bool {
	return s == OrderStatusOpen || s == OrderStatusPartiallyFilled
}

// IsTerminal reports whether the status is final.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// Order is a buy or sell instruction for one instrument.
type Order struct {
	OrderID        string
	ClientID       string
	Instrument     string
	Side           Side
	Type           OrderType
	Price          decimal.Decimal // zero for market orders
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	Status         OrderStatus
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RemainingQuantity returns quantity - filled_quantity.
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// IsFilled reports whether nothing remains to be matched.
func (o *Order) IsFilled() bool {
	return !o.RemainingQuantity().IsPositive()
}

// ApplyFill adds qty to the filled quantity. It refuses to touch terminal
// orders and to push the filled quantity past the original quantity.
func (o *Order) ApplyFill(qty decimal.Decimal) error {
	if o.Status.IsTerminal() {
		return &InternalError{Message: fmt.Sprintf("fill on terminal order %s (%s)", o.OrderID, o.Status)}
	}
	if !qty.IsPositive() {
		return &InternalError{Message: fmt.Sprintf("non-positive fill %s on order %s", qty, o.OrderID)}
	}
	filled := o.FilledQuantity.Add(qty)
	if filled.GreaterThan(o.Quantity) {
		return &InternalError{Message: fmt.Sprintf("fill %s exceeds remaining %s on order %s", qty, o.RemainingQuantity(), o.OrderID)}
	}
	o.FilledQuantity = filled
	return nil
}

// Clone returns a copy of the order. Decimal values are immutable, so a
// shallow copy is enough.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}
