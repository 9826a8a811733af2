package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one execution between a buy order and a sell order.
// Price is always the resting order's price.
type Trade struct {
	TradeID      string
	BuyOrderID   string
	SellOrderID  string
	Instrument   string
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	BuyClientID  string
	SellClientID string
	ExecutedAt   time.Time
}

// Involves reports whether orderID is either side of the trade.
func (t *Trade) Involves(orderID string) bool {
	return t.BuyOrderID == orderID || t.SellOrderID == orderID
}
