package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is the aggregation of all resting orders at one price on one
// side of the book. Cumulative is the running quantity from the best price
// outward, zero when not requested.
type PriceLevel struct {
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	OrderCount int
	Cumulative decimal.Decimal
}

// BookSnapshot is a persisted capture of the top of a book.
type BookSnapshot struct {
	ID         int64
	Instrument string
	Bids       []PriceLevel
	Asks       []PriceLevel
	Timestamp  time.Time
}
