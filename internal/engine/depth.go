package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
)

// DepthView is a read-only, leveled view of a book.
type DepthView struct {
	Instrument string
	Bids       []domain.PriceLevel // price descending
	Asks       []domain.PriceLevel // price ascending
	Spread     *decimal.Decimal    // nil if either side is empty
	Timestamp  time.Time
}

// Depth aggregates up to levels price levels per side. Orders at the same
// price are adjacent in tree order, so levels are keyed on the decimal
// value itself. The caller must hold at least the read lock.
func (ob *OrderBook) Depth(levels int, cumulative bool) DepthView {
	view := DepthView{
		Instrument: ob.instrument,
		Bids:       topLevels(ob, domain.SideBuy, levels, cumulative),
		Asks:       topLevels(ob, domain.SideSell, levels, cumulative),
		Timestamp:  time.Now(),
	}
	if len(view.Bids) > 0 && len(view.Asks) > 0 {
		spread := view.Asks[0].Price.Sub(view.Bids[0].Price)
		view.Spread = &spread
	}
	return view
}

// topLevels iterates one side in order and aggregates entries into at most
// n price levels.
func topLevels(ob *OrderBook, side domain.Side, n int, cumulative bool) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0)
	if n <= 0 {
		return levels
	}
	ob.Walk(side, func(o *domain.Order) bool {
		remaining := o.RemainingQuantity()
		if len(levels) > 0 && levels[len(levels)-1].Price.Equal(o.Price) {
			last := &levels[len(levels)-1]
			last.Quantity = last.Quantity.Add(remaining)
			last.OrderCount++
			return true
		}
		if len(levels) >= n {
			return false
		}
		levels = append(levels, domain.PriceLevel{
			Price:      o.Price,
			Quantity:   remaining,
			OrderCount: 1,
		})
		return true
	})

	if cumulative {
		running := decimal.Zero
		for i := range levels {
			running = running.Add(levels[i].Quantity)
			levels[i].Cumulative = running
		}
	}
	return levels
}

// Totals returns the total resting quantity on each side. The caller must
// hold at least the read lock.
func (ob *OrderBook) Totals() (bidDepth, askDepth decimal.Decimal) {
	bidDepth, askDepth = decimal.Zero, decimal.Zero
	ob.Walk(domain.SideBuy, func(o *domain.Order) bool {
		bidDepth = bidDepth.Add(o.RemainingQuantity())
		return true
	})
	ob.Walk(domain.SideSell, func(o *domain.Order) bool {
		askDepth = askDepth.Add(o.RemainingQuantity())
		return true
	})
	return bidDepth, askDepth
}
