package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/efreitasn/spotexchange/internal/domain"
)

// genRestingOrder draws a limit order with a price on a coarse grid so
// that several orders share a level, and a small time range to exercise
// the order id tiebreak.
func genRestingOrder(id int, side domain.Side) *rapid.Generator[*domain.Order] {
	return rapid.Custom(func(t *rapid.T) *domain.Order {
		ticks := rapid.Int64Range(1, 40).Draw(t, "ticks")
		lots := rapid.Int64Range(1, 1000).Draw(t, "lots")
		secOffset := rapid.IntRange(0, 20).Draw(t, "secOffset")
		createdAt := baseTime.Add(time.Duration(secOffset) * time.Second)

		return &domain.Order{
			OrderID:        fmt.Sprintf("order-%03d", id),
			ClientID:       "client",
			Instrument:     testInstrument,
			Side:           side,
			Type:           domain.OrderTypeLimit,
			Price:          decimal.New(ticks*25, -1),
			Quantity:       decimal.New(lots, -3),
			FilledQuantity: decimal.Zero,
			Status:         domain.OrderStatusOpen,
			CreatedAt:      createdAt,
			UpdatedAt:      createdAt,
		}
	})
}

func fillBook(t *rapid.T, ob *OrderBook, side domain.Side) []*domain.Order {
	n := rapid.IntRange(1, 50).Draw(t, "numOrders")
	orders := make([]*domain.Order, n)
	for i := range orders {
		orders[i] = genRestingOrder(i, side).Draw(t, fmt.Sprintf("order%d", i))
		if err := ob.Insert(orders[i]); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return orders
}

// checkPriority fails when two consecutive orders violate price-time
// priority for side.
func checkPriority(t *rapid.T, side domain.Side, prev, cur *domain.Order) {
	c := prev.Price.Cmp(cur.Price)
	if side == domain.SideBuy {
		c = -c
	}
	switch {
	case c > 0:
		t.Fatalf("%s side out of price order: %s before %s", side, prev.Price, cur.Price)
	case c == 0 && prev.CreatedAt.After(cur.CreatedAt):
		t.Fatalf("%s side out of time order at %s", side, cur.Price)
	case c == 0 && prev.CreatedAt.Equal(cur.CreatedAt) && prev.OrderID > cur.OrderID:
		t.Fatalf("%s side out of id order at %s", side, cur.Price)
	}
}

func TestProperty_BookSortingInvariant(t *testing.T) {
	for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
		t.Run(string(side), func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				ob := NewOrderBook(testInstrument)
				orders := fillBook(t, ob, side)

				var prev *domain.Order
				count := 0
				ob.Walk(side, func(o *domain.Order) bool {
					if prev != nil {
						checkPriority(t, side, prev, o)
					}
					prev = o
					count++
					return true
				})
				if count != len(orders) {
					t.Fatalf("walked %d orders, inserted %d", count, len(orders))
				}

				best, ok := ob.PeekBest(side)
				if !ok {
					t.Fatal("expected a best order")
				}
				first, _ := ob.RemoveBest(side)
				if first != best {
					t.Fatal("RemoveBest returned a different order than PeekBest")
				}
			})
		})
	}
}

func TestProperty_DepthAggregation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ob := NewOrderBook(testInstrument)
		orders := fillBook(t, ob, domain.SideSell)

		view := ob.Depth(len(orders), true)

		total := decimal.Zero
		count := 0
		for i, lvl := range view.Asks {
			if i > 0 && !view.Asks[i-1].Price.LessThan(lvl.Price) {
				t.Fatalf("ask levels not strictly ascending at %d", i)
			}
			total = total.Add(lvl.Quantity)
			count += lvl.OrderCount
			if !lvl.Cumulative.Equal(total) {
				t.Fatalf("level %d cumulative %s, want %s", i, lvl.Cumulative, total)
			}
		}

		_, askDepth := ob.Totals()
		if !total.Equal(askDepth) {
			t.Fatalf("levels sum to %s, totals report %s", total, askDepth)
		}
		if count != len(orders) {
			t.Fatalf("levels count %d orders, inserted %d", count, len(orders))
		}

		limit := rapid.IntRange(1, 5).Draw(t, "levels")
		if got := len(ob.Depth(limit, false).Asks); got > limit {
			t.Fatalf("asked for %d levels, got %d", limit, got)
		}
	})
}
