package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestOrderStatus_Predicates(t *testing.T) {
	tests := []struct {
		status   OrderStatus
		resting  bool
		terminal bool
	}{
		{OrderStatusOpen, true, false},
		{OrderStatusPartiallyFilled, true, false},
		{OrderStatusFilled, false, true},
		{OrderStatusCancelled, false, true},
		{OrderStatusRejected, false, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if !tt.status.Valid() {
				t.Errorf("Valid() = false")
			}
			if got := tt.status.IsResting(); got != tt.resting {
				t.Errorf("IsResting() = %v, want %v", got, tt.resting)
			}
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}

	if OrderStatus("pending").Valid() {
		t.Error("Valid(pending) = true, want false")
	}
}

func TestSide_Opposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell {
		t.Errorf("buy.Opposite() = %s", SideBuy.Opposite())
	}
	if SideSell.Opposite() != SideBuy {
		t.Errorf("sell.Opposite() = %s", SideSell.Opposite())
	}
	if Side("bid").Valid() {
		t.Error("Valid(bid) = true, want false")
	}
}

func TestOrder_ApplyFill(t *testing.T) {
	o := &Order{OrderID: "o1", Quantity: dec("1.0"), Status: OrderStatusOpen}

	if err := o.ApplyFill(dec("0.3")); err != nil {
		t.Fatalf("ApplyFill(0.3) unexpected error: %v", err)
	}
	if err := o.ApplyFill(dec("0.2")); err != nil {
		t.Fatalf("ApplyFill(0.2) unexpected error: %v", err)
	}
	if !o.FilledQuantity.Equal(dec("0.5")) {
		t.Errorf("FilledQuantity = %s, want 0.5", o.FilledQuantity)
	}
	if !o.RemainingQuantity().Equal(dec("0.5")) {
		t.Errorf("RemainingQuantity = %s, want 0.5", o.RemainingQuantity())
	}
	if o.IsFilled() {
		t.Error("IsFilled() = true, want false")
	}

	var internalErr *InternalError
	if err := o.ApplyFill(dec("0.50000001")); !errors.As(err, &internalErr) {
		t.Errorf("overfill error = %v, want InternalError", err)
	}
	if err := o.ApplyFill(decimal.Zero); !errors.As(err, &internalErr) {
		t.Errorf("zero fill error = %v, want InternalError", err)
	}
	if err := o.ApplyFill(dec("0.5")); err != nil {
		t.Fatalf("ApplyFill(0.5) unexpected error: %v", err)
	}
	if !o.IsFilled() {
		t.Error("IsFilled() = false after exact fill")
	}
}

func TestOrder_ApplyFill_TerminalOrder(t *testing.T) {
	o := &Order{OrderID: "o1", Quantity: dec("1"), Status: OrderStatusCancelled}
	var internalErr *InternalError
	if err := o.ApplyFill(dec("0.1")); !errors.As(err, &internalErr) {
		t.Errorf("fill on cancelled order error = %v, want InternalError", err)
	}
	if !o.FilledQuantity.IsZero() {
		t.Errorf("FilledQuantity mutated to %s", o.FilledQuantity)
	}
}

func TestOrder_Clone(t *testing.T) {
	o := &Order{OrderID: "o1", Quantity: dec("2"), Status: OrderStatusOpen}
	c := o.Clone()
	c.Status = OrderStatusFilled
	c.FilledQuantity = dec("2")
	if o.Status != OrderStatusOpen || !o.FilledQuantity.IsZero() {
		t.Error("Clone shares state with the original")
	}
}
