package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
)

func TestGetOrderBook(t *testing.T) {
	env := newTestEnv(t, false)
	for i := 0; i < 30; i++ {
		env.submit(t, limitReq(fmt.Sprintf("b%d", i), domain.SideBuy, fmt.Sprintf("%d", 100+i), "1"))
	}
	env.submit(t, limitReq("a1", domain.SideSell, "200", "0.5"))

	view, err := env.market.GetOrderBook("", 0)
	if err != nil {
		t.Fatalf("order book: %v", err)
	}
	if len(view.Bids) != DefaultBookLevels {
		t.Errorf("expected %d bid levels, got %d", DefaultBookLevels, len(view.Bids))
	}
	if !view.Bids[0].Price.Equal(decimal.NewFromInt(129)) {
		t.Errorf("expected best bid 129, got %s", view.Bids[0].Price)
	}
	if !view.Bids[2].Cumulative.Equal(decimal.NewFromInt(3)) {
		t.Errorf("expected cumulative 3, got %s", view.Bids[2].Cumulative)
	}

	view, _ = env.market.GetOrderBook("btc-usd", 5)
	if len(view.Bids) != 5 || len(view.Asks) != 1 {
		t.Errorf("expected 5/1 levels, got %d/%d", len(view.Bids), len(view.Asks))
	}
	view, _ = env.market.GetOrderBook("BTC-USD", 1000)
	if len(view.Bids) != 30 {
		t.Errorf("expected all 30 levels under the cap, got %d", len(view.Bids))
	}

	var validationErr *domain.ValidationError
	if _, err := env.market.GetOrderBook("", -1); !errors.As(err, &validationErr) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	if _, err := env.market.GetOrderBook("SOL-USD", 0); !errors.Is(err, domain.ErrInstrumentNotFound) {
		t.Errorf("expected ErrInstrumentNotFound, got %v", err)
	}
}

func TestRecentTrades(t *testing.T) {
	env := newTestEnv(t, false)
	for i := 0; i < 4; i++ {
		env.submit(t, limitReq(fmt.Sprintf("a%d", i), domain.SideSell, fmt.Sprintf("%d", 100+i), "1"))
	}
	env.submit(t, marketReq("m1", domain.SideBuy, "4"))

	trades, err := env.market.RecentTrades(context.Background(), "", 3)
	if err != nil {
		t.Fatalf("recent trades: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(trades))
	}
	if trades[0].SellOrderID != "a3" {
		t.Errorf("expected newest trade first, got %s", trades[0].SellOrderID)
	}

	trades, _ = env.market.RecentTrades(context.Background(), "ETH-USD", 0)
	if len(trades) != 0 {
		t.Errorf("expected no ETH-USD trades, got %d", len(trades))
	}
}

func TestTradesForOrder(t *testing.T) {
	env := newTestEnv(t, false)
	env.submit(t, limitReq("a1", domain.SideSell, "100", "1"))
	env.submit(t, limitReq("a2", domain.SideSell, "101", "1"))
	env.submit(t, marketReq("m1", domain.SideBuy, "2"))

	trades, err := env.market.TradesForOrder(context.Background(), "m1")
	if err != nil {
		t.Fatalf("trades for order: %v", err)
	}
	if len(trades) != 2 || trades[0].SellOrderID != "a1" {
		t.Errorf("expected two trades oldest first, got %+v", trades)
	}

	trades, _ = env.market.TradesForOrder(context.Background(), "a2")
	if len(trades) != 1 {
		t.Errorf("expected 1 trade for a2, got %d", len(trades))
	}

	if _, err := env.market.TradesForOrder(context.Background(), "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestGetTradeStats(t *testing.T) {
	env := newTestEnv(t, false)
	env.submit(t, limitReq("a1", domain.SideSell, "100", "1"))
	env.submit(t, limitReq("a2", domain.SideSell, "110", "3"))
	env.submit(t, marketReq("m1", domain.SideBuy, "2"))

	stats, err := env.market.GetTradeStats(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	if stats.PeriodMinutes != DefaultStatsWindow || stats.TradeCount != 2 {
		t.Errorf("expected 2 trades over %d minutes, got %d over %d", DefaultStatsWindow, stats.TradeCount, stats.PeriodMinutes)
	}
	checks := []struct {
		name string
		got  *decimal.Decimal
		want string
	}{
		{"vwap", stats.VWAP, "105"},
		{"high", stats.High, "110"},
		{"low", stats.Low, "100"},
		{"last", stats.LastPrice, "110"},
	}
	for _, c := range checks {
		if c.got == nil || !c.got.Equal(decimal.RequireFromString(c.want)) {
			t.Errorf("%s: expected %s, got %v", c.name, c.want, c.got)
		}
	}
	if !stats.Volume.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected volume 2, got %s", stats.Volume)
	}
}

func TestGetTradeStats_Window(t *testing.T) {
	env := newTestEnv(t, false)
	env.submit(t, limitReq("a1", domain.SideSell, "100", "1"))
	env.submit(t, marketReq("m1", domain.SideBuy, "1"))

	env.market.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	stats, err := env.market.GetTradeStats(context.Background(), "BTC-USD", 60)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TradeCount != 0 || stats.VWAP != nil || stats.LastPrice != nil {
		t.Errorf("expected an empty window, got %+v", stats)
	}
	if !stats.Volume.IsZero() {
		t.Errorf("expected zero volume, got %s", stats.Volume)
	}

	var validationErr *domain.ValidationError
	if _, err := env.market.GetTradeStats(context.Background(), "", MaxStatsWindow+1); !errors.As(err, &validationErr) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	if _, err := env.market.LatestSnapshot(ctx, ""); !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}

	env.submit(t, limitReq("b1", domain.SideBuy, "99", "1"))
	env.submit(t, limitReq("a1", domain.SideSell, "101", "2"))

	created, err := env.market.CreateSnapshot(ctx, "BTC-USD")
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	if len(created.Bids) != 1 || len(created.Asks) != 1 {
		t.Errorf("expected one level per side, got %d/%d", len(created.Bids), len(created.Asks))
	}

	latest, err := env.market.LatestSnapshot(ctx, "BTC-USD")
	if err != nil {
		t.Fatalf("latest snapshot: %v", err)
	}
	if latest.ID != created.ID || !latest.Asks[0].Quantity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("unexpected latest snapshot %+v", latest)
	}

	if _, err := env.market.LatestSnapshot(ctx, "ETH-USD"); !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Errorf("expected no ETH-USD snapshot, got %v", err)
	}
}
