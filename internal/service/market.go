package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/engine"
	"github.com/efreitasn/spotexchange/internal/store"
)

// Query bounds for market data reads.
const (
	DefaultBookLevels  = 20
	MaxBookLevels      = 100
	DefaultTradeLimit  = 50
	MaxTradeLimit      = 100
	DefaultStatsWindow = 60 // minutes
	MaxStatsWindow     = 7 * 24 * 60
)

// TradeStats summarizes the trades of one instrument over a window.
// Price fields are nil when the window holds no trades.
type TradeStats struct {
	Instrument    string
	PeriodMinutes int
	TradeCount    int
	Volume        decimal.Decimal
	VWAP          *decimal.Decimal
	High          *decimal.Decimal
	Low           *decimal.Decimal
	LastPrice     *decimal.Decimal
	ComputedAt    time.Time
}

// MarketService answers order book, trade and snapshot queries.
type MarketService struct {
	exchange    *engine.Exchange
	repo        store.Repository
	snapshotter *engine.Snapshotter
	now         func() time.Time
}

// NewMarketService creates a new MarketService with the given dependencies.
func NewMarketService(exchange *engine.Exchange, repo store.Repository, snapshotter *engine.Snapshotter) *MarketService {
	return &MarketService{
		exchange:    exchange,
		repo:        repo,
		snapshotter: snapshotter,
		now:         time.Now,
	}
}

// resolve normalizes instrument, defaulting to the first configured one.
func (s *MarketService) resolve(instrument string) (*engine.Engine, error) {
	instrument = domain.NormalizeInstrument(instrument)
	if instrument == "" {
		instruments := s.exchange.Instruments()
		if len(instruments) == 0 {
			return nil, domain.ErrInstrumentNotFound
		}
		instrument = instruments[0]
	}
	return s.exchange.Get(instrument)
}

// GetOrderBook returns the top levels of a book with cumulative depth.
// levels 0 selects DefaultBookLevels; larger values are capped at
// MaxBookLevels.
func (s *MarketService) GetOrderBook(instrument string, levels int) (engine.DepthView, error) {
	if levels < 0 {
		return engine.DepthView{}, &domain.ValidationError{
			Message: fmt.Sprintf("levels must be between 1 and %d", MaxBookLevels),
		}
	}
	if levels == 0 {
		levels = DefaultBookLevels
	}
	levels = min(levels, MaxBookLevels)

	eng, err := s.resolve(instrument)
	if err != nil {
		return engine.DepthView{}, err
	}
	return eng.Depth(levels, true), nil
}

// RecentTrades returns the latest trades, newest first. limit 0 selects
// DefaultTradeLimit; larger values are capped at MaxTradeLimit.
func (s *MarketService) RecentTrades(ctx context.Context, instrument string, limit int) ([]*domain.Trade, error) {
	if limit < 0 {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("limit must be between 1 and %d", MaxTradeLimit),
		}
	}
	if limit == 0 {
		limit = DefaultTradeLimit
	}
	limit = min(limit, MaxTradeLimit)

	eng, err := s.resolve(instrument)
	if err != nil {
		return nil, err
	}
	trades, err := s.repo.ListTrades(ctx, eng.Instrument(), limit)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list_trades", Err: err}
	}
	return trades, nil
}

// TradesForOrder returns every trade an order took part in, oldest first.
func (s *MarketService) TradesForOrder(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, err
		}
		return nil, &domain.PersistenceError{Op: "get_order", Err: err}
	}
	trades, err := s.repo.TradesForOrder(ctx, orderID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "trades_for_order", Err: err}
	}
	return trades, nil
}

// GetTradeStats computes count, volume, VWAP, high, low and last price over
// the last minutes. minutes 0 selects DefaultStatsWindow.
func (s *MarketService) GetTradeStats(ctx context.Context, instrument string, minutes int) (*TradeStats, error) {
	if minutes < 0 || minutes > MaxStatsWindow {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("minutes must be between 1 and %d", MaxStatsWindow),
		}
	}
	if minutes == 0 {
		minutes = DefaultStatsWindow
	}

	eng, err := s.resolve(instrument)
	if err != nil {
		return nil, err
	}

	now := s.now()
	trades, err := s.repo.TradesSince(ctx, eng.Instrument(), now.Add(-time.Duration(minutes)*time.Minute))
	if err != nil {
		return nil, &domain.PersistenceError{Op: "trades_since", Err: err}
	}

	stats := &TradeStats{
		Instrument:    eng.Instrument(),
		PeriodMinutes: minutes,
		TradeCount:    len(trades),
		Volume:        decimal.Zero,
		ComputedAt:    now,
	}
	if len(trades) == 0 {
		return stats, nil
	}

	value := decimal.Zero
	high, low := trades[0].Price, trades[0].Price
	for _, t := range trades {
		stats.Volume = stats.Volume.Add(t.Quantity)
		value = value.Add(t.Price.Mul(t.Quantity))
		if t.Price.GreaterThan(high) {
			high = t.Price
		}
		if t.Price.LessThan(low) {
			low = t.Price
		}
	}
	vwap := value.DivRound(stats.Volume, domain.Precision)
	last := trades[len(trades)-1].Price

	stats.VWAP = &vwap
	stats.High = &high
	stats.Low = &low
	stats.LastPrice = &last
	return stats, nil
}

// CreateSnapshot captures and persists the current book of an instrument.
func (s *MarketService) CreateSnapshot(ctx context.Context, instrument string) (*domain.BookSnapshot, error) {
	eng, err := s.resolve(instrument)
	if err != nil {
		return nil, err
	}
	return s.snapshotter.Capture(ctx, eng)
}

// LatestSnapshot returns the most recent persisted snapshot.
func (s *MarketService) LatestSnapshot(ctx context.Context, instrument string) (*domain.BookSnapshot, error) {
	eng, err := s.resolve(instrument)
	if err != nil {
		return nil, err
	}
	snap, err := s.repo.LatestSnapshot(ctx, eng.Instrument())
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "latest_snapshot", Err: err}
	}
	return snap, nil
}
