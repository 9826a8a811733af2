package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/efreitasn/spotexchange/internal/domain"
)

// MemoryStore is a thread-safe in-memory Repository with a primary index by
// order_id and secondary indexes by idempotency key and instrument. It backs
// tests and ephemeral runs.
type MemoryStore struct {
	mu        sync.RWMutex
	orders    map[string]*domain.Order
	byKey     map[string]string          // idempotency_key → order_id
	trades    map[string][]*domain.Trade // instrument → trades (chronological)
	snapshots map[string][]*domain.BookSnapshot
	nextSnap  int64
}

var _ Repository = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:    make(map[string]*domain.Order),
		byKey:     make(map[string]string),
		trades:    make(map[string][]*domain.Trade),
		snapshots: make(map[string][]*domain.BookSnapshot),
	}
}

func (s *MemoryStore) CreateOrder(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.OrderID]; ok {
		return domain.ErrDuplicateOrder
	}
	if o.IdempotencyKey != "" {
		if _, ok := s.byKey[o.IdempotencyKey]; ok {
			return domain.ErrDuplicateOrder
		}
		s.byKey[o.IdempotencyKey] = o.OrderID
	}
	s.orders[o.OrderID] = o.Clone()
	return nil
}

func (s *MemoryStore) SaveOrder(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.IdempotencyKey != "" {
		if owner, ok := s.byKey[o.IdempotencyKey]; ok && owner != o.OrderID {
			return domain.ErrDuplicateOrder
		}
		s.byKey[o.IdempotencyKey] = o.OrderID
	}
	s.orders[o.OrderID] = o.Clone()
	return nil
}

// GetOrder returns domain.ErrOrderNotFound if the order does not exist.
func (s *MemoryStore) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (s *MemoryStore) FindOrderByIdempotencyKey(_ context.Context, key string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return s.orders[id].Clone(), nil
}

func (s *MemoryStore) FindOpenOrders(_ context.Context, instrument string) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	open := make([]*domain.Order, 0)
	for _, o := range s.orders {
		if o.Instrument == instrument && o.Status.IsResting() {
			open = append(open, o.Clone())
		}
	}
	sort.Slice(open, func(i, j int) bool {
		if !open[i].CreatedAt.Equal(open[j].CreatedAt) {
			return open[i].CreatedAt.Before(open[j].CreatedAt)
		}
		return open[i].OrderID < open[j].OrderID
	})
	return open, nil
}

// CreateTrade appends a trade to its instrument's chronological list.
func (s *MemoryStore) CreateTrade(_ context.Context, t *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *t
	s.trades[t.Instrument] = append(s.trades[t.Instrument], &c)
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, instrument string, limit int) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.trades[instrument]
	if limit <= 0 {
		return []*domain.Trade{}, nil
	}
	result := make([]*domain.Trade, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		c := *all[i]
		result = append(result, &c)
	}
	return result, nil
}

func (s *MemoryStore) TradesForOrder(_ context.Context, orderID string) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Trade, 0)
	o, ok := s.orders[orderID]
	if !ok {
		return result, nil
	}
	for _, t := range s.trades[o.Instrument] {
		if t.Involves(orderID) {
			c := *t
			result = append(result, &c)
		}
	}
	return result, nil
}

func (s *MemoryStore) TradesSince(_ context.Context, instrument string, since time.Time) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.trades[instrument]
	idx := sort.Search(len(all), func(i int) bool {
		return !all[i].ExecutedAt.Before(since)
	})
	result := make([]*domain.Trade, 0, len(all)-idx)
	for _, t := range all[idx:] {
		c := *t
		result = append(result, &c)
	}
	return result, nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap *domain.BookSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSnap++
	snap.ID = s.nextSnap
	c := *snap
	c.Bids = append([]domain.PriceLevel(nil), snap.Bids...)
	c.Asks = append([]domain.PriceLevel(nil), snap.Asks...)
	s.snapshots[snap.Instrument] = append(s.snapshots[snap.Instrument], &c)
	return nil
}

// LatestSnapshot returns domain.ErrSnapshotNotFound when the instrument has
// never been captured.
func (s *MemoryStore) LatestSnapshot(_ context.Context, instrument string) (*domain.BookSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.snapshots[instrument]
	if len(all) == 0 {
		return nil, domain.ErrSnapshotNotFound
	}
	c := *all[len(all)-1]
	return &c, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
