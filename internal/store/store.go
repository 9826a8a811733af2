// Package store persists orders, trades and book snapshots.
package store

import (
	"context"
	"time"

	"github.com/efreitasn/spotexchange/internal/domain"
)

// Repository is the durable state shared by the engines and the services.
// Implementations copy values in and out; callers never share pointers with
// the store.
type Repository interface {
	// CreateOrder inserts a new order. It returns domain.ErrDuplicateOrder
	// when the order id or the idempotency key is already taken.
	CreateOrder(ctx context.Context, o *domain.Order) error
	// SaveOrder inserts or updates an order.
	SaveOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	FindOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	FindOpenOrders(ctx context.Context, instrument string) ([]*domain.Order, error)

	CreateTrade(ctx context.Context, t *domain.Trade) error
	// ListTrades returns the most recent trades, newest first.
	ListTrades(ctx context.Context, instrument string, limit int) ([]*domain.Trade, error)
	// TradesForOrder returns the trades of one order, oldest first.
	TradesForOrder(ctx context.Context, orderID string) ([]*domain.Trade, error)
	// TradesSince returns the trades executed at or after since, oldest first.
	TradesSince(ctx context.Context, instrument string, since time.Time) ([]*domain.Trade, error)

	// SaveSnapshot assigns the snapshot an id and stores it.
	SaveSnapshot(ctx context.Context, s *domain.BookSnapshot) error
	LatestSnapshot(ctx context.Context, instrument string) (*domain.BookSnapshot, error)

	Ping(ctx context.Context) error
	Close() error
}
