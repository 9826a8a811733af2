package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/cache"
	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/engine"
	"github.com/efreitasn/spotexchange/internal/store"
)

var (
	identifierRegex     = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	idempotencyKeyRegex = regexp.MustCompile(`^[\x21-\x7e]{1,128}$`)
)

// DefaultClientID is recorded for orders submitted without a client id.
const DefaultClientID = "anonymous"

// SubmitOrderRequest represents the input for order submission. Price and
// Quantity are unset when the caller left them out.
type SubmitOrderRequest struct {
	OrderID        string
	ClientID       string
	Instrument     string
	Side           domain.Side
	Type           domain.OrderType
	Price          decimal.NullDecimal // required for limit, must be unset for market
	Quantity       decimal.NullDecimal
	IdempotencyKey string
}

// SubmitResult is the outcome of a submission. Replayed is set when the
// result was produced by an earlier request with the same idempotency key.
type SubmitResult struct {
	Order    *domain.Order
	Trades   []*domain.Trade
	Replayed bool `json:"-"`
}

// OrderService handles order submission, retrieval and cancellation.
type OrderService struct {
	exchange       *engine.Exchange
	repo           store.Repository
	cache          cache.Cache
	idempotencyTTL time.Duration
	logger         *slog.Logger
	now            func() time.Time
	newID          func() string
}

// NewOrderService creates a new OrderService. A nil cache disables the fast
// idempotency path; the store lookup still applies.
func NewOrderService(
	exchange *engine.Exchange,
	repo store.Repository,
	c cache.Cache,
	idempotencyTTL time.Duration,
	logger *slog.Logger,
) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderService{
		exchange:       exchange,
		repo:           repo,
		cache:          c,
		idempotencyTTL: idempotencyTTL,
		logger:         logger,
		now:            time.Now,
		newID:          func() string { return uuid.New().String() },
	}
}

// SubmitOrder replays an earlier result for a known idempotency key, or
// validates the request and runs it through the instrument's engine.
func (s *OrderService) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*SubmitResult, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		if !idempotencyKeyRegex.MatchString(key) {
			return nil, &domain.ValidationError{
				Message: "idempotency_key must be 1 to 128 printable characters",
			}
		}
		res, err := s.replay(ctx, key)
		if err != nil || res != nil {
			return res, err
		}
	}

	order, err := s.buildOrder(req, key)
	if err != nil {
		return nil, err
	}

	eng, err := s.exchange.Get(order.Instrument)
	if err != nil {
		return nil, err
	}

	res, err := eng.Submit(ctx, order)
	if errors.Is(err, domain.ErrDuplicateOrder) && key != "" {
		// A concurrent request with the same key won the insert.
		if replayed, rerr := s.replay(ctx, key); rerr == nil && replayed != nil {
			return replayed, nil
		}
	}
	if err != nil {
		return nil, err
	}

	result := &SubmitResult{Order: res.Order, Trades: res.Trades}
	if key != "" && !res.Order.Status.IsResting() {
		s.remember(ctx, key, result)
	}
	return result, nil
}

// replay returns the stored outcome for key, or nil when the key is unused.
func (s *OrderService) replay(ctx context.Context, key string) (*SubmitResult, error) {
	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("idempotency cache read failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		if ok {
			var res SubmitResult
			if err := json.Unmarshal(data, &res); err == nil && res.Order != nil {
				res.Replayed = true
				return &res, nil
			}
		}
	}

	existing, err := s.repo.FindOrderByIdempotencyKey(ctx, key)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "find_order_by_idempotency_key", Err: err}
	}
	trades, err := s.repo.TradesForOrder(ctx, existing.OrderID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "trades_for_order", Err: err}
	}

	res := &SubmitResult{Order: existing, Trades: trades}
	if !existing.Status.IsResting() {
		s.remember(ctx, key, res)
	}
	res.Replayed = true
	return res, nil
}

// remember caches a settled outcome. Resting orders keep changing and are
// always replayed from the store.
func (s *OrderService) remember(ctx context.Context, key string, res *SubmitResult) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(res)
	if err == nil {
		err = s.cache.Set(ctx, key, data, s.idempotencyTTL)
	}
	if err != nil {
		s.logger.Warn("idempotency cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// buildOrder validates req and returns the order to submit.
func (s *OrderService) buildOrder(req SubmitOrderRequest, key string) (*domain.Order, error) {
	if req.Side == "" || req.Type == "" || !req.Quantity.Valid {
		return nil, &domain.ValidationError{Message: "Missing required fields: side, type and quantity are required"}
	}
	if !req.Side.Valid() {
		return nil, &domain.ValidationError{Message: `Invalid side. Must be "buy" or "sell"`}
	}
	if !req.Type.Valid() {
		return nil, &domain.ValidationError{Message: `Invalid type. Must be "limit" or "market"`}
	}

	qty := req.Quantity.Decimal
	if !qty.IsPositive() {
		return nil, &domain.ValidationError{Message: "Quantity must be a positive number"}
	}
	if domain.CheckPrecision(qty) != nil {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("Quantity must have at most %d decimal places", domain.Precision),
		}
	}

	price := decimal.Zero
	switch req.Type {
	case domain.OrderTypeLimit:
		if !req.Price.Valid {
			return nil, &domain.ValidationError{Message: "Price is required for limit orders"}
		}
		price = req.Price.Decimal
		if !price.IsPositive() {
			return nil, &domain.ValidationError{Message: "Price must be a positive number"}
		}
		if domain.CheckPrecision(price) != nil {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("Price must have at most %d decimal places", domain.Precision),
			}
		}
	case domain.OrderTypeMarket:
		if req.Price.Valid {
			return nil, &domain.ValidationError{Message: "Market orders must not include price"}
		}
	}

	instrument := domain.NormalizeInstrument(req.Instrument)
	if instrument == "" {
		instruments := s.exchange.Instruments()
		if len(instruments) == 0 {
			return nil, domain.ErrInstrumentNotFound
		}
		instrument = instruments[0]
	}
	if !domain.ValidInstrument(instrument) {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("Invalid instrument %q. Must look like BTC-USD", req.Instrument),
		}
	}

	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		orderID = s.newID()
	} else if !identifierRegex.MatchString(orderID) {
		return nil, &domain.ValidationError{Message: "order_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}

	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		clientID = DefaultClientID
	} else if !identifierRegex.MatchString(clientID) {
		return nil, &domain.ValidationError{Message: "client_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}

	now := s.now()
	return &domain.Order{
		OrderID:        orderID,
		ClientID:       clientID,
		Instrument:     instrument,
		Side:           req.Side,
		Type:           req.Type,
		Price:          price,
		Quantity:       qty,
		FilledQuantity: decimal.Zero,
		Status:         domain.OrderStatusOpen,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// GetOrder returns an order by ID.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get_order", Err: err}
	}
	return o, nil
}

// CancelOrder cancels a resting order. Unknown and already cancelled orders
// are not found; filled and rejected orders are not cancellable.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch o.Status {
	case domain.OrderStatusFilled, domain.OrderStatusRejected:
		return nil, domain.ErrOrderNotCancellable
	case domain.OrderStatusCancelled:
		return nil, domain.ErrOrderNotFound
	}

	eng, err := s.exchange.Get(o.Instrument)
	if err != nil {
		return nil, domain.ErrOrderNotFound
	}
	return eng.CancelOrReconcile(ctx, orderID)
}
