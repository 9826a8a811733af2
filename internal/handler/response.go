package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/engine"
)

// WriteJSON writes a JSON response with the given status code and data.
// Sets Content-Type to application/json before writing the status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // Write error intentionally ignored in response helper
}

// errorResponse is the standard error response format.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a standard error response with the given status code,
// error code, and human-readable message.
func WriteError(w http.ResponseWriter, status int, errorCode, message string) {
	WriteJSON(w, status, errorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// ParseJSON decodes the request body as JSON into v.
// It validates that the Content-Type header is application/json and
// returns an error for missing/incorrect content type or malformed JSON.
func ParseJSON(r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	return nil
}

// queryInt reads an optional integer query parameter. Missing parameters
// yield 0 so the service applies its default.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &domain.ValidationError{Message: name + " must be a valid integer"}
	}
	return n, nil
}

// mapError maps domain errors to HTTP responses.
func mapError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}
	var persistErr *domain.PersistenceError
	if errors.As(err, &persistErr) {
		WriteError(w, http.StatusServiceUnavailable, "storage_unavailable", "Storage is temporarily unavailable")
		return
	}

	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		WriteError(w, http.StatusNotFound, "order_not_found", "Order not found")
	case errors.Is(err, domain.ErrOrderNotCancellable):
		WriteError(w, http.StatusConflict, "order_not_cancellable", "Cannot cancel a filled or rejected order")
	case errors.Is(err, domain.ErrDuplicateOrder):
		WriteError(w, http.StatusConflict, "duplicate_order", "An order with this id or idempotency key already exists")
	case errors.Is(err, domain.ErrInstrumentNotFound):
		WriteError(w, http.StatusNotFound, "instrument_not_found", "Instrument is not traded on this exchange")
	case errors.Is(err, domain.ErrSnapshotNotFound):
		WriteError(w, http.StatusNotFound, "snapshot_not_found", "No snapshot has been taken for this instrument")
	case errors.Is(err, domain.ErrEngineStopped):
		WriteError(w, http.StatusServiceUnavailable, "engine_stopped", "The exchange is shutting down")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		WriteError(w, http.StatusServiceUnavailable, "timeout", "The request did not complete in time")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

func amountPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := domain.FormatAmount(*d)
	return &s
}

// orderResponse is the JSON form of an order. Price is null for market
// orders.
type orderResponse struct {
	OrderID           string  `json:"order_id"`
	ClientID          string  `json:"client_id"`
	Instrument        string  `json:"instrument"`
	Side              string  `json:"side"`
	Type              string  `json:"type"`
	Price             *string `json:"price"`
	Quantity          string  `json:"quantity"`
	FilledQuantity    string  `json:"filled_quantity"`
	RemainingQuantity string  `json:"remaining_quantity"`
	Status            string  `json:"status"`
	IdempotencyKey    *string `json:"idempotency_key"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

func buildOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:           o.OrderID,
		ClientID:          o.ClientID,
		Instrument:        o.Instrument,
		Side:              string(o.Side),
		Type:              string(o.Type),
		Quantity:          domain.FormatAmount(o.Quantity),
		FilledQuantity:    domain.FormatAmount(o.FilledQuantity),
		RemainingQuantity: domain.FormatAmount(o.RemainingQuantity()),
		Status:            string(o.Status),
		CreatedAt:         domain.FormatTime(o.CreatedAt),
		UpdatedAt:         domain.FormatTime(o.UpdatedAt),
	}
	if o.Type == domain.OrderTypeLimit {
		resp.Price = amountPtr(&o.Price)
	}
	if o.IdempotencyKey != "" {
		key := o.IdempotencyKey
		resp.IdempotencyKey = &key
	}
	return resp
}

// tradeResponse is the JSON form of a trade.
type tradeResponse struct {
	TradeID      string `json:"trade_id"`
	BuyOrderID   string `json:"buy_order_id"`
	SellOrderID  string `json:"sell_order_id"`
	Instrument   string `json:"instrument"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	BuyClientID  string `json:"buy_client_id"`
	SellClientID string `json:"sell_client_id"`
	ExecutedAt   string `json:"executed_at"`
}

func buildTradeResponses(trades []*domain.Trade) []tradeResponse {
	result := make([]tradeResponse, len(trades))
	for i, t := range trades {
		result[i] = tradeResponse{
			TradeID:      t.TradeID,
			BuyOrderID:   t.BuyOrderID,
			SellOrderID:  t.SellOrderID,
			Instrument:   t.Instrument,
			Price:        domain.FormatAmount(t.Price),
			Quantity:     domain.FormatAmount(t.Quantity),
			BuyClientID:  t.BuyClientID,
			SellClientID: t.SellClientID,
			ExecutedAt:   domain.FormatTime(t.ExecutedAt),
		}
	}
	return result
}

// levelResponse is one aggregated price level.
type levelResponse struct {
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	OrderCount int    `json:"order_count"`
	Cumulative string `json:"cumulative"`
}

func buildLevels(levels []domain.PriceLevel) []levelResponse {
	result := make([]levelResponse, len(levels))
	for i, l := range levels {
		result[i] = levelResponse{
			Price:      domain.FormatAmount(l.Price),
			Quantity:   domain.FormatAmount(l.Quantity),
			OrderCount: l.OrderCount,
			Cumulative: domain.FormatAmount(l.Cumulative),
		}
	}
	return result
}

// bookResponse is the JSON response for GET /orderbook.
type bookResponse struct {
	Instrument string          `json:"instrument"`
	Bids       []levelResponse `json:"bids"`
	Asks       []levelResponse `json:"asks"`
	Spread     *string         `json:"spread"`
	Timestamp  string          `json:"timestamp"`
}

func buildBookResponse(view engine.DepthView) bookResponse {
	return bookResponse{
		Instrument: view.Instrument,
		Bids:       buildLevels(view.Bids),
		Asks:       buildLevels(view.Asks),
		Spread:     amountPtr(view.Spread),
		Timestamp:  domain.FormatTime(view.Timestamp),
	}
}
