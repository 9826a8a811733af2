package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc  *service.OrderService
	marketSvc *service.MarketService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService, marketSvc *service.MarketService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc, marketSvc: marketSvc}
}

// submitOrderRequest is the JSON request body for POST /orders. Amounts are
// accepted as JSON numbers or strings.
type submitOrderRequest struct {
	OrderID        string              `json:"order_id"`
	ClientID       string              `json:"client_id"`
	Instrument     string              `json:"instrument"`
	Side           string              `json:"side"`
	Type           string              `json:"type"`
	Price          decimal.NullDecimal `json:"price"`
	Quantity       decimal.NullDecimal `json:"quantity"`
	IdempotencyKey string              `json:"idempotency_key"`
}

// submitOrderResponse is the order's state right after matching together
// with the trades it produced.
type submitOrderResponse struct {
	orderResponse
	Trades []tradeResponse `json:"trades"`
}

// cancelOrderResponse confirms a cancellation.
type cancelOrderResponse struct {
	orderResponse
	Message string `json:"message"`
}

// SubmitOrder handles POST /orders. A replayed idempotent request answers
// 200 instead of 201.
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}

	res, err := h.orderSvc.SubmitOrder(r.Context(), service.SubmitOrderRequest{
		OrderID:        req.OrderID,
		ClientID:       req.ClientID,
		Instrument:     req.Instrument,
		Side:           domain.Side(req.Side),
		Type:           domain.OrderType(req.Type),
		Price:          req.Price,
		Quantity:       req.Quantity,
		IdempotencyKey: key,
	})
	if err != nil {
		mapError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	WriteJSON(w, status, submitOrderResponse{
		orderResponse: buildOrderResponse(res.Order),
		Trades:        buildTradeResponses(res.Trades),
	})
}

// GetOrder handles GET /orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")

	order, err := h.orderSvc.GetOrder(r.Context(), orderID)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// GetOrderTrades handles GET /orders/{order_id}/trades.
func (h *OrderHandler) GetOrderTrades(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")

	trades, err := h.marketSvc.TradesForOrder(r.Context(), orderID)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildTradeResponses(trades))
}

// CancelOrder handles POST /orders/{order_id}/cancel and
// DELETE /orders/{order_id}.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")

	order, err := h.orderSvc.CancelOrder(r.Context(), orderID)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, cancelOrderResponse{
		orderResponse: buildOrderResponse(order),
		Message:       "Order cancelled successfully",
	})
}
