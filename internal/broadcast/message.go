// Package broadcast fans engine events out to stream subscribers.
package broadcast

import (
	"time"

	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/engine"
)

// Channels a subscriber can follow.
const (
	ChannelBook   = "orderbook_deltas"
	ChannelTrades = "trades"
	ChannelOrders = "orders"
)

// AllChannels is the default subscription of a new connection.
var AllChannels = []string{ChannelBook, ChannelTrades, ChannelOrders}

// Message is the envelope written to every sink.
type Message struct {
	Type       string `json:"type"`
	Instrument string `json:"instrument,omitempty"`
	Data       any    `json:"data"`
	Timestamp  string `json:"timestamp"`
}

type levelPayload struct {
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	OrderCount int    `json:"order_count"`
}

type bookPayload struct {
	Bids   []levelPayload `json:"bids"`
	Asks   []levelPayload `json:"asks"`
	Spread *string        `json:"spread"`
}

type tradePayload struct {
	TradeID     string `json:"trade_id"`
	Instrument  string `json:"instrument"`
	Price       string `json:"price"`
	Quantity    string `json:"quantity"`
	BuyOrderID  string `json:"buy_order_id"`
	SellOrderID string `json:"sell_order_id"`
	ExecutedAt  string `json:"timestamp"`
}

type orderPayload struct {
	OrderID           string `json:"order_id"`
	Instrument        string `json:"instrument"`
	Status            string `json:"status"`
	FilledQuantity    string `json:"filled_quantity"`
	RemainingQuantity string `json:"remaining_quantity"`
}

func toLevels(levels []domain.PriceLevel) []levelPayload {
	out := make([]levelPayload, len(levels))
	for i, l := range levels {
		out[i] = levelPayload{
			Price:      domain.FormatAmount(l.Price),
			Quantity:   domain.FormatAmount(l.Quantity),
			OrderCount: l.OrderCount,
		}
	}
	return out
}

func bookMessage(view engine.DepthView) Message {
	data := bookPayload{Bids: toLevels(view.Bids), Asks: toLevels(view.Asks)}
	if view.Spread != nil {
		s := domain.FormatAmount(*view.Spread)
		data.Spread = &s
	}
	return Message{
		Type:       "orderbook_delta",
		Instrument: view.Instrument,
		Data:       data,
		Timestamp:  domain.FormatTime(view.Timestamp),
	}
}

func tradeMessage(t domain.Trade, now time.Time) Message {
	return Message{
		Type:       "trade",
		Instrument: t.Instrument,
		Data: tradePayload{
			TradeID:     t.TradeID,
			Instrument:  t.Instrument,
			Price:       domain.FormatAmount(t.Price),
			Quantity:    domain.FormatAmount(t.Quantity),
			BuyOrderID:  t.BuyOrderID,
			SellOrderID: t.SellOrderID,
			ExecutedAt:  domain.FormatTime(t.ExecutedAt),
		},
		Timestamp: domain.FormatTime(now),
	}
}

func orderMessage(o domain.Order, now time.Time) Message {
	return Message{
		Type:       "order_update",
		Instrument: o.Instrument,
		Data: orderPayload{
			OrderID:           o.OrderID,
			Instrument:        o.Instrument,
			Status:            string(o.Status),
			FilledQuantity:    domain.FormatAmount(o.FilledQuantity),
			RemainingQuantity: domain.FormatAmount(o.RemainingQuantity()),
		},
		Timestamp: domain.FormatTime(now),
	}
}
