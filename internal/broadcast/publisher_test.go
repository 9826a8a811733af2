package broadcast

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/engine"
)

type delivery struct {
	channel string
	key     string
	payload []byte
}

type recordingSink struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (s *recordingSink) Deliver(channel, key string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, delivery{channel, key, payload})
}

func (s *recordingSink) all() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.deliveries...)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var fixedNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestPublisher(sinks ...Sink) *Publisher {
	p := NewPublisher(nil, sinks...)
	p.now = func() time.Time { return fixedNow }
	return p
}

func TestPublisher_PublishTrade(t *testing.T) {
	sink := &recordingSink{}
	p := newTestPublisher(sink)

	p.PublishTrade(domain.Trade{
		TradeID:     "t-1",
		BuyOrderID:  "b-1",
		SellOrderID: "s-1",
		Instrument:  "BTC-USD",
		Price:       dec("70000.5"),
		Quantity:    dec("0.25"),
		ExecutedAt:  fixedNow,
	})

	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, ChannelTrades, got[0].channel)
	assert.Equal(t, "BTC-USD", got[0].key)
	assert.JSONEq(t, `{
		"type": "trade",
		"instrument": "BTC-USD",
		"data": {
			"trade_id": "t-1",
			"instrument": "BTC-USD",
			"price": "70000.50000000",
			"quantity": "0.25000000",
			"buy_order_id": "b-1",
			"sell_order_id": "s-1",
			"timestamp": "2025-01-01T12:00:00.000Z"
		},
		"timestamp": "2025-01-01T12:00:00.000Z"
	}`, string(got[0].payload))
}

func TestPublisher_PublishOrder(t *testing.T) {
	sink := &recordingSink{}
	p := newTestPublisher(sink)

	p.PublishOrder(domain.Order{
		OrderID:        "o-1",
		Instrument:     "BTC-USD",
		Quantity:       dec("2"),
		FilledQuantity: dec("0.5"),
		Status:         domain.OrderStatusPartiallyFilled,
	})

	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, ChannelOrders, got[0].channel)

	var msg struct {
		Type string `json:"type"`
		Data struct {
			Status    string `json:"status"`
			Filled    string `json:"filled_quantity"`
			Remaining string `json:"remaining_quantity"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(got[0].payload, &msg))
	assert.Equal(t, "order_update", msg.Type)
	assert.Equal(t, "partially_filled", msg.Data.Status)
	assert.Equal(t, "0.50000000", msg.Data.Filled)
	assert.Equal(t, "1.50000000", msg.Data.Remaining)
}

func TestPublisher_PublishBook(t *testing.T) {
	sink := &recordingSink{}
	p := newTestPublisher(sink)

	spread := dec("2")
	p.PublishBook(engine.DepthView{
		Instrument: "BTC-USD",
		Bids:       []domain.PriceLevel{{Price: dec("99"), Quantity: dec("1"), OrderCount: 2}},
		Asks:       []domain.PriceLevel{{Price: dec("101"), Quantity: dec("3"), OrderCount: 1}},
		Spread:     &spread,
		Timestamp:  fixedNow,
	})

	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, ChannelBook, got[0].channel)
	assert.JSONEq(t, `{
		"type": "orderbook_delta",
		"instrument": "BTC-USD",
		"data": {
			"bids": [{"price": "99.00000000", "quantity": "1.00000000", "order_count": 2}],
			"asks": [{"price": "101.00000000", "quantity": "3.00000000", "order_count": 1}],
			"spread": "2.00000000"
		},
		"timestamp": "2025-01-01T12:00:00.000Z"
	}`, string(got[0].payload))
}

func TestPublisher_EmptyBookHasNullSpread(t *testing.T) {
	sink := &recordingSink{}
	p := newTestPublisher(sink)

	p.PublishBook(engine.DepthView{Instrument: "BTC-USD", Bids: []domain.PriceLevel{}, Asks: []domain.PriceLevel{}, Timestamp: fixedNow})

	var msg struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(sink.all()[0].payload, &msg))
	assert.Nil(t, msg.Data["spread"])
	assert.Equal(t, []any{}, msg.Data["bids"])
}

func TestPublisher_FansOutToEverySink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	p := newTestPublisher(a, nil, b)

	p.PublishTrade(domain.Trade{TradeID: "t-1", Instrument: "BTC-USD"})

	assert.Len(t, a.all(), 1)
	assert.Len(t, b.all(), 1)
}
