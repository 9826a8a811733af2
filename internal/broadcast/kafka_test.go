package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKafkaSink_TopicNaming(t *testing.T) {
	tests := []struct {
		prefix  string
		channel string
		want    string
	}{
		{"exchange", ChannelBook, "exchange.orderbook_deltas"},
		{"exchange", ChannelTrades, "exchange.trades"},
		{"", ChannelOrders, "orders"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			s := NewKafkaSink([]string{"localhost:9092"}, tt.prefix, nil)
			defer s.Close()
			assert.Equal(t, tt.want, s.topic(tt.channel))
		})
	}
}

func TestKafkaSink_MessageKeyedByInstrument(t *testing.T) {
	s := NewKafkaSink([]string{"localhost:9092"}, "exchange", nil)
	defer s.Close()

	msg := s.message(ChannelTrades, "BTC-USD", []byte(`{"type":"trade"}`))
	assert.Equal(t, "exchange.trades", msg.Topic)
	assert.Equal(t, "BTC-USD", string(msg.Key))
	assert.JSONEq(t, `{"type":"trade"}`, string(msg.Value))
}
