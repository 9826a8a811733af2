package broadcast

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/engine"
)

// Sink receives encoded messages for one channel. Deliver must not block.
// key groups related messages (the instrument).
type Sink interface {
	Deliver(channel, key string, payload []byte)
}

// Publisher implements engine.Publisher by encoding each event once and
// handing it to every sink.
type Publisher struct {
	sinks  []Sink
	now    func() time.Time
	logger *slog.Logger
}

var _ engine.Publisher = (*Publisher)(nil)

// NewPublisher creates a Publisher over the given sinks. Nil sinks are
// skipped.
func NewPublisher(logger *slog.Logger, sinks ...Sink) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{now: time.Now, logger: logger}
	for _, s := range sinks {
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
	}
	return p
}

func (p *Publisher) PublishBook(view engine.DepthView) {
	p.publish(ChannelBook, view.Instrument, bookMessage(view))
}

func (p *Publisher) PublishTrade(trade domain.Trade) {
	p.publish(ChannelTrades, trade.Instrument, tradeMessage(trade, p.now()))
}

func (p *Publisher) PublishOrder(order domain.Order) {
	p.publish(ChannelOrders, order.Instrument, orderMessage(order, p.now()))
}

func (p *Publisher) publish(channel, key string, msg Message) {
	if len(p.sinks) == 0 {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("failed to encode broadcast message",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, s := range p.sinks {
		s.Deliver(channel, key, payload)
	}
}
