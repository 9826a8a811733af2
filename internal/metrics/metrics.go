// Package metrics exposes exchange counters and latencies to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
)

// Metrics implements engine.Recorder on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ordersReceived *prometheus.CounterVec
	ordersMatched  *prometheus.CounterVec
	ordersRejected *prometheus.CounterVec
	trades         *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	depth          *prometheus.GaugeVec
	connections    prometheus.Gauge
}

// New registers every exchange metric plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_received_total",
			Help: "Total number of orders received",
		}, []string{"instrument", "type", "side"}),
		ordersMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_matched_total",
			Help: "Total number of orders matched",
		}, []string{"instrument"}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_rejected_total",
			Help: "Total number of orders rejected",
		}, []string{"instrument", "reason"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trades_total",
			Help: "Total number of trades executed",
		}, []string{"instrument"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "order_latency_seconds",
			Help:    "Order processing latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"instrument", "type"}),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "current_orderbook_depth",
			Help: "Current orderbook depth (total resting quantity per side)",
		}, []string{"instrument", "side"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Number of active WebSocket connections",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ordersReceived,
		m.ordersMatched,
		m.ordersRejected,
		m.trades,
		m.latency,
		m.depth,
		m.connections,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderReceived(instrument string, orderType domain.OrderType, side domain.Side) {
	m.ordersReceived.WithLabelValues(instrument, string(orderType), string(side)).Inc()
}

func (m *Metrics) OrderMatched(instrument string) {
	m.ordersMatched.WithLabelValues(instrument).Inc()
}

func (m *Metrics) OrderRejected(instrument, reason string) {
	m.ordersRejected.WithLabelValues(instrument, reason).Inc()
}

func (m *Metrics) TradeExecuted(instrument string) {
	m.trades.WithLabelValues(instrument).Inc()
}

func (m *Metrics) ObserveLatency(instrument string, orderType domain.OrderType, d time.Duration) {
	m.latency.WithLabelValues(instrument, string(orderType)).Observe(d.Seconds())
}

func (m *Metrics) SetDepth(instrument string, side domain.Side, quantity decimal.Decimal) {
	m.depth.WithLabelValues(instrument, string(side)).Set(quantity.InexactFloat64())
}

// SetConnections records the number of open stream connections.
func (m *Metrics) SetConnections(n int) {
	m.connections.Set(float64(n))
}
