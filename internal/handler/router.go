package handler

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/service"
)

// RouterOptions carries the parts of the HTTP surface that live outside
// the service layer.
type RouterOptions struct {
	Metrics   http.Handler                    // served at /metrics when set
	Stream    http.Handler                    // served at /stream when set
	Ping      func(ctx context.Context) error // storage check for /healthz
	RateLimit int                             // requests per minute per client, 0 disables
}

// NewRouter creates a chi router with all routes registered, request logging,
// and Content-Type validation middleware.
func NewRouter(
	orderSvc *service.OrderService,
	marketSvc *service.MarketService,
	opts RouterOptions,
	logger *slog.Logger,
) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(logger))
	r.Use(contentTypeJSON)

	// Create handlers.
	orderH := NewOrderHandler(orderSvc, marketSvc)
	marketH := NewMarketHandler(marketSvc)

	// Operational routes are never rate limited.
	r.Get("/healthz", healthz(opts.Ping, time.Now()))
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.Stream != nil {
		r.Method(http.MethodGet, "/stream", opts.Stream)
	}

	r.Group(func(r chi.Router) {
		if opts.RateLimit > 0 {
			r.Use(rateLimit(newRateLimiter(opts.RateLimit)))
		}

		// Order routes.
		r.Post("/orders", orderH.SubmitOrder)
		r.Get("/orders/{order_id}", orderH.GetOrder)
		r.Get("/orders/{order_id}/trades", orderH.GetOrderTrades)
		r.Post("/orders/{order_id}/cancel", orderH.CancelOrder)
		r.Delete("/orders/{order_id}", orderH.CancelOrder)

		// Market data routes.
		r.Get("/orderbook", marketH.GetOrderBook)
		r.Post("/orderbook/snapshot", marketH.CreateSnapshot)
		r.Get("/orderbook/snapshot/latest", marketH.LatestSnapshot)
		r.Get("/trades", marketH.RecentTrades)
		r.Get("/trades/stats", marketH.TradeStats)
	})

	return r
}

// healthResponse is the JSON response for GET /healthz.
type healthResponse struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Uptime    float64 `json:"uptime"` // seconds
}

func healthz(ping func(ctx context.Context) error, started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		resp := healthResponse{
			Status:    "healthy",
			Timestamp: domain.FormatTime(now),
			Uptime:    now.Sub(started).Seconds(),
		}
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				resp.Status = "unhealthy"
				WriteJSON(w, http.StatusServiceUnavailable, resp)
				return
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests that carry a body. If the Content-Type header doesn't start
// with "application/json", it returns 400 Bad Request before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if r.ContentLength != 0 && (ct == "" || !strings.HasPrefix(ct, "application/json")) {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
