package handler

import (
	"net/http"

	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/service"
)

// MarketHandler handles HTTP requests for order book and trade data.
type MarketHandler struct {
	marketSvc *service.MarketService
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(marketSvc *service.MarketService) *MarketHandler {
	return &MarketHandler{marketSvc: marketSvc}
}

// statsResponse is the JSON response for GET /trades/stats. Price fields are
// null when the window holds no trades.
type statsResponse struct {
	Instrument    string  `json:"instrument"`
	PeriodMinutes int     `json:"period_minutes"`
	TradeCount    int     `json:"trade_count"`
	Volume        string  `json:"volume"`
	VWAP          *string `json:"vwap"`
	High          *string `json:"high"`
	Low           *string `json:"low"`
	LastPrice     *string `json:"last_price"`
	Timestamp     string  `json:"timestamp"`
}

// snapshotCreatedResponse is the JSON response for POST /orderbook/snapshot.
type snapshotCreatedResponse struct {
	SnapshotID int64  `json:"snapshot_id"`
	Instrument string `json:"instrument"`
	Timestamp  string `json:"timestamp"`
	BidLevels  int    `json:"bid_levels"`
	AskLevels  int    `json:"ask_levels"`
}

// snapshotResponse is the JSON response for GET /orderbook/snapshot/latest.
type snapshotResponse struct {
	SnapshotID int64           `json:"snapshot_id"`
	Instrument string          `json:"instrument"`
	Bids       []levelResponse `json:"bids"`
	Asks       []levelResponse `json:"asks"`
	Timestamp  string          `json:"timestamp"`
}

// snapshotRequest is the optional JSON body of POST /orderbook/snapshot.
type snapshotRequest struct {
	Instrument string `json:"instrument"`
}

// GetOrderBook handles GET /orderbook?instrument=&levels=.
func (h *MarketHandler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	levels, err := queryInt(r, "levels")
	if err != nil {
		mapError(w, err)
		return
	}

	view, err := h.marketSvc.GetOrderBook(r.URL.Query().Get("instrument"), levels)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildBookResponse(view))
}

// RecentTrades handles GET /trades?instrument=&limit=.
func (h *MarketHandler) RecentTrades(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		mapError(w, err)
		return
	}

	trades, err := h.marketSvc.RecentTrades(r.Context(), r.URL.Query().Get("instrument"), limit)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildTradeResponses(trades))
}

// TradeStats handles GET /trades/stats?instrument=&minutes=.
func (h *MarketHandler) TradeStats(w http.ResponseWriter, r *http.Request) {
	minutes, err := queryInt(r, "minutes")
	if err != nil {
		mapError(w, err)
		return
	}

	stats, err := h.marketSvc.GetTradeStats(r.Context(), r.URL.Query().Get("instrument"), minutes)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, statsResponse{
		Instrument:    stats.Instrument,
		PeriodMinutes: stats.PeriodMinutes,
		TradeCount:    stats.TradeCount,
		Volume:        domain.FormatAmount(stats.Volume),
		VWAP:          amountPtr(stats.VWAP),
		High:          amountPtr(stats.High),
		Low:           amountPtr(stats.Low),
		LastPrice:     amountPtr(stats.LastPrice),
		Timestamp:     domain.FormatTime(stats.ComputedAt),
	})
}

// CreateSnapshot handles POST /orderbook/snapshot. The body is optional;
// without one the instrument comes from the query string.
func (h *MarketHandler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	instrument := r.URL.Query().Get("instrument")
	if r.ContentLength > 0 {
		var req snapshotRequest
		if err := ParseJSON(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if req.Instrument != "" {
			instrument = req.Instrument
		}
	}

	snap, err := h.marketSvc.CreateSnapshot(r.Context(), instrument)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, snapshotCreatedResponse{
		SnapshotID: snap.ID,
		Instrument: snap.Instrument,
		Timestamp:  domain.FormatTime(snap.Timestamp),
		BidLevels:  len(snap.Bids),
		AskLevels:  len(snap.Asks),
	})
}

// LatestSnapshot handles GET /orderbook/snapshot/latest?instrument=.
func (h *MarketHandler) LatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.marketSvc.LatestSnapshot(r.Context(), r.URL.Query().Get("instrument"))
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, snapshotResponse{
		SnapshotID: snap.ID,
		Instrument: snap.Instrument,
		Bids:       buildLevels(snap.Bids),
		Asks:       buildLevels(snap.Asks),
		Timestamp:  domain.FormatTime(snap.Timestamp),
	})
}
