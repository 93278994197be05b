package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// TradeLister reads the trade journal newest first.
type TradeLister interface {
	ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error)
}

// TradeHandler serves the trade history.
type TradeHandler struct {
	trades TradeLister
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeLister, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logHandler(logger, "trades")}
}

// ListTrades returns recent trade records.
// GET /api/trades?limit=&offset=&since=&until=
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.trades.ListRecent(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if recs == nil {
		recs = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": recs, "count": len(recs)})
}
