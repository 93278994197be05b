package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// Engine executes typed front-end commands.
type Engine interface {
	Dispatch(ctx context.Context, cmd domain.Command) (domain.Reply, error)
}

// EngineHandler exposes the engine's command surface over HTTP. Each route
// maps onto exactly one domain.Operation.
type EngineHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewEngineHandler creates an EngineHandler.
func NewEngineHandler(engine Engine, logger *slog.Logger) *EngineHandler {
	return &EngineHandler{engine: engine, logger: logHandler(logger, "engine")}
}

// Status returns automation and ledger state.
// GET /api/status
func (h *EngineHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, domain.Command{Op: domain.OpStatus})
}

// Scan runs a one-shot evaluation of every candidate.
// POST /api/scan
func (h *EngineHandler) Scan(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, domain.Command{Op: domain.OpOneShotScan, RequesterID: requesterID(r)})
}

// StartAutomation turns the scan loop on.
// POST /api/automation/start
func (h *EngineHandler) StartAutomation(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, domain.Command{Op: domain.OpStartAutomation, RequesterID: requesterID(r)})
}

// StopAutomation turns the scan loop off.
// POST /api/automation/stop
func (h *EngineHandler) StopAutomation(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, domain.Command{Op: domain.OpStopAutomation, RequesterID: requesterID(r)})
}

// ResetHalt clears an engine halt.
// POST /api/automation/reset
func (h *EngineHandler) ResetHalt(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, domain.Command{Op: domain.OpResetHalt, RequesterID: requesterID(r)})
}

type manualTradeRequest struct {
	Symbol string `json:"symbol"`
}

// ManualTrade evaluates one candidate and executes it if accepted.
// POST /api/trades/manual
func (h *EngineHandler) ManualTrade(w http.ResponseWriter, r *http.Request) {
	h.runWithSymbol(w, r, domain.OpManualTrade)
}

// Positions lists open positions.
// GET /api/positions
func (h *EngineHandler) Positions(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, domain.Command{Op: domain.OpListPositions})
}

// ClosePosition sells one open position.
// POST /api/positions/close
func (h *EngineHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	h.runWithSymbol(w, r, domain.OpClosePosition)
}

func (h *EngineHandler) runWithSymbol(w http.ResponseWriter, r *http.Request, op domain.Operation) {
	var req manualTradeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Symbol = strings.TrimSpace(req.Symbol)
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	h.run(w, r, domain.Command{Op: op, RequesterID: requesterID(r), Symbol: req.Symbol})
}

func (h *EngineHandler) run(w http.ResponseWriter, r *http.Request, cmd domain.Command) {
	reply, err := h.engine.Dispatch(r.Context(), cmd)
	if err != nil {
		code := errorStatus(err)
		if code >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "command failed",
				slog.String("op", string(cmd.Op)),
				slog.String("error", err.Error()),
			)
		}
		writeJSON(w, code, map[string]any{"error": err.Error(), "reply": reply})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
