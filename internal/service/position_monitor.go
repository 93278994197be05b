package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// ExitPolicy sets the loss and gain, in percent of cost, at which a position
// is sold. A zero threshold is disabled.
type ExitPolicy struct {
	StopLossPct   float64
	TakeProfitPct float64
}

// Positions is the read side of the position book.
type Positions interface {
	Positions() []domain.Position
	BySymbol(symbol string) (domain.Position, bool)
}

// PositionMonitor values open positions by quoting their sale back into the
// quote mint and raises sell opportunities when an exit threshold is hit.
type PositionMonitor struct {
	gateway domain.QuoteGateway
	book    Positions
	policy  ExitPolicy
	cfg     ScannerConfig
	logger  *slog.Logger
}

// NewPositionMonitor creates a PositionMonitor. It reuses the scanner's quote
// mint, slippage and timeouts.
func NewPositionMonitor(
	gateway domain.QuoteGateway,
	book Positions,
	policy ExitPolicy,
	cfg ScannerConfig,
	logger *slog.Logger,
) *PositionMonitor {
	if cfg.QuoteMint == "" {
		cfg.QuoteMint = domain.USDCMint
	}
	return &PositionMonitor{
		gateway: gateway,
		book:    book,
		policy:  policy,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "position_monitor")),
	}
}

// Policy returns the exit thresholds.
func (m *PositionMonitor) Policy() ExitPolicy {
	return m.policy
}

// Positions lists the open positions.
func (m *PositionMonitor) Positions() []domain.Position {
	return m.book.Positions()
}

// Check values every open position. An evaluation is accepted when its
// position should be sold now; the rest are Holding or GatewayError.
func (m *PositionMonitor) Check(ctx context.Context) []domain.Evaluation {
	held := m.book.Positions()
	evals := make([]domain.Evaluation, 0, len(held))
	for _, p := range held {
		evals = append(evals, m.evaluate(ctx, p))
	}
	return evals
}

// Exit quotes an unconditional sale of the position held in symbol.
func (m *PositionMonitor) Exit(ctx context.Context, symbol string) domain.Evaluation {
	p, ok := m.book.BySymbol(symbol)
	if !ok {
		sym := strings.ToUpper(strings.TrimSpace(symbol))
		return domain.Evaluation{
			Candidate: domain.Candidate{Symbol: sym},
			Reason:    domain.ReasonNoPosition,
			Detail:    fmt.Sprintf("no open %s position", sym),
		}
	}
	opp, err := m.value(ctx, p)
	if err != nil {
		return m.gatewayError(ctx, p, err)
	}
	opp.Exit = domain.ExitManual
	opp.Source = domain.SourceManual
	return domain.Evaluation{Candidate: p.Candidate(), Opportunity: &opp, Accepted: true}
}

func (m *PositionMonitor) evaluate(ctx context.Context, p domain.Position) domain.Evaluation {
	opp, err := m.value(ctx, p)
	if err != nil {
		return m.gatewayError(ctx, p, err)
	}

	ev := domain.Evaluation{Candidate: p.Candidate(), Opportunity: &opp}
	pnl := opp.EstimatedProfitPct
	switch {
	case m.policy.StopLossPct > 0 && pnl <= -m.policy.StopLossPct:
		opp.Exit = domain.ExitStopLoss
		ev.Accepted = true
		ev.Detail = fmt.Sprintf("P&L %.2f%% at or below stop loss -%.2f%%", pnl, m.policy.StopLossPct)
	case m.policy.TakeProfitPct > 0 && pnl >= m.policy.TakeProfitPct:
		opp.Exit = domain.ExitTakeProfit
		ev.Accepted = true
		ev.Detail = fmt.Sprintf("P&L %.2f%% at or above take profit %.2f%%", pnl, m.policy.TakeProfitPct)
	default:
		ev.Reason = domain.ReasonHolding
		ev.Detail = fmt.Sprintf("P&L %.2f%%", pnl)
	}
	if ev.Accepted {
		m.logger.InfoContext(ctx, "position exit triggered",
			slog.String("symbol", p.Symbol),
			slog.String("exit", string(opp.Exit)),
			slog.Float64("pnl_pct", pnl),
		)
	}
	return ev
}

// value quotes selling the whole position and fills in the sell opportunity.
// The quote mint is treated as one USD per whole unit.
func (m *PositionMonitor) value(ctx context.Context, p domain.Position) (domain.Opportunity, error) {
	if !p.Amount.IsPositive() {
		return domain.Opportunity{}, fmt.Errorf("position_monitor: %s: empty position: %w", p.Symbol, domain.ErrNotFound)
	}
	if m.cfg.QuoteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.QuoteTimeout)
		defer cancel()
	}
	q, err := m.gateway.GetQuote(ctx, domain.QuoteRequest{
		InputMint:   p.Mint,
		OutputMint:  m.cfg.QuoteMint,
		Amount:      p.Amount,
		SlippageBps: m.cfg.SlippageBps,
	})
	if err != nil {
		return domain.Opportunity{}, fmt.Errorf("position_monitor: quote %s: %w", p.Symbol, err)
	}

	value := q.OutputAmount.Shift(-int32(m.cfg.QuoteDecimals))
	cost := decimal.NewFromFloat(p.CostUSD)
	pnl := value.Sub(cost)

	opp := domain.Opportunity{
		ID:                 uuid.NewString(),
		Candidate:          p.Candidate(),
		Side:               domain.SideSell,
		Quote:              q,
		NotionalUSD:        value.InexactFloat64(),
		OutputValueUSD:     value.InexactFloat64(),
		EstimatedProfitUSD: pnl.InexactFloat64(),
		Source:             domain.SourceAuto,
	}
	if cost.IsPositive() {
		opp.EstimatedProfitPct = pnl.Div(cost).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	return opp, nil
}

func (m *PositionMonitor) gatewayError(ctx context.Context, p domain.Position, err error) domain.Evaluation {
	m.logger.WarnContext(ctx, "position_monitor: valuation failed",
		slog.String("symbol", p.Symbol),
		slog.String("error", err.Error()),
	)
	return domain.Evaluation{
		Candidate: p.Candidate(),
		Reason:    domain.ReasonGatewayError,
		Detail:    err.Error(),
	}
}
