package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// RiskPolicy holds the static thresholds every opportunity is checked against.
type RiskPolicy struct {
	MinProfitPct        float64
	MaxTradeNotionalUSD float64
	MinLiquidityUSD     float64
	MaxPriceImpactPct   float64
	// MinRoundTripRatio is the share of the input a buy followed by an
	// immediate sell must return. Zero disables the check.
	MinRoundTripRatio float64
}

// Verdict is the outcome of evaluating one opportunity.
type Verdict struct {
	Accepted bool
	Reason   domain.RejectionReason
	Detail   string
}

// Evaluate applies policy to opp. The first failing check wins, and a value
// exactly on a threshold fails:
//  1. price impact not below MaxPriceImpactPct, a route liquidity estimate
//     at or below MinLiquidityUSD, or a buy-then-sell round trip keeping
//     less than MinRoundTripRatio of the input, is LowLiquidity
//  2. profit not strictly above MinProfitPct is InsufficientProfit
//  3. notional not strictly below MaxTradeNotionalUSD is ExceedsMaxNotional
//
// A NaN or infinite figure fails the check it feeds. Evaluate has no side
// effects.
func Evaluate(opp domain.Opportunity, policy RiskPolicy) Verdict {
	impact := opp.Quote.PriceImpactPct
	if !finite(impact) || !(impact < policy.MaxPriceImpactPct) {
		return Verdict{
			Reason: domain.ReasonLowLiquidity,
			Detail: fmt.Sprintf("price impact %.4f%% exceeds max %.4f%%", impact, policy.MaxPriceImpactPct),
		}
	}
	if liq := opp.Quote.Route.LiquidityUSD; policy.MinLiquidityUSD > 0 && liq != 0 && (!finite(liq) || !(liq > policy.MinLiquidityUSD)) {
		return Verdict{
			Reason: domain.ReasonLowLiquidity,
			Detail: fmt.Sprintf("route liquidity $%.2f below min $%.2f", liq, policy.MinLiquidityUSD),
		}
	}
	if rt := opp.RoundTripRatio; policy.MinRoundTripRatio > 0 && rt != 0 && (!finite(rt) || !(rt >= policy.MinRoundTripRatio)) {
		return Verdict{
			Reason: domain.ReasonLowLiquidity,
			Detail: fmt.Sprintf("round trip keeps %.1f%% of input, min %.1f%%", rt*100, policy.MinRoundTripRatio*100),
		}
	}

	if !finite(opp.EstimatedProfitPct) || !(opp.EstimatedProfitPct > policy.MinProfitPct) {
		return Verdict{
			Reason: domain.ReasonInsufficientProfit,
			Detail: fmt.Sprintf("estimated profit %.4f%% below min %.4f%%", opp.EstimatedProfitPct, policy.MinProfitPct),
		}
	}

	if !finite(opp.NotionalUSD) || !(opp.NotionalUSD < policy.MaxTradeNotionalUSD) {
		return Verdict{
			Reason: domain.ReasonExceedsMaxNotional,
			Detail: fmt.Sprintf("notional $%.2f exceeds max $%.2f", opp.NotionalUSD, policy.MaxTradeNotionalUSD),
		}
	}

	return Verdict{Accepted: true}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// RiskService applies the policy and logs each rejection.
type RiskService struct {
	policy RiskPolicy
	logger *slog.Logger
}

// NewRiskService creates a RiskService for the given policy.
func NewRiskService(policy RiskPolicy, logger *slog.Logger) *RiskService {
	return &RiskService{
		policy: policy,
		logger: logger.With(slog.String("component", "risk_service")),
	}
}

// Policy returns the configured policy.
func (s *RiskService) Policy() RiskPolicy {
	return s.policy
}

// Check evaluates opp against the configured policy.
func (s *RiskService) Check(ctx context.Context, opp domain.Opportunity) Verdict {
	v := Evaluate(opp, s.policy)
	if !v.Accepted {
		s.logger.DebugContext(ctx, "risk_service: opportunity rejected",
			slog.String("symbol", opp.Candidate.Symbol),
			slog.String("reason", string(v.Reason)),
			slog.String("detail", v.Detail),
		)
	}
	return v
}
