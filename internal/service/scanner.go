package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// ScannerConfig sizes and bounds each scan.
type ScannerConfig struct {
	NotionalUSD   float64
	QuoteMint     string
	QuoteDecimals int
	SlippageBps   int
	// RoundTripCheck quotes selling the bought amount straight back so the
	// risk policy can reject tokens that cannot be sold at a fair price.
	RoundTripCheck bool
	Concurrency    int
	QuoteTimeout   time.Duration
	PriceTimeout   time.Duration
}

// Scanner quotes every candidate and runs the result through the risk
// policy. Every candidate yields exactly one Evaluation.
type Scanner struct {
	gateway domain.QuoteGateway
	prices  domain.PriceFeed
	risk    *RiskService
	cfg     ScannerConfig
	logger  *slog.Logger
}

// NewScanner creates a Scanner. A non-positive concurrency is treated as 1.
func NewScanner(
	gateway domain.QuoteGateway,
	prices domain.PriceFeed,
	risk *RiskService,
	cfg ScannerConfig,
	logger *slog.Logger,
) *Scanner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.QuoteMint == "" {
		cfg.QuoteMint = domain.USDCMint
	}
	return &Scanner{
		gateway: gateway,
		prices:  prices,
		risk:    risk,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "scanner")),
	}
}

// Scan evaluates all candidates with bounded concurrency and waits for every
// request. Results are returned in candidate order.
func (s *Scanner) Scan(ctx context.Context, candidates []domain.Candidate) []domain.Evaluation {
	evals := make([]domain.Evaluation, len(candidates))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			evals[i] = s.ScanOne(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	return evals
}

// ScanOne quotes and evaluates a single candidate. The returned opportunity is
// marked as auto-sourced.
func (s *Scanner) ScanOne(ctx context.Context, c domain.Candidate) domain.Evaluation {
	opp, err := s.price(ctx, c)
	if err != nil {
		s.logger.WarnContext(ctx, "scanner: quote failed",
			slog.String("symbol", c.Symbol),
			slog.String("error", err.Error()),
		)
		return domain.Evaluation{
			Candidate: c,
			Reason:    domain.ReasonGatewayError,
			Detail:    err.Error(),
		}
	}

	v := s.risk.Check(ctx, opp)
	return domain.Evaluation{
		Candidate:   c,
		Opportunity: &opp,
		Accepted:    v.Accepted,
		Reason:      v.Reason,
		Detail:      v.Detail,
	}
}

// price fetches a quote for the configured notional and values its output at
// the current USD price of the candidate.
func (s *Scanner) price(ctx context.Context, c domain.Candidate) (domain.Opportunity, error) {
	notional := decimal.NewFromFloat(s.cfg.NotionalUSD)
	req := domain.QuoteRequest{
		InputMint:     s.cfg.QuoteMint,
		OutputMint:    c.Mint,
		Amount:        notional.Shift(int32(s.cfg.QuoteDecimals)).Truncate(0),
		SlippageBps:   s.cfg.SlippageBps,
		InputValueUSD: s.cfg.NotionalUSD,
	}

	q, err := s.quote(ctx, req)
	if err != nil {
		return domain.Opportunity{}, err
	}

	var roundTrip float64
	if s.cfg.RoundTripCheck {
		roundTrip, err = s.roundTrip(ctx, req, q)
		if err != nil {
			return domain.Opportunity{}, err
		}
	}

	usd, err := s.usdPrice(ctx, c.Mint)
	if err != nil {
		return domain.Opportunity{}, err
	}

	value := q.OutputAmount.Shift(-int32(c.Decimals)).Mul(decimal.NewFromFloat(usd))
	profit := value.Sub(notional)

	opp := domain.Opportunity{
		ID:                 uuid.NewString(),
		Candidate:          c,
		Quote:              q,
		NotionalUSD:        s.cfg.NotionalUSD,
		OutputValueUSD:     value.InexactFloat64(),
		EstimatedProfitUSD: profit.InexactFloat64(),
		Source:             domain.SourceAuto,
		RoundTripRatio:     roundTrip,
	}
	if notional.IsPositive() {
		opp.EstimatedProfitPct = profit.Div(notional).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	return opp, nil
}

// roundTrip quotes selling the buy's output back into the quote mint and
// returns the share of the original input that would come back. A token with
// no sell route fails the whole candidate.
func (s *Scanner) roundTrip(ctx context.Context, buy domain.QuoteRequest, q domain.Quote) (float64, error) {
	if !q.OutputAmount.IsPositive() || !buy.Amount.IsPositive() {
		return 0, fmt.Errorf("scanner: round trip %s: empty buy quote: %w", buy.OutputMint, domain.ErrGateway)
	}
	back, err := s.quote(ctx, domain.QuoteRequest{
		InputMint:   buy.OutputMint,
		OutputMint:  buy.InputMint,
		Amount:      q.OutputAmount,
		SlippageBps: buy.SlippageBps,
	})
	if err != nil {
		return 0, fmt.Errorf("scanner: round trip: %w", err)
	}
	return back.OutputAmount.Div(buy.Amount).InexactFloat64(), nil
}

func (s *Scanner) quote(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
	if s.cfg.QuoteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.QuoteTimeout)
		defer cancel()
	}
	q, err := s.gateway.GetQuote(ctx, req)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("scanner: quote %s: %w", req.OutputMint, err)
	}
	return q, nil
}

func (s *Scanner) usdPrice(ctx context.Context, mint string) (float64, error) {
	if s.cfg.PriceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PriceTimeout)
		defer cancel()
	}
	p, err := s.prices.USDPrice(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("scanner: price %s: %w", mint, err)
	}
	if !(p > 0) || math.IsInf(p, 0) {
		return 0, fmt.Errorf("scanner: price %s: unusable price %v: %w", mint, p, domain.ErrGateway)
	}
	return p, nil
}
