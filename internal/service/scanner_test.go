package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

type quoteFunc func(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error)

func (f quoteFunc) GetQuote(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
	return f(ctx, req)
}

type staticPrices map[string]float64

func (p staticPrices) USDPrice(_ context.Context, mint string) (float64, error) {
	v, ok := p[mint]
	if !ok {
		return 0, fmt.Errorf("no price for %s: %w", mint, domain.ErrGateway)
	}
	return v, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scanCfg() ScannerConfig {
	return ScannerConfig{
		NotionalUSD:   4,
		QuoteMint:     domain.USDCMint,
		QuoteDecimals: 6,
		SlippageBps:   100,
		Concurrency:   4,
		QuoteTimeout:  time.Second,
		PriceTimeout:  time.Second,
	}
}

// quoteReturning prices every request so that output/10^6 tokens come back.
func quoteReturning(out int64) quoteFunc {
	return func(_ context.Context, req domain.QuoteRequest) (domain.Quote, error) {
		now := time.Now()
		return domain.Quote{
			InputMint:      req.InputMint,
			OutputMint:     req.OutputMint,
			InputAmount:    req.Amount,
			OutputAmount:   decimal.NewFromInt(out),
			PriceImpactPct: 0.1,
			Route:          domain.Route{Venues: []string{"Orca"}},
			QuotedAt:       now,
			ExpiresAt:      now.Add(15 * time.Second),
		}, nil
	}
}

func candidates(n int) []domain.Candidate {
	out := make([]domain.Candidate, n)
	for i := range out {
		out[i] = domain.Candidate{Symbol: fmt.Sprintf("TK%d", i), Mint: fmt.Sprintf("mint-%d", i), Decimals: 6}
	}
	return out
}

func pricesFor(cs []domain.Candidate, usd float64) staticPrices {
	p := staticPrices{}
	for _, c := range cs {
		p[c.Mint] = usd
	}
	return p
}

func TestScanner_ProfitEstimate(t *testing.T) {
	cs := candidates(1)
	var gotReq domain.QuoteRequest
	gw := quoteFunc(func(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
		gotReq = req
		return quoteReturning(4_120_000)(ctx, req)
	})
	s := NewScanner(gw, pricesFor(cs, 1.0), NewRiskService(testPolicy, discardLogger()), scanCfg(), discardLogger())

	ev := s.ScanOne(context.Background(), cs[0])

	assert.Equal(t, domain.USDCMint, gotReq.InputMint)
	assert.Equal(t, "mint-0", gotReq.OutputMint)
	assert.True(t, decimal.NewFromInt(4_000_000).Equal(gotReq.Amount), "amount %s", gotReq.Amount)

	require.NotNil(t, ev.Opportunity)
	assert.True(t, ev.Accepted)
	assert.InDelta(t, 4.12, ev.Opportunity.OutputValueUSD, 1e-9)
	assert.InDelta(t, 0.12, ev.Opportunity.EstimatedProfitUSD, 1e-9)
	assert.InDelta(t, 3.0, ev.Opportunity.EstimatedProfitPct, 1e-9)
	assert.Equal(t, domain.SourceAuto, ev.Opportunity.Source)
	assert.NotEmpty(t, ev.Opportunity.ID)
}

func TestScanner_ScenarioA_RejectedWithReason(t *testing.T) {
	cs := candidates(1)
	// 4.06 out for 4 in is 1.5%.
	s := NewScanner(quoteReturning(4_060_000), pricesFor(cs, 1.0), NewRiskService(testPolicy, discardLogger()), scanCfg(), discardLogger())

	evals := s.Scan(context.Background(), cs)
	require.Len(t, evals, 1)
	assert.False(t, evals[0].Accepted)
	assert.Equal(t, domain.ReasonInsufficientProfit, evals[0].Reason)
	assert.NotEmpty(t, evals[0].Detail)
}

func TestScanner_GatewayErrorIsolatedToCandidate(t *testing.T) {
	cs := candidates(3)
	ok := quoteReturning(4_120_000)
	gw := quoteFunc(func(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
		if req.OutputMint == "mint-1" {
			return domain.Quote{}, fmt.Errorf("status 429: %w", domain.ErrGateway)
		}
		return ok(ctx, req)
	})
	s := NewScanner(gw, pricesFor(cs, 1.0), NewRiskService(testPolicy, discardLogger()), scanCfg(), discardLogger())

	evals := s.Scan(context.Background(), cs)
	require.Len(t, evals, 3)
	assert.True(t, evals[0].Accepted)
	assert.False(t, evals[1].Accepted)
	assert.Equal(t, domain.ReasonGatewayError, evals[1].Reason)
	assert.Nil(t, evals[1].Opportunity)
	assert.Equal(t, "TK1", evals[1].Candidate.Symbol)
	assert.True(t, evals[2].Accepted)
}

func TestScanner_TimeoutYieldsGatewayError(t *testing.T) {
	cs := candidates(2)
	ok := quoteReturning(4_120_000)
	gw := quoteFunc(func(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
		if req.OutputMint == "mint-0" {
			<-ctx.Done()
			return domain.Quote{}, fmt.Errorf("%w: %v", domain.ErrGateway, ctx.Err())
		}
		return ok(ctx, req)
	})
	cfg := scanCfg()
	cfg.QuoteTimeout = 20 * time.Millisecond
	s := NewScanner(gw, pricesFor(cs, 1.0), NewRiskService(testPolicy, discardLogger()), cfg, discardLogger())

	start := time.Now()
	evals := s.Scan(context.Background(), cs)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, domain.ReasonGatewayError, evals[0].Reason)
	assert.True(t, evals[1].Accepted)
}

func TestScanner_PriceFailureIsGatewayError(t *testing.T) {
	cs := candidates(1)
	s := NewScanner(quoteReturning(4_120_000), staticPrices{}, NewRiskService(testPolicy, discardLogger()), scanCfg(), discardLogger())

	ev := s.ScanOne(context.Background(), cs[0])
	assert.Equal(t, domain.ReasonGatewayError, ev.Reason)
	assert.Contains(t, ev.Detail, "mint-0")
}

func TestScanner_BoundedConcurrency(t *testing.T) {
	cs := candidates(12)
	var inFlight, peak atomic.Int32
	ok := quoteReturning(4_120_000)
	gw := quoteFunc(func(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return ok(ctx, req)
	})
	cfg := scanCfg()
	cfg.Concurrency = 3
	s := NewScanner(gw, pricesFor(cs, 1.0), NewRiskService(testPolicy, discardLogger()), cfg, discardLogger())

	evals := s.Scan(context.Background(), cs)
	assert.Len(t, evals, 12)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestScanner_EmptyResultStillReportsEveryRejection(t *testing.T) {
	cs := candidates(5)
	var mu sync.Mutex
	calls := 0
	gw := quoteFunc(func(context.Context, domain.QuoteRequest) (domain.Quote, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return domain.Quote{}, errors.Join(domain.ErrGateway, errors.New("down"))
	})
	s := NewScanner(gw, pricesFor(cs, 1.0), NewRiskService(testPolicy, discardLogger()), scanCfg(), discardLogger())

	report := domain.NewScanReport(s.Scan(context.Background(), cs))
	assert.Equal(t, 5, calls)
	assert.Zero(t, report.Accepted)
	assert.Equal(t, 5, report.Rejected[domain.ReasonGatewayError])
	for i, e := range report.Evaluations {
		assert.Equal(t, cs[i].Symbol, e.Candidate.Symbol)
		assert.NotEmpty(t, e.Detail)
	}
}

func TestScanner_NonFinitePriceIsGatewayError(t *testing.T) {
	cs := candidates(3)
	prices := staticPrices{"mint-0": math.NaN(), "mint-1": math.Inf(1), "mint-2": 1.0}
	s := NewScanner(quoteReturning(4_120_000), prices, NewRiskService(testPolicy, discardLogger()), scanCfg(), discardLogger())

	var evals []domain.Evaluation
	require.NotPanics(t, func() { evals = s.Scan(context.Background(), cs) })
	assert.Equal(t, domain.ReasonGatewayError, evals[0].Reason)
	assert.Equal(t, domain.ReasonGatewayError, evals[1].Reason)
	assert.True(t, evals[2].Accepted)
}

func TestScanner_PassesInputValueForLiquidity(t *testing.T) {
	cs := candidates(1)
	var got domain.QuoteRequest
	gw := quoteFunc(func(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
		got = req
		return quoteReturning(4_120_000)(ctx, req)
	})
	s := NewScanner(gw, pricesFor(cs, 1.0), NewRiskService(testPolicy, discardLogger()), scanCfg(), discardLogger())

	s.ScanOne(context.Background(), cs[0])
	assert.InDelta(t, 4.0, got.InputValueUSD, 1e-9)
}

// sellBackReturning answers buys with 4.12 tokens and sells with out units
// of the quote mint.
func sellBackReturning(out int64) (quoteFunc, *[]domain.QuoteRequest) {
	var mu sync.Mutex
	var reqs []domain.QuoteRequest
	buy := quoteReturning(4_120_000)
	return func(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
		mu.Lock()
		reqs = append(reqs, req)
		mu.Unlock()
		if req.OutputMint == domain.USDCMint {
			q, _ := buy(ctx, req)
			q.OutputAmount = decimal.NewFromInt(out)
			return q, nil
		}
		return buy(ctx, req)
	}, &reqs
}

func TestScanner_RoundTripRejectsUnsellableToken(t *testing.T) {
	cs := candidates(1)
	gw, reqs := sellBackReturning(1_600_000)
	policy := testPolicy
	policy.MinRoundTripRatio = 0.5
	cfg := scanCfg()
	cfg.RoundTripCheck = true
	s := NewScanner(gw, pricesFor(cs, 1.0), NewRiskService(policy, discardLogger()), cfg, discardLogger())

	ev := s.ScanOne(context.Background(), cs[0])

	require.Len(t, *reqs, 2)
	back := (*reqs)[1]
	assert.Equal(t, "mint-0", back.InputMint)
	assert.Equal(t, domain.USDCMint, back.OutputMint)
	assert.True(t, decimal.NewFromInt(4_120_000).Equal(back.Amount))

	require.NotNil(t, ev.Opportunity)
	assert.InDelta(t, 0.4, ev.Opportunity.RoundTripRatio, 1e-9)
	assert.False(t, ev.Accepted)
	assert.Equal(t, domain.ReasonLowLiquidity, ev.Reason)
}

func TestScanner_RoundTripPassesHealthyToken(t *testing.T) {
	cs := candidates(1)
	gw, _ := sellBackReturning(3_960_000)
	policy := testPolicy
	policy.MinRoundTripRatio = 0.5
	cfg := scanCfg()
	cfg.RoundTripCheck = true
	s := NewScanner(gw, pricesFor(cs, 1.0), NewRiskService(policy, discardLogger()), cfg, discardLogger())

	ev := s.ScanOne(context.Background(), cs[0])
	assert.True(t, ev.Accepted)
	assert.InDelta(t, 0.99, ev.Opportunity.RoundTripRatio, 1e-9)
}

func TestScanner_RoundTripQuoteFailureIsGatewayError(t *testing.T) {
	cs := candidates(1)
	buy := quoteReturning(4_120_000)
	gw := quoteFunc(func(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
		if req.OutputMint == domain.USDCMint {
			return domain.Quote{}, fmt.Errorf("no route: %w", domain.ErrGateway)
		}
		return buy(ctx, req)
	})
	cfg := scanCfg()
	cfg.RoundTripCheck = true
	s := NewScanner(gw, pricesFor(cs, 1.0), NewRiskService(testPolicy, discardLogger()), cfg, discardLogger())

	ev := s.ScanOne(context.Background(), cs[0])
	assert.Equal(t, domain.ReasonGatewayError, ev.Reason)
	assert.Contains(t, ev.Detail, "round trip")
}
