package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// QuoteRequest asks the gateway to price swapping Amount base units of
// InputMint into OutputMint. InputValueUSD, when known, lets the gateway
// estimate route liquidity from the reported price impact.
type QuoteRequest struct {
	InputMint     string
	OutputMint    string
	Amount        decimal.Decimal
	SlippageBps   int
	InputValueUSD float64
}

// Route is the router's opaque description of how a swap will be filled.
// The engine only reads the labels and the liquidity estimate, which is zero
// when unknown; Raw is handed back to the executor untouched.
type Route struct {
	Venues       []string        `json:"venues"`
	LiquidityUSD float64         `json:"liquidity_usd,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

// Quote is a priced, time-bounded estimate of a hypothetical swap. Quotes are
// produced fresh each scan and never persisted.
type Quote struct {
	InputMint      string          `json:"input_mint"`
	OutputMint     string          `json:"output_mint"`
	InputAmount    decimal.Decimal `json:"input_amount"`
	OutputAmount   decimal.Decimal `json:"output_amount"`
	PriceImpactPct float64         `json:"price_impact_pct"`
	Route          Route           `json:"route"`
	QuotedAt       time.Time       `json:"quoted_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// Expired reports whether the quote's validity deadline has passed at now.
func (q Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// QuoteGateway prices swaps. Failures must wrap ErrGateway.
type QuoteGateway interface {
	GetQuote(ctx context.Context, req QuoteRequest) (Quote, error)
}

// PriceFeed returns the USD price of one whole token for a mint.
type PriceFeed interface {
	USDPrice(ctx context.Context, mint string) (float64, error)
}

// ExecutionResult is what the external executor reports for a broadcast swap.
type ExecutionResult struct {
	TxID string
}

// Executor signs and broadcasts a routed swap. It is treated as an opaque,
// at-most-once-per-call operation.
type Executor interface {
	Execute(ctx context.Context, route Route) (ExecutionResult, error)
}
