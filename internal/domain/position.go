package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Position is the holding built up by executed buys of one mint. Amount is in
// the token's base units as quoted at entry; CostUSD is what was spent.
type Position struct {
	Symbol    string          `json:"symbol"`
	Mint      string          `json:"mint"`
	Decimals  int             `json:"decimals"`
	Amount    decimal.Decimal `json:"amount"`
	CostUSD   float64         `json:"cost_usd"`
	OpenedAt  time.Time       `json:"opened_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Candidate returns the candidate the position was bought as.
func (p Position) Candidate() Candidate {
	return Candidate{Symbol: p.Symbol, Mint: p.Mint, Decimals: p.Decimals}
}

// EntryPriceUSD is the average cost of one whole token, or zero for an empty
// position.
func (p Position) EntryPriceUSD() float64 {
	tokens := p.Amount.Shift(-int32(p.Decimals))
	if !tokens.IsPositive() {
		return 0
	}
	return decimal.NewFromFloat(p.CostUSD).Div(tokens).InexactFloat64()
}

// PositionStore persists open positions across restarts.
type PositionStore interface {
	SavePosition(ctx context.Context, p Position) error
	DeletePosition(ctx context.Context, mint string) error
	LoadPositions(ctx context.Context) ([]Position, error)
}
