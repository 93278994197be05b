// Package position tracks the tokens the engine holds after executed buys so
// they can later be sold on a stop-loss, a take-profit or operator request.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// Book holds open positions keyed by mint. It is safe for concurrent use.
// When a store is set every change is written through; the in-memory book
// stays authoritative if a write fails.
type Book struct {
	store  domain.PositionStore
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	positions map[string]domain.Position
}

// NewBook creates an empty Book. store may be nil.
func NewBook(store domain.PositionStore, logger *slog.Logger) *Book {
	return &Book{
		store:     store,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "positions")),
		positions: make(map[string]domain.Position),
	}
}

// Load replaces the book's contents with what the store holds.
func (b *Book) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	stored, err := b.store.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("positions: load: %w", err)
	}

	b.mu.Lock()
	b.positions = make(map[string]domain.Position, len(stored))
	for _, p := range stored {
		if p.Amount.IsPositive() {
			b.positions[p.Mint] = p
		}
	}
	n := len(b.positions)
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "positions restored", slog.Int("open", n))
	return nil
}

// Holding returns the open position for mint.
func (b *Book) Holding(mint string) (domain.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[mint]
	return p, ok
}

// BySymbol finds an open position by candidate symbol, ignoring case.
func (b *Book) BySymbol(symbol string) (domain.Position, bool) {
	symbol = strings.TrimSpace(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.positions {
		if strings.EqualFold(p.Symbol, symbol) {
			return p, true
		}
	}
	return domain.Position{}, false
}

// Positions returns the open positions ordered by symbol.
func (b *Book) Positions() []domain.Position {
	b.mu.Lock()
	out := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len returns the number of open positions.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.positions)
}

// Apply folds an executed trade into the book. A buy adds the quoted output
// and the notional spent; a sell removes the quoted input and the matching
// share of the cost. A position sold down to zero is closed.
func (b *Book) Apply(ctx context.Context, opp domain.Opportunity) {
	now := b.now().UTC()
	mint := opp.Candidate.Mint
	if !opp.IsSell() && !opp.Quote.OutputAmount.IsPositive() {
		b.logger.WarnContext(ctx, "positions: buy without an output amount",
			slog.String("symbol", opp.Candidate.Symbol),
		)
		return
	}

	b.mu.Lock()
	p, held := b.positions[mint]
	var closed bool
	if opp.IsSell() {
		if !held {
			b.mu.Unlock()
			b.logger.WarnContext(ctx, "positions: sell without a position",
				slog.String("symbol", opp.Candidate.Symbol),
			)
			return
		}
		sold := decimal.Min(opp.Quote.InputAmount, p.Amount)
		left := p.Amount.Sub(sold)
		if left.IsPositive() {
			share := left.Div(p.Amount).InexactFloat64()
			p.CostUSD *= share
			p.Amount = left
			p.UpdatedAt = now
			b.positions[mint] = p
		} else {
			delete(b.positions, mint)
			closed = true
		}
	} else {
		if !held {
			p = domain.Position{
				Symbol:   opp.Candidate.Symbol,
				Mint:     mint,
				Decimals: opp.Candidate.Decimals,
				Amount:   decimal.Zero,
				OpenedAt: now,
			}
		}
		p.Amount = p.Amount.Add(opp.Quote.OutputAmount)
		p.CostUSD += opp.NotionalUSD
		p.UpdatedAt = now
		b.positions[mint] = p
	}
	b.mu.Unlock()

	b.persist(ctx, p, closed)
}

func (b *Book) persist(ctx context.Context, p domain.Position, closed bool) {
	if b.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var err error
	if closed {
		err = b.store.DeletePosition(ctx, p.Mint)
	} else {
		err = b.store.SavePosition(ctx, p)
	}
	if err != nil {
		b.logger.Warn("position persist failed",
			slog.String("symbol", p.Symbol),
			slog.String("error", err.Error()),
		)
	}
}
