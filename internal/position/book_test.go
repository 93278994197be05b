package position

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

type memStore struct {
	mu      sync.Mutex
	entries map[string]domain.Position
	failing bool
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]domain.Position{}}
}

func (s *memStore) SavePosition(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("store down")
	}
	s.entries[p.Mint] = p
	return nil
}

func (s *memStore) DeletePosition(_ context.Context, mint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, mint)
	return nil
}

func (s *memStore) LoadPositions(context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Position, 0, len(s.entries))
	for _, p := range s.entries {
		out = append(out, p)
	}
	return out, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var wif = domain.Candidate{Symbol: "WIF", Mint: "mint-wif", Decimals: 6}

func buy(out int64, notional float64) domain.Opportunity {
	return domain.Opportunity{
		Candidate:   wif,
		Side:        domain.SideBuy,
		Quote:       domain.Quote{InputAmount: decimal.NewFromFloat(notional * 1e6), OutputAmount: decimal.NewFromInt(out)},
		NotionalUSD: notional,
	}
}

func sell(in int64) domain.Opportunity {
	return domain.Opportunity{
		Candidate: wif,
		Side:      domain.SideSell,
		Quote:     domain.Quote{InputAmount: decimal.NewFromInt(in)},
	}
}

func TestBook_BuysAccumulate(t *testing.T) {
	store := newMemStore()
	b := NewBook(store, discard())
	ctx := context.Background()

	b.Apply(ctx, buy(2_000_000, 4))
	b.Apply(ctx, buy(1_000_000, 3))

	p, ok := b.Holding("mint-wif")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(3_000_000).Equal(p.Amount))
	assert.InDelta(t, 7.0, p.CostUSD, 1e-9)
	assert.InDelta(t, 7.0/3.0, p.EntryPriceUSD(), 1e-9)
	assert.Equal(t, 6, p.Decimals)
	assert.Contains(t, store.entries, "mint-wif")
}

func TestBook_PartialSellReducesCostProportionally(t *testing.T) {
	b := NewBook(nil, discard())
	ctx := context.Background()

	b.Apply(ctx, buy(4_000_000, 8))
	b.Apply(ctx, sell(1_000_000))

	p, ok := b.Holding("mint-wif")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(3_000_000).Equal(p.Amount))
	assert.InDelta(t, 6.0, p.CostUSD, 1e-9)
}

func TestBook_FullSellClosesPosition(t *testing.T) {
	store := newMemStore()
	b := NewBook(store, discard())
	ctx := context.Background()

	b.Apply(ctx, buy(4_000_000, 4))
	b.Apply(ctx, sell(5_000_000))

	_, ok := b.Holding("mint-wif")
	assert.False(t, ok)
	assert.Zero(t, b.Len())
	assert.NotContains(t, store.entries, "mint-wif")
}

func TestBook_SellWithoutPositionIgnored(t *testing.T) {
	b := NewBook(nil, discard())
	b.Apply(context.Background(), sell(1))
	assert.Zero(t, b.Len())
}

func TestBook_LoadAndLookup(t *testing.T) {
	store := newMemStore()
	store.entries["mint-bonk"] = domain.Position{Symbol: "BONK", Mint: "mint-bonk", Decimals: 5, Amount: decimal.NewFromInt(10), CostUSD: 1}
	store.entries["mint-wif"] = domain.Position{Symbol: "WIF", Mint: "mint-wif", Decimals: 6, Amount: decimal.NewFromInt(20), CostUSD: 2}
	store.entries["mint-dust"] = domain.Position{Symbol: "DUST", Mint: "mint-dust", Amount: decimal.Zero}

	b := NewBook(store, discard())
	require.NoError(t, b.Load(context.Background()))

	all := b.Positions()
	require.Len(t, all, 2)
	assert.Equal(t, "BONK", all[0].Symbol)
	assert.Equal(t, "WIF", all[1].Symbol)

	p, ok := b.BySymbol(" wif ")
	require.True(t, ok)
	assert.Equal(t, "mint-wif", p.Mint)
	_, ok = b.BySymbol("DOGE")
	assert.False(t, ok)
}

func TestBook_StoreFailureKeepsMemoryState(t *testing.T) {
	store := newMemStore()
	store.failing = true
	b := NewBook(store, discard())

	b.Apply(context.Background(), buy(1_000_000, 4))
	_, ok := b.Holding("mint-wif")
	assert.True(t, ok)
	assert.Empty(t, store.entries)
}

func TestBook_BuyWithoutOutputIgnored(t *testing.T) {
	b := NewBook(nil, discard())
	b.Apply(context.Background(), buy(0, 4))
	assert.Zero(t, b.Len())
}
