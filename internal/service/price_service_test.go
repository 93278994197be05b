package service

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

type memPriceCache struct {
	mu     sync.Mutex
	prices map[string]float64
	ts     map[string]time.Time
}

func newMemPriceCache() *memPriceCache {
	return &memPriceCache{prices: map[string]float64{}, ts: map[string]time.Time{}}
}

func (c *memPriceCache) SetPrice(_ context.Context, id string, price float64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[id] = price
	c.ts[id] = ts
	return nil
}

func (c *memPriceCache) GetPrice(_ context.Context, id string) (float64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prices[id]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, c.ts[id], nil
}

func (c *memPriceCache) GetPrices(ctx context.Context, ids []string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, id := range ids {
		if p, _, err := c.GetPrice(ctx, id); err == nil {
			out[id] = p
		}
	}
	return out, nil
}

type countingFeed struct {
	price float64
	calls int
}

func (f *countingFeed) USDPrice(context.Context, string) (float64, error) {
	f.calls++
	return f.price, nil
}

func TestPriceService_ServesFreshCacheEntries(t *testing.T) {
	feed := &countingFeed{price: 150}
	cache := newMemPriceCache()
	svc := NewPriceService(feed, cache, nil, 30*time.Second, discardLogger())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	p, err := svc.USDPrice(context.Background(), domain.SOLMint)
	require.NoError(t, err)
	assert.Equal(t, 150.0, p)
	assert.Equal(t, 1, feed.calls)

	feed.price = 151
	now = now.Add(10 * time.Second)
	p, err = svc.USDPrice(context.Background(), domain.SOLMint)
	require.NoError(t, err)
	assert.Equal(t, 150.0, p)
	assert.Equal(t, 1, feed.calls)

	now = now.Add(time.Minute)
	p, err = svc.USDPrice(context.Background(), domain.SOLMint)
	require.NoError(t, err)
	assert.Equal(t, 151.0, p)
	assert.Equal(t, 2, feed.calls)
}

func TestPriceService_NoCachePassesThrough(t *testing.T) {
	feed := &countingFeed{price: 2}
	svc := NewPriceService(feed, nil, nil, time.Minute, discardLogger())

	for i := 0; i < 3; i++ {
		_, err := svc.USDPrice(context.Background(), "mint")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, feed.calls)
}

func TestPriceService_UpstreamErrorWrapped(t *testing.T) {
	svc := NewPriceService(staticPrices{}, newMemPriceCache(), nil, time.Minute, discardLogger())
	_, err := svc.USDPrice(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGateway)
}

type recordingBus struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, domain.ErrNotFound
}

func (b *recordingBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestPriceService_PublishesEncodedUpdate(t *testing.T) {
	bus := &recordingBus{}
	svc := NewPriceService(&countingFeed{price: 1.25}, nil, bus, time.Minute, discardLogger())

	_, err := svc.USDPrice(context.Background(), "mint-a")
	require.NoError(t, err)

	require.Len(t, bus.payloads, 1)
	assert.Equal(t, "ch:prices", bus.channels[0])
	var evt map[string]any
	require.NoError(t, json.Unmarshal(bus.payloads[0], &evt))
	assert.Equal(t, "price_update", evt["event"])
	assert.Equal(t, "mint-a", evt["mint"])
	assert.InDelta(t, 1.25, evt["usd_price"], 1e-9)
}

func TestPriceService_NonFiniteUpstreamPriceRejected(t *testing.T) {
	for _, p := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		bus := &recordingBus{}
		cache := newMemPriceCache()
		svc := NewPriceService(&countingFeed{price: p}, cache, bus, time.Minute, discardLogger())

		_, err := svc.USDPrice(context.Background(), "mint-a")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrGateway)
		assert.Empty(t, bus.payloads, "no event for %v", p)
		_, _, err = cache.GetPrice(context.Background(), "mint-a")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
}

func TestPriceService_EncodeFailureSkipsPublish(t *testing.T) {
	bus := &recordingBus{}
	svc := NewPriceService(&countingFeed{price: 1}, nil, bus, time.Minute, discardLogger())

	svc.publish(context.Background(), "mint-a", math.NaN(), time.Now())
	assert.Empty(t, bus.payloads)
}
