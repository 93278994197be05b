package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each mint's USD
// price is stored at "price:usd:{mint}" with fields "price" and "ts" (Unix
// nanoseconds). Entries expire after ttl so a dead price feed cannot leave a
// stale price behind forever.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A zero ttl
// keeps entries until overwritten.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(mint string) string {
	return "price:usd:" + mint
}

// SetPrice stores the latest price and its observation time.
func (pc *PriceCache) SetPrice(ctx context.Context, mint string, price float64, ts time.Time) error {
	key := priceKey(mint)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", mint, err)
	}
	return nil
}

// GetPrice returns the cached price and its observation time, or
// domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, mint string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(mint)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", mint, err)
	}
	price, ts, ok, err := parsePrice(vals)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", mint, err)
	}
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return price, ts, nil
}

// GetPrices retrieves cached prices for several mints in one round trip.
// Missing or malformed entries are omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, mints []string) (map[string]float64, error) {
	if len(mints) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(mints))
	for _, m := range mints {
		cmds[m] = pipe.HGetAll(ctx, priceKey(m))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]float64, len(mints))
	for m, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		price, _, ok, err := parsePrice(vals)
		if err != nil || !ok {
			continue
		}
		result[m] = price
	}
	return result, nil
}

func parsePrice(vals map[string]string) (float64, time.Time, bool, error) {
	priceStr, okP := vals["price"]
	tsStr, okT := vals["ts"]
	if !okP || !okT {
		return 0, time.Time{}, false, nil
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("parse price: %w", err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("parse ts: %w", err)
	}
	return price, time.Unix(0, tsNano), true, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
