package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// PriceService resolves USD prices through an upstream feed, serving recent
// values from the price cache and publishing fresh ones on the signal bus.
// Both cache and bus are optional.
type PriceService struct {
	upstream domain.PriceFeed
	cache    domain.PriceCache
	bus      domain.SignalBus
	maxAge   time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewPriceService creates a PriceService. A cached price older than maxAge is
// refetched; maxAge of zero disables cache reads.
func NewPriceService(
	upstream domain.PriceFeed,
	cache domain.PriceCache,
	bus domain.SignalBus,
	maxAge time.Duration,
	logger *slog.Logger,
) *PriceService {
	return &PriceService{
		upstream: upstream,
		cache:    cache,
		bus:      bus,
		maxAge:   maxAge,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "price_service")),
	}
}

// USDPrice implements domain.PriceFeed.
func (s *PriceService) USDPrice(ctx context.Context, mint string) (float64, error) {
	if s.cache != nil && s.maxAge > 0 {
		price, ts, err := s.cache.GetPrice(ctx, mint)
		switch {
		case err == nil && s.now().Sub(ts) <= s.maxAge && price > 0:
			return price, nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			s.logger.WarnContext(ctx, "price_service: cache read failed",
				slog.String("mint", mint),
				slog.String("error", err.Error()),
			)
		}
	}

	price, err := s.upstream.USDPrice(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("price_service: fetch %s: %w", mint, err)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("price_service: fetch %s: price %v not finite: %w", mint, price, domain.ErrGateway)
	}

	ts := s.now()
	if s.cache != nil {
		if err := s.cache.SetPrice(ctx, mint, price, ts); err != nil {
			s.logger.WarnContext(ctx, "price_service: cache write failed",
				slog.String("mint", mint),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus != nil {
		s.publish(ctx, mint, price, ts)
	}
	return price, nil
}

func (s *PriceService) publish(ctx context.Context, mint string, price float64, ts time.Time) {
	evt, err := json.Marshal(map[string]any{
		"event":     "price_update",
		"mint":      mint,
		"usd_price": price,
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "price_service: encode event failed",
			slog.String("mint", mint),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, "ch:prices", evt); err != nil {
		s.logger.DebugContext(ctx, "price_service: publish failed",
			slog.String("error", err.Error()),
		)
	}
}

var _ domain.PriceFeed = (*PriceService)(nil)
