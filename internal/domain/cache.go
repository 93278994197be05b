package domain

import (
	"context"
	"time"
)

// LockManager serialises execution across engine processes that share a
// wallet. unlock is idempotent.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter budgets gateway and API calls per key over a sliding window.
// Wait blocks until a slot frees up or ctx ends.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// PriceCache holds USD prices by mint so scan and ledger valuations agree
// across processes. A miss is ErrNotFound.
type PriceCache interface {
	SetPrice(ctx context.Context, mint string, usd float64, at time.Time) error
	GetPrice(ctx context.Context, mint string) (float64, time.Time, error)
	GetPrices(ctx context.Context, mints []string) (map[string]float64, error)
}

// SignalBus publishes encoded engine events on channels and keeps a replayable
// history in streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// StreamMessage is one history entry with its stream id.
type StreamMessage struct {
	ID      string
	Payload []byte
}
