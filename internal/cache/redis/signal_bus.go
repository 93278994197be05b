package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

const (
	defaultStreamMaxLen int64 = 10_000
	subscriberBuffer          = 128
	payloadField              = "payload"
)

// SignalBus carries engine events: Pub/Sub for live delivery and a capped
// stream as the history WebSocket clients replay on connect.
type SignalBus struct {
	rdb          *redis.Client
	streamMaxLen int64
}

// BusOption configures a SignalBus.
type BusOption func(*SignalBus)

// WithStreamMaxLen caps streams at roughly n entries (XADD MAXLEN ~).
func WithStreamMaxLen(n int64) BusOption {
	return func(sb *SignalBus) {
		if n > 0 {
			sb.streamMaxLen = n
		}
	}
}

func NewSignalBus(c *Client, opts ...BusOption) *SignalBus {
	sb := &SignalBus{rdb: c.Underlying(), streamMaxLen: defaultStreamMaxLen}
	for _, o := range opts {
		o(sb)
	}
	return sb
}

func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel, or on a pattern when channel contains glob
// characters. The returned channel closes once ctx is done.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	subscribe := sb.rdb.Subscribe
	if strings.ContainsAny(channel, "*?[") {
		subscribe = sb.rdb.PSubscribe
	}
	pubsub := subscribe(ctx, channel)

	// The first reply confirms the subscription.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go relay(ctx, pubsub, out)
	return out, nil
}

func relay(ctx context.Context, pubsub *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer pubsub.Close()

	in := pubsub.Channel()
	for {
		var msg *redis.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			msg = m
		}
		select {
		case out <- []byte(msg.Payload):
		case <-ctx.Done():
			return
		}
	}
}

func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: sb.streamMaxLen,
		Approx: true,
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID without blocking; "0"
// reads from the start. An empty stream yields no messages and no error.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	res, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var out []domain.StreamMessage
	for _, s := range res {
		out = appendMessages(out, s.Messages...)
	}
	return out, nil
}

// StreamTail returns the newest count entries of stream, oldest first.
func (sb *SignalBus) StreamTail(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error) {
	if count <= 0 {
		return nil, nil
	}
	msgs, err := sb.rdb.XRevRangeN(ctx, stream, "+", "-", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: stream tail %s: %w", stream, err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return appendMessages(make([]domain.StreamMessage, 0, len(msgs)), msgs...), nil
}

// appendMessages skips entries written without a payload field.
func appendMessages(dst []domain.StreamMessage, msgs ...redis.XMessage) []domain.StreamMessage {
	for _, m := range msgs {
		var data []byte
		switch p := m.Values[payloadField].(type) {
		case string:
			data = []byte(p)
		case []byte:
			data = p
		default:
			continue
		}
		dst = append(dst, domain.StreamMessage{ID: m.ID, Payload: data})
	}
	return dst
}

var _ domain.SignalBus = (*SignalBus)(nil)
