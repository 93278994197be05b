package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// PositionStore implements domain.PositionStore with a single Redis hash
// mapping mint to the JSON-encoded position.
type PositionStore struct {
	rdb *redis.Client
	key string
}

// NewPositionStore creates a PositionStore. An empty key uses
// "swapbot:positions".
func NewPositionStore(c *Client, key string) *PositionStore {
	if key == "" {
		key = "swapbot:positions"
	}
	return &PositionStore{rdb: c.Underlying(), key: key}
}

// SavePosition writes p, replacing any earlier entry for its mint.
func (s *PositionStore) SavePosition(ctx context.Context, p domain.Position) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: encode position %s: %w", p.Mint, err)
	}
	if err := s.rdb.HSet(ctx, s.key, p.Mint, raw).Err(); err != nil {
		return fmt.Errorf("redis: save position %s: %w", p.Mint, err)
	}
	return nil
}

// DeletePosition removes the entry for mint. Deleting a missing entry is not
// an error.
func (s *PositionStore) DeletePosition(ctx context.Context, mint string) error {
	if err := s.rdb.HDel(ctx, s.key, mint).Err(); err != nil {
		return fmt.Errorf("redis: delete position %s: %w", mint, err)
	}
	return nil
}

// LoadPositions returns every stored position ordered by symbol. Entries
// that fail to decode are reported as an error rather than skipped.
func (s *PositionStore) LoadPositions(ctx context.Context) ([]domain.Position, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load positions: %w", err)
	}
	out := make([]domain.Position, 0, len(vals))
	for mint, raw := range vals {
		var p domain.Position
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("redis: decode position %s: %w", mint, err)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
