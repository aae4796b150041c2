package redis

import (
	"context"
	"fmt"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const viewerCountKeyPrefix = "livecast:viewers:"

// ViewerCountStore keeps per-stream viewer counters in Redis so every
// node sees the same number.
type ViewerCountStore struct {
	client *redis.Client
}

func NewViewerCountStore(client *redis.Client) ports.ViewerCountStore {
	return &ViewerCountStore{client: client}
}

func (s *ViewerCountStore) key(id domain.StreamID) string {
	return viewerCountKeyPrefix + string(id)
}

func (s *ViewerCountStore) Increment(ctx context.Context, id domain.StreamID) (int, error) {
	n, err := s.client.Incr(ctx, s.key(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment viewer count: %w", err)
	}
	return int(n), nil
}

// Decrement lowers the counter, clamping at zero. An unbalanced
// decrement (crash between increment and decrement on another node)
// must not push the public count negative.
func (s *ViewerCountStore) Decrement(ctx context.Context, id domain.StreamID) (int, error) {
	n, err := s.client.Decr(ctx, s.key(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to decrement viewer count: %w", err)
	}
	if n < 0 {
		if err := s.client.Set(ctx, s.key(id), 0, 0).Err(); err != nil {
			return 0, fmt.Errorf("failed to clamp viewer count: %w", err)
		}
		return 0, nil
	}
	return int(n), nil
}

func (s *ViewerCountStore) Get(ctx context.Context, id domain.StreamID) (int, error) {
	n, err := s.client.Get(ctx, s.key(id)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read viewer count: %w", err)
	}
	return n, nil
}
