package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const streamKeyPrefix = "livecast:stream:"

// StreamRepository persists stream records as JSON blobs in Redis, with
// a set of currently-live stream IDs alongside for discovery.
type StreamRepository struct {
	client *redis.Client
}

func NewStreamRepository(client *redis.Client) ports.StreamRepository {
	return &StreamRepository{client: client}
}

func (r *StreamRepository) streamKey(id domain.StreamID) string {
	return streamKeyPrefix + string(id)
}

func (r *StreamRepository) liveSetKey() string {
	return streamKeyPrefix + "live"
}

func (r *StreamRepository) Create(ctx context.Context, stream *domain.Stream) error {
	data, err := json.Marshal(stream)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.streamKey(stream.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set stream in Redis: %w", err)
	}
	if !ok {
		return domain.ErrStreamExists
	}
	return nil
}

func (r *StreamRepository) GetByID(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	data, err := r.client.Get(ctx, r.streamKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream from Redis: %w", err)
	}

	var stream domain.Stream
	if err := json.Unmarshal([]byte(data), &stream); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stream: %w", err)
	}
	return &stream, nil
}

func (r *StreamRepository) Update(ctx context.Context, stream *domain.Stream) error {
	exists, err := r.client.Exists(ctx, r.streamKey(stream.ID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check stream existence: %w", err)
	}
	if exists == 0 {
		return domain.ErrStreamNotFound
	}

	data, err := json.Marshal(stream)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}
	if err := r.client.Set(ctx, r.streamKey(stream.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update stream in Redis: %w", err)
	}

	// Keep the live set in step with the record.
	if stream.IsLive {
		err = r.client.SAdd(ctx, r.liveSetKey(), string(stream.ID)).Err()
	} else {
		err = r.client.SRem(ctx, r.liveSetKey(), string(stream.ID)).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to update live set: %w", err)
	}
	return nil
}
