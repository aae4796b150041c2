package memory

import (
	"context"
	"sync"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
)

// StreamRepository is the in-memory stream store used for single-node
// deployments and tests.
type StreamRepository struct {
	mu      sync.RWMutex
	streams map[domain.StreamID]*domain.Stream
}

func NewStreamRepository() ports.StreamRepository {
	return &StreamRepository{
		streams: make(map[domain.StreamID]*domain.Stream),
	}
}

func (r *StreamRepository) Create(ctx context.Context, stream *domain.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[stream.ID]; exists {
		return domain.ErrStreamExists
	}
	cp := *stream
	r.streams[stream.ID] = &cp
	return nil
}

func (r *StreamRepository) GetByID(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stream, ok := r.streams[id]
	if !ok {
		return nil, domain.ErrStreamNotFound
	}
	cp := *stream
	return &cp, nil
}

func (r *StreamRepository) Update(ctx context.Context, stream *domain.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.streams[stream.ID]; !ok {
		return domain.ErrStreamNotFound
	}
	cp := *stream
	r.streams[stream.ID] = &cp
	return nil
}
