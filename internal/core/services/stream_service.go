package services

import (
	"context"
	"fmt"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	"livecast/pkg/utils"

	"go.uber.org/zap"
)

// StreamService is the read/write surface over stream records used by the
// control API. Lifecycle mutations that involve media go through the
// Broadcaster; this service only touches the persisted record.
type StreamService struct {
	streams ports.StreamRepository
	counts  ports.ViewerCountStore
	logger  *zap.SugaredLogger
}

func NewStreamService(streams ports.StreamRepository, counts ports.ViewerCountStore, logger *zap.SugaredLogger) *StreamService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StreamService{
		streams: streams,
		counts:  counts,
		logger:  logger,
	}
}

// CreateStream registers a new draft stream for the broadcaster.
func (s *StreamService) CreateStream(ctx context.Context, broadcasterID domain.ParticipantID, kind domain.StreamKind) (*domain.Stream, error) {
	if kind == "" {
		kind = domain.StreamKindVideo
	}
	stream := &domain.Stream{
		ID:            domain.StreamID(utils.GenerateStreamID()),
		BroadcasterID: broadcasterID,
		Kind:          kind,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.streams.Create(ctx, stream); err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	s.logger.Infow("stream created", "stream_id", stream.ID, "broadcaster_id", broadcasterID)
	return stream, nil
}

// GetStream loads a stream with its current viewer count filled in.
func (s *StreamService) GetStream(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	stream, err := s.streams.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if count, err := s.counts.Get(ctx, id); err == nil {
		stream.ViewerCount = count
	} else {
		s.logger.Warnw("failed to read viewer count", "stream_id", id, "error", err)
	}
	return stream, nil
}

// Status derives the lifecycle state for a stream.
func (s *StreamService) Status(ctx context.Context, id domain.StreamID) (domain.StreamStatus, error) {
	stream, err := s.streams.GetByID(ctx, id)
	if err != nil {
		return domain.StatusDraft, err
	}
	return domain.ResolveStatus(stream), nil
}
