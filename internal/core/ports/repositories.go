package ports

import (
	"context"
	"io"

	"livecast/internal/core/domain"
)

type StreamRepository interface {
	Create(ctx context.Context, stream *domain.Stream) error
	GetByID(ctx context.Context, id domain.StreamID) (*domain.Stream, error)
	Update(ctx context.Context, stream *domain.Stream) error
}

// ViewerCountStore is the externally owned concurrent-viewer counter. The
// core increments and reads it but does not define its retention.
type ViewerCountStore interface {
	Increment(ctx context.Context, id domain.StreamID) (int, error)
	Decrement(ctx context.Context, id domain.StreamID) (int, error)
	Get(ctx context.Context, id domain.StreamID) (int, error)
}

// BlobStorage persists finished recordings as replay assets. Upload
// failures are non-fatal for the stream lifecycle.
type BlobStorage interface {
	Upload(ctx context.Context, path string, data io.Reader, contentType string) (string, error)
	PublicURL(path string) string
}
