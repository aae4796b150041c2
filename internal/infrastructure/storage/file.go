package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FileStorage writes replay blobs under a local directory. Suitable for
// single-node deployments where replays are served from disk.
type FileStorage struct {
	dir           string
	publicBaseURL string
	logger        *zap.SugaredLogger
}

func NewFileStorage(dir, publicBaseURL string, logger *zap.SugaredLogger) (*FileStorage, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &FileStorage{
		dir:           dir,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		logger:        logger,
	}, nil
}

func (s *FileStorage) Upload(ctx context.Context, path string, data io.Reader, contentType string) (string, error) {
	clean := filepath.Clean(path)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid storage path %q", path)
	}

	target := filepath.Join(s.dir, clean)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create replay dir: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create replay file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, data)
	if err != nil {
		os.Remove(target)
		return "", fmt.Errorf("failed to write replay file: %w", err)
	}

	s.logger.Infow("replay stored", "path", target, "bytes", n, "content_type", contentType)
	return s.PublicURL(clean), nil
}

func (s *FileStorage) PublicURL(path string) string {
	if s.publicBaseURL == "" {
		return filepath.Join(s.dir, path)
	}
	return s.publicBaseURL + "/" + strings.TrimPrefix(path, "/")
}
