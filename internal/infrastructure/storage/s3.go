package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// S3Storage uploads replay blobs to an S3 bucket.
type S3Storage struct {
	client        *s3.Client
	bucket        string
	prefix        string
	publicBaseURL string
	logger        *zap.SugaredLogger
}

func NewS3Storage(ctx context.Context, bucket, prefix, publicBaseURL string, logger *zap.SugaredLogger) (*S3Storage, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Storage{
		client:        s3.NewFromConfig(cfg),
		bucket:        bucket,
		prefix:        strings.Trim(prefix, "/"),
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		logger:        logger,
	}, nil
}

func (s *S3Storage) key(path string) string {
	path = strings.TrimPrefix(path, "/")
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

func (s *S3Storage) Upload(ctx context.Context, path string, data io.Reader, contentType string) (string, error) {
	key := s.key(path)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload replay to s3://%s/%s: %w", s.bucket, key, err)
	}

	s.logger.Infow("replay uploaded", "bucket", s.bucket, "key", key, "content_type", contentType)
	return s.PublicURL(path), nil
}

func (s *S3Storage) PublicURL(path string) string {
	key := s.key(path)
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}
