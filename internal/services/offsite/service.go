// Package offsite copies finished dump artifacts to S3-compatible storage.
package offsite

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pgkeeper/pgkeeper/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for offsite uploads.
type Service interface {
	// Upload copies the artifact to the configured bucket and returns the
	// object key.
	Upload(ctx context.Context, cfg models.S3Config, artifactPath string) (string, error)
}

// API is the slice of the S3 client the service uses, for mocking.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ClientFunc builds an S3 client for the given config.
type ClientFunc func(cfg models.S3Config) (API, error)

// Impl implements the offsite Service.
type Impl struct {
	newClient ClientFunc
	logger    zerolog.Logger
}

// New creates a new offsite service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{newClient: newS3Client, logger: logger}
}

// NewWithClient creates a new offsite service with a custom client factory
// (for testing).
func NewWithClient(logger zerolog.Logger, newClient ClientFunc) *Impl {
	return &Impl{newClient: newClient, logger: logger}
}

// newS3Client builds a real S3 client with static credentials taken from the
// configured environment variables. A custom endpoint switches on path-style
// addressing, which most S3-compatible services require.
func newS3Client(cfg models.S3Config) (API, error) {
	accessKey := os.Getenv(cfg.AccessKeyEnv)
	if accessKey == "" {
		return nil, fmt.Errorf("S3 access key environment variable %s is not set", cfg.AccessKeyEnv)
	}

	secretKey := os.Getenv(cfg.SecretKeyEnv)
	if secretKey == "" {
		return nil, fmt.Errorf("S3 secret key environment variable %s is not set", cfg.SecretKeyEnv)
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.Region = cfg.Region
			o.Credentials = credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
		},
	}

	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, opts...), nil
}

// Upload streams the artifact to the bucket under prefix/filename.
func (s *Impl) Upload(ctx context.Context, cfg models.S3Config, artifactPath string) (string, error) {
	client, err := s.newClient(cfg)
	if err != nil {
		return "", err
	}

	f, err := os.Open(artifactPath)
	if err != nil {
		return "", fmt.Errorf("opening artifact for upload: %w", err)
	}
	defer func() { _ = f.Close() }()

	key := filepath.Base(artifactPath)
	if cfg.Prefix != "" {
		key = path.Join(cfg.Prefix, key)
	}

	s.logger.Info().
		Str("bucket", cfg.Bucket).
		Str("key", key).
		Msg("uploading dump artifact offsite")

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("uploading to s3://%s/%s: %w", cfg.Bucket, key, err)
	}

	s.logger.Info().
		Str("bucket", cfg.Bucket).
		Str("key", key).
		Msg("offsite copy completed")

	return key, nil
}
