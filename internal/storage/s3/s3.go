package s3

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/utafrali/VideoTubeGo/internal/storage"
	"github.com/utafrali/VideoTubeGo/pkg/breaker"
)

// Config holds S3-compatible object storage settings.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, e.g. a MinIO base URL
	AccessKey string
	SecretKey string
	// PublicBaseURL is prepended to object keys to build asset URLs. When
	// empty the URL is derived from Endpoint or the AWS virtual-host form.
	PublicBaseURL string
	UsePathStyle  bool
}

// ObjectAPI is the part of *s3.Client the storage needs.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Storage implements storage.Storage on an S3 bucket. Uploads are guarded
// by a circuit breaker so a failing bucket is not hammered.
type Storage struct {
	client  ObjectAPI
	cfg     Config
	breaker *breaker.Breaker[*s3.PutObjectOutput]
	logger  *slog.Logger
}

// New builds an S3 client from cfg and returns a storage on top of it.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Storage, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewWithClient(client, cfg, breaker.DefaultConfig("s3-"+cfg.Bucket), logger), nil
}

// NewWithClient creates a storage on an existing client.
func NewWithClient(client ObjectAPI, cfg Config, cbCfg breaker.Config, logger *slog.Logger) *Storage {
	return &Storage{
		client:  client,
		cfg:     cfg,
		breaker: breaker.New[*s3.PutObjectOutput](cbCfg, logger),
		logger:  logger,
	}
}

// Upload puts the object and returns its public URL.
func (s *Storage) Upload(ctx context.Context, input *storage.UploadInput) (*storage.UploadResult, error) {
	put := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(input.Key),
		Body:   input.Data,
	}
	if input.ContentType != "" {
		put.ContentType = aws.String(input.ContentType)
	}
	if input.Size > 0 {
		put.ContentLength = aws.Int64(input.Size)
	}

	_, err := s.breaker.Execute(func() (*s3.PutObjectOutput, error) {
		return s.client.PutObject(ctx, put)
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", input.Key, err)
	}

	s.logger.DebugContext(ctx, "object uploaded",
		slog.String("bucket", s.cfg.Bucket),
		slog.String("key", input.Key),
		slog.Int64("size", input.Size),
	)

	return &storage.UploadResult{Key: input.Key, URL: s.url(input.Key)}, nil
}

// Delete removes the object.
func (s *Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

func (s *Storage) url(key string) string {
	switch {
	case s.cfg.PublicBaseURL != "":
		return storage.PublicURL(s.cfg.PublicBaseURL, key)
	case s.cfg.Endpoint != "":
		return storage.PublicURL(storage.PublicURL(s.cfg.Endpoint, s.cfg.Bucket), key)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
	}
}
