package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig encapsulates the connection info for S3-compatible storage.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	ChunkSize int
	Timeout   time.Duration
}

// MinioClient implements ObjectStorage for MinIO / S3-compatible services.
type MinioClient struct {
	client    *minio.Client
	bucket    string
	region    string
	chunkSize int
	timeout   time.Duration
}

// NewMinioClient builds a MinioClient.
func NewMinioClient(cfg MinioConfig) (*MinioClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint must be provided")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio credentials must be provided")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket must be provided")
	}

	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create minio client: %w", err)
	}

	return &MinioClient{
		client:    client,
		bucket:    cfg.Bucket,
		region:    region,
		chunkSize: cfg.ChunkSize,
		timeout:   cfg.Timeout,
	}, nil
}

// EnsureBucket creates the staging bucket when it does not exist.
func (c *MinioClient) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("minio bucket check failed: %w", err)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
		return fmt.Errorf("minio make bucket failed: %w", err)
	}
	return nil
}

// Upload writes localPath to s3://bucket/key using multipart parts of
// ChunkSize bytes.
func (c *MinioClient) Upload(ctx context.Context, key, localPath string) (domain.StagedObject, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	opts := minio.PutObjectOptions{ContentType: contentType(key)}
	if c.chunkSize > 0 {
		opts.PartSize = uint64(c.chunkSize)
	}

	info, err := c.client.FPutObject(ctx, c.bucket, key, localPath, opts)
	if err != nil {
		status := minio.ToErrorResponse(err).StatusCode
		return domain.StagedObject{}, retryExhausted(fmt.Errorf("minio upload %s failed: %w", key, err), status)
	}

	return domain.StagedObject{
		Bucket: c.bucket,
		Key:    key,
		URI:    c.URI(key),
		Size:   info.Size,
	}, nil
}

// URI returns s3://bucket/key.
func (c *MinioClient) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", c.bucket, key)
}

// Bucket returns the staging bucket name.
func (c *MinioClient) Bucket() string {
	return c.bucket
}

var _ ObjectStorage = (*MinioClient)(nil)
