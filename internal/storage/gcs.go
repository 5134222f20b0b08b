package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSConfig encapsulates the settings of the Google Cloud Storage backend.
type GCSConfig struct {
	Bucket    string
	ChunkSize int
	Timeout   time.Duration
	Options   []option.ClientOption
}

// GCSClient implements ObjectStorage on Google Cloud Storage.
type GCSClient struct {
	client    *gcs.Client
	bucket    string
	chunkSize int
	timeout   time.Duration
}

// NewGCSClient builds a GCSClient. Uploads use resumable chunks of ChunkSize
// bytes and are bounded by Timeout.
func NewGCSClient(ctx context.Context, cfg GCSConfig) (*GCSClient, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket must be provided")
	}
	client, err := gcs.NewClient(ctx, cfg.Options...)
	if err != nil {
		return nil, fmt.Errorf("unable to create storage client: %w", err)
	}
	return &GCSClient{
		client:    client,
		bucket:    cfg.Bucket,
		chunkSize: cfg.ChunkSize,
		timeout:   cfg.Timeout,
	}, nil
}

// Upload writes localPath to gs://bucket/key.
func (c *GCSClient) Upload(ctx context.Context, key, localPath string) (domain.StagedObject, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return domain.StagedObject{}, fmt.Errorf("failed opening %s: %w", localPath, err)
	}
	defer f.Close()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// Cancelling the writer context is the only way to abort an upload;
	// Close commits whatever was written.
	uploadCtx, abort := context.WithCancel(ctx)
	defer abort()

	// Keys are deterministic, so replaying a failed upload is safe.
	obj := c.client.Bucket(c.bucket).Object(key).Retryer(gcs.WithPolicy(gcs.RetryAlways))
	w := obj.NewWriter(uploadCtx)
	w.ChunkSize = c.chunkSize
	w.ContentType = contentType(key)

	n, err := copyObject(w, abort, f)
	if err != nil {
		return domain.StagedObject{}, retryExhausted(fmt.Errorf("uploading %s to gcs: %w", localPath, err), gcsStatus(err))
	}

	return domain.StagedObject{
		Bucket: c.bucket,
		Key:    key,
		URI:    c.URI(key),
		Size:   n,
	}, nil
}

// copyObject streams r into w and commits it. A failed copy aborts the upload
// before w is closed.
func copyObject(w io.WriteCloser, abort context.CancelFunc, r io.Reader) (int64, error) {
	n, err := io.Copy(w, r)
	if err != nil {
		abort()
		_ = w.Close()
		return n, fmt.Errorf("upload aborted: %w", err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("failed to commit object: %w", err)
	}
	return n, nil
}

// URI returns gs://bucket/key.
func (c *GCSClient) URI(key string) string {
	return fmt.Sprintf("gs://%s/%s", c.bucket, key)
}

// Bucket returns the staging bucket name.
func (c *GCSClient) Bucket() string {
	return c.bucket
}

// Close releases the underlying client.
func (c *GCSClient) Close() error {
	return c.client.Close()
}

func gcsStatus(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

var _ ObjectStorage = (*GCSClient)(nil)
