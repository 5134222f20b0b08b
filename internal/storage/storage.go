package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/andresuchdata/tripdata-ingest/internal/domain"
)

// ErrRetryExhausted marks an upload that kept failing transiently until the
// client gave up or the upload deadline passed.
var ErrRetryExhausted = errors.New("upload retries exhausted")

// ObjectStorage captures the object store operations the stager needs.
type ObjectStorage interface {
	// Upload copies the file at localPath to key, overwriting any object
	// already stored there.
	Upload(ctx context.Context, key, localPath string) (domain.StagedObject, error)
	// URI returns the fully qualified location of key.
	URI(key string) string
	Bucket() string
}

// retryExhausted wraps err with ErrRetryExhausted when it looks transient.
func retryExhausted(err error, status int) error {
	if err == nil {
		return nil
	}
	if isTransient(err, status) {
		return fmt.Errorf("%w: %v", ErrRetryExhausted, err)
	}
	return err
}

func isTransient(err error, status int) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	}
	return false
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(key, ".csv"):
		return "text/csv"
	}
	return "application/octet-stream"
}
