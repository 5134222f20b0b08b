package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	"github.com/andresuchdata/tripdata-ingest/internal/storage"
	"github.com/rs/zerolog"
)

// Stager uploads downloaded assets under their deterministic object key.
type Stager struct {
	store storage.ObjectStorage
	log   zerolog.Logger
}

// NewStager creates a Stager on top of store.
func NewStager(store storage.ObjectStorage, log zerolog.Logger) *Stager {
	return &Stager{store: store, log: log}
}

// Stage uploads local to {prefix}/{file name}. A nil local file is a no-op.
// When the store gives up on transient failures the asset is dropped: the
// result is nil with no error. The local file is removed on every path.
func (s *Stager) Stage(ctx context.Context, local *domain.LocalFile, prefix string) (*domain.StagedObject, error) {
	if local == nil {
		return nil, nil
	}
	defer removeLocal(local.Path, s.log)

	key := domain.ObjectKey(prefix, local.Path)
	obj, err := s.store.Upload(ctx, key, local.Path)
	if errors.Is(err, storage.ErrRetryExhausted) {
		s.log.Error().Err(err).Str("key", key).Msg("upload retries exhausted, dropping asset")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stage %s: %w", key, err)
	}

	s.log.Info().Str("uri", obj.URI).Int64("bytes", obj.Size).Msg("staged asset")
	return &obj, nil
}

func removeLocal(path string, log zerolog.Logger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("failed to remove local file")
	}
}
