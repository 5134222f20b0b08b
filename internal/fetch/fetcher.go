package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	"github.com/rs/zerolog"
)

// Fetcher downloads release assets into a scratch directory.
type Fetcher struct {
	client     *http.Client
	scratchDir string
	log        zerolog.Logger
}

// NewFetcher creates a Fetcher writing into scratchDir. A nil client means
// http.DefaultClient.
func NewFetcher(client *http.Client, scratchDir string, log zerolog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, scratchDir: scratchDir, log: log}
}

// Fetch streams the asset body to {scratchDir}/{asset name}. A non-200
// response is logged and returns a nil file with no error. Retrying is the
// caller's business.
func (f *Fetcher) Fetch(ctx context.Context, asset domain.AssetRef) (*domain.LocalFile, error) {
	if err := os.MkdirAll(f.scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir %s: %w", f.scratchDir, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	req.Header.Set("User-Agent", "tripdata-ingest")

	f.log.Info().Str("url", asset.URL).Msg("downloading asset")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", asset.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		f.log.Warn().Str("url", asset.URL).Int("status", resp.StatusCode).Msg("failed to download asset")
		return nil, nil
	}

	name := filepath.Base(asset.Name)
	if name == "." || name == "/" || name == "" {
		name = filepath.Base(domain.NewAssetRef(asset.URL).Name)
	}
	localPath := filepath.Join(f.scratchDir, name)

	out, err := os.Create(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create local file %s: %w", localPath, err)
	}

	n, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(localPath)
		return nil, fmt.Errorf("failed writing %s: %w", localPath, err)
	}

	f.log.Info().Str("path", localPath).Int64("bytes", n).Msg("downloaded asset")
	return &domain.LocalFile{Path: localPath, Size: n}, nil
}
