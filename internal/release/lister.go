package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	"github.com/rs/zerolog"
)

// Asset is one entry of the release "assets" array.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

type releaseResponse struct {
	TagName string  `json:"tag_name"`
	Assets  []Asset `json:"assets"`
}

// Options configures a Lister.
type Options struct {
	Suffix string
	Token  string
}

// Lister resolves the downloadable files of a release.
type Lister struct {
	client *http.Client
	opts   Options
	log    zerolog.Logger
}

// NewLister creates a Lister. A nil client means http.DefaultClient.
func NewLister(client *http.Client, opts Options, log zerolog.Logger) *Lister {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.Suffix == "" {
		opts.Suffix = ".csv.gz"
	}
	return &Lister{client: client, opts: opts, log: log}
}

// ListAssets fetches the release at endpoint and returns its matching assets
// in release order. A non-200 response is logged and yields no assets;
// transport and decoding failures are returned to the caller.
func (l *Lister) ListAssets(ctx context.Context, endpoint string) ([]domain.AssetRef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build release request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "tripdata-ingest")
	if l.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+l.opts.Token)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("release request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		l.log.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Msg("failed to fetch release assets")
		return []domain.AssetRef{}, nil
	}

	var body releaseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode release %s: %w", endpoint, err)
	}

	refs := make([]domain.AssetRef, 0, len(body.Assets))
	for _, asset := range body.Assets {
		if !strings.HasSuffix(asset.Name, l.opts.Suffix) || asset.BrowserDownloadURL == "" {
			continue
		}
		ref := domain.NewAssetRef(asset.BrowserDownloadURL)
		ref.Name = asset.Name
		refs = append(refs, ref)
	}

	l.log.Info().
		Str("endpoint", endpoint).
		Int("assets", len(body.Assets)).
		Int("matching", len(refs)).
		Msg("listed release assets")

	return refs, nil
}
