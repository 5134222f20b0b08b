package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/andresuchdata/tripdata-ingest/internal/csvheader"
	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	"github.com/rs/zerolog"
)

// Processor stages every asset of one partition release.
type Processor struct {
	lister  AssetLister
	fetcher AssetFetcher
	stager  *Stager
	cfg     PipelineConfig
	metrics *Metrics
	log     zerolog.Logger
}

// NewProcessor creates a Processor. metrics may be nil.
func NewProcessor(lister AssetLister, fetcher AssetFetcher, stager *Stager, cfg PipelineConfig, metrics *Metrics, log zerolog.Logger) *Processor {
	return &Processor{
		lister:  lister,
		fetcher: fetcher,
		stager:  stager,
		cfg:     cfg,
		metrics: metrics,
		log:     log,
	}
}

// Process lists the partition's release and runs fetch -> stage for each
// asset. A listing error is returned. Failures of individual assets are
// logged and counted, never returned, and the output URIs follow listing
// order.
func (p *Processor) Process(ctx context.Context, part domain.PartitionConfig) (domain.PartitionResult, error) {
	log := p.log.With().Str("partition", part.Name).Logger()
	result := domain.PartitionResult{Partition: part.Name, URIs: []string{}}

	assets, err := p.lister.ListAssets(ctx, part.ReleaseURL)
	if err != nil {
		return result, fmt.Errorf("failed to list assets for %s: %w", part.Name, err)
	}
	if len(assets) == 0 {
		log.Warn().Str("release", part.ReleaseURL).Msg("no assets to stage")
		return result, nil
	}

	log.Info().Int("assets", len(assets)).Int("workers", p.cfg.WorkerCount).Msg("processing partition")

	results := make([]assetResult, len(assets))
	runPool(ctx, p.cfg.WorkerCount, len(assets), func(ctx context.Context, workerID, i int) {
		assetLog := log.With().Int("worker", workerID).Str("asset", assets[i].Name).Logger()
		results[i] = p.processAsset(ctx, part, assets[i], assetLog)
	})

	result.Attempted = len(assets)
	for _, r := range results {
		switch r.Outcome {
		case outcomeStaged:
			result.Staged++
			result.URIs = append(result.URIs, r.Object.URI)
		case outcomeMissing, outcomeDropped:
			result.Dropped++
		case outcomeFailed:
			result.Failed++
		}
		for _, m := range r.Mismatch {
			result.SchemaMismatches = append(result.SchemaMismatches, r.Asset.Name+": "+m)
		}
	}

	log.Info().
		Int("attempted", result.Attempted).
		Int("staged", result.Staged).
		Int("dropped", result.Dropped).
		Int("failed", result.Failed).
		Msg("partition processed")

	return result, nil
}

func (p *Processor) processAsset(ctx context.Context, part domain.PartitionConfig, asset domain.AssetRef, log zerolog.Logger) (res assetResult) {
	start := time.Now()
	res.Asset = asset

	var local *domain.LocalFile
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = outcomeFailed
			res.Object = nil
			res.Err = fmt.Errorf("panic while processing %s: %v", asset.Name, r)
		}
		if local != nil {
			removeLocal(local.Path, log)
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			log.Error().Err(res.Err).Dur("elapsed", res.Duration).Msg("asset failed")
		}
		p.metrics.observeAsset(part.Name, res.Outcome)
	}()

	var err error
	local, err = p.fetcher.Fetch(ctx, asset)
	if err != nil {
		res.Outcome = outcomeFailed
		res.Err = fmt.Errorf("failed to fetch %s: %w", asset.Name, err)
		return res
	}
	if local == nil {
		res.Outcome = outcomeMissing
		return res
	}

	if p.cfg.SchemaProbe {
		res.Mismatch = p.probe(local, part, log)
	}

	obj, err := p.stager.Stage(ctx, local, part.Prefix)
	if err != nil {
		res.Outcome = outcomeFailed
		res.Err = err
		return res
	}
	if obj == nil {
		res.Outcome = outcomeDropped
		return res
	}

	res.Outcome = outcomeStaged
	res.Object = obj
	p.metrics.observeBytes(part.Name, obj.Size)
	return res
}

// probe reports header drift without blocking staging.
func (p *Processor) probe(local *domain.LocalFile, part domain.PartitionConfig, log zerolog.Logger) []string {
	diff, err := csvheader.Check(local.Path, part.ColumnNames())
	if err != nil {
		log.Warn().Err(err).Msg("unable to read csv header")
		return []string{fmt.Sprintf("header unreadable: %v", err)}
	}
	if len(diff) > 0 {
		log.Warn().
			Str("schema_version", part.SchemaVersion).
			Strs("differences", diff).
			Msg("csv header does not match declared columns")
	}
	return diff
}
