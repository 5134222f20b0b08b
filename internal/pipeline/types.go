package pipeline

import (
	"context"
	"time"

	"github.com/andresuchdata/tripdata-ingest/internal/domain"
)

// AssetLister resolves the downloadable files of a partition release.
type AssetLister interface {
	ListAssets(ctx context.Context, endpoint string) ([]domain.AssetRef, error)
}

// AssetFetcher downloads one asset to local scratch space. A nil file with a
// nil error means the asset was unavailable.
type AssetFetcher interface {
	Fetch(ctx context.Context, asset domain.AssetRef) (*domain.LocalFile, error)
}

// PipelineConfig holds configuration for a pipeline run
type PipelineConfig struct {
	WorkerCount          int           // Concurrent assets per partition
	PartitionConcurrency int           // Concurrent partitions, 0 = unlimited
	SchemaProbe          bool          // Compare CSV headers with declared columns
	RetryAttempts        int           // Attempts per task, including the first
	RetryBackoff         time.Duration // Constant delay between attempts
	Project              string        // Warehouse project
	Dataset              string        // Warehouse dataset
	AssetSuffix          string        // Suffix of source objects, used in table globs
}

// DefaultPipelineConfig returns sensible defaults
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		WorkerCount:   1,
		SchemaProbe:   true,
		RetryAttempts: 3,
		RetryBackoff:  5 * time.Minute,
		AssetSuffix:   ".csv.gz",
	}
}

// assetOutcome is the result of one asset's fetch -> stage chain.
type assetOutcome int

const (
	outcomeMissing assetOutcome = iota // download unavailable
	outcomeStaged
	outcomeDropped // upload retries exhausted
	outcomeFailed
)

func (o assetOutcome) String() string {
	switch o {
	case outcomeMissing:
		return "missing"
	case outcomeStaged:
		return "staged"
	case outcomeDropped:
		return "dropped"
	case outcomeFailed:
		return "failed"
	}
	return "unknown"
}

// assetResult tracks the processing of a single asset
type assetResult struct {
	Asset    domain.AssetRef
	Outcome  assetOutcome
	Object   *domain.StagedObject
	Mismatch []string
	Err      error
	Duration time.Duration
}
