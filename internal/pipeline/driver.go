package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	"github.com/andresuchdata/tripdata-ingest/internal/storage"
	"github.com/andresuchdata/tripdata-ingest/internal/warehouse"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrRunInProgress is returned when a run is requested while another one is
// still active.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// Driver runs the process -> register chain for a set of partitions.
type Driver struct {
	processor *Processor
	registrar warehouse.Registrar
	store     storage.ObjectStorage
	recorder  Recorder
	cfg       PipelineConfig
	metrics   *Metrics
	log       zerolog.Logger
	running   atomic.Bool
}

// NewDriver creates a Driver. recorder and metrics may be nil.
func NewDriver(processor *Processor, registrar warehouse.Registrar, store storage.ObjectStorage, recorder Recorder, cfg PipelineConfig, metrics *Metrics, log zerolog.Logger) *Driver {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.AssetSuffix == "" {
		cfg.AssetSuffix = ".csv.gz"
	}
	return &Driver{
		processor: processor,
		registrar: registrar,
		store:     store,
		recorder:  recorder,
		cfg:       cfg,
		metrics:   metrics,
		log:       log,
	}
}

// Run executes every partition independently and returns one result per
// partition in input order, plus the joined errors of failed partitions.
func (d *Driver) Run(ctx context.Context, parts []domain.PartitionConfig) ([]domain.PartitionResult, error) {
	if !d.Claim() {
		return nil, ErrRunInProgress
	}
	return d.RunClaimed(ctx, parts)
}

// Claim reserves the driver for one run. It returns false when a run is
// already active. A successful Claim must be followed by RunClaimed.
func (d *Driver) Claim() bool {
	return d.running.CompareAndSwap(false, true)
}

// RunClaimed is Run for a caller that already holds the claim. The claim is
// released when it returns.
func (d *Driver) RunClaimed(ctx context.Context, parts []domain.PartitionConfig) ([]domain.PartitionResult, error) {
	defer d.running.Store(false)

	results := make([]domain.PartitionResult, len(parts))
	errs := make([]error, len(parts))

	var g errgroup.Group
	if d.cfg.PartitionConcurrency > 0 {
		g.SetLimit(d.cfg.PartitionConcurrency)
	}
	for i, part := range parts {
		i, part := i, part
		g.Go(func() error {
			results[i], errs[i] = d.RunPartition(ctx, part)
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

// Running reports whether a Run is active.
func (d *Driver) Running() bool {
	return d.running.Load()
}

// RunPartition processes one partition and, once staging completed, declares
// its external table. Register never runs when processing failed.
func (d *Driver) RunPartition(ctx context.Context, part domain.PartitionConfig) (domain.PartitionResult, error) {
	log := d.log.With().Str("partition", part.Name).Logger()
	table := d.ExternalTable(part)

	result := domain.PartitionResult{
		Partition: part.Name,
		State:     domain.StatePending,
		URIs:      []string{},
		Table:     table.FullName(),
		StartedAt: time.Now().UTC(),
	}
	result.RunID = d.startRun(ctx, part.Name, result.StartedAt, log)

	d.transition(&result, domain.StateProcessing, log)

	var processed domain.PartitionResult
	err := d.retry(ctx, "process", log, func() error {
		r, err := d.processor.Process(ctx, part)
		if err != nil {
			return err
		}
		processed = r
		return nil
	})
	if err != nil {
		return d.fail(ctx, result, fmt.Errorf("partition %s: process: %w", part.Name, err), log)
	}

	result.Attempted = processed.Attempted
	result.Staged = processed.Staged
	result.Dropped = processed.Dropped
	result.Failed = processed.Failed
	result.URIs = processed.URIs
	result.SchemaMismatches = processed.SchemaMismatches

	// STAGED_EMPTY only when the listing was empty
	if processed.Attempted == 0 {
		d.transition(&result, domain.StateStagedEmpty, log)
	} else {
		d.transition(&result, domain.StateStaged, log)
	}

	err = d.retry(ctx, "register", log, func() error {
		return d.registrar.Register(ctx, table)
	})
	if err != nil {
		return d.fail(ctx, result, fmt.Errorf("partition %s: register: %w", part.Name, err), log)
	}

	d.transition(&result, domain.StateRegistered, log)
	d.finish(ctx, &result, log)
	return result, nil
}

// Register declares the external tables of parts without staging anything.
func (d *Driver) Register(ctx context.Context, parts []domain.PartitionConfig) error {
	var errs []error
	for _, part := range parts {
		log := d.log.With().Str("partition", part.Name).Logger()
		table := d.ExternalTable(part)
		err := d.retry(ctx, "register", log, func() error {
			return d.registrar.Register(ctx, table)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("partition %s: register: %w", part.Name, err))
		}
	}
	return errors.Join(errs...)
}

// ExternalTable returns the table definition of part over its staging prefix.
func (d *Driver) ExternalTable(part domain.PartitionConfig) warehouse.ExternalTable {
	return warehouse.ExternalTable{
		Project:    d.cfg.Project,
		Dataset:    d.cfg.Dataset,
		Table:      part.Table,
		SourceURIs: []string{d.store.URI(domain.SourceGlob(part.Prefix, d.cfg.AssetSuffix))},
		Columns:    part.Columns,
	}
}

// retry runs op up to RetryAttempts times with a constant delay.
func (d *Driver) retry(ctx context.Context, task string, log zerolog.Logger, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.cfg.RetryBackoff), uint64(d.cfg.RetryAttempts-1)),
		ctx,
	)
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return op()
	}, policy, func(err error, wait time.Duration) {
		log.Warn().
			Err(err).
			Str("task", task).
			Int("attempt", attempt).
			Int("max_attempts", d.cfg.RetryAttempts).
			Dur("retry_in", wait).
			Msg("task failed, retrying")
	})
}

func (d *Driver) transition(result *domain.PartitionResult, next domain.PartitionState, log zerolog.Logger) {
	if !result.State.CanTransition(next) {
		log.Warn().Str("from", string(result.State)).Str("to", string(next)).Msg("unexpected state transition")
	}
	log.Debug().Str("from", string(result.State)).Str("to", string(next)).Msg("partition state changed")
	result.State = next
}

func (d *Driver) fail(ctx context.Context, result domain.PartitionResult, err error, log zerolog.Logger) (domain.PartitionResult, error) {
	d.transition(&result, domain.StateFailed, log)
	result.Error = err.Error()
	log.Error().Err(err).Msg("partition failed")
	d.finish(ctx, &result, log)
	return result, err
}

func (d *Driver) startRun(ctx context.Context, partition string, startedAt time.Time, log zerolog.Logger) int64 {
	if d.recorder == nil {
		return 0
	}
	id, err := d.recorder.StartRun(ctx, partition, startedAt)
	if err != nil {
		log.Warn().Err(err).Msg("failed to record run start")
		return 0
	}
	return id
}

func (d *Driver) finish(ctx context.Context, result *domain.PartitionResult, log zerolog.Logger) {
	now := time.Now().UTC()
	result.CompletedAt = &now
	d.metrics.observeRun(result.Partition, result.State, now.Sub(result.StartedAt))

	log.Info().
		Str("state", string(result.State)).
		Int("staged", result.Staged).
		Int("dropped", result.Dropped).
		Int("failed", result.Failed).
		Msg("partition finished")

	if d.recorder == nil || result.RunID == 0 {
		return
	}
	// the run context may already be cancelled
	if err := d.recorder.FinishRun(context.WithoutCancel(ctx), *result); err != nil {
		log.Warn().Err(err).Msg("failed to record run result")
	}
}
