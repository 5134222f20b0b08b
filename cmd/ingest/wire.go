package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/andresuchdata/tripdata-ingest/internal/config"
	"github.com/andresuchdata/tripdata-ingest/internal/fetch"
	"github.com/andresuchdata/tripdata-ingest/internal/gcp"
	"github.com/andresuchdata/tripdata-ingest/internal/pipeline"
	"github.com/andresuchdata/tripdata-ingest/internal/release"
	"github.com/andresuchdata/tripdata-ingest/internal/service"
	"github.com/andresuchdata/tripdata-ingest/internal/storage"
	"github.com/andresuchdata/tripdata-ingest/internal/warehouse"
	"github.com/andresuchdata/tripdata-ingest/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"google.golang.org/api/option"
)

func setupLogging(c *cli.Context) error {
	cfg := config.Load()
	format := cfg.App.LogFormat
	if c.IsSet("log-format") {
		format = c.String("log-format")
	}
	level := cfg.App.LogLevel
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	logger.SetFormat(format)
	logger.SetLevel(level)
	return nil
}

func loadPartitions(c *cli.Context, cfg *config.Config) (*config.PartitionSet, error) {
	path := cfg.App.PartitionsFile
	if c.IsSet("partitions-file") {
		path = c.String("partitions-file")
	}
	return config.LoadPartitions(path, cfg.Release.APIBase)
}

func newLister(cfg *config.Config) *release.Lister {
	client := &http.Client{Timeout: cfg.Release.HTTPTimeout}
	return release.NewLister(client, release.Options{
		Suffix: cfg.Release.AssetSuffix,
		Token:  cfg.Release.Token,
	}, logger.Component("release"))
}

// components is everything a pipeline pass needs.
type components struct {
	cfg      *config.Config
	service  *service.IngestService
	driver   *pipeline.Driver
	recorder pipeline.Recorder
	gatherer prometheus.Gatherer
	closers  []func() error
}

func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

func buildComponents(ctx context.Context, c *cli.Context) (*components, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	parts, err := loadPartitions(c, cfg)
	if err != nil {
		return nil, err
	}
	if err := config.EnsureDir(cfg.Pipeline.ScratchDir); err != nil {
		return nil, err
	}

	comp := &components{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = comp.Close()
		}
	}()

	var gcpOpts []option.ClientOption
	if cfg.Storage.Backend == "gcs" || cfg.Warehouse.Enabled {
		gcpOpts, err = gcp.ClientOptions(ctx, cfg.GCP.Credentials)
		if err != nil {
			return nil, err
		}
	}

	store, err := newObjectStorage(ctx, cfg, gcpOpts, comp)
	if err != nil {
		return nil, err
	}

	registrar, err := newRegistrar(ctx, cfg, gcpOpts, comp)
	if err != nil {
		return nil, err
	}

	recorder, err := newRecorder(ctx, cfg, comp)
	if err != nil {
		return nil, err
	}
	comp.recorder = recorder

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := pipeline.NewMetrics(registry)
	comp.gatherer = registry

	pcfg := pipeline.PipelineConfig{
		WorkerCount:          cfg.Pipeline.WorkerCount,
		PartitionConcurrency: cfg.Pipeline.PartitionConcurrency,
		SchemaProbe:          cfg.Pipeline.SchemaProbe,
		RetryAttempts:        cfg.Pipeline.TaskRetries,
		RetryBackoff:         cfg.Pipeline.TaskRetryDelay,
		Project:              cfg.GCP.ProjectID,
		Dataset:              cfg.Warehouse.Dataset,
		AssetSuffix:          cfg.Release.AssetSuffix,
	}

	httpClient := &http.Client{Timeout: cfg.Release.HTTPTimeout}
	processor := pipeline.NewProcessor(
		newLister(cfg),
		fetch.NewFetcher(httpClient, cfg.Pipeline.ScratchDir, logger.Component("fetch")),
		pipeline.NewStager(store, logger.Component("stager")),
		pcfg,
		metrics,
		logger.Component("processor"),
	)
	comp.driver = pipeline.NewDriver(processor, registrar, store, recorder, pcfg, metrics, logger.Component("driver"))
	comp.service = service.NewIngestService(comp.driver, parts, recorder, logger.Component("service"))

	logger.Log.Info().
		Str("storage", cfg.Storage.Backend).
		Str("bucket", store.Bucket()).
		Bool("warehouse", cfg.Warehouse.Enabled).
		Int("workers", pcfg.WorkerCount).
		Int("partitions", len(parts.Partitions)).
		Msg("pipeline initialized")

	ok = true
	return comp, nil
}

func newObjectStorage(ctx context.Context, cfg *config.Config, opts []option.ClientOption, comp *components) (storage.ObjectStorage, error) {
	switch cfg.Storage.Backend {
	case "minio":
		client, err := storage.NewMinioClient(storage.MinioConfig{
			Endpoint:  cfg.Storage.MinioEnd,
			AccessKey: cfg.Storage.MinioKey,
			SecretKey: cfg.Storage.MinioSecret,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.MinioRegion,
			UseSSL:    cfg.Storage.MinioSSL,
			ChunkSize: cfg.Storage.ChunkSize,
			Timeout:   cfg.Storage.Timeout,
		})
		if err != nil {
			return nil, err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return client, nil
	default:
		client, err := storage.NewGCSClient(ctx, storage.GCSConfig{
			Bucket:    cfg.Storage.Bucket,
			ChunkSize: cfg.Storage.ChunkSize,
			Timeout:   cfg.Storage.Timeout,
			Options:   opts,
		})
		if err != nil {
			return nil, err
		}
		comp.closers = append(comp.closers, client.Close)
		return client, nil
	}
}

func newRegistrar(ctx context.Context, cfg *config.Config, opts []option.ClientOption, comp *components) (warehouse.Registrar, error) {
	if !cfg.Warehouse.Enabled {
		return warehouse.NewNoop(logger.Component("warehouse")), nil
	}
	bq, err := warehouse.NewBigQuery(ctx, warehouse.BigQueryConfig{
		Project:       cfg.GCP.ProjectID,
		CreateDataset: cfg.Warehouse.CreateDataset,
		Location:      cfg.Warehouse.Location,
		Options:       opts,
	}, logger.Component("warehouse"))
	if err != nil {
		return nil, err
	}
	comp.closers = append(comp.closers, bq.Close)
	return bq, nil
}

func newRecorder(ctx context.Context, cfg *config.Config, comp *components) (pipeline.Recorder, error) {
	if cfg.Database.URL == "" {
		return pipeline.NewMemoryRecorder(0), nil
	}
	repo, err := pipeline.OpenRepository(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	comp.closers = append(comp.closers, repo.Close)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}
