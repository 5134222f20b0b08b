package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresuchdata/tripdata-ingest/internal/config"
	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	"github.com/andresuchdata/tripdata-ingest/internal/pipeline"
	"github.com/rs/zerolog"
)

// Runner executes pipeline passes. *pipeline.Driver implements it.
type Runner interface {
	Run(ctx context.Context, parts []domain.PartitionConfig) ([]domain.PartitionResult, error)
	Register(ctx context.Context, parts []domain.PartitionConfig) error
	Running() bool
	Claim() bool
	RunClaimed(ctx context.Context, parts []domain.PartitionConfig) ([]domain.PartitionResult, error)
}

// IngestService exposes pipeline runs to the CLI and the status API.
type IngestService struct {
	runner     Runner
	partitions *config.PartitionSet
	recorder   pipeline.Recorder
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestService(runner Runner, partitions *config.PartitionSet, recorder pipeline.Recorder, log zerolog.Logger) *IngestService {
	if recorder == nil {
		recorder = pipeline.NewMemoryRecorder(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &IngestService{
		runner:     runner,
		partitions: partitions,
		recorder:   recorder,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Partitions returns the configured partitions.
func (s *IngestService) Partitions() []domain.PartitionConfig {
	parts, _ := s.partitions.Select()
	return parts
}

// Run executes one pass over the named partitions, or all when none are given.
func (s *IngestService) Run(ctx context.Context, names ...string) ([]domain.PartitionResult, error) {
	parts, err := s.partitions.Select(names...)
	if err != nil {
		return nil, err
	}
	return s.runner.Run(ctx, parts)
}

// Register declares external tables only.
func (s *IngestService) Register(ctx context.Context, names ...string) error {
	parts, err := s.partitions.Select(names...)
	if err != nil {
		return err
	}
	return s.runner.Register(ctx, parts)
}

// Trigger starts a run in the background. The run is claimed before Trigger
// returns, so it fails fast when the partitions are unknown or another run is
// active.
func (s *IngestService) Trigger(names []string) ([]string, error) {
	parts, err := s.partitions.Select(names...)
	if err != nil {
		return nil, err
	}
	if err := s.ctx.Err(); err != nil {
		return nil, fmt.Errorf("service is shutting down: %w", err)
	}
	if !s.runner.Claim() {
		return nil, pipeline.ErrRunInProgress
	}

	selected := make([]string, len(parts))
	for i, p := range parts {
		selected[i] = p.Name
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runAndLog(parts, "api", func() ([]domain.PartitionResult, error) {
			return s.runner.RunClaimed(s.ctx, parts)
		})
	}()
	return selected, nil
}

// RecentRuns lists the latest partition runs.
func (s *IngestService) RecentRuns(ctx context.Context, limit int) ([]domain.PartitionResult, error) {
	return s.recorder.RecentRuns(ctx, limit)
}

// Running reports whether a pass is active.
func (s *IngestService) Running() bool {
	return s.runner.Running()
}

// Schedule runs a pass immediately and then every interval until ctx is
// done. Ticks that fire during an active run are skipped.
func (s *IngestService) Schedule(ctx context.Context, interval time.Duration, names ...string) error {
	if interval <= 0 {
		return fmt.Errorf("schedule interval must be positive, got %s", interval)
	}
	parts, err := s.partitions.Select(names...)
	if err != nil {
		return err
	}

	run := func() ([]domain.PartitionResult, error) {
		return s.runner.Run(ctx, parts)
	}
	s.runAndLog(parts, "schedule", run)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runAndLog(parts, "schedule", run)
		}
	}
}

// Shutdown cancels background runs and waits for them to return.
func (s *IngestService) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *IngestService) runAndLog(parts []domain.PartitionConfig, trigger string, run func() ([]domain.PartitionResult, error)) {
	log := s.log.With().Str("trigger", trigger).Logger()
	start := time.Now()

	results, err := run()
	if errors.Is(err, pipeline.ErrRunInProgress) {
		log.Warn().Msg("skipping run, previous run still active")
		return
	}

	registered := 0
	for _, r := range results {
		if r.State == domain.StateRegistered {
			registered++
		}
	}
	event := log.Info()
	if err != nil {
		event = log.Error().Err(err)
	}
	event.
		Int("partitions", len(parts)).
		Int("registered", registered).
		Dur("elapsed", time.Since(start)).
		Msg("pipeline run finished")
}
