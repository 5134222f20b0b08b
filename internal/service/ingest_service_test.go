package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresuchdata/tripdata-ingest/internal/config"
	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	"github.com/andresuchdata/tripdata-ingest/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu       sync.Mutex
	runs     [][]string
	register [][]string
	running  atomic.Bool
	block    chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, parts []domain.PartitionConfig) ([]domain.PartitionResult, error) {
	if !f.Claim() {
		return nil, pipeline.ErrRunInProgress
	}
	return f.RunClaimed(ctx, parts)
}

func (f *fakeRunner) Claim() bool { return f.running.CompareAndSwap(false, true) }

func (f *fakeRunner) RunClaimed(_ context.Context, parts []domain.PartitionConfig) ([]domain.PartitionResult, error) {
	defer f.running.Store(false)
	if f.block != nil {
		<-f.block
	}

	names := make([]string, len(parts))
	results := make([]domain.PartitionResult, len(parts))
	for i, p := range parts {
		names[i] = p.Name
		results[i] = domain.PartitionResult{Partition: p.Name, State: domain.StateRegistered}
	}
	f.mu.Lock()
	f.runs = append(f.runs, names)
	f.mu.Unlock()
	return results, nil
}

func (f *fakeRunner) Register(_ context.Context, parts []domain.PartitionConfig) error {
	names := make([]string, len(parts))
	for i, p := range parts {
		names[i] = p.Name
	}
	f.mu.Lock()
	f.register = append(f.register, names)
	f.mu.Unlock()
	return nil
}

func (f *fakeRunner) Running() bool { return f.running.Load() }

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func newTestService(t *testing.T, runner *fakeRunner) *IngestService {
	t.Helper()
	set, err := config.LoadPartitions("", "https://api.github.test/releases/tags")
	require.NoError(t, err)
	return NewIngestService(runner, set, nil, zerolog.Nop())
}

func TestRunSelectsPartitions(t *testing.T) {
	runner := &fakeRunner{}
	svc := newTestService(t, runner)

	results, err := svc.Run(context.Background(), "fhv", "green")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"fhv", "green"}, runner.runs[0])

	_, err = svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"green", "yellow", "fhv"}, runner.runs[1])

	_, err = svc.Run(context.Background(), "purple")
	assert.ErrorIs(t, err, config.ErrUnknownPartition)
}

func TestRegister(t *testing.T) {
	runner := &fakeRunner{}
	svc := newTestService(t, runner)

	require.NoError(t, svc.Register(context.Background(), "yellow"))
	assert.Equal(t, [][]string{{"yellow"}}, runner.register)
	assert.Len(t, svc.Partitions(), 3)
}

func TestTrigger(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	svc := newTestService(t, runner)

	selected, err := svc.Trigger([]string{"green"})
	require.NoError(t, err)
	assert.Equal(t, []string{"green"}, selected)

	require.Eventually(t, runner.Running, time.Second, 5*time.Millisecond)
	_, err = svc.Trigger(nil)
	assert.ErrorIs(t, err, pipeline.ErrRunInProgress)

	close(runner.block)
	require.NoError(t, svc.Shutdown(context.Background()))
	assert.Equal(t, 1, runner.runCount())

	_, err = svc.Trigger(nil)
	assert.Error(t, err)
}

func TestTriggerAcceptsOneOfConcurrentRequests(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	svc := newTestService(t, runner)

	const requests = 8
	var accepted, rejected atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Trigger([]string{"green"})
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, pipeline.ErrRunInProgress):
				rejected.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, accepted.Load())
	assert.EqualValues(t, requests-1, rejected.Load())
	assert.True(t, svc.Running())

	close(runner.block)
	require.NoError(t, svc.Shutdown(context.Background()))
	assert.Equal(t, 1, runner.runCount())
	assert.False(t, svc.Running())
}

func TestScheduleRunsImmediatelyAndOnTicks(t *testing.T) {
	runner := &fakeRunner{}
	svc := newTestService(t, runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Schedule(ctx, 10*time.Millisecond, "green") }()

	require.Eventually(t, func() bool { return runner.runCount() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestScheduleRejectsBadInterval(t *testing.T) {
	svc := newTestService(t, &fakeRunner{})
	assert.Error(t, svc.Schedule(context.Background(), 0))
}
