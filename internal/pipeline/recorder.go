package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andresuchdata/tripdata-ingest/internal/domain"
)

// Recorder keeps a ledger of partition runs.
type Recorder interface {
	// StartRun opens a run for partition and returns its id.
	StartRun(ctx context.Context, partition string, startedAt time.Time) (int64, error)
	// FinishRun stores the final result of the run identified by result.RunID.
	FinishRun(ctx context.Context, result domain.PartitionResult) error
	// RecentRuns returns up to limit runs, newest first.
	RecentRuns(ctx context.Context, limit int) ([]domain.PartitionResult, error)
}

// MemoryRecorder is a process-local Recorder.
type MemoryRecorder struct {
	mu     sync.RWMutex
	nextID int64
	runs   []domain.PartitionResult
	max    int
}

// NewMemoryRecorder keeps at most max runs; max <= 0 keeps 500.
func NewMemoryRecorder(max int) *MemoryRecorder {
	if max <= 0 {
		max = 500
	}
	return &MemoryRecorder{max: max}
}

func (m *MemoryRecorder) StartRun(_ context.Context, partition string, startedAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.runs = append(m.runs, domain.PartitionResult{
		RunID:     m.nextID,
		Partition: partition,
		State:     domain.StatePending,
		StartedAt: startedAt,
	})
	if len(m.runs) > m.max {
		m.runs = m.runs[len(m.runs)-m.max:]
	}
	return m.nextID, nil
}

func (m *MemoryRecorder) FinishRun(_ context.Context, result domain.PartitionResult) error {
	if !result.State.Terminal() {
		return fmt.Errorf("run %d: cannot finish in state %q", result.RunID, result.State)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.runs {
		if m.runs[i].RunID == result.RunID {
			result.URIs = append([]string(nil), result.URIs...)
			m.runs[i] = result
			return nil
		}
	}
	return fmt.Errorf("run %d not found", result.RunID)
}

func (m *MemoryRecorder) RecentRuns(_ context.Context, limit int) ([]domain.PartitionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.runs) {
		limit = len(m.runs)
	}
	out := make([]domain.PartitionResult, 0, limit)
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}

var _ Recorder = (*MemoryRecorder)(nil)
