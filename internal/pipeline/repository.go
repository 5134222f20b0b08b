package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/semaphore"
)

const ingestRunsDDL = `
	CREATE TABLE IF NOT EXISTS ingest_runs (
		id                BIGSERIAL PRIMARY KEY,
		partition_name    TEXT        NOT NULL,
		state             TEXT        NOT NULL,
		attempted         INTEGER     NOT NULL DEFAULT 0,
		staged            INTEGER     NOT NULL DEFAULT 0,
		dropped           INTEGER     NOT NULL DEFAULT 0,
		failed            INTEGER     NOT NULL DEFAULT 0,
		uris              TEXT        NOT NULL DEFAULT '[]',
		schema_mismatches TEXT        NOT NULL DEFAULT '[]',
		table_name        TEXT        NOT NULL DEFAULT '',
		started_at        TIMESTAMPTZ NOT NULL,
		completed_at      TIMESTAMPTZ,
		error_message     TEXT        NOT NULL DEFAULT ''
	)
`

// Repository handles database operations for run tracking
type Repository struct {
	db  *sqlx.DB
	sem *semaphore.Weighted
}

// NewRepository creates a new run repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db, sem: semaphore.NewWeighted(4)}
}

// OpenRepository connects to Postgres through the pgx driver.
func OpenRepository(ctx context.Context, dsn string) (*Repository, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewRepository(db), nil
}

// EnsureSchema creates the ingest_runs table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, ingestRunsDDL); err != nil {
		return fmt.Errorf("failed to create ingest_runs: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (r *Repository) Close() error {
	return r.db.Close()
}

type runRow struct {
	ID               int64          `db:"id"`
	Partition        string         `db:"partition_name"`
	State            string         `db:"state"`
	Attempted        int            `db:"attempted"`
	Staged           int            `db:"staged"`
	Dropped          int            `db:"dropped"`
	Failed           int            `db:"failed"`
	URIs             string         `db:"uris"`
	SchemaMismatches string         `db:"schema_mismatches"`
	Table            string         `db:"table_name"`
	StartedAt        time.Time      `db:"started_at"`
	CompletedAt      sql.NullTime   `db:"completed_at"`
	ErrorMessage     sql.NullString `db:"error_message"`
}

func (row runRow) toResult() (domain.PartitionResult, error) {
	state, ok := domain.ParsePartitionState(row.State)
	if !ok {
		return domain.PartitionResult{}, fmt.Errorf("run %d: unknown state %q", row.ID, row.State)
	}
	res := domain.PartitionResult{
		RunID:     row.ID,
		Partition: row.Partition,
		State:     state,
		Attempted: row.Attempted,
		Staged:    row.Staged,
		Dropped:   row.Dropped,
		Failed:    row.Failed,
		Table:     row.Table,
		StartedAt: row.StartedAt,
		Error:     row.ErrorMessage.String,
	}
	if row.CompletedAt.Valid {
		completed := row.CompletedAt.Time
		res.CompletedAt = &completed
	}
	if err := json.Unmarshal([]byte(row.URIs), &res.URIs); err != nil {
		return res, fmt.Errorf("run %d: invalid uris: %w", row.ID, err)
	}
	if row.SchemaMismatches != "" {
		if err := json.Unmarshal([]byte(row.SchemaMismatches), &res.SchemaMismatches); err != nil {
			return res, fmt.Errorf("run %d: invalid schema mismatches: %w", row.ID, err)
		}
	}
	return res, nil
}

// StartRun inserts a PENDING run record
func (r *Repository) StartRun(ctx context.Context, partition string, startedAt time.Time) (int64, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("could not acquire semaphore: %w", err)
	}
	defer r.sem.Release(1)

	query := `
		INSERT INTO ingest_runs (partition_name, state, started_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	var id int64
	if err := r.db.QueryRowxContext(ctx, query, partition, domain.StatePending, startedAt).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

// FinishRun stores the outcome of a run
func (r *Repository) FinishRun(ctx context.Context, result domain.PartitionResult) error {
	if !result.State.Terminal() {
		return fmt.Errorf("run %d: cannot finish in state %q", result.RunID, result.State)
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("could not acquire semaphore: %w", err)
	}
	defer r.sem.Release(1)

	uris, err := json.Marshal(nonNil(result.URIs))
	if err != nil {
		return fmt.Errorf("failed to encode uris: %w", err)
	}
	mismatches, err := json.Marshal(nonNil(result.SchemaMismatches))
	if err != nil {
		return fmt.Errorf("failed to encode schema mismatches: %w", err)
	}

	query := `
		UPDATE ingest_runs
		SET state = $1, attempted = $2, staged = $3, dropped = $4, failed = $5,
		    uris = $6, schema_mismatches = $7, table_name = $8,
		    completed_at = $9, error_message = $10
		WHERE id = $11
	`

	res, err := r.db.ExecContext(
		ctx, query,
		result.State, result.Attempted, result.Staged, result.Dropped, result.Failed,
		string(uris), string(mismatches), result.Table,
		result.CompletedAt, result.Error, result.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run %d: %w", result.RunID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %d not found", result.RunID)
	}
	return nil
}

// RecentRuns lists the latest runs, newest first
func (r *Repository) RecentRuns(ctx context.Context, limit int) ([]domain.PartitionResult, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, partition_name, state, attempted, staged, dropped, failed,
		       uris, schema_mismatches, table_name, started_at, completed_at, error_message
		FROM ingest_runs
		ORDER BY id DESC
		LIMIT $1
	`

	var rows []runRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	out := make([]domain.PartitionResult, 0, len(rows))
	for _, row := range rows {
		res, err := row.toResult()
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Recorder = (*Repository)(nil)
