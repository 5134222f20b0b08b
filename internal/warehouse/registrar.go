// Package warehouse declares external tables over staged objects.
package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	"github.com/rs/zerolog"
)

// ExternalTable is the definition of a table that reads staged files in place.
type ExternalTable struct {
	Project    string
	Dataset    string
	Table      string
	SourceURIs []string
	Columns    []domain.Column
}

// Validate checks that the definition is complete.
func (t ExternalTable) Validate() error {
	switch {
	case strings.TrimSpace(t.Dataset) == "":
		return fmt.Errorf("external table %s: dataset is required", t.Table)
	case strings.TrimSpace(t.Table) == "":
		return fmt.Errorf("external table: name is required")
	case len(t.SourceURIs) == 0:
		return fmt.Errorf("external table %s: source uris are required", t.Table)
	case len(t.Columns) == 0:
		return fmt.Errorf("external table %s: columns are required", t.Table)
	}
	return nil
}

// FullName returns project.dataset.table.
func (t ExternalTable) FullName() string {
	if t.Project == "" {
		return t.Dataset + "." + t.Table
	}
	return t.Project + "." + t.Dataset + "." + t.Table
}

// Registrar creates or replaces external table definitions.
type Registrar interface {
	Register(ctx context.Context, table ExternalTable) error
}

// Noop logs the table it would declare. It is used when staging goes to a
// store the warehouse cannot read.
type Noop struct {
	log zerolog.Logger
}

// NewNoop creates a Noop registrar.
func NewNoop(log zerolog.Logger) *Noop {
	return &Noop{log: log}
}

func (n *Noop) Register(_ context.Context, table ExternalTable) error {
	n.log.Info().
		Str("table", table.FullName()).
		Strs("source_uris", table.SourceURIs).
		Msg("warehouse disabled, skipping external table registration")
	return nil
}
