// internal/domain/models.go
package domain

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// FieldType is a warehouse column type supported by the external table declaration.
type FieldType string

const (
	FieldInteger   FieldType = "INTEGER"
	FieldFloat     FieldType = "FLOAT"
	FieldString    FieldType = "STRING"
	FieldTimestamp FieldType = "TIMESTAMP"
)

// Mode is the nullability of a column.
type Mode string

const (
	ModeNullable Mode = "NULLABLE"
	ModeRequired Mode = "REQUIRED"
)

// Column is one entry of a partition schema.
type Column struct {
	Name string    `json:"name" mapstructure:"name"`
	Type FieldType `json:"type" mapstructure:"type"`
	Mode Mode      `json:"mode" mapstructure:"mode"`
}

// PartitionConfig describes one dataset category: where its release is listed,
// where its files are staged and which table is declared over them.
type PartitionConfig struct {
	Name          string   `json:"name" mapstructure:"name"`
	ReleaseTag    string   `json:"release_tag" mapstructure:"release_tag"`
	ReleaseURL    string   `json:"release_url" mapstructure:"release_url"`
	Prefix        string   `json:"prefix" mapstructure:"prefix"`
	Table         string   `json:"table" mapstructure:"table"`
	SchemaVersion string   `json:"schema_version" mapstructure:"schema_version"`
	Columns       []Column `json:"columns" mapstructure:"columns"`
}

// Validate checks that the partition can be processed and registered.
func (p PartitionConfig) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("partition name is required")
	}
	if strings.TrimSpace(p.ReleaseURL) == "" {
		return fmt.Errorf("partition %s: release url is required", p.Name)
	}
	if strings.Trim(p.Prefix, "/ ") == "" {
		return fmt.Errorf("partition %s: storage prefix is required", p.Name)
	}
	if strings.TrimSpace(p.Table) == "" {
		return fmt.Errorf("partition %s: table is required", p.Name)
	}
	if len(p.Columns) == 0 {
		return fmt.Errorf("partition %s: at least one column is required", p.Name)
	}

	seen := make(map[string]bool, len(p.Columns))
	for i, col := range p.Columns {
		if col.Name == "" {
			return fmt.Errorf("partition %s: column %d has no name", p.Name, i)
		}
		key := strings.ToLower(col.Name)
		if seen[key] {
			return fmt.Errorf("partition %s: duplicate column %s", p.Name, col.Name)
		}
		seen[key] = true

		switch col.Type {
		case FieldInteger, FieldFloat, FieldString, FieldTimestamp:
		default:
			return fmt.Errorf("partition %s: column %s has unsupported type %q", p.Name, col.Name, col.Type)
		}
		switch col.Mode {
		case ModeNullable, ModeRequired:
		default:
			return fmt.Errorf("partition %s: column %s has unsupported mode %q", p.Name, col.Name, col.Mode)
		}
	}
	return nil
}

// ColumnNames returns the schema column names in order.
func (p PartitionConfig) ColumnNames() []string {
	names := make([]string, len(p.Columns))
	for i, col := range p.Columns {
		names[i] = col.Name
	}
	return names
}

// AssetRef is a downloadable release file.
type AssetRef struct {
	Name string
	URL  string
}

// NewAssetRef derives the file name from the last path segment of the URL.
func NewAssetRef(rawURL string) AssetRef {
	name := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		name = path.Base(u.Path)
	} else if idx := strings.LastIndex(rawURL, "/"); idx >= 0 {
		name = rawURL[idx+1:]
	}
	return AssetRef{Name: name, URL: rawURL}
}

// LocalFile is a downloaded asset waiting to be staged.
type LocalFile struct {
	Path string
	Size int64
}

// StagedObject is a durable copy of an asset in object storage.
type StagedObject struct {
	Bucket string
	Key    string
	URI    string
	Size   int64
}

// ObjectKey is the staging key of a source file. It only depends on the prefix
// and the file name, so re-running a release overwrites the same objects.
func ObjectKey(prefix, fileName string) string {
	return strings.Trim(prefix, "/") + "/" + path.Base(fileName)
}

// SourceGlob is the object pattern an external table reads for a prefix.
func SourceGlob(prefix, suffix string) string {
	return strings.Trim(prefix, "/") + "/*" + suffix
}

// PartitionResult is the structured outcome of one partition run.
type PartitionResult struct {
	RunID            int64          `json:"run_id,omitempty"`
	Partition        string         `json:"partition"`
	State            PartitionState `json:"state"`
	Attempted        int            `json:"attempted"`
	Staged           int            `json:"staged"`
	Dropped          int            `json:"dropped"`
	Failed           int            `json:"failed"`
	URIs             []string       `json:"uris"`
	SchemaMismatches []string       `json:"schema_mismatches,omitempty"`
	Table            string         `json:"table,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	Error            string         `json:"error,omitempty"`
}
