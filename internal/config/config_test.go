package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPI = "https://api.github.com/repos/DataTalksClub/nyc-tlc-data/releases/tags"

func TestLoadFromDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	cfg := LoadFrom(v)

	assert.Equal(t, "gcs", cfg.Storage.Backend)
	assert.Equal(t, 10*1024*1024, cfg.Storage.ChunkSize)
	assert.Equal(t, 10*time.Minute, cfg.Storage.Timeout)
	assert.Equal(t, 3, cfg.Pipeline.TaskRetries)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.TaskRetryDelay)
	assert.Equal(t, 24*time.Hour, cfg.Pipeline.ScheduleInterval)
	assert.Equal(t, 1, cfg.Pipeline.WorkerCount)
	assert.Equal(t, ".csv.gz", cfg.Release.AssetSuffix)
	assert.True(t, cfg.Warehouse.Enabled)
	assert.Equal(t, time.Duration(0), cfg.Release.HTTPTimeout)
}

func TestConfigValidate(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	cfg := LoadFrom(v)
	require.Error(t, cfg.Validate(), "bucket is required")

	cfg.Storage.Bucket = "bucket"
	require.Error(t, cfg.Validate(), "warehouse needs a project")

	cfg.GCP.ProjectID = "proj"
	cfg.Warehouse.Dataset = "trips"
	require.NoError(t, cfg.Validate())

	cfg.Storage.Backend = "ftp"
	require.Error(t, cfg.Validate())

	cfg.Storage.Backend = "minio"
	require.Error(t, cfg.Validate(), "bigquery cannot read s3 staging")

	cfg.Warehouse.Enabled = false
	cfg.GCP.ProjectID = ""
	require.NoError(t, cfg.Validate())
}

func TestLoadEmbeddedPartitions(t *testing.T) {
	set, err := LoadPartitions("", testAPI)
	require.NoError(t, err)
	assert.Equal(t, 1, set.Version)

	all, err := set.Select()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"green", "yellow", "fhv"}, []string{all[0].Name, all[1].Name, all[2].Name})

	green := all[0]
	assert.Equal(t, testAPI+"/green", green.ReleaseURL)
	assert.Equal(t, "green_tripdata", green.Table)
	assert.Len(t, green.Columns, 20)
	assert.Equal(t, domain.Column{Name: "VendorID", Type: domain.FieldInteger, Mode: domain.ModeNullable}, green.Columns[0])

	fhv := all[2]
	assert.Len(t, fhv.Columns, 7)
	assert.Equal(t, "Affiliated_base_number", fhv.Columns[6].Name)
}

func TestSelectPartitions(t *testing.T) {
	set, err := LoadPartitions("", testAPI)
	require.NoError(t, err)

	picked, err := set.Select("fhv", "green")
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "fhv", picked[0].Name)

	_, err = set.Select("blue")
	require.ErrorIs(t, err, ErrUnknownPartition)
}

func TestLoadPartitionsFromFile(t *testing.T) {
	doc := `
version: 2
partitions:
  - name: green
    release_url: http://localhost/releases/green
    prefix: green
    table: green_tripdata
    columns:
      - {name: VendorID, type: integer}
      - {name: fare_amount, type: float, mode: required}
`
	path := filepath.Join(t.TempDir(), "partitions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	set, err := LoadPartitions(path, testAPI)
	require.NoError(t, err)
	assert.Equal(t, 2, set.Version)
	require.Len(t, set.Partitions, 1)

	p := set.Partitions[0]
	assert.Equal(t, "http://localhost/releases/green", p.ReleaseURL)
	assert.Equal(t, domain.FieldInteger, p.Columns[0].Type)
	assert.Equal(t, domain.ModeNullable, p.Columns[0].Mode)
	assert.Equal(t, domain.ModeRequired, p.Columns[1].Mode)
}

func TestParsePartitionsRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"no version": `
partitions:
  - {name: green, release_tag: green, prefix: green, table: t, columns: [{name: a, type: STRING}]}
`,
		"duplicate partition": `
version: 1
partitions:
  - {name: green, release_tag: green, prefix: green, table: t, columns: [{name: a, type: STRING}]}
  - {name: green, release_tag: green, prefix: g2, table: t2, columns: [{name: a, type: STRING}]}
`,
		"bad type": `
version: 1
partitions:
  - {name: green, release_tag: green, prefix: green, table: t, columns: [{name: a, type: DECIMAL}]}
`,
		"empty": `
version: 1
partitions: []
`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePartitions([]byte(doc), testAPI)
			assert.Error(t, err)
		})
	}
}
