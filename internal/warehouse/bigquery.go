package warehouse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// tableAPI is the subset of the BigQuery client the registrar uses.
type tableAPI interface {
	CreateDataset(ctx context.Context, dataset string, meta *bigquery.DatasetMetadata) error
	CreateTable(ctx context.Context, dataset, table string, meta *bigquery.TableMetadata) error
	TableMetadata(ctx context.Context, dataset, table string) (*bigquery.TableMetadata, error)
	UpdateTable(ctx context.Context, dataset, table string, update bigquery.TableMetadataToUpdate, etag string) error
}

type clientAPI struct {
	client *bigquery.Client
}

func (c clientAPI) CreateDataset(ctx context.Context, dataset string, meta *bigquery.DatasetMetadata) error {
	return c.client.Dataset(dataset).Create(ctx, meta)
}

func (c clientAPI) CreateTable(ctx context.Context, dataset, table string, meta *bigquery.TableMetadata) error {
	return c.client.Dataset(dataset).Table(table).Create(ctx, meta)
}

func (c clientAPI) TableMetadata(ctx context.Context, dataset, table string) (*bigquery.TableMetadata, error) {
	return c.client.Dataset(dataset).Table(table).Metadata(ctx)
}

func (c clientAPI) UpdateTable(ctx context.Context, dataset, table string, update bigquery.TableMetadataToUpdate, etag string) error {
	_, err := c.client.Dataset(dataset).Table(table).Update(ctx, update, etag)
	return err
}

// BigQueryConfig holds the BigQuery registrar settings.
type BigQueryConfig struct {
	Project       string
	CreateDataset bool
	Location      string
	Options       []option.ClientOption
}

// BigQuery registers external CSV tables in BigQuery.
type BigQuery struct {
	api           tableAPI
	client        *bigquery.Client
	createDataset bool
	location      string
	log           zerolog.Logger
}

// NewBigQuery creates a BigQuery registrar.
func NewBigQuery(ctx context.Context, cfg BigQueryConfig, log zerolog.Logger) (*BigQuery, error) {
	if cfg.Project == "" {
		return nil, fmt.Errorf("bigquery project must be provided")
	}
	client, err := bigquery.NewClient(ctx, cfg.Project, cfg.Options...)
	if err != nil {
		return nil, fmt.Errorf("unable to create bigquery client: %w", err)
	}
	bq := newBigQuery(clientAPI{client: client}, cfg, log)
	bq.client = client
	return bq, nil
}

func newBigQuery(api tableAPI, cfg BigQueryConfig, log zerolog.Logger) *BigQuery {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "US"
	}
	return &BigQuery{
		api:           api,
		createDataset: cfg.CreateDataset,
		location:      location,
		log:           log,
	}
}

// Close releases the underlying client.
func (bq *BigQuery) Close() error {
	if bq.client == nil {
		return nil
	}
	return bq.client.Close()
}

// Register creates the external table, or replaces its definition when it
// already exists. Calling it repeatedly with the same table is a no-op in
// effect.
func (bq *BigQuery) Register(ctx context.Context, table ExternalTable) error {
	if err := table.Validate(); err != nil {
		return err
	}
	log := bq.log.With().Str("table", table.FullName()).Logger()

	if bq.createDataset {
		if err := bq.ensureDataset(ctx, table.Dataset); err != nil {
			return err
		}
	}

	schema, err := Schema(table.Columns)
	if err != nil {
		return err
	}
	external := externalConfig(table.SourceURIs, schema)

	err = bq.api.CreateTable(ctx, table.Dataset, table.Table, &bigquery.TableMetadata{
		Name:               table.Table,
		ExternalDataConfig: external,
	})
	if err == nil {
		log.Info().Strs("source_uris", table.SourceURIs).Msg("created external table")
		return nil
	}
	if !isStatus(err, http.StatusConflict) {
		return fmt.Errorf("create external table %s: %w", table.FullName(), err)
	}

	meta, err := bq.api.TableMetadata(ctx, table.Dataset, table.Table)
	if err != nil {
		return fmt.Errorf("read external table %s: %w", table.FullName(), err)
	}
	update := bigquery.TableMetadataToUpdate{
		ExternalDataConfig: external,
		Schema:             schema,
	}
	if err := bq.api.UpdateTable(ctx, table.Dataset, table.Table, update, meta.ETag); err != nil {
		return fmt.Errorf("update external table %s: %w", table.FullName(), err)
	}

	log.Info().Strs("source_uris", table.SourceURIs).Msg("replaced external table definition")
	return nil
}

func (bq *BigQuery) ensureDataset(ctx context.Context, dataset string) error {
	err := bq.api.CreateDataset(ctx, dataset, &bigquery.DatasetMetadata{Location: bq.location})
	if err == nil {
		bq.log.Info().Str("dataset", dataset).Str("location", bq.location).Msg("created dataset")
		return nil
	}
	if isStatus(err, http.StatusConflict) {
		return nil
	}
	return fmt.Errorf("create dataset %s: %w", dataset, err)
}

func externalConfig(uris []string, schema bigquery.Schema) *bigquery.ExternalDataConfig {
	return &bigquery.ExternalDataConfig{
		SourceFormat: bigquery.CSV,
		SourceURIs:   append([]string(nil), uris...),
		Schema:       schema,
		Compression:  bigquery.Gzip,
		Options: &bigquery.CSVOptions{
			SkipLeadingRows: 1,
			FieldDelimiter:  ",",
		},
	}
}

// Schema converts partition columns into a BigQuery schema.
func Schema(columns []domain.Column) (bigquery.Schema, error) {
	schema := make(bigquery.Schema, 0, len(columns))
	for _, col := range columns {
		var ft bigquery.FieldType
		switch col.Type {
		case domain.FieldInteger:
			ft = bigquery.IntegerFieldType
		case domain.FieldFloat:
			ft = bigquery.FloatFieldType
		case domain.FieldString:
			ft = bigquery.StringFieldType
		case domain.FieldTimestamp:
			ft = bigquery.TimestampFieldType
		default:
			return nil, fmt.Errorf("column %s: unsupported type %q", col.Name, col.Type)
		}
		schema = append(schema, &bigquery.FieldSchema{
			Name:     col.Name,
			Type:     ft,
			Required: col.Mode == domain.ModeRequired,
		})
	}
	return schema, nil
}

func isStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

var (
	_ Registrar = (*BigQuery)(nil)
	_ Registrar = (*Noop)(nil)
)
