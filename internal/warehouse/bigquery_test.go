package warehouse

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

type fakeTables struct {
	datasets   map[string]*bigquery.DatasetMetadata
	tables     map[string]*bigquery.TableMetadata
	creates    int
	updates    int
	createErr  error
	datasetErr error
	lastETag   string
}

func newFakeTables() *fakeTables {
	return &fakeTables{
		datasets: map[string]*bigquery.DatasetMetadata{},
		tables:   map[string]*bigquery.TableMetadata{},
	}
}

func (f *fakeTables) CreateDataset(_ context.Context, dataset string, meta *bigquery.DatasetMetadata) error {
	if f.datasetErr != nil {
		return f.datasetErr
	}
	if _, ok := f.datasets[dataset]; ok {
		return &googleapi.Error{Code: http.StatusConflict}
	}
	f.datasets[dataset] = meta
	return nil
}

func (f *fakeTables) CreateTable(_ context.Context, dataset, table string, meta *bigquery.TableMetadata) error {
	f.creates++
	if f.createErr != nil {
		return f.createErr
	}
	key := dataset + "." + table
	if _, ok := f.tables[key]; ok {
		return &googleapi.Error{Code: http.StatusConflict, Message: "Already Exists"}
	}
	meta.ETag = "etag-1"
	f.tables[key] = meta
	return nil
}

func (f *fakeTables) TableMetadata(_ context.Context, dataset, table string) (*bigquery.TableMetadata, error) {
	meta, ok := f.tables[dataset+"."+table]
	if !ok {
		return nil, &googleapi.Error{Code: http.StatusNotFound}
	}
	return meta, nil
}

func (f *fakeTables) UpdateTable(_ context.Context, dataset, table string, update bigquery.TableMetadataToUpdate, etag string) error {
	f.updates++
	f.lastETag = etag
	meta := f.tables[dataset+"."+table]
	meta.ExternalDataConfig = update.ExternalDataConfig
	meta.Schema = update.Schema
	return nil
}

func greenTable() ExternalTable {
	return ExternalTable{
		Project:    "proj",
		Dataset:    "trips_data_all",
		Table:      "green_tripdata",
		SourceURIs: []string{"gs://BUCKET/green/*.csv.gz"},
		Columns: []domain.Column{
			{Name: "VendorID", Type: domain.FieldInteger, Mode: domain.ModeNullable},
			{Name: "lpep_pickup_datetime", Type: domain.FieldTimestamp, Mode: domain.ModeRequired},
			{Name: "fare_amount", Type: domain.FieldFloat},
			{Name: "store_and_fwd_flag", Type: domain.FieldString},
		},
	}
}

func TestRegisterCreatesExternalTable(t *testing.T) {
	api := newFakeTables()
	bq := newBigQuery(api, BigQueryConfig{Project: "proj"}, zerolog.Nop())

	require.NoError(t, bq.Register(context.Background(), greenTable()))

	meta := api.tables["trips_data_all.green_tripdata"]
	require.NotNil(t, meta)
	ext := meta.ExternalDataConfig
	require.NotNil(t, ext)
	assert.Equal(t, bigquery.CSV, ext.SourceFormat)
	assert.Equal(t, bigquery.Gzip, ext.Compression)
	assert.Equal(t, []string{"gs://BUCKET/green/*.csv.gz"}, ext.SourceURIs)

	opts, ok := ext.Options.(*bigquery.CSVOptions)
	require.True(t, ok)
	assert.EqualValues(t, 1, opts.SkipLeadingRows)
	assert.Equal(t, ",", opts.FieldDelimiter)

	require.Len(t, ext.Schema, 4)
	assert.Equal(t, bigquery.IntegerFieldType, ext.Schema[0].Type)
	assert.True(t, ext.Schema[1].Required)
	assert.Equal(t, bigquery.TimestampFieldType, ext.Schema[1].Type)
	assert.Empty(t, api.datasets)
}

func TestRegisterIsIdempotent(t *testing.T) {
	api := newFakeTables()
	bq := newBigQuery(api, BigQueryConfig{Project: "proj"}, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, bq.Register(ctx, greenTable()))
	first := *api.tables["trips_data_all.green_tripdata"].ExternalDataConfig

	require.NoError(t, bq.Register(ctx, greenTable()))
	second := *api.tables["trips_data_all.green_tripdata"].ExternalDataConfig

	assert.Len(t, api.tables, 1)
	assert.Equal(t, 2, api.creates)
	assert.Equal(t, 1, api.updates)
	assert.Equal(t, "etag-1", api.lastETag)
	assert.Equal(t, first.SourceURIs, second.SourceURIs)
	assert.Equal(t, first.Schema, second.Schema)
}

func TestRegisterPropagatesErrors(t *testing.T) {
	api := newFakeTables()
	api.createErr = &googleapi.Error{Code: http.StatusForbidden, Message: "Access Denied"}
	bq := newBigQuery(api, BigQueryConfig{Project: "proj"}, zerolog.Nop())

	err := bq.Register(context.Background(), greenTable())
	require.Error(t, err)

	var apiErr *googleapi.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Code)
}

func TestRegisterRejectsBadSchema(t *testing.T) {
	bq := newBigQuery(newFakeTables(), BigQueryConfig{Project: "proj"}, zerolog.Nop())

	table := greenTable()
	table.Columns = []domain.Column{{Name: "x", Type: "GEOGRAPHY"}}
	assert.Error(t, bq.Register(context.Background(), table))

	table = greenTable()
	table.SourceURIs = nil
	assert.Error(t, bq.Register(context.Background(), table))
}

func TestRegisterCreatesDataset(t *testing.T) {
	api := newFakeTables()
	bq := newBigQuery(api, BigQueryConfig{Project: "proj", CreateDataset: true, Location: "EU"}, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, bq.Register(ctx, greenTable()))
	require.Contains(t, api.datasets, "trips_data_all")
	assert.Equal(t, "EU", api.datasets["trips_data_all"].Location)

	// existing dataset is fine
	require.NoError(t, bq.Register(ctx, greenTable()))

	api.datasetErr = &googleapi.Error{Code: http.StatusForbidden}
	assert.Error(t, bq.Register(ctx, greenTable()))
}

func TestNoopRegistrar(t *testing.T) {
	assert.NoError(t, NewNoop(zerolog.Nop()).Register(context.Background(), greenTable()))
	assert.Equal(t, "proj.trips_data_all.green_tripdata", greenTable().FullName())
}
