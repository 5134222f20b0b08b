package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	"github.com/andresuchdata/tripdata-ingest/internal/warehouse"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory ObjectStorage keyed like a gs:// bucket.
type memStore struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	errs    map[string]error
	uploads int
}

func newMemStore() *memStore {
	return &memStore{
		bucket:  "BUCKET",
		objects: map[string][]byte{},
		errs:    map[string]error{},
	}
}

func (m *memStore) Upload(_ context.Context, key, localPath string) (domain.StagedObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.uploads++
	if err, ok := m.errs[key]; ok {
		return domain.StagedObject{}, err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return domain.StagedObject{}, err
	}
	m.objects[key] = data
	return domain.StagedObject{Bucket: m.bucket, Key: key, URI: m.URI(key), Size: int64(len(data))}, nil
}

func (m *memStore) URI(key string) string { return "gs://" + m.bucket + "/" + key }
func (m *memStore) Bucket() string        { return m.bucket }

func gzipCSV(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// releaseServer serves a release listing at /release and the asset bodies
// at /files/{name}. Assets listed in failing answer with that status.
type releaseServer struct {
	*httptest.Server
	downloads atomic.Int32
	listings  atomic.Int32
}

func newReleaseServer(t *testing.T, names []string, body []byte, failing map[string]int, delays map[string]time.Duration) *releaseServer {
	t.Helper()
	rs := &releaseServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/release":
			rs.listings.Add(1)
			type asset struct {
				Name string `json:"name"`
				URL  string `json:"browser_download_url"`
			}
			assets := make([]asset, 0, len(names))
			for _, n := range names {
				assets = append(assets, asset{Name: n, URL: rs.URL + "/files/" + n})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"assets": assets})
		case strings.HasPrefix(r.URL.Path, "/files/"):
			rs.downloads.Add(1)
			name := strings.TrimPrefix(r.URL.Path, "/files/")
			if d, ok := delays[name]; ok {
				time.Sleep(d)
			}
			if status, ok := failing[name]; ok {
				w.WriteHeader(status)
				return
			}
			_, _ = w.Write(body)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(rs.Close)
	return rs
}

func greenPartition(releaseURL string) domain.PartitionConfig {
	return domain.PartitionConfig{
		Name:       "green",
		ReleaseTag: "green",
		ReleaseURL: releaseURL,
		Prefix:     "green",
		Table:      "green_tripdata",
		Columns: []domain.Column{
			{Name: "VendorID", Type: domain.FieldInteger, Mode: domain.ModeNullable},
			{Name: "fare_amount", Type: domain.FieldFloat, Mode: domain.ModeNullable},
		},
	}
}

func scratchFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out
}

// funcLister is an AssetLister backed by a function.
type funcLister struct {
	calls atomic.Int32
	fn    func(endpoint string) ([]domain.AssetRef, error)
}

func (f *funcLister) ListAssets(_ context.Context, endpoint string) ([]domain.AssetRef, error) {
	f.calls.Add(1)
	return f.fn(endpoint)
}

// fileFetcher writes a small gzip CSV per asset into dir.
type fileFetcher struct {
	dir     string
	body    []byte
	panicOn string
}

func (f *fileFetcher) Fetch(_ context.Context, asset domain.AssetRef) (*domain.LocalFile, error) {
	if asset.Name == f.panicOn {
		panic("corrupt asset " + asset.Name)
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(f.dir, asset.Name)
	if err := os.WriteFile(path, f.body, 0o644); err != nil {
		return nil, err
	}
	return &domain.LocalFile{Path: path, Size: int64(len(f.body))}, nil
}

// recordingRegistrar records every table it is asked to register and fails
// the first failures calls.
type recordingRegistrar struct {
	mu       sync.Mutex
	tables   []warehouse.ExternalTable
	failures int
	err      error
}

func (r *recordingRegistrar) Register(_ context.Context, table warehouse.ExternalTable) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables = append(r.tables, table)
	if r.failures != 0 {
		if r.failures > 0 {
			r.failures--
		}
		return r.err
	}
	return nil
}

func (r *recordingRegistrar) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tables)
}
