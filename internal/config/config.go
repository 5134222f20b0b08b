// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	GCP       GCPConfig
	Storage   StorageConfig
	Release   ReleaseConfig
	Pipeline  PipelineConfig
	Warehouse WarehouseConfig
	Database  DatabaseConfig
	Server    ServerConfig
}

type AppConfig struct {
	LogLevel       string
	LogFormat      string
	PartitionsFile string
}

type GCPConfig struct {
	ProjectID   string
	Credentials string // inline JSON or a path to a key file
}

type StorageConfig struct {
	Backend     string // gcs or minio
	Bucket      string
	ChunkSize   int
	Timeout     time.Duration
	MinioEnd    string
	MinioKey    string
	MinioSecret string
	MinioRegion string
	MinioSSL    bool
}

type ReleaseConfig struct {
	APIBase     string
	AssetSuffix string
	Token       string
	HTTPTimeout time.Duration
}

type PipelineConfig struct {
	ScratchDir           string
	WorkerCount          int
	PartitionConcurrency int
	SchemaProbe          bool
	TaskRetries          int
	TaskRetryDelay       time.Duration
	ScheduleInterval     time.Duration
}

type WarehouseConfig struct {
	Enabled       bool
	Dataset       string
	CreateDataset bool
	Location      string
}

type DatabaseConfig struct {
	URL string
}

type ServerConfig struct {
	Port           string
	Mode           string
	AllowedOrigins []string
}

var (
	once     sync.Once
	instance *Config
)

// Load reads .env (if present) and the process environment once.
func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		viper.AutomaticEnv()
		SetDefaults(viper.GetViper())
		instance = LoadFrom(viper.GetViper())
	})

	return instance
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("PARTITIONS_FILE", "")
	v.SetDefault("GCP_PROJECT_ID", "")
	v.SetDefault("GOOGLE_CREDENTIALS", "")
	v.SetDefault("STORAGE_BACKEND", "gcs")
	v.SetDefault("STAGING_BUCKET", "")
	v.SetDefault("UPLOAD_CHUNK_SIZE_MB", 10)
	v.SetDefault("UPLOAD_TIMEOUT", "10m")
	v.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO_ACCESS_KEY", "")
	v.SetDefault("MINIO_SECRET_KEY", "")
	v.SetDefault("MINIO_REGION", "us-east-1")
	v.SetDefault("MINIO_USE_SSL", false)
	v.SetDefault("RELEASES_API", "https://api.github.com/repos/DataTalksClub/nyc-tlc-data/releases/tags")
	v.SetDefault("ASSET_SUFFIX", ".csv.gz")
	v.SetDefault("GITHUB_TOKEN", "")
	v.SetDefault("HTTP_TIMEOUT", "0s")
	v.SetDefault("SCRATCH_DIR", filepath.Join(os.TempDir(), "tripdata"))
	v.SetDefault("PIPELINE_WORKERS", 1)
	v.SetDefault("PIPELINE_PARTITION_CONCURRENCY", 0)
	v.SetDefault("PIPELINE_SCHEMA_PROBE", true)
	v.SetDefault("TASK_RETRIES", 3)
	v.SetDefault("TASK_RETRY_DELAY", "5m")
	v.SetDefault("SCHEDULE_INTERVAL", "24h")
	v.SetDefault("WAREHOUSE_ENABLED", true)
	v.SetDefault("BQ_DATASET", "")
	v.SetDefault("WAREHOUSE_CREATE_DATASET", false)
	v.SetDefault("WAREHOUSE_LOCATION", "US")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_MODE", "release")
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
}

// LoadFrom builds a Config from an already populated viper instance.
func LoadFrom(v *viper.Viper) *Config {
	return &Config{
		App: AppConfig{
			LogLevel:       v.GetString("LOG_LEVEL"),
			LogFormat:      v.GetString("LOG_FORMAT"),
			PartitionsFile: v.GetString("PARTITIONS_FILE"),
		},
		GCP: GCPConfig{
			ProjectID:   v.GetString("GCP_PROJECT_ID"),
			Credentials: v.GetString("GOOGLE_CREDENTIALS"),
		},
		Storage: StorageConfig{
			Backend:     strings.ToLower(v.GetString("STORAGE_BACKEND")),
			Bucket:      v.GetString("STAGING_BUCKET"),
			ChunkSize:   v.GetInt("UPLOAD_CHUNK_SIZE_MB") * 1024 * 1024,
			Timeout:     v.GetDuration("UPLOAD_TIMEOUT"),
			MinioEnd:    v.GetString("MINIO_ENDPOINT"),
			MinioKey:    v.GetString("MINIO_ACCESS_KEY"),
			MinioSecret: v.GetString("MINIO_SECRET_KEY"),
			MinioRegion: v.GetString("MINIO_REGION"),
			MinioSSL:    v.GetBool("MINIO_USE_SSL"),
		},
		Release: ReleaseConfig{
			APIBase:     strings.TrimSuffix(v.GetString("RELEASES_API"), "/"),
			AssetSuffix: v.GetString("ASSET_SUFFIX"),
			Token:       v.GetString("GITHUB_TOKEN"),
			HTTPTimeout: v.GetDuration("HTTP_TIMEOUT"),
		},
		Pipeline: PipelineConfig{
			ScratchDir:           v.GetString("SCRATCH_DIR"),
			WorkerCount:          v.GetInt("PIPELINE_WORKERS"),
			PartitionConcurrency: v.GetInt("PIPELINE_PARTITION_CONCURRENCY"),
			SchemaProbe:          v.GetBool("PIPELINE_SCHEMA_PROBE"),
			TaskRetries:          v.GetInt("TASK_RETRIES"),
			TaskRetryDelay:       v.GetDuration("TASK_RETRY_DELAY"),
			ScheduleInterval:     v.GetDuration("SCHEDULE_INTERVAL"),
		},
		Warehouse: WarehouseConfig{
			Enabled:       v.GetBool("WAREHOUSE_ENABLED"),
			Dataset:       v.GetString("BQ_DATASET"),
			CreateDataset: v.GetBool("WAREHOUSE_CREATE_DATASET"),
			Location:      v.GetString("WAREHOUSE_LOCATION"),
		},
		Database: DatabaseConfig{
			URL: v.GetString("DATABASE_URL"),
		},
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Mode:           v.GetString("SERVER_MODE"),
			AllowedOrigins: v.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
	}
}

// Validate checks the settings a pipeline run cannot do without.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "gcs", "minio":
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("STAGING_BUCKET must be provided")
	}
	if c.Storage.ChunkSize <= 0 {
		return fmt.Errorf("UPLOAD_CHUNK_SIZE_MB must be positive")
	}
	if c.Warehouse.Enabled {
		if c.GCP.ProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID must be provided when the warehouse is enabled")
		}
		if c.Warehouse.Dataset == "" {
			return fmt.Errorf("BQ_DATASET must be provided when the warehouse is enabled")
		}
		if c.Storage.Backend != "gcs" {
			return fmt.Errorf("the warehouse can only read gcs staging, set WAREHOUSE_ENABLED=false for %s", c.Storage.Backend)
		}
	}
	if c.Pipeline.TaskRetries < 1 {
		return fmt.Errorf("TASK_RETRIES must be at least 1")
	}
	return nil
}

// EnsureDir creates dir if it does not exist yet.
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
