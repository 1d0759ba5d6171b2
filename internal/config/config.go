// Package config reads process configuration from the environment and the
// composition schema file.
package config

import (
	"time"

	"weaver/internal/pkg/errors"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"

	ProviderLocalFS = "localfs"
	ProviderGDrive  = "gdrive"
	ProviderGCS     = "gcs"
)

type Config struct {
	HTTPPort    string
	LogLevel    string
	LogFormat   string
	LogSource   bool
	CORSOrigins []string

	StateBackend string
	QueueBackend string

	DatabaseURL      string
	DatabaseMaxConns int
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	KeyPrefix        string
	QueueName        string

	Render  Render
	Storage Storage

	CompositionsFile string
	ShutdownTimeout  time.Duration
}

// Render holds the executor, pool and janitor settings.
type Render struct {
	RendererBaseURL string
	EntryPoint      string
	WorkDir         string
	// AppBaseURL is injected as the baseUrl parameter when a job has none.
	AppBaseURL string

	Timeout         time.Duration
	Workers         int
	QueueCapacity   int
	JobTTL          time.Duration
	JanitorInterval time.Duration

	CleanupOnPublishFailure bool
}

type Storage struct {
	Provider      string
	LocalRoot     string
	PublicBaseURL string

	GDriveClientID     string
	GDriveClientSecret string
	GDriveRefreshToken string
	GDriveFolderID     string

	GCSBucket          string
	GCSCredentialsFile string
	GCSCacheControl    string
}

// Load reads the environment, applies defaults and validates the result.
func Load() (Config, error) {
	var (
		c    Config
		errs []error
	)
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	intEnv := func(k string, def int) int {
		n, err := IntEnv(k, def)
		collect(err)
		return n
	}
	durEnv := func(k string, def time.Duration) time.Duration {
		d, err := DurationEnv(k, def)
		collect(err)
		return d
	}
	boolEnv := func(k string, def bool) bool {
		b, err := BoolEnv(k, def)
		collect(err)
		return b
	}

	c.HTTPPort = Env("HTTP_PORT", "8080")
	c.LogLevel = Env("LOG_LEVEL", "info")
	c.LogFormat = Env("LOG_FORMAT", "json")
	c.LogSource = boolEnv("LOG_SOURCE", false)
	c.CORSOrigins = ListEnv("CORS_ALLOWED_ORIGINS", []string{"*"})

	c.StateBackend = Env("STATE_BACKEND", BackendMemory)
	c.QueueBackend = Env("QUEUE_BACKEND", BackendMemory)

	c.DatabaseURL = Env("DATABASE_URL", "")
	c.DatabaseMaxConns = intEnv("DATABASE_MAX_CONNS", 10)
	c.RedisAddr = Env("REDIS_ADDR", "localhost:6379")
	c.RedisPassword = Env("REDIS_PASSWORD", "")
	c.RedisDB = intEnv("REDIS_DB", 0)
	c.KeyPrefix = Env("REDIS_KEY_PREFIX", "weaver")
	c.QueueName = Env("QUEUE_NAME", "weaver:render_queue")

	c.Render = Render{
		RendererBaseURL:         Env("RENDERER_BASE_URL", "http://localhost:3001"),
		EntryPoint:              Env("RENDER_ENTRY_POINT", "src/index.ts"),
		WorkDir:                 Env("RENDER_WORK_DIR", "./out"),
		AppBaseURL:              Env("APP_BASE_URL", ""),
		Timeout:                 durEnv("RENDER_TIMEOUT", 5*time.Minute),
		Workers:                 intEnv("WORKERS", 2),
		QueueCapacity:           intEnv("QUEUE_CAPACITY", 100),
		JobTTL:                  durEnv("JOB_TTL", time.Hour),
		JanitorInterval:         durEnv("JANITOR_INTERVAL", time.Minute),
		CleanupOnPublishFailure: boolEnv("CLEANUP_ON_PUBLISH_FAILURE", false),
	}

	c.Storage = Storage{
		Provider:           Env("STORAGE_PROVIDER", ProviderLocalFS),
		LocalRoot:          Env("STORAGE_LOCAL_ROOT", "./storage"),
		PublicBaseURL:      Env("STORAGE_PUBLIC_BASE_URL", ""),
		GDriveClientID:     Env("GDRIVE_CLIENT_ID", ""),
		GDriveClientSecret: Env("GDRIVE_CLIENT_SECRET", ""),
		GDriveRefreshToken: Env("GDRIVE_REFRESH_TOKEN", ""),
		GDriveFolderID:     Env("GDRIVE_FOLDER_ID", ""),
		GCSBucket:          Env("GCS_BUCKET", ""),
		GCSCredentialsFile: Env("GCS_CREDENTIALS_FILE", ""),
		GCSCacheControl:    Env("GCS_CACHE_CONTROL", "public, max-age=31536000"),
	}

	c.CompositionsFile = Env("COMPOSITIONS_FILE", "")
	c.ShutdownTimeout = durEnv("SHUTDOWN_TIMEOUT", 30*time.Second)

	if len(errs) > 0 {
		return c, errs[0]
	}
	return c, c.Validate()
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.StateBackend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.ValidationField("DATABASE_URL", "DATABASE_URL is required when STATE_BACKEND=postgres")
		}
	default:
		return errors.ValidationField("STATE_BACKEND", "unknown state backend: "+c.StateBackend)
	}

	switch c.QueueBackend {
	case BackendMemory, BackendRedis:
	default:
		return errors.ValidationField("QUEUE_BACKEND", "unknown queue backend: "+c.QueueBackend)
	}
	// A shared queue feeding workers in other processes needs state they can see.
	if c.QueueBackend == BackendRedis && c.StateBackend == BackendMemory {
		return errors.ValidationField("STATE_BACKEND", "QUEUE_BACKEND=redis needs a shared STATE_BACKEND (redis or postgres)")
	}

	if c.Render.Workers < 1 {
		return errors.ValidationField("WORKERS", "WORKERS must be at least 1")
	}
	if c.Render.QueueCapacity < 1 {
		return errors.ValidationField("QUEUE_CAPACITY", "QUEUE_CAPACITY must be at least 1")
	}
	if c.Render.Timeout <= 0 {
		return errors.ValidationField("RENDER_TIMEOUT", "RENDER_TIMEOUT must be positive")
	}
	if c.Render.JobTTL <= 0 || c.Render.JanitorInterval <= 0 {
		return errors.ValidationField("JOB_TTL", "JOB_TTL and JANITOR_INTERVAL must be positive")
	}

	switch c.Storage.Provider {
	case ProviderLocalFS:
	case ProviderGDrive:
		if c.Storage.GDriveClientID == "" || c.Storage.GDriveClientSecret == "" || c.Storage.GDriveRefreshToken == "" {
			return errors.ValidationField("GDRIVE_REFRESH_TOKEN", "gdrive storage needs GDRIVE_CLIENT_ID, GDRIVE_CLIENT_SECRET and GDRIVE_REFRESH_TOKEN")
		}
	case ProviderGCS:
		if c.Storage.GCSBucket == "" {
			return errors.ValidationField("GCS_BUCKET", "GCS_BUCKET is required when STORAGE_PROVIDER=gcs")
		}
	default:
		return errors.ValidationField("STORAGE_PROVIDER", "unknown storage provider: "+c.Storage.Provider)
	}
	return nil
}
