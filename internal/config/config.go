package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Realtime drivers.
const (
	DriverSupabase = "supabase"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// Config holds all application configuration.
// Values come from environment variables, then an optional .env file, then
// the defaults below; the environment always wins.
type Config struct {
	// Server
	Port            int
	LogLevel        string
	ShutdownTimeout time.Duration

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration
	RedisURL string // empty → in-memory cache

	// Observability
	OTLPEndpoint string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	JWTSecret          string

	// Realtime
	RealtimeDriver    string
	RealtimeHeartbeat time.Duration
	DatabaseURL       string // pgnotify driver
	NotifyChannel     string
	InstallTriggers   bool

	// Attachment storage (S3-compatible)
	StorageBucket    string
	StorageEndpoint  string
	StorageRegion    string
	StoragePathStyle bool
	StorageAccessKey string
	StorageSecretKey string
	StoragePublicURL string // empty → in-memory blob store when no bucket

	// Domain
	CommentEditWindow time.Duration
	SearchLimit       int
}

// Load reads configuration. dotenvPath names an optional .env file; a
// missing file is not an error.
func Load(dotenvPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if dotenvPath != "" {
		v.SetConfigFile(dotenvPath)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", dotenvPath, err)
		}
	}

	cfg := &Config{
		Port:            v.GetInt("port"),
		LogLevel:        v.GetString("log_level"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),

		HTTPTimeout: v.GetDuration("http_timeout"),

		MaxRetries:     v.GetInt("max_retries"),
		InitialBackoff: v.GetDuration("initial_backoff"),
		MaxConcurrency: v.GetInt("max_concurrency"),

		CacheTTL: v.GetDuration("cache_ttl"),
		RedisURL: v.GetString("redis_url"),

		OTLPEndpoint: v.GetString("otel_exporter_otlp_endpoint"),

		SupabaseURL:        strings.TrimRight(v.GetString("supabase_url"), "/"),
		SupabaseAnonKey:    v.GetString("supabase_anon_key"),
		SupabaseServiceKey: v.GetString("supabase_service_role_key"),
		JWTSecret:          v.GetString("supabase_jwt_secret"),

		RealtimeDriver:    strings.ToLower(v.GetString("realtime_driver")),
		RealtimeHeartbeat: v.GetDuration("realtime_heartbeat"),
		DatabaseURL:       v.GetString("database_url"),
		NotifyChannel:     v.GetString("pgnotify_channel"),
		InstallTriggers:   v.GetBool("pgnotify_install_triggers"),

		StorageBucket:    v.GetString("storage_bucket"),
		StorageEndpoint:  v.GetString("storage_endpoint"),
		StorageRegion:    v.GetString("storage_region"),
		StoragePathStyle: v.GetBool("storage_path_style"),
		StorageAccessKey: v.GetString("storage_access_key_id"),
		StorageSecretKey: v.GetString("storage_secret_access_key"),
		StoragePublicURL: v.GetString("storage_public_url"),

		CommentEditWindow: v.GetDuration("comment_edit_window"),
		SearchLimit:       v.GetInt("search_limit"),
	}
	return cfg, cfg.Validate()
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.RealtimeDriver {
	case DriverSupabase, DriverNone:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required for REALTIME_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("config: unknown REALTIME_DRIVER %q", c.RealtimeDriver)
	}
	if c.SupabaseURL == "" {
		return errors.New("config: SUPABASE_URL is required")
	}
	if c.SupabaseAnonKey == "" {
		return errors.New("config: SUPABASE_ANON_KEY is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("shutdown_timeout", 15*time.Second)

	v.SetDefault("http_timeout", 10*time.Second)

	v.SetDefault("max_retries", 3)
	v.SetDefault("initial_backoff", 100*time.Millisecond)
	v.SetDefault("max_concurrency", 8)

	v.SetDefault("cache_ttl", time.Minute)
	v.SetDefault("redis_url", "")

	v.SetDefault("otel_exporter_otlp_endpoint", "")

	v.SetDefault("supabase_url", "")
	v.SetDefault("supabase_anon_key", "")
	v.SetDefault("supabase_service_role_key", "")
	v.SetDefault("supabase_jwt_secret", "")

	v.SetDefault("realtime_driver", DriverSupabase)
	v.SetDefault("realtime_heartbeat", 25*time.Second)
	v.SetDefault("database_url", "")
	v.SetDefault("pgnotify_channel", "atas_changes")
	v.SetDefault("pgnotify_install_triggers", false)

	v.SetDefault("storage_bucket", "")
	v.SetDefault("storage_endpoint", "")
	v.SetDefault("storage_region", "us-east-1")
	v.SetDefault("storage_path_style", true)
	v.SetDefault("storage_access_key_id", "")
	v.SetDefault("storage_secret_access_key", "")
	v.SetDefault("storage_public_url", "")

	v.SetDefault("comment_edit_window", 10*time.Minute)
	v.SetDefault("search_limit", 20)
}
