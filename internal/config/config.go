// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire engine configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Ingest    IngestConfig    `mapstructure:"ingest" yaml:"ingest"`
	Graph     GraphConfig     `mapstructure:"graph" yaml:"graph"`
	Analytics AnalyticsConfig `mapstructure:"analytics" yaml:"analytics"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot" yaml:"snapshot"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// Backpressure policies for the ingestion queue.
const (
	PolicyBlock      = "block"
	PolicyDropOldest = "drop-oldest"
)

// IngestConfig tunes validation and the bounded ingestion queue.
type IngestConfig struct {
	QueueCapacity int           `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	Policy        string        `mapstructure:"policy" yaml:"policy"`
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size"`
	BatchWait     time.Duration `mapstructure:"batch_wait" yaml:"batch_wait"`
	ClockSkew     time.Duration `mapstructure:"clock_skew" yaml:"clock_skew"`
}

// GraphConfig tunes the in-memory graph engine.
type GraphConfig struct {
	// DeltaWindow bounds the per-edge ring of recent weight-delta samples
	// retained for playback.
	DeltaWindow int `mapstructure:"delta_window" yaml:"delta_window"`
	// ViewRetention is how many published versions stay addressable for
	// as-of reads before falling back to the snapshot store.
	ViewRetention int `mapstructure:"view_retention" yaml:"view_retention"`
}

// AnalyticsConfig bounds the metrics calculator.
type AnalyticsConfig struct {
	ComputationTimeout  time.Duration `mapstructure:"computation_timeout" yaml:"computation_timeout"`
	MaxBetweennessNodes int           `mapstructure:"max_betweenness_nodes" yaml:"max_betweenness_nodes"`
	EigenvectorIters    int           `mapstructure:"eigenvector_iters" yaml:"eigenvector_iters"`
	EigenvectorTol      float64       `mapstructure:"eigenvector_tol" yaml:"eigenvector_tol"`
}

// CacheConfig tunes the analytics result cache.
type CacheConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
	// TTL bounds how long an entry may serve regardless of validity.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
	// HotHorizon is the recency range within which a window is still "hot":
	// a version bump evicts cached entries whose window end falls inside it.
	HotHorizon time.Duration `mapstructure:"hot_horizon" yaml:"hot_horizon"`
}

// Snapshot store backends.
const (
	SnapshotBackendFS       = "fs"
	SnapshotBackendPostgres = "postgres"
)

// SnapshotConfig controls snapshot cadence and the durable backend.
type SnapshotConfig struct {
	Backend       string         `mapstructure:"backend" yaml:"backend"`
	Dir           string         `mapstructure:"dir" yaml:"dir"`
	EveryVersions uint64         `mapstructure:"every_versions" yaml:"every_versions"`
	EveryInterval time.Duration  `mapstructure:"every_interval" yaml:"every_interval"`
	Postgres      PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresConfig holds the connection details for a PostgreSQL backend.
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"-"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// DSN renders a pgx-compatible connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

// ServerConfig configures the query service boundary.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	AuthSecret      string        `mapstructure:"auth_secret" yaml:"-"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxPageSize     int           `mapstructure:"max_page_size" yaml:"max_page_size"`
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "capgraph")
	v.SetDefault("logger.log_file", "capgraph.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Ingest --
	v.SetDefault("ingest.queue_capacity", 8192)
	v.SetDefault("ingest.policy", PolicyBlock)
	v.SetDefault("ingest.batch_size", 256)
	v.SetDefault("ingest.batch_wait", "50ms")
	v.SetDefault("ingest.clock_skew", "5m")

	// -- Graph --
	v.SetDefault("graph.delta_window", 128)
	v.SetDefault("graph.view_retention", 64)

	// -- Analytics --
	v.SetDefault("analytics.computation_timeout", "10s")
	v.SetDefault("analytics.max_betweenness_nodes", 2000)
	v.SetDefault("analytics.eigenvector_iters", 100)
	v.SetDefault("analytics.eigenvector_tol", 1e-6)

	// -- Cache --
	v.SetDefault("cache.capacity", 512)
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("cache.hot_horizon", "5m")

	// -- Snapshot --
	v.SetDefault("snapshot.backend", SnapshotBackendFS)
	v.SetDefault("snapshot.dir", "snapshots")
	v.SetDefault("snapshot.every_versions", 100)
	v.SetDefault("snapshot.every_interval", "60s")
	v.SetDefault("snapshot.postgres.host", "localhost")
	v.SetDefault("snapshot.postgres.port", 5432)
	v.SetDefault("snapshot.postgres.user", "postgres")
	v.SetDefault("snapshot.postgres.password", "") // Should be set via env var
	v.SetDefault("snapshot.postgres.dbname", "capgraph")
	v.SetDefault("snapshot.postgres.sslmode", "disable")

	// -- Server --
	v.SetDefault("server.addr", ":8087")
	v.SetDefault("server.rate_limit_rps", 10.0)
	v.SetDefault("server.rate_limit_burst", 20)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_page_size", 1000)
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("server.auth_secret", "CAPGRAPH_AUTH_SECRET")
	v.BindEnv("snapshot.postgres.password", "CAPGRAPH_PG_PASSWORD")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Fall through to the environment if Unmarshal didn't pick these up.
	if cfg.Server.AuthSecret == "" {
		cfg.Server.AuthSecret = os.Getenv("CAPGRAPH_AUTH_SECRET")
	}
	if cfg.Snapshot.Postgres.Password == "" {
		cfg.Snapshot.Postgres.Password = os.Getenv("CAPGRAPH_PG_PASSWORD")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Ingest.QueueCapacity <= 0 {
		return fmt.Errorf("ingest.queue_capacity must be a positive integer")
	}
	if c.Ingest.Policy != PolicyBlock && c.Ingest.Policy != PolicyDropOldest {
		return fmt.Errorf("ingest.policy must be %q or %q", PolicyBlock, PolicyDropOldest)
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest.batch_size must be a positive integer")
	}
	if c.Graph.DeltaWindow <= 0 {
		return fmt.Errorf("graph.delta_window must be a positive integer")
	}
	if c.Graph.ViewRetention <= 0 {
		return fmt.Errorf("graph.view_retention must be a positive integer")
	}
	if c.Analytics.ComputationTimeout <= 0 {
		return fmt.Errorf("analytics.computation_timeout must be a positive duration")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be a positive integer")
	}
	if c.Snapshot.Backend != SnapshotBackendFS && c.Snapshot.Backend != SnapshotBackendPostgres {
		return fmt.Errorf("snapshot.backend must be %q or %q", SnapshotBackendFS, SnapshotBackendPostgres)
	}
	if c.Snapshot.Backend == SnapshotBackendFS && c.Snapshot.Dir == "" {
		return fmt.Errorf("snapshot.dir is required for the fs backend")
	}
	if c.Snapshot.EveryVersions == 0 && c.Snapshot.EveryInterval <= 0 {
		return fmt.Errorf("at least one snapshot cadence (every_versions or every_interval) must be set")
	}
	if c.Server.RateLimitRPS <= 0 || c.Server.RateLimitBurst <= 0 {
		return fmt.Errorf("server.rate_limit_rps and server.rate_limit_burst must be positive")
	}
	if c.Server.MaxPageSize <= 0 {
		return fmt.Errorf("server.max_page_size must be a positive integer")
	}
	return nil
}
