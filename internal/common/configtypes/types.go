package configtypes

import (
	"github.com/dejavuplus/engine/pkg/types"
)

// Log level constants
const (
	LogLevelDebug  = "debug"
	LogLevelInfo   = "info"
	LogLevelWarn   = "warn"
	LogLevelError  = "error"
	LogLevelDPanic = "dpanic"
	LogLevelPanic  = "panic"
	LogLevelFatal  = "fatal"
)

// Log format constants
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
	LogFormatText    = "text"
)

// ServiceConfig represents the report service main application configuration
type ServiceConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Translate TranslateConfig `yaml:"translate"`
	Render    RenderConfig    `yaml:"render"`
	Cache     CacheConfig     `yaml:"cache"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Listen  string         `yaml:"listen"`
	Timeout types.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// UpstreamConfig configures the report source API client
type UpstreamConfig struct {
	BaseURL        string         `yaml:"base_url"`
	Token          string         `yaml:"token"`
	Timeout        types.Duration `yaml:"timeout"`
	MaxConcurrency int            `yaml:"max_concurrency"`
	QueueTimeout   types.Duration `yaml:"queue_timeout"`
}

// TranslateConfig configures the translation backend race
type TranslateConfig struct {
	Backends       []TranslateBackendConfig `yaml:"backends,omitempty"`
	RaceTimeout    types.Duration           `yaml:"race_timeout"`
	TotalTimeout   types.Duration           `yaml:"total_timeout"`
	CacheTTL       types.Duration           `yaml:"cache_ttl"`
	CacheMaxSize   int                      `yaml:"cache_max_size"`
	FreeEndpoint   string                   `yaml:"free_endpoint,omitempty"`
	FreeChunkLimit int                      `yaml:"free_chunk_limit"`
}

// TranslateBackendConfig configures a single translation backend.
// Kind is one of: azure, google_cloud, libre, custom.
type TranslateBackendConfig struct {
	Kind     string `yaml:"kind"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Key      string `yaml:"key,omitempty"`
	Region   string `yaml:"region,omitempty"`
}

// RenderConfig configures the document rendering engines
type RenderConfig struct {
	PoolSize        string         `yaml:"pool_size"` // "auto" or integer string
	AcquireTimeout  types.Duration `yaml:"acquire_timeout"`
	FastTimeout     types.Duration `yaml:"fast_timeout"`
	FullTimeout     types.Duration `yaml:"full_timeout"`
	MinDocumentSize int            `yaml:"min_document_size"`
	RestartAfter    int            `yaml:"restart_after"`
	ShutdownTimeout types.Duration `yaml:"shutdown_timeout"`
}

// CacheConfig configures the in-memory fingerprint caches
type CacheConfig struct {
	RawTTL      types.Duration `yaml:"raw_ttl"`
	DocumentTTL types.Duration `yaml:"document_ttl"`
	Compression string         `yaml:"compression,omitempty"` // none, snappy, lz4
}

// LedgerConfig configures the credit ledger
type LedgerConfig struct {
	MaxEntries int            `yaml:"max_entries"`
	EntryTTL   types.Duration `yaml:"entry_ttl"`
}

type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"`
	Level   string `yaml:"level,omitempty"`
}

type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Format   string         `yaml:"format"`
	Level    string         `yaml:"level,omitempty"`
	Rotation RotationConfig `yaml:"rotation"`
}

type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxAge     int  `yaml:"max_age"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}
