package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dejavuplus/engine/internal/common/configtypes"
	"github.com/dejavuplus/engine/internal/common/yamlutil"
	"github.com/dejavuplus/engine/pkg/types"
)

const (
	defaultServerTimeout  = 90 * time.Second
	defaultUpstreamLimit  = 15
	defaultQueueTimeout   = 20 * time.Second
	defaultRaceTimeout    = 1500 * time.Millisecond
	defaultTotalTimeout   = 12 * time.Second
	defaultCacheTTL       = 60 * time.Minute
	defaultCacheMaxSize   = 4096
	defaultFreeChunkLimit = 3500
	defaultRawTTL         = 10 * time.Minute
	defaultDocumentTTL    = 30 * time.Minute
	defaultAcquireTimeout = 25 * time.Second
	defaultFastTimeout    = 12 * time.Second
	defaultFullTimeout    = 40 * time.Second
	defaultMinDocSize     = 12000
	defaultRestartAfter   = 100
	defaultShutdown       = 30 * time.Second
	defaultLedgerEntries  = 20000
	defaultLedgerTTL      = 45 * 24 * time.Hour

	minLedgerEntries = 500
	maxLedgerEntries = 200000
)

// translation backend kinds
const (
	BackendAzure       = "azure"
	BackendGoogleCloud = "google_cloud"
	BackendLibre       = "libre"
	BackendCustom      = "custom"
)

// Load reads, defaults, and validates the report service configuration.
func Load(configPath string) (*configtypes.ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg configtypes.ServiceConfig
	if err := yamlutil.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// GetConfigPath resolves the config file path to an absolute path and checks existence.
func GetConfigPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("config path cannot be empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path: %w", err)
	}

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return "", fmt.Errorf("config file does not exist: %s", absPath)
	}

	return absPath, nil
}

// ApplyDefaults fills in zero-valued fields with service defaults.
func ApplyDefaults(cfg *configtypes.ServiceConfig) {
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = types.Duration(defaultServerTimeout)
	}

	if cfg.Upstream.MaxConcurrency == 0 {
		cfg.Upstream.MaxConcurrency = defaultUpstreamLimit
	}
	if cfg.Upstream.QueueTimeout == 0 {
		cfg.Upstream.QueueTimeout = types.Duration(defaultQueueTimeout)
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = types.Duration(defaultTotalTimeout)
	}

	if cfg.Translate.RaceTimeout == 0 {
		cfg.Translate.RaceTimeout = types.Duration(defaultRaceTimeout)
	}
	if cfg.Translate.TotalTimeout == 0 {
		cfg.Translate.TotalTimeout = types.Duration(defaultTotalTimeout)
	}
	if cfg.Translate.CacheTTL == 0 {
		cfg.Translate.CacheTTL = types.Duration(defaultCacheTTL)
	}
	if cfg.Translate.CacheMaxSize == 0 {
		cfg.Translate.CacheMaxSize = defaultCacheMaxSize
	}
	if cfg.Translate.FreeChunkLimit == 0 {
		cfg.Translate.FreeChunkLimit = defaultFreeChunkLimit
	}

	if cfg.Render.PoolSize == "" {
		cfg.Render.PoolSize = "auto"
	}
	if cfg.Render.AcquireTimeout == 0 {
		cfg.Render.AcquireTimeout = types.Duration(defaultAcquireTimeout)
	}
	if cfg.Render.FastTimeout == 0 {
		cfg.Render.FastTimeout = types.Duration(defaultFastTimeout)
	}
	if cfg.Render.FullTimeout == 0 {
		cfg.Render.FullTimeout = types.Duration(defaultFullTimeout)
	}
	if cfg.Render.MinDocumentSize == 0 {
		cfg.Render.MinDocumentSize = defaultMinDocSize
	}
	if cfg.Render.RestartAfter == 0 {
		cfg.Render.RestartAfter = defaultRestartAfter
	}
	if cfg.Render.ShutdownTimeout == 0 {
		cfg.Render.ShutdownTimeout = types.Duration(defaultShutdown)
	}

	if cfg.Cache.RawTTL == 0 {
		cfg.Cache.RawTTL = types.Duration(defaultRawTTL)
	}
	if cfg.Cache.DocumentTTL == 0 {
		cfg.Cache.DocumentTTL = types.Duration(defaultDocumentTTL)
	}
	if cfg.Cache.Compression == "" {
		cfg.Cache.Compression = types.CompressionSnappy
	}

	if cfg.Ledger.MaxEntries == 0 {
		cfg.Ledger.MaxEntries = defaultLedgerEntries
	}
	if cfg.Ledger.MaxEntries < minLedgerEntries {
		cfg.Ledger.MaxEntries = minLedgerEntries
	}
	if cfg.Ledger.MaxEntries > maxLedgerEntries {
		cfg.Ledger.MaxEntries = maxLedgerEntries
	}
	if cfg.Ledger.EntryTTL == 0 {
		cfg.Ledger.EntryTTL = types.Duration(defaultLedgerTTL)
	}

	// If both log outputs are disabled (zero values), enable console by default
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = configtypes.LogLevelInfo
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = configtypes.LogFormatConsole
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = configtypes.LogFormatText
	}
}

// Validate checks configuration validity.
func Validate(cfg *configtypes.ServiceConfig) error {
	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	} else if err := configtypes.ValidateListenAddress(cfg.Server.Listen); err != nil {
		return fmt.Errorf("invalid server.listen: %w", err)
	}

	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}

	if cfg.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if !strings.HasPrefix(cfg.Upstream.BaseURL, "http://") && !strings.HasPrefix(cfg.Upstream.BaseURL, "https://") {
		return fmt.Errorf("upstream.base_url must start with http:// or https://")
	}
	if cfg.Upstream.MaxConcurrency <= 0 {
		return fmt.Errorf("upstream.max_concurrency must be positive")
	}

	for i, b := range cfg.Translate.Backends {
		switch b.Kind {
		case BackendAzure, BackendGoogleCloud:
			if b.Key == "" {
				return fmt.Errorf("translate.backends[%d]: %s backend requires key", i, b.Kind)
			}
		case BackendLibre, BackendCustom:
			if b.Endpoint == "" {
				return fmt.Errorf("translate.backends[%d]: %s backend requires endpoint", i, b.Kind)
			}
		default:
			return fmt.Errorf("translate.backends[%d]: unknown kind %q", i, b.Kind)
		}
	}

	if cfg.Render.PoolSize != "auto" {
		size, err := strconv.Atoi(cfg.Render.PoolSize)
		if err != nil || size <= 0 {
			return fmt.Errorf("render.pool_size must be 'auto' or positive integer")
		}
	}
	if cfg.Render.FastTimeout > cfg.Render.FullTimeout {
		return fmt.Errorf("render.fast_timeout must not exceed render.full_timeout")
	}

	switch cfg.Cache.Compression {
	case types.CompressionNone, types.CompressionSnappy, types.CompressionLZ4:
	default:
		return fmt.Errorf("invalid cache.compression: %s (must be none, snappy or lz4)", cfg.Cache.Compression)
	}

	if err := validateLog(&cfg.Log); err != nil {
		return err
	}

	return validateMetrics(cfg)
}

func validateLog(log *configtypes.LogConfig) error {
	validLogLevels := map[string]bool{
		configtypes.LogLevelDebug:  true,
		configtypes.LogLevelInfo:   true,
		configtypes.LogLevelWarn:   true,
		configtypes.LogLevelError:  true,
		configtypes.LogLevelDPanic: true,
		configtypes.LogLevelPanic:  true,
		configtypes.LogLevelFatal:  true,
	}
	if !validLogLevels[log.Level] {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, error, dpanic, panic, or fatal)", log.Level)
	}

	validConsoleFormats := map[string]bool{
		configtypes.LogFormatJSON:    true,
		configtypes.LogFormatConsole: true,
	}
	if log.Console.Enabled && log.Console.Format != "" && !validConsoleFormats[log.Console.Format] {
		return fmt.Errorf("invalid log.console.format: %s (must be json or console)", log.Console.Format)
	}

	if log.File.Enabled {
		if log.File.Path == "" {
			return fmt.Errorf("log.file.path must be specified when file logging is enabled")
		}

		validFileFormats := map[string]bool{
			configtypes.LogFormatJSON: true,
			configtypes.LogFormatText: true,
		}
		if log.File.Format != "" && !validFileFormats[log.File.Format] {
			return fmt.Errorf("invalid log.file.format: %s (must be json or text)", log.File.Format)
		}

		if log.File.Rotation.MaxSize < 0 {
			return fmt.Errorf("log.file.rotation.max_size must be >= 0, got %d", log.File.Rotation.MaxSize)
		}
		if log.File.Rotation.MaxAge < 0 {
			return fmt.Errorf("log.file.rotation.max_age must be >= 0, got %d", log.File.Rotation.MaxAge)
		}
		if log.File.Rotation.MaxBackups < 0 {
			return fmt.Errorf("log.file.rotation.max_backups must be >= 0, got %d", log.File.Rotation.MaxBackups)
		}
	}

	return nil
}

func validateMetrics(cfg *configtypes.ServiceConfig) error {
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			return fmt.Errorf("metrics.listen is required when metrics enabled")
		} else if err := configtypes.ValidateListenAddress(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}

		// Metrics must run on a separate port from the main server
		metricsPort, err1 := configtypes.GetPortFromListen(cfg.Metrics.Listen)
		serverPort, err2 := configtypes.GetPortFromListen(cfg.Server.Listen)
		if err1 == nil && err2 == nil && metricsPort == serverPort {
			return fmt.Errorf("metrics.listen port (%d) must differ from server.listen port (%d) when metrics enabled", metricsPort, serverPort)
		}
	}

	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics.path: %s (must start with /)", cfg.Metrics.Path)
	}

	if cfg.Metrics.Namespace != "" {
		if matched, _ := regexp.MatchString(`^[a-zA-Z_][a-zA-Z0-9_]*$`, cfg.Metrics.Namespace); !matched {
			return fmt.Errorf("invalid metrics.namespace: %s (must match [a-zA-Z_][a-zA-Z0-9_]*)", cfg.Metrics.Namespace)
		}
	}

	return nil
}
