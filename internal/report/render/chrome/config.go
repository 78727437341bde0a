package chrome

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/dejavuplus/engine/internal/common/configtypes"
)

// Config holds the configuration for the browser and its tab pool
type Config struct {
	PoolSize        string        // "auto" or integer string
	AcquireTimeout  time.Duration // Max wait for a free tab handle
	FastTimeout     time.Duration // Budget for the fast-first render attempt
	FullTimeout     time.Duration // Budget for the full render attempt
	RestartAfter    int           // Discard a handle after N renders
	ShutdownTimeout time.Duration // Graceful shutdown timeout
}

// FromService converts the service YAML render section to an internal Config.
func FromService(cfg *configtypes.RenderConfig) *Config {
	return &Config{
		PoolSize:        cfg.PoolSize,
		AcquireTimeout:  cfg.AcquireTimeout.ToDuration(),
		FastTimeout:     cfg.FastTimeout.ToDuration(),
		FullTimeout:     cfg.FullTimeout.ToDuration(),
		RestartAfter:    cfg.RestartAfter,
		ShutdownTimeout: cfg.ShutdownTimeout.ToDuration(),
	}
}

// DefaultConfig is used in tests to avoid constructing full Config structs
func DefaultConfig() *Config {
	return &Config{
		PoolSize:        "8",
		AcquireTimeout:  25 * time.Second,
		FastTimeout:     12 * time.Second,
		FullTimeout:     40 * time.Second,
		RestartAfter:    100,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PoolSize != "auto" {
		size, err := strconv.Atoi(c.PoolSize)
		if err != nil {
			return fmt.Errorf("pool size must be 'auto' or valid integer")
		}
		if size <= 0 {
			return fmt.Errorf("pool size must be positive")
		}
	}

	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire timeout must be positive")
	}

	if c.FastTimeout <= 0 || c.FullTimeout <= 0 {
		return fmt.Errorf("render timeouts must be positive")
	}

	if c.FastTimeout > c.FullTimeout {
		return fmt.Errorf("fast timeout must not exceed full timeout")
	}

	if c.RestartAfter <= 0 {
		return fmt.Errorf("restart after count must be positive")
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	return nil
}

// CalculatePoolSize determines how many tab handles to run.
// Auto formula: (Total RAM - 2GB reserved) / 500MB per rendering tab.
func (c *Config) CalculatePoolSize() int {
	if c.PoolSize == "auto" {
		return c.calculateAutoPoolSize()
	}

	size, err := strconv.Atoi(c.PoolSize)
	if err != nil || size <= 0 {
		return c.calculateAutoPoolSize()
	}

	return size
}

func (c *Config) calculateAutoPoolSize() int {
	v, err := mem.VirtualMemory()
	var totalRAMBytes int64

	if err != nil {
		totalRAMBytes = int64(8 * 1024 * 1024 * 1024) // 8GB fallback
	} else {
		totalRAMBytes = int64(v.Total)
	}

	reservedBytes := int64(2 * 1024 * 1024 * 1024)
	availableBytes := totalRAMBytes - reservedBytes

	// A rendering tab peaks around 500MB on image-heavy report pages
	tabBytes := int64(500 * 1024 * 1024)

	poolSize := int(availableBytes / tabBytes)

	if poolSize < 2 {
		poolSize = 2
	}
	if poolSize > 16 {
		poolSize = 16
	}

	return poolSize
}
