package chrome

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dejavuplus/engine/internal/common/configtypes"
	"github.com/dejavuplus/engine/pkg/types"
)

func TestConfig_CalculatePoolSize(t *testing.T) {
	config := DefaultConfig()

	config.PoolSize = "10"
	assert.Equal(t, 10, config.CalculatePoolSize())

	config.PoolSize = "auto"
	autoSize := config.CalculatePoolSize()
	assert.GreaterOrEqual(t, autoSize, 2, "should have at least 2 handles")
	assert.LessOrEqual(t, autoSize, 16, "should not exceed 16 handles")

	// Invalid values fall back to auto
	config.PoolSize = "banana"
	assert.Equal(t, autoSize, config.CalculatePoolSize())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		expectErr bool
	}{
		{
			name:      "valid config",
			modifyFn:  func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "auto pool size",
			modifyFn:  func(c *Config) { c.PoolSize = "auto" },
			expectErr: false,
		},
		{
			name:      "negative pool size",
			modifyFn:  func(c *Config) { c.PoolSize = "-1" },
			expectErr: true,
		},
		{
			name:      "non-numeric pool size",
			modifyFn:  func(c *Config) { c.PoolSize = "many" },
			expectErr: true,
		},
		{
			name:      "zero restart count",
			modifyFn:  func(c *Config) { c.RestartAfter = 0 },
			expectErr: true,
		},
		{
			name:      "fast timeout above full timeout",
			modifyFn:  func(c *Config) { c.FastTimeout = c.FullTimeout + time.Second },
			expectErr: true,
		},
		{
			name:      "zero acquire timeout",
			modifyFn:  func(c *Config) { c.AcquireTimeout = 0 },
			expectErr: true,
		},
		{
			name:      "zero shutdown timeout",
			modifyFn:  func(c *Config) { c.ShutdownTimeout = 0 },
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modifyFn(config)

			err := config.Validate()
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromService(t *testing.T) {
	svc := &configtypes.RenderConfig{
		PoolSize:        "4",
		AcquireTimeout:  types.Duration(25 * time.Second),
		FastTimeout:     types.Duration(12 * time.Second),
		FullTimeout:     types.Duration(40 * time.Second),
		RestartAfter:    100,
		ShutdownTimeout: types.Duration(30 * time.Second),
	}

	cfg := FromService(svc)
	assert.Equal(t, "4", cfg.PoolSize)
	assert.Equal(t, 25*time.Second, cfg.AcquireTimeout)
	assert.Equal(t, 12*time.Second, cfg.FastTimeout)
	assert.Equal(t, 40*time.Second, cfg.FullTimeout)
	assert.Equal(t, 100, cfg.RestartAfter)
	assert.NoError(t, cfg.Validate())
}

func TestPoolStartsWithoutBrowser(t *testing.T) {
	// The browser process launches lazily on first render; pool creation
	// must succeed on hosts with no Chromium installed.
	cfg := DefaultConfig()
	cfg.PoolSize = "3"

	pool, err := NewPool(cfg, zap.NewNop())
	require.NoError(t, err)
	defer pool.Shutdown()

	stats := pool.Stats()
	assert.Equal(t, 3, stats.TotalHandles)
	assert.Equal(t, 3, stats.AvailableHandles)
	assert.Equal(t, 0, stats.ActiveHandles)
	assert.Equal(t, int64(0), stats.BrowserRestarts)
	assert.Equal(t, 3, pool.Size())
}

func TestPoolShutdownIdempotentQueue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PoolSize = "2"
	cfg.ShutdownTimeout = 100 * time.Millisecond

	pool, err := NewPool(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, pool.Shutdown())
}
