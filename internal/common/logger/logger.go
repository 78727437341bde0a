package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dejavuplus/engine/internal/common/configtypes"
)

// DynamicLogger wraps zap.Logger with ability to switch levels at runtime
type DynamicLogger struct {
	*zap.Logger
	consoleLevel     *zap.AtomicLevel
	fileLevel        *zap.AtomicLevel
	configuredConfig configtypes.LogConfig
}

// NewLogger creates a new Zap logger from the given configuration
func NewLogger(config configtypes.LogConfig) (*DynamicLogger, error) {
	globalLevel := parseLogLevel(config.Level)

	var cores []zapcore.Core
	var consoleLevel *zap.AtomicLevel
	var fileLevel *zap.AtomicLevel

	if config.Console.Enabled {
		level := zap.NewAtomicLevelAt(resolveLogLevel(config.Console.Level, globalLevel))
		consoleLevel = &level
		cores = append(cores, zapcore.NewCore(
			createEncoder(config.Console.Format),
			zapcore.Lock(os.Stdout),
			consoleLevel))
	}

	if config.File.Enabled {
		if config.File.Path == "" {
			return nil, fmt.Errorf("file.path must be specified when file logging is enabled")
		}

		level := zap.NewAtomicLevelAt(resolveLogLevel(config.File.Level, globalLevel))
		fileLevel = &level
		cores = append(cores, zapcore.NewCore(
			createEncoder(config.File.Format),
			createFileWriter(config.File.Path, config.File.Rotation),
			fileLevel))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one log output (console or file) must be enabled")
	}

	var core zapcore.Core
	if len(cores) == 1 {
		core = cores[0]
	} else {
		core = zapcore.NewTee(cores...)
	}

	return &DynamicLogger{
		Logger:           zap.New(core),
		consoleLevel:     consoleLevel,
		fileLevel:        fileLevel,
		configuredConfig: config,
	}, nil
}

// NewLoggerWithStartupOverride creates a logger that starts at INFO level if the
// configured level is higher, so startup messages stay visible. Call
// SwitchToConfiguredLevel once startup completes.
func NewLoggerWithStartupOverride(config configtypes.LogConfig) (*DynamicLogger, error) {
	configuredLevel := parseLogLevel(config.Level)
	if configuredLevel <= zap.InfoLevel {
		return NewLogger(config)
	}

	startupConfig := config
	startupConfig.Level = configtypes.LogLevelInfo
	if startupConfig.Console.Enabled && startupConfig.Console.Level == "" {
		startupConfig.Console.Level = configtypes.LogLevelInfo
	}
	if startupConfig.File.Enabled && startupConfig.File.Level == "" {
		startupConfig.File.Level = configtypes.LogLevelInfo
	}

	dynamicLogger, err := NewLogger(startupConfig)
	if err != nil {
		return nil, err
	}

	// Remember the original config so SwitchToConfiguredLevel can restore it
	dynamicLogger.configuredConfig = config

	return dynamicLogger, nil
}

// NewDefaultLogger creates a console logger for initial startup logging,
// before the configuration file has been read.
func NewDefaultLogger() (*DynamicLogger, error) {
	return NewLogger(configtypes.LogConfig{
		Level: configtypes.LogLevelDebug,
		Console: configtypes.ConsoleLogConfig{
			Enabled: true,
			Format:  configtypes.LogFormatConsole,
		},
	})
}

// SwitchToConfiguredLevel switches logger to the originally configured level
func (dl *DynamicLogger) SwitchToConfiguredLevel() {
	globalLevel := parseLogLevel(dl.configuredConfig.Level)

	dl.Info("Switching logger to configured level", zap.String("level", dl.configuredConfig.Level))

	if dl.consoleLevel != nil {
		dl.consoleLevel.SetLevel(resolveLogLevel(dl.configuredConfig.Console.Level, globalLevel))
	}
	if dl.fileLevel != nil {
		dl.fileLevel.SetLevel(resolveLogLevel(dl.configuredConfig.File.Level, globalLevel))
	}
}

// EnsureInfoLevelForShutdown raises both outputs to at least INFO level so the
// shutdown sequence is visible in the logs.
func (dl *DynamicLogger) EnsureInfoLevelForShutdown() {
	levelChanged := false

	if dl.consoleLevel != nil && dl.consoleLevel.Level() > zap.InfoLevel {
		dl.consoleLevel.SetLevel(zap.InfoLevel)
		levelChanged = true
	}
	if dl.fileLevel != nil && dl.fileLevel.Level() > zap.InfoLevel {
		dl.fileLevel.SetLevel(zap.InfoLevel)
		levelChanged = true
	}

	if levelChanged {
		dl.Info("Switched to INFO level for shutdown visibility")
	}
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case configtypes.LogLevelDebug:
		return zap.DebugLevel
	case configtypes.LogLevelInfo:
		return zap.InfoLevel
	case configtypes.LogLevelWarn:
		return zap.WarnLevel
	case configtypes.LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// resolveLogLevel returns the per-output level if set, otherwise the global level
func resolveLogLevel(outputLevel string, globalLevel zapcore.Level) zapcore.Level {
	if outputLevel != "" {
		return parseLogLevel(outputLevel)
	}
	return globalLevel
}

func createEncoder(format string) zapcore.Encoder {
	if format == configtypes.LogFormatJSON {
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	if format == configtypes.LogFormatText {
		// Plain text without color codes (for files)
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return zapcore.NewConsoleEncoder(encoderConfig)
}

func createFileWriter(path string, rotation configtypes.RotationConfig) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSize,
		MaxAge:     rotation.MaxAge,
		MaxBackups: rotation.MaxBackups,
		Compress:   rotation.Compress,
	})
}
