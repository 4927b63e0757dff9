package config

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var globalLogger *zap.Logger

// ParseLevel maps a config string onto a zap level, defaulting to info.
func ParseLevel(logLevelStr string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(logLevelStr)) {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// InitLogger initializes a console Zap logger with the specified level and returns it
func InitLogger(logLevelStr string) (*zap.Logger, error) {
	return buildLogger(zap.NewDevelopmentConfig(), logLevelStr)
}

// InitJSONLogger is used by the edge adapter, whose platform collects
// structured stdout lines.
func InitJSONLogger(logLevelStr string) (*zap.Logger, error) {
	return buildLogger(zap.NewProductionConfig(), logLevelStr)
}

func buildLogger(config zap.Config, logLevelStr string) (*zap.Logger, error) {
	config.Level = zap.NewAtomicLevelAt(ParseLevel(logLevelStr))

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	// Store for cleanup purposes
	globalLogger = logger

	return logger, nil
}

// Cleanup flushes any buffered log entries
func Cleanup() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}
