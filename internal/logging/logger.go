// Package logging provides the process-wide zap logger used by torsentry
package logging

import (
	"log"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
	sugar  *zap.SugaredLogger
)

// Config holds logging configuration
type Config struct {
	Level       string `json:"level"`       // debug, info, warn, error
	Development bool   `json:"development"` // colored, caller-annotated output
	JSON        bool   `json:"json"`        // JSON lines instead of console
}

// DefaultConfig returns console logging at info level
func DefaultConfig() Config {
	return Config{Level: "info"}
}

// Init (re)configures the global logger. Unlike a sync.Once setup it may be
// called again once flags are parsed.
func Init(cfg Config) error {
	l, err := build(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	old := logger
	logger = l
	sugar = l.Sugar()
	mu.Unlock()

	if old != nil {
		_ = old.Sync()
	}
	return nil
}

func build(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = zapcore.InfoLevel
		}
	}

	var zapCfg zap.Config
	switch {
	case cfg.Development:
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case cfg.JSON:
		zapCfg = zap.NewProductionConfig()
	default:
		zapCfg = zap.NewProductionConfig()
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build(zap.AddCallerSkip(1))
}

// L returns the global logger, building a default one on first use
func L() *zap.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	_ = Init(DefaultConfig())
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// S returns the global sugared logger
func S() *zap.SugaredLogger {
	L()
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Named returns a child of the global logger tagged with a component name.
func Named(component string) *zap.Logger {
	return L().WithOptions(zap.AddCallerSkip(-1)).Named(component)
}

// Sync flushes any buffered log entries
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil {
		return logger.Sync()
	}
	return nil
}

// StdLogger returns a *log.Logger that writes at error level, for
// http.Server.ErrorLog.
func StdLogger() *log.Logger {
	l, err := zap.NewStdLogAt(L(), zapcore.ErrorLevel)
	if err != nil {
		return log.Default()
	}
	return l
}

// --- Convenience functions ---

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// --- Sugared convenience functions (printf-style) ---

func Debugf(template string, args ...interface{}) { S().Debugf(template, args...) }
func Infof(template string, args ...interface{}) { S().Infof(template, args...) }
func Warnf(template string, args ...interface{}) { S().Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { S().Errorf(template, args...) }

// --- Field constructors ---

func String(key, val string) zap.Field { return zap.String(key, val) }
func Int(key string, val int) zap.Field { return zap.Int(key, val) }
func Int64(key string, val int64) zap.Field { return zap.Int64(key, val) }
func Uint64(key string, val uint64) zap.Field { return zap.Uint64(key, val) }
func Float64(key string, val float64) zap.Field { return zap.Float64(key, val) }
func Bool(key string, val bool) zap.Field { return zap.Bool(key, val) }
func Duration(key string, val time.Duration) zap.Field { return zap.Duration(key, val) }
func Err(err error) zap.Field { return zap.Error(err) }
func Any(key string, val interface{}) zap.Field { return zap.Any(key, val) }
