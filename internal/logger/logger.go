package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. It is a no-op until InitLogger runs so
// packages that log during init or in tests never dereference nil.
var Log = zap.NewNop()

// Options controls how the logger is built.
type Options struct {
	Level       string // debug, info, warn, error
	Development bool   // console encoder with colors instead of JSON
}

// InitLogger builds the global logger from opts.
func InitLogger(opts Options) error {
	l, err := New(opts)
	if err != nil {
		return err
	}
	Log = l
	zap.ReplaceGlobals(l)
	return nil
}

// New builds a logger without touching the global one.
func New(opts Options) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = level

	return cfg.Build()
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Log.Sync()
}
