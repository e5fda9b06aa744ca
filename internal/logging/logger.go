// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Option adjusts the logger configuration before it is built.
type Option func(*zap.Config) error

// WithLevel sets the minimum level ("debug", "info", "warn", "error").
// An empty level keeps the default for the mode.
func WithLevel(level string) Option {
	return func(cfg *zap.Config) error {
		if strings.TrimSpace(level) == "" {
			return nil
		}
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		return nil
	}
}

// WithStderr sends log output to stderr so stdout stays free for reports.
func WithStderr() Option {
	return func(cfg *zap.Config) error {
		cfg.OutputPaths = []string{"stderr"}
		return nil
	}
}

// New builds a zap.Logger configured for development or production.
func New(development bool, opts ...Option) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	mode := "prod"
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		mode = "dev"
	} else {
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", mode, err)
	}
	return logger, nil
}
