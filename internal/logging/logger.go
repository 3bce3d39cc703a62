// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the encoder and minimum level.
type Config struct {
	Development bool
	// Level is a zap level name ("debug", "info", ...); empty keeps the preset default.
	Level   string
	Service string
}

// New builds a zap.Logger configured for development or production.
func New(c Config) (*zap.Logger, error) {
	var cfg zap.Config
	if c.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"
	if c.Level != "" {
		level, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = level
	}
	if c.Service != "" {
		cfg.InitialFields = map[string]any{"service": c.Service}
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
