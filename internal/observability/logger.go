package observability

import (
	"strings"

	"github.com/finbridge/payhub/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the root zap logger. Production uses JSON output, every
// other environment uses the console encoder.
func NewLogger(cfg config.Config) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if raw := strings.TrimSpace(cfg.LogLevel); raw != "" {
		parsed, err := zapcore.ParseLevel(raw)
		if err != nil {
			return nil, level, err
		}
		level.SetLevel(parsed)
	}

	var zc zap.Config
	if cfg.IsProduction() {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = level
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build(zap.Fields(
		zap.String("service", cfg.AppName),
		zap.String("env", cfg.Environment),
	))
	if err != nil {
		return nil, level, err
	}
	return logger, level, nil
}
