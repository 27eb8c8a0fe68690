// Package logging constructs the process-wide structured logger. The
// logger is never a package-level global: every constructor that needs
// one takes a *zap.SugaredLogger parameter, the same way case-service
// threads a Clock through its use cases instead of calling time.Now()
// directly.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a SugaredLogger honoring LOG_LEVEL ("debug" gets a
// development config with caller info; anything else gets the production
// JSON encoder).
func New(level string) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if strings.EqualFold(level, "debug") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Noop returns a logger that discards everything, for tests that don't
// care about log output.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
