// Package log builds the zap loggers used by the server, the CLI and
// local connections.
package log

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a console logger at the given level ("debug",
// "info", "warn", "error").
func NewLogger(verbosityLevel string) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	config.Encoding = "console"

	// Timestamp format (ISO8601) and time zone (UTC)
	config.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format("2006-01-02T15:04:05Z0700"))
	}

	logLevel, err := zapcore.ParseLevel(verbosityLevel)
	if err != nil {
		return nil, err
	}
	config.Level.SetLevel(logLevel)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
