package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the JSON logger used by the verification service.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	return cfg.Build()
}

// NewConsoleLogger builds a human readable logger for the CLI host.
// Debug output is only enabled when verbose is set.
func NewConsoleLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.DisableStacktrace = true
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

// WithOperation scopes the logger to an operation. requestID is a
// request id on the service and a session or attempt id on the client.
func WithOperation(logger *zap.Logger, operation, requestID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	return logger.With(fields...)
}
