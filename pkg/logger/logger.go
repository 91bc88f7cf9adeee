// Package logger provides structured logging for the attestation sidecar.
// It configures zap loggers for production use and provides the HTTP request logging
// middleware used by the metrics server.
package logger

import (
	"net/http"
	"regexp"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig holds the configuration for logger creation.
type LoggerConfig struct {
	// Debug enables debug-level logging when true, otherwise uses info level
	Debug bool
}

// NewLogger creates a new structured logger with the specified configuration.
// The logger is configured for production use with JSON encoding and ISO8601 timestamps.
//
// Parameters:
//   - cfg: The logger configuration
//   - options: Additional zap options to apply to the logger
//
// Returns:
//   - *zap.Logger: A configured zap logger instance
//   - error: An error if the logger cannot be created
func NewLogger(cfg *LoggerConfig, options ...zap.Option) (*zap.Logger, error) {
	mergedOptions := append([]zap.Option{zap.WithCaller(true)}, options...)

	c := zap.NewProductionConfig()
	c.EncoderConfig = zap.NewProductionEncoderConfig()
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.Debug {
		c.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		c.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return c.Build(mergedOptions...)
}

var (
	healthRegex  = regexp.MustCompile(`v1\/health$`)
	metricsRegex = regexp.MustCompile(`\/metrics$`)
)

// HttpLoggerMiddleware creates an HTTP middleware for request logging.
// Health checks and Prometheus scrapes are logged at debug level to keep info logs quiet.
//
// Parameters:
//   - next: The next HTTP handler in the middleware chain
//   - l: The zap logger to use for request logging
//
// Returns:
//   - http.Handler: An HTTP handler that logs requests and calls the next handler
func HttpLoggerMiddleware(next http.Handler, l *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		fields := []zap.Field{
			zap.String("system", "http"),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		}
		if healthRegex.MatchString(r.URL.Path) || metricsRegex.MatchString(r.URL.Path) {
			l.Debug("http_request", fields...)
			return
		}
		l.Info("http_request", fields...)
	})
}
