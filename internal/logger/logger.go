package logger

import (
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CorrelationIDHeader carries the per-request correlation identifier.
const CorrelationIDHeader = "X-Correlation-ID"

const correlationContextKey = "correlationID"

// Init builds the application logger. The level is taken from the LOG_LEVEL
// environment variable and defaults to info.
func Init() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(os.Getenv("LOG_LEVEL")))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// Middleware assigns a correlation ID to every request, reusing the one
// supplied by the client when present.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationContextKey, id)
		c.Writer.Header().Set(CorrelationIDHeader, id)
		c.Next()
	}
}

// CorrelationID returns the correlation ID attached to the request context.
func CorrelationID(c *gin.Context) string {
	return c.GetString(correlationContextKey)
}

func parseLevel(raw string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
