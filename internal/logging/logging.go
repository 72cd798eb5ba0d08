package logging

import (
	"io"
	"os"
	"time"

	"github.com/atherlabs/atherbot/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup initializes the global logger based on configuration
func Setup(cfg *config.LoggingConfig, env string) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output io.Writer
	if cfg.Format == "json" || env == "production" {
		output = os.Stdout
	} else {
		// Pretty console output for development
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
			NoColor:    false,
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", "atherbot").
		Logger()
}

// NewLogger creates a new logger with additional context
func NewLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// RequestLogger is a Gin middleware for structured request logging
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID := c.GetString("request_id")

		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		} else if c.Writer.Status() >= 400 {
			event = log.Warn()
		}

		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Int("body_size", c.Writer.Size()).
			Msg("HTTP request")
	}
}

// APICallLogEntry represents a structured log entry for authenticated API calls
type APICallLogEntry struct {
	RequestID  string        `json:"request_id"`
	UserID     string        `json:"user_id"`
	APIKeyID   string        `json:"api_key_id"`
	Endpoint   string        `json:"endpoint"`
	Method     string        `json:"method"`
	Status     int           `json:"status"`
	TokensUsed int           `json:"tokens_used"`
	Latency    time.Duration `json:"latency_ms"`
	Model      string        `json:"model"`
}

// LogAPICall logs an authenticated API call with structured data
func LogAPICall(entry *APICallLogEntry) {
	event := log.Info()
	if entry.Status >= 500 {
		event = log.Error()
	}

	event.
		Str("request_id", entry.RequestID).
		Str("user_id", entry.UserID).
		Str("api_key_id", entry.APIKeyID).
		Str("endpoint", entry.Endpoint).
		Str("method", entry.Method).
		Int("status", entry.Status).
		Int("tokens_used", entry.TokensUsed).
		Dur("latency", entry.Latency).
		Str("model", entry.Model).
		Msg("API call")
}

// LogSecurityEvent logs security-related events such as rejected credentials
func LogSecurityEvent(eventType, clientIP, details string) {
	log.Warn().
		Str("event_type", eventType).
		Str("client_ip", clientIP).
		Str("details", details).
		Msg("Security event")
}
