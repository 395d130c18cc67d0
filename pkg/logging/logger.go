// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	// The CLI turns it on unless --log-json is given.
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Listing cache operations (hit/miss, key, TTL)
//   - Language probes that found nothing
//   - Empty final pages
//
// Info: Normal operation events
//   - Accepted pages (page, records so far, total)
//   - Partition start and finish
//   - Languages resolved and artifacts written
//
// Warn: Warning conditions that don't prevent operation
//   - 429 backoff (page, throttles, wait)
//   - Aborted partitions (partial results are still exported)
//   - Redis or mirror failures (run continues without them)
//
// Error: Error conditions requiring attention
//   - Partition-fatal request failures
//   - Throttle budget exhausted
//   - Artifacts that could not be written
//   - Configuration errors
//
// Context Fields:
//   - component: Package emitting the event (client, paginator, collector, exporter)
//   - language: Partition language code
//   - page: Page number being fetched
//   - records: Records accepted so far
//   - state: Paginator state (fetching, throttled, done, aborted)
//   - wait: Backoff or delay duration
//   - endpoint: API endpoint path
//   - status_code: HTTP status code
//   - error_class: Error classification (client, server, rate_limit, network, decode)
