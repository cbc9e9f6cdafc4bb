package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggingConfig contains logger configuration options.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal, panic).
	Level string

	// Format is the output format (json, console, pretty).
	Format string

	// Output is the output destination (stdout, stderr).
	Output string

	// AddSource adds source file and line number to log entries.
	AddSource bool

	// TimeFormat is the time format for timestamps.
	TimeFormat string
}

// DefaultLoggingConfig returns a LoggingConfig with sensible defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// NewLogger creates a new zerolog logger based on configuration.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	var output io.Writer = os.Stdout
	if strings.ToLower(cfg.Output) == "stderr" {
		output = os.Stderr
	}
	return newLogger(cfg, output)
}

func newLogger(cfg LoggingConfig, output io.Writer) zerolog.Logger {
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	switch strings.ToLower(cfg.Format) {
	case "console", "pretty":
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}

	lc := zerolog.New(output).With().Timestamp()
	if cfg.AddSource {
		lc = lc.Caller()
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	return lc.Logger().Level(level)
}

// parseLevel converts a string log level to zerolog.Level.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithJobContext adds the job lookup key to a logger.
func WithJobContext(logger zerolog.Logger, sessionID, jobID string) zerolog.Logger {
	return logger.With().
		Str("session_id", sessionID).
		Str("job_id", jobID).
		Logger()
}

// WithStageContext adds stage execution fields to a logger.
func WithStageContext(logger zerolog.Logger, stage string, attempt int32) zerolog.Logger {
	return logger.With().
		Str("stage", stage).
		Int32("attempt", attempt).
		Logger()
}

// WithWorkflowContext adds Temporal workflow fields to a logger.
func WithWorkflowContext(logger zerolog.Logger, workflowID, runID string) zerolog.Logger {
	return logger.With().
		Str("workflow_id", workflowID).
		Str("workflow_run_id", runID).
		Logger()
}
