package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Rotation defaults shared by every Config constructor in this package,
// including the MCP-mode ones in mcp.go, so the on-disk rotation policy
// stays one knob rather than a handful of copy-pasted literals.
const (
	defaultMaxSizeMB = 10
	defaultMaxFiles  = 5
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error). Server
	// startup builds its Config from config.ServerConfig.LogLevel via
	// FromLevel; the CLI's --debug flag uses DebugConfig.
	Level string
	// FilePath is the path to the log file. Empty means no file logging.
	FilePath string
	// MaxSizeMB is the maximum size in MB before rotation (default: 10).
	MaxSizeMB int
	// MaxFiles is the maximum number of rotated files to keep (default: 5).
	MaxFiles int
	// WriteToStderr whether to also write to stderr (default: true).
	WriteToStderr bool
}

// FromLevel builds a Config at the given level, writing to the default log
// path with stderr enabled. The stdio MCP transport can't tolerate a stray
// stderr write, so SetupMCPModeWithLevel calls this and then forces
// WriteToStderr off.
func FromLevel(level string) Config {
	return Config{
		Level:         level,
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     defaultMaxSizeMB,
		MaxFiles:      defaultMaxFiles,
		WriteToStderr: true,
	}
}

// DefaultConfig returns sensible defaults for file logging.
func DefaultConfig() Config {
	return FromLevel("info")
}

// DebugConfig returns configuration for debug mode.
func DebugConfig() Config {
	return FromLevel("debug")
}

// Setup initializes file-based logging and returns a cleanup function.
// The cleanup function should be called to close the log file.
// Returns the configured logger and cleanup function.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	// Ensure log directory exists
	if err := EnsureLogDir(); err != nil {
		return nil, nil, err
	}

	// Create rotating writer
	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	// Build multi-writer if stderr is enabled
	var output io.Writer = writer
	if cfg.WriteToStderr {
		output = io.MultiWriter(writer, os.Stderr)
	}

	// Parse log level
	level := parseLevel(cfg.Level)

	// Create JSON handler for structured logging
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler)

	// Cleanup function
	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}

	return logger, cleanup, nil
}

// SetupDefault sets up logging with the debug configuration (DebugConfig) and sets it as the default logger.
// Returns cleanup function.
func SetupDefault() (func(), error) {
	logger, cleanup, err := Setup(DebugConfig())
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	return cleanup, nil
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromString converts string level to slog.Level (exported for use by log viewer).
func LevelFromString(level string) slog.Level {
	return parseLevel(level)
}
