package logging

import (
	"log/slog"
)

// SetupMCPMode initializes logging for the stdio MCP transport.
// This is critical for MCP protocol compliance:
// - Logs ONLY to file (never stdout/stderr)
// - Uses JSON format for structured logs
// - Always enables debug level for complete diagnostics
//
// The stdio transport reserves stdout exclusively for JSON-RPC frames; any
// stray write to stdout or stderr while it's active corrupts the protocol
// stream from the client's point of view. The sse transport has no such
// constraint, since its JSON-RPC traffic runs over HTTP.
func SetupMCPMode() (func(), error) {
	cfg := FromLevel("debug") // always debug in MCP mode for full diagnostics
	cfg.WriteToStderr = false // CRITICAL: never write to stderr in MCP mode

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)

	// Log that MCP mode logging is initialized
	slog.Info("MCP mode logging initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level),
		slog.Bool("stderr_disabled", true))

	return cleanup, nil
}

// SetupMCPModeWithLevel initializes MCP-safe logging with a specific level.
func SetupMCPModeWithLevel(level string) (func(), error) {
	cfg := FromLevel(level)
	cfg.WriteToStderr = false // CRITICAL: never write to stderr in MCP mode

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	return cleanup, nil
}
