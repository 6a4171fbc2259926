// Package cmd provides the CLI commands for CodeScope.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/codescope/codescope/internal/logging"
	"github.com/codescope/codescope/pkg/version"
)

// Exit codes per spec.md §6.
const (
	ExitSuccess            = 0
	ExitGenericFailure     = 1
	ExitNoIndexFound       = 2
	ExitIncompatibleIndex  = 3
	ExitConfigurationError = 4
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the codescope CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codescope",
		Short: "Local-first hybrid code search for AI coding assistants",
		Long: `CodeScope indexes a codebase once and serves plugin, semantic, and
keyword search over it through an MCP server, so AI coding assistants
can find code by meaning and by name without re-scanning the tree on
every query.`,
		Version:           version.Version,
		SilenceUsage:      true,
		PersistentPreRunE: startLogging,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			stopLogging()
			return nil
		},
	}
	cmd.SetVersionTemplate("codescope version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.codescope/logs/")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newServerCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging() {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

// Execute runs the root command and maps its outcome to spec.md §6's exit
// codes via ExitError when the command returns one, falling back to the
// generic failure code for any other error.
func Execute() int {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		var exitErr *ExitError
		if asExitError(err, &exitErr) {
			return exitErr.Code
		}
		return ExitGenericFailure
	}
	return ExitSuccess
}

// ExitError pairs an error with the specific exit code it should map to,
// letting a subcommand distinguish "no index found" from "configuration
// error" from a plain failure.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func asExitError(err error, target **ExitError) bool {
	for err != nil {
		if ee, ok := err.(*ExitError); ok {
			*target = ee
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
