package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const (
	ExitSuccess   = 0
	ExitError     = 1
	ExitCancelled = 130
)

// Version is reported by --version
var Version = "dev"

var (
	flagConfig    string
	flagEnvFile   string
	flagDSN       string
	flagFilter    string
	flagFormat    string
	flagLogLevel  string
	flagLogFormat string
	flagVerbose   bool
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bake-events",
		Short: "Discover family-friendly events on venue websites",
		Long: `A batch tool that fetches venue event pages, extracts events with a
language model, validates and attributes them to branches, and stores them.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Path to a YAML config file")
	pf.StringVar(&flagEnvFile, "env-file", ".env", "Path to a .env file with secrets")
	pf.StringVar(&flagDSN, "dsn", "", "Store DSN: postgres://..., sqlite://path, file://path or a bare path")
	pf.StringVar(&flagFilter, "filter", "", "Entity filter, e.g. 'category=library; name=springfield'")
	pf.StringVar(&flagFormat, "format", "text", "Output format: text or json")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&flagLogFormat, "log-format", "", "Log format: console or json")
	pf.BoolVar(&flagVerbose, "verbose", false, "Enable verbose output")

	cmd.AddCommand(
		newRunCmd(),
		newPlanCmd(),
		newEvictCmd(),
		newExportCmd(),
		newPlacesCmd(),
	)
	return cmd
}

// ExitCode maps a command error to the process exit code. Quota exhaustion
// and every other failure exit with ExitError.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, context.Canceled):
		return ExitCancelled
	default:
		return ExitError
	}
}

// Execute runs the CLI until it finishes or the process is interrupted
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	stop()
	os.Exit(ExitCode(err))
}
