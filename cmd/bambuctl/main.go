package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor  bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "bambuctl",
	Short: "Bambu desktop control panel",
	Long: `bambuctl manages the Bambu desktop: the panel layout (traditional or modern),
the automatic update settings, and on-demand runs of the system update script.

Run without a subcommand to open the interactive control panel.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPanel(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (trace, debug, info, warn, error)")
}

// exitCodeError carries a child process exit status out to main.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}

	printError("%v", err)
	var exitErr *exitCodeError
	if errors.As(err, &exitErr) && exitErr.code > 0 {
		os.Exit(exitErr.code)
	}
	os.Exit(1)
}
