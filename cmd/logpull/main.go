// Command logpull pulls log lines for published documents and delivers
// them downstream.
//
// Logging:
//   - Base logger is created here from configuration
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
//
// Exit codes: 0 when a run completes (per-document failures included),
// 1 on configuration or startup errors, 2 when another run holds the lock.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"logpull/internal/lock"
	"logpull/internal/logging"

	_ "logpull/internal/publish/sink"
	_ "logpull/internal/publish/store"
)

var version = "dev"

const (
	exitOK     = 0
	exitConfig = 1
	exitLocked = 2
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:           "logpull",
		Short:         "Pull document log lines and deliver them downstream",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.readFlags(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "configuration file (TOML)")
	pf.String("config-dir", "", "directory of *.toml files applied after --config, in name order")
	pf.String("dir", "", "trigger directory (overrides triggers.dir)")
	pf.String("archive-dir", "", "archive log directory (overrides logs.archive_dir)")
	pf.Bool("archive", false, "search archived month partitions instead of live logs")
	pf.Bool("quiet", false, "only log warnings and errors to stderr")
	pf.String("lock-flavor", "", "suffix for the single-instance lock name")
	pf.Bool("email", false, "send failure notifications by email")
	pf.Bool("dry-run", false, "scan and build without delivering or changing state")
	pf.Int("workers", 0, "parallel triggers (overrides workers)")
	pf.StringP("output", "o", "table", "output format: table or json")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	rootCmd.AddCommand(newPullCmd(a), newCheckCmd(a), newWatchCmd(a), versionCmd)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if a.cleanup != nil {
		_ = a.cleanup()
	}
	if err == nil {
		return exitOK
	}

	logger := a.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(a.stderr, nil))
	}
	if errors.Is(err, lock.ErrLocked) {
		logger.Warn("not running", "error", err)
		return exitLocked
	}
	logger.Error("logpull failed", "error", err)
	return exitConfig
}

// newBootstrapLogger logs until configuration has been read.
func newBootstrapLogger(a *app) *slog.Logger {
	l, _, err := logging.Setup(logging.Options{Level: slog.LevelInfo, Quiet: a.flags.quiet, Stderr: a.stderr})
	if err != nil {
		return slog.New(slog.NewTextHandler(a.stderr, nil))
	}
	return l
}
