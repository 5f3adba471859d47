package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"logpull/internal/config"
	"logpull/internal/home"
	"logpull/internal/lock"
	"logpull/internal/logging"
	"logpull/internal/metrics"
	"logpull/internal/notify"
)

type flags struct {
	config     string
	configDir  string
	dir        string
	archiveDir string
	archive    bool
	quiet      bool
	lockFlavor string
	email      bool
	dryRun     bool
	workers    int
	output     string
}

// app carries process-wide state shared by the subcommands.
type app struct {
	flags  flags
	stdout io.Writer
	stderr io.Writer

	logger  *slog.Logger
	cleanup func() error
}

func (a *app) readFlags(cmd *cobra.Command) error {
	f := cmd.Flags()
	a.flags.config, _ = f.GetString("config")
	a.flags.configDir, _ = f.GetString("config-dir")
	a.flags.dir, _ = f.GetString("dir")
	a.flags.archiveDir, _ = f.GetString("archive-dir")
	a.flags.archive, _ = f.GetBool("archive")
	a.flags.quiet, _ = f.GetBool("quiet")
	a.flags.lockFlavor, _ = f.GetString("lock-flavor")
	a.flags.email, _ = f.GetBool("email")
	a.flags.dryRun, _ = f.GetBool("dry-run")
	a.flags.workers, _ = f.GetInt("workers")
	a.flags.output, _ = f.GetString("output")
	if a.flags.output != "table" && a.flags.output != "json" {
		return fmt.Errorf("%w: --output must be table or json", config.ErrInvalid)
	}
	return nil
}

// load reads configuration, applies flag overrides, validates it and
// replaces the bootstrap logger with the configured one. Configuration
// errors are reported to the operator before being returned.
func (a *app) load(ctx context.Context) (*config.Config, error) {
	boot := newBootstrapLogger(a)
	a.logger = boot

	cfg, err := config.Load(a.flags.config, a.flags.configDir, boot)
	if err != nil {
		a.reportConfigError(ctx, config.Default(), err)
		return nil, err
	}
	a.applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		a.reportConfigError(ctx, cfg, err)
		return nil, err
	}

	logger, err := a.setupLogger(cfg)
	if err != nil {
		a.reportConfigError(ctx, cfg, err)
		return nil, err
	}
	a.logger = logger
	return cfg, nil
}

func (a *app) applyOverrides(cfg *config.Config) {
	if a.flags.dir != "" {
		cfg.Triggers.Dir = a.flags.dir
	}
	if a.flags.archiveDir != "" {
		cfg.Logs.ArchiveDir = a.flags.archiveDir
	}
	if a.flags.archive {
		cfg.Pull.Archive = true
	}
	if a.flags.email {
		cfg.Notify.Email = true
	}
	if a.flags.workers > 0 {
		cfg.Workers = a.flags.workers
	}
}

func (a *app) setupLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: logging.level: %w", config.ErrInvalid, err)
	}
	components := make(map[string]slog.Level, len(cfg.Logging.Components))
	for name, s := range cfg.Logging.Components {
		l, err := logging.ParseLevel(s)
		if err != nil {
			return nil, fmt.Errorf("%w: logging.components.%s: %w", config.ErrInvalid, name, err)
		}
		components[name] = l
	}
	logger, cleanup, err := logging.Setup(logging.Options{
		Level:      level,
		Components: components,
		File:       cfg.Logging.File,
		Quiet:      a.flags.quiet,
		Stderr:     a.stderr,
	})
	if err != nil {
		return nil, err
	}
	a.cleanup = cleanup
	return logger.With("identity", cfg.Identity), nil
}

func (a *app) reportConfigError(ctx context.Context, cfg *config.Config, err error) {
	m := a.mailer(cfg)
	m.AddToMessage("logpull did not start: configuration error.")
	m.AddToMessage("")
	m.AddToMessage(err.Error())
	if serr := m.Send(ctx); serr != nil {
		a.logger.Error("configuration error not sent", "error", serr)
	}
}

// mailer returns the operator channel: email when enabled, else the log.
func (a *app) mailer(cfg *config.Config) notify.Mailer {
	n := cfg.Notify
	if !n.Email || n.SMTPAddr == "" || len(n.To) == 0 {
		return notify.NewLogMailer(a.logger)
	}
	return notify.NewSMTPMailer(notify.SMTPConfig{
		Addr:     n.SMTPAddr,
		From:     n.From,
		To:       n.To,
		Subject:  n.Subject,
		Username: n.Username,
		Password: n.Password,
	})
}

// lock takes the single-instance lock for flavor. The --lock-flavor flag
// takes precedence.
func (a *app) lock(cfg *config.Config, flavor string) (*lock.Lock, error) {
	return lock.Acquire(a.lockPath(cfg, flavor))
}

func (a *app) lockPath(cfg *config.Config, flavor string) string {
	if a.flags.lockFlavor != "" {
		flavor = a.flags.lockFlavor
	}
	return home.New(cfg.StateDir).LockPath(cfg.Identity, flavor)
}

// exportMetrics writes the run's registry where configured. Failures are
// logged; they never change the run's outcome.
func (a *app) exportMetrics(ctx context.Context, cfg *config.Config, m *metrics.Metrics) {
	if cfg.Metrics.Textfile == "" && cfg.Metrics.PushgatewayURL == "" {
		return
	}
	instance, err := home.New(cfg.StateDir).InstanceID()
	if err != nil {
		a.logger.Warn("instance id unavailable", "error", err)
		instance, _ = os.Hostname()
	}
	err = m.Export(ctx, metrics.ExportConfig{
		Textfile:       cfg.Metrics.Textfile,
		PushgatewayURL: cfg.Metrics.PushgatewayURL,
		Job:            cfg.Metrics.Job,
		Instance:       instance,
	})
	if err != nil {
		a.logger.Warn("metrics export failed", "error", err)
	}
}

// isConfigError reports whether err should be treated as exit code 1
// configuration failure rather than a run failure.
func isConfigError(err error) bool {
	return errors.Is(err, config.ErrInvalid)
}
