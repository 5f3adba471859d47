package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"logpull/internal/check"
	"logpull/internal/config"
	"logpull/internal/envelope"
	"logpull/internal/failure"
	"logpull/internal/home"
	"logpull/internal/marker"
	"logpull/internal/metrics"
	"logpull/internal/publish"
	"logpull/internal/scan"
)

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the configured [[check]] targets once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := a.load(ctx)
			if err != nil {
				return err
			}
			if len(cfg.Checks) == 0 {
				err := fmt.Errorf("%w: no [[check]] targets configured", config.ErrInvalid)
				a.reportConfigError(ctx, cfg, err)
				return err
			}
			hd := home.New(cfg.StateDir)
			if err := hd.EnsureExists(); err != nil {
				err = fmt.Errorf("%w: %w", config.ErrInvalid, err)
				a.reportConfigError(ctx, cfg, err)
				return err
			}

			l, err := a.lock(cfg, "check")
			if err != nil {
				return err
			}
			defer func() { _ = l.Release() }()

			scfg, err := cfg.Logs.ScanConfig()
			if err != nil {
				a.reportConfigError(ctx, cfg, err)
				return err
			}
			scfg.Logger = a.logger

			opts := check.Options{
				Checks:      cfg.Checks,
				Scanner:     scan.New(scfg),
				Markers:     marker.NewStore(hd.MarkerDir()),
				Failures:    failure.NewHandler(cfg.ErrorDir(), a.logger),
				Mailer:      a.mailer(cfg),
				Metrics:     metrics.New("check"),
				Builder:     envelope.Builder{Enclave: cfg.Enclave},
				MaxLineSize: cfg.Logs.MaxLineSize,
				DryRun:      a.flags.dryRun,
				Logger:      a.logger,
			}
			if !opts.DryRun {
				pub, err := publish.Open(cfg.Publish, a.logger)
				if err != nil {
					a.reportConfigError(ctx, cfg, err)
					return err
				}
				defer func() {
					if err := pub.Close(); err != nil {
						a.logger.Warn("close publisher", "error", err)
					}
				}()
				opts.Deliverer = pub
			}

			runner, err := check.New(opts)
			if err != nil {
				if errors.Is(err, config.ErrInvalid) {
					a.reportConfigError(ctx, cfg, err)
				}
				return err
			}
			rep, err := runner.Run(ctx)
			a.exportMetrics(ctx, cfg, opts.Metrics)
			if rep != nil {
				if perr := newPrinter(a.flags.output, a.stdout).checkReport(rep); perr != nil {
					a.logger.Warn("print report", "error", perr)
				}
			}
			return err
		},
	}
}
