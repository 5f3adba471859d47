package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"logpull/internal/config"
	"logpull/internal/envelope"
	"logpull/internal/failure"
	"logpull/internal/home"
	"logpull/internal/locate"
	"logpull/internal/marker"
	"logpull/internal/metrics"
	"logpull/internal/orchestrator"
	"logpull/internal/processed"
	"logpull/internal/publish"
	"logpull/internal/scan"
)

func newPullCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Process pending pull triggers once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := a.load(ctx)
			if err != nil {
				return err
			}
			if err := cfg.CheckDirs(cfg.Pull.Archive); err != nil {
				a.reportConfigError(ctx, cfg, err)
				return err
			}

			l, err := a.lock(cfg, "")
			if err != nil {
				return err
			}
			defer func() { _ = l.Release() }()

			rep, err := pullOnce(ctx, a, cfg)
			if rep != nil {
				if perr := newPrinter(a.flags.output, a.stdout).pullReport(rep); perr != nil {
					a.logger.Warn("print report", "error", perr)
				}
			}
			return err
		},
	}
}

// pullOnce wires one orchestrator from cfg and runs it.
func pullOnce(ctx context.Context, a *app, cfg *config.Config) (*orchestrator.Report, error) {
	opts, closeFn, err := pullOptions(a, cfg)
	if err != nil {
		if isConfigError(err) {
			a.reportConfigError(ctx, cfg, err)
		}
		return nil, err
	}
	defer closeFn()

	orch, err := orchestrator.New(opts)
	if err != nil {
		return nil, err
	}
	rep, err := orch.Run(ctx)
	a.exportMetrics(ctx, cfg, opts.Metrics)
	return rep, err
}

func pullOptions(a *app, cfg *config.Config) (orchestrator.Options, func(), error) {
	hd := home.New(cfg.StateDir)
	noop := func() {}

	disc, err := cfg.Triggers.Discoverer()
	if err != nil {
		return orchestrator.Options{}, noop, err
	}
	scfg, err := cfg.Logs.ScanConfig()
	if err != nil {
		return orchestrator.Options{}, noop, err
	}
	scfg.Logger = a.logger
	loc, err := locate.New(cfg.Logs.LocateConfig())
	if err != nil {
		return orchestrator.Options{}, noop, fmt.Errorf("%w: logs: %w", config.ErrInvalid, err)
	}
	tracker, err := processed.Open(hd.ProcessedPath())
	if err != nil {
		return orchestrator.Options{}, noop, err
	}

	opts := orchestrator.Options{
		Discoverer:  disc,
		Locator:     loc,
		Scanner:     scan.New(scfg),
		Processed:   tracker,
		Failures:    failure.NewHandler(cfg.ErrorDir(), a.logger),
		Markers:     marker.NewStore(hd.MarkerDir()),
		Mailer:      a.mailer(cfg),
		Metrics:     metrics.New("pull"),
		Builder:     envelope.Builder{Enclave: cfg.Enclave},
		Filter:      cfg.Pull.Pipeline(),
		Archive:     cfg.Pull.Archive,
		Incremental: cfg.Pull.Incremental,
		MaxLineSize: cfg.Logs.MaxLineSize,
		Workers:     cfg.Workers,
		DryRun:      a.flags.dryRun,
		Logger:      a.logger,
	}
	if opts.DryRun {
		return opts, noop, nil
	}

	pub, err := publish.Open(cfg.Publish, a.logger)
	if err != nil {
		return orchestrator.Options{}, noop, err
	}
	opts.Deliverer = pub
	return opts, func() {
		if err := pub.Close(); err != nil {
			a.logger.Warn("close publisher", "error", err)
		}
	}, nil
}
