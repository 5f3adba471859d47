package main

import (
	"context"

	"github.com/spf13/cobra"

	"logpull/internal/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run pulls on a schedule and whenever triggers arrive",
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

			w, err := watch.New(watch.Options{
				Dir:      cfg.Triggers.Dir,
				Pattern:  cfg.Triggers.Pattern,
				Schedule: cfg.Watch.Schedule,
				Debounce: cfg.Watch.Debounce,
				LockPath: a.lockPath(cfg, ""),
				Logger:   a.logger,
				Run: func(ctx context.Context, reason string) error {
					rep, err := pullOnce(ctx, a, cfg)
					if rep != nil {
						a.logger.Info("pull finished", "reason", reason, "run", rep.RunID,
							"delivered", rep.Delivered, "failed", rep.Failed())
					}
					return err
				},
			})
			if err != nil {
				return err
			}
			return w.Start(ctx)
		},
	}
}
