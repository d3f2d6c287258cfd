package main

import (
	"context"
	"time"

	"github.com/aistant/aistdoc/internal/source"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWatchCmd(a *app) *cobra.Command {
	flags := &publishFlags{}
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Publish, then publish again whenever the source changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := prepareJob(flags, a.logger)
			if err != nil {
				return err
			}
			return watchJob(cmd.Context(), job, debounce)
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", durationEnv("AISTDOC_WATCH_DEBOUNCE", source.DefaultDebounce), "quiet period before a change triggers a run")
	return cmd
}

// watchJob runs job once and then on every settled change under its source
// root until ctx is done. A failed run is logged and does not stop watching.
func watchJob(ctx context.Context, job *publishJob, debounce time.Duration) error {
	if _, err := job.run(ctx); err != nil {
		job.logger.Error("initial publish failed", zap.Error(err))
	}
	watcher, err := source.NewWatcher(job.root, debounce, job.logger)
	if err != nil {
		return err
	}
	job.logger.Info("watching for changes", zap.String("root", job.root))
	return watcher.Run(ctx, func(ctx context.Context) error {
		_, err := job.run(ctx)
		return err
	})
}
