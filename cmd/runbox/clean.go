package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jkaninda/runbox/internal/janitor"
)

var cleanFollow bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove stale staging dirs, expired artifacts, and old records",
	Long: `Sweep the workspace once: leftover staging directories past the staging
max age, artifact directories past the retention window, and history records
past the retention window are removed.

With --follow the sweep repeats on the configured cron schedule until
interrupted.`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanFollow, "follow", false, "keep sweeping on the configured schedule")
}

func runClean(_ *cobra.Command, _ []string) error {
	comps, err := initShared(backendOverrides{})
	if err != nil {
		return err
	}
	defer comps.Cleanup()

	j := janitor.New(
		comps.Workspace.StagingDir(),
		comps.Workspace.ArtifactsDir(),
		comps.Store,
		comps.Config.Janitor,
		comps.Logger,
	)

	ctx := context.Background()
	stats := j.Sweep(ctx)
	fmt.Printf("removed %d staging dir(s), %d artifact dir(s), %d record(s)\n",
		stats.StagingRemoved, stats.ArtifactsRemoved, stats.RecordsPruned)

	if !cleanFollow {
		return nil
	}

	stop, err := j.Start(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "sweeping on schedule %q, press Ctrl-C to stop\n",
		comps.Config.Janitor.CronSchedule())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	stop()
	return nil
}
