// Package janitor periodically removes stale staging directories, expired
// artifacts, and old execution records.
package janitor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/runbox/internal/config"
	"github.com/jkaninda/runbox/internal/history"
)

// stagingPrefix matches per-invocation staging directories.
const stagingPrefix = "runbox-"

// Janitor sweeps the staging and artifact roots on a cron schedule.
// The history store is optional; when nil, record pruning is skipped.
type Janitor struct {
	stagingRoot   string
	artifactsRoot string
	store         history.Store
	cfg           *config.JanitorConfig
	logger        *slog.Logger
	cron          *cron.Cron
}

// SweepStats counts what one sweep removed.
type SweepStats struct {
	StagingRemoved   int
	ArtifactsRemoved int
	RecordsPruned    int64
}

// New creates a Janitor.
func New(stagingRoot, artifactsRoot string, store history.Store, cfg *config.JanitorConfig, logger *slog.Logger) *Janitor {
	return &Janitor{
		stagingRoot:   stagingRoot,
		artifactsRoot: artifactsRoot,
		store:         store,
		cfg:           cfg,
		logger:        logger,
	}
}

// Start schedules the sweep and returns a stop function.
func (j *Janitor) Start(ctx context.Context) (func(), error) {
	c := cron.New()
	_, err := c.AddFunc(j.cfg.CronSchedule(), func() {
		stats := j.Sweep(ctx)
		j.logger.Info("janitor sweep complete",
			slog.Int("staging_removed", stats.StagingRemoved),
			slog.Int("artifacts_removed", stats.ArtifactsRemoved),
			slog.Int64("records_pruned", stats.RecordsPruned),
		)
	})
	if err != nil {
		return nil, err
	}

	j.cron = c
	c.Start()
	j.logger.Info("janitor started",
		slog.String("schedule", j.cfg.CronSchedule()),
		slog.String("retention", j.cfg.Retention().String()),
	)

	return func() {
		stopCtx := c.Stop()
		<-stopCtx.Done()
		j.logger.Info("janitor stopped")
	}, nil
}

// Sweep runs one cleanup pass. Failures on individual entries are logged
// and do not stop the sweep.
func (j *Janitor) Sweep(ctx context.Context) SweepStats {
	now := time.Now()
	stats := SweepStats{
		StagingRemoved:   j.sweepDir(j.stagingRoot, now.Add(-j.cfg.StagingMaxAge()), true),
		ArtifactsRemoved: j.sweepDir(j.artifactsRoot, now.Add(-j.cfg.Retention()), false),
	}

	if j.store != nil {
		n, err := j.store.Prune(ctx, now.Add(-j.cfg.Retention()).UTC())
		if err != nil {
			j.logger.Warn("history prune failed", slog.String("error", err.Error()))
		} else {
			stats.RecordsPruned = n
		}
	}

	return stats
}

// sweepDir removes subdirectories of root modified before the cutoff.
// With requirePrefix, only directories named runbox-* are touched so a
// misconfigured root cannot wipe unrelated data.
func (j *Janitor) sweepDir(root string, cutoff time.Time, requirePrefix bool) int {
	if root == "" {
		return 0
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Warn("janitor cannot read directory",
				slog.String("dir", root),
				slog.String("error", err.Error()),
			)
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if requirePrefix && !strings.HasPrefix(entry.Name(), stagingPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("janitor failed to remove directory",
				slog.String("dir", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}
	return removed
}
