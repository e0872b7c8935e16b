package janitor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jkaninda/runbox/internal/config"
	"github.com/jkaninda/runbox/internal/history"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeDirAged(t *testing.T, parent, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(parent, name)
	if err := os.MkdirAll(path, 0750); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSweep_RemovesStaleStaging(t *testing.T) {
	staging := t.TempDir()
	artifacts := t.TempDir()

	stale := makeDirAged(t, staging, "runbox-stale", 2*time.Hour)
	fresh := makeDirAged(t, staging, "runbox-fresh", time.Minute)
	unrelated := makeDirAged(t, staging, "keep-me", 3*time.Hour)

	j := New(staging, artifacts, nil, &config.JanitorConfig{StagingMaxAgeMin: 60}, testLogger())
	stats := j.Sweep(context.Background())

	if stats.StagingRemoved != 1 {
		t.Errorf("StagingRemoved = %d, want 1", stats.StagingRemoved)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale staging dir survived")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh staging dir removed")
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Error("directory without the staging prefix must not be touched")
	}
}

func TestSweep_RemovesExpiredArtifacts(t *testing.T) {
	staging := t.TempDir()
	artifacts := t.TempDir()

	expired := makeDirAged(t, artifacts, "inv-old", 100*time.Hour)
	kept := makeDirAged(t, artifacts, "inv-new", time.Hour)

	j := New(staging, artifacts, nil, &config.JanitorConfig{RetentionHours: 72}, testLogger())
	stats := j.Sweep(context.Background())

	if stats.ArtifactsRemoved != 1 {
		t.Errorf("ArtifactsRemoved = %d, want 1", stats.ArtifactsRemoved)
	}
	if _, err := os.Stat(expired); !os.IsNotExist(err) {
		t.Error("expired artifact dir survived")
	}
	if _, err := os.Stat(kept); err != nil {
		t.Error("recent artifact dir removed")
	}
}

func TestSweep_PrunesHistory(t *testing.T) {
	db, err := history.OpenSQLite(history.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "history.db"),
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	for _, rec := range []*history.Record{
		{ID: "old", Backend: "local", Status: "completed", Command: []string{"true"}, CreatedAt: now.Add(-100 * time.Hour)},
		{ID: "new", Backend: "local", Status: "completed", Command: []string{"true"}, CreatedAt: now},
	} {
		if err := db.Save(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	j := New(t.TempDir(), t.TempDir(), db, &config.JanitorConfig{RetentionHours: 72}, testLogger())
	stats := j.Sweep(ctx)

	if stats.RecordsPruned != 1 {
		t.Errorf("RecordsPruned = %d, want 1", stats.RecordsPruned)
	}
}

func TestSweep_MissingRootsAreQuiet(t *testing.T) {
	j := New("/nonexistent/staging", "/nonexistent/artifacts", nil, &config.JanitorConfig{}, testLogger())
	stats := j.Sweep(context.Background())
	if stats.StagingRemoved != 0 || stats.ArtifactsRemoved != 0 {
		t.Errorf("stats = %+v, want zeros", stats)
	}
}

func TestStartAndStop(t *testing.T) {
	j := New(t.TempDir(), t.TempDir(), nil, &config.JanitorConfig{Schedule: "@every 1h"}, testLogger())
	stop, err := j.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stop()
}

func TestStart_BadScheduleFails(t *testing.T) {
	j := New(t.TempDir(), t.TempDir(), nil, &config.JanitorConfig{Schedule: "not a schedule"}, testLogger())
	if _, err := j.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}
