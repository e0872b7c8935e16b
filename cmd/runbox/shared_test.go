package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/jkaninda/runbox/internal/config"
	"github.com/jkaninda/runbox/internal/workspace"
)

func testComponents(t *testing.T) *SharedComponents {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.EnsureAll(); err != nil {
		t.Fatal(err)
	}
	return &SharedComponents{
		Config:    config.Default(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Workspace: ws,
	}
}

// Absent skills config loads from the workspace skills directory.
func TestLoadSkills_NilConfigUsesWorkspaceDir(t *testing.T) {
	comps := testComponents(t)

	skills, err := loadSkills(comps)
	if err != nil {
		t.Fatalf("loadSkills with nil skills config: %v", err)
	}
	if len(skills) != 0 {
		t.Errorf("expected an empty skill set in a fresh workspace, got %d", len(skills))
	}
}

func TestLoadSkills_ExplicitlyDisabled(t *testing.T) {
	comps := testComponents(t)
	comps.Config.Skills = &config.SkillsConfig{Enabled: false}

	if _, err := loadSkills(comps); err == nil {
		t.Error("expected an error when skills are disabled in config")
	}
}
