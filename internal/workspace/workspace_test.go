package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "workspace")

	ws, err := New(root)
	if err != nil {
		t.Fatalf("New(%q): %v", root, err)
	}
	if ws.Root != root {
		t.Errorf("Root = %q, want %q", ws.Root, root)
	}

	// Root directory should exist.
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root dir not created: %v", err)
	}
}

func TestDirectoryAccessors(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		fn   func() string
		want string
	}{
		{"StagingDir", ws.StagingDir, "staging"},
		{"ArtifactsDir", ws.ArtifactsDir, "artifacts"},
		{"SkillsDir", ws.SkillsDir, "skills"},
		{"DataDir", ws.DataDir, "data"},
		{"LogsDir", ws.LogsDir, "logs"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.fn()
			expected := filepath.Join(ws.Root, tc.want)
			if got != expected {
				t.Errorf("%s() = %q, want %q", tc.name, got, expected)
			}
			// Directory should exist.
			if _, err := os.Stat(got); err != nil {
				t.Errorf("directory not created: %v", err)
			}
		})
	}
}

func TestArtifactDirSanitizes(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	dir := ws.ArtifactDir("../evil/id")
	if filepath.Dir(dir) != ws.ArtifactsDir() {
		t.Errorf("ArtifactDir escaped artifacts root: %q", dir)
	}
}

func TestHistoryDBPath(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	want := filepath.Join(ws.Root, "data", "history.db")
	if got := ws.HistoryDBPath(); got != want {
		t.Errorf("HistoryDBPath = %q, want %q", got, want)
	}
}

func TestCleanStaging(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	leftover := filepath.Join(ws.StagingDir(), "runbox-stale")
	if err := os.MkdirAll(leftover, 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(leftover, "junk"), []byte("x"), 0640); err != nil {
		t.Fatal(err)
	}

	if err := ws.CleanStaging(); err != nil {
		t.Fatalf("CleanStaging: %v", err)
	}

	entries, err := os.ReadDir(ws.StagingDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("staging has %d entries after clean, want 0", len(entries))
	}
}

func TestEnsureAll(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	if err := ws.EnsureAll(); err != nil {
		t.Fatalf("EnsureAll: %v", err)
	}
	for _, d := range []string{"staging", "artifacts", "skills", "data", "logs"} {
		if _, err := os.Stat(filepath.Join(ws.Root, d)); err != nil {
			t.Errorf("%s not created: %v", d, err)
		}
	}
}
