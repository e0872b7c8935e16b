// Package workspace manages the runbox runtime directory structure.
// All runtime state (staging dirs, collected artifacts, history database,
// logs, skill definitions) is consolidated under a single workspace root,
// making runbox portable.
//
// Default workspace: ~/.runbox/workspace (configurable via config or the
// RUNBOX_WORKSPACE env var).
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Default workspace location relative to user home directory.
const defaultRelativePath = ".runbox/workspace"

// Workspace manages all runbox runtime directories and derived paths.
type Workspace struct {
	Root string

	mu      sync.Mutex
	created map[string]bool // tracks which directories have been ensured
}

// New creates a Workspace rooted at the given path.
// It resolves ~ to the user's home directory and creates the root directory
// with appropriate permissions if it does not exist.
func New(root string) (*Workspace, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}

	w := &Workspace{
		Root:    resolved,
		created: make(map[string]bool),
	}

	if err := w.ensureDir(resolved, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	return w, nil
}

// Default creates a Workspace at ~/.runbox/workspace.
func Default() (*Workspace, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	return New(filepath.Join(home, defaultRelativePath))
}

// --- Top-level directory accessors ---

// StagingDir returns <root>/staging/. Ephemeral per-invocation input and
// output directories live here.
func (w *Workspace) StagingDir() string {
	return w.dir("staging")
}

// ArtifactsDir returns <root>/artifacts/. Durable copies of collected
// artifacts, one subdirectory per invocation.
func (w *Workspace) ArtifactsDir() string {
	return w.dir("artifacts")
}

// SkillsDir returns <root>/skills/. Stores skill definition Markdown files.
func (w *Workspace) SkillsDir() string {
	return w.dir("skills")
}

// DataDir returns <root>/data/. Persistent data (history database).
func (w *Workspace) DataDir() string {
	return w.dir("data")
}

// LogsDir returns <root>/logs/. Application log files.
func (w *Workspace) LogsDir() string {
	return w.dir("logs")
}

// --- Derived paths ---

// ConfigPath returns <root>/config.yaml.
func (w *Workspace) ConfigPath() string {
	return filepath.Join(w.Root, "config.yaml")
}

// HistoryDBPath returns <root>/data/history.db, the default SQLite path
// for the execution history store.
func (w *Workspace) HistoryDBPath() string {
	return filepath.Join(w.DataDir(), "history.db")
}

// ArtifactDir returns <root>/artifacts/<invocationID>/.
func (w *Workspace) ArtifactDir(invocationID string) string {
	p := filepath.Join(w.ArtifactsDir(), sanitizeName(invocationID))
	_ = w.ensureDir(p, 0750)
	return p
}

// --- Cleanup ---

// CleanStaging removes all contents of the staging directory. Live
// invocations clean up after themselves; this reaps leftovers from
// crashes.
func (w *Workspace) CleanStaging() error {
	dir := filepath.Join(w.Root, "staging")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading staging dir: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("removing staging entry %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// EnsureAll creates all standard workspace directories.
// Call this during first startup.
func (w *Workspace) EnsureAll() error {
	dirs := []string{
		w.StagingDir(),
		w.ArtifactsDir(),
		w.SkillsDir(),
		w.DataDir(),
		w.LogsDir(),
	}
	for _, d := range dirs {
		if err := w.ensureDir(d, 0750); err != nil {
			return err
		}
	}
	return nil
}

// --- Internal helpers ---

// dir returns an absolute path under the workspace root and ensures the directory exists.
func (w *Workspace) dir(name string) string {
	p := filepath.Join(w.Root, name)
	_ = w.ensureDir(p, 0750)
	return p
}

// ensureDir creates a directory if it doesn't already exist.
// Uses a cache to avoid redundant stat/mkdir calls.
func (w *Workspace) ensureDir(path string, perm os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.created[path] {
		return nil
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	w.created[path] = true
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// sanitizeName replaces path separator characters to prevent directory traversal.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	return name
}
