package skillpack

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jkaninda/runbox/internal/engine"
)

// Skill is a reusable command template parsed from a Markdown file with
// YAML frontmatter. The Markdown body is the human-readable description.
type Skill struct {
	// Identity.
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Author  string `yaml:"author"`

	// Execution template.
	Command        []string          `yaml:"command"`
	WorkingDir     string            `yaml:"working_dir"`
	Env            map[string]string `yaml:"env"`
	InputFiles     []string          `yaml:"input_files"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	Backend        string            `yaml:"backend"` // "local", "container", or empty for the configured default.

	// Integrity.
	ContentHash string `yaml:"content_hash"`

	// Set by loader (not in YAML).
	Description string `yaml:"-"`
	SourceFile  string `yaml:"-"`
	Key         string `yaml:"-"` // Derived from filename stem.
}

// Timeout returns the skill's execution timeout with a default of 2m.
func (s *Skill) Timeout() time.Duration {
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	return 2 * time.Minute
}

// Request builds an execution request from the skill template. Extra args
// are appended to the command; extra env entries override template entries.
func (s *Skill) Request(args []string, env map[string]string) engine.Request {
	cmd := make([]string, 0, len(s.Command)+len(args))
	cmd = append(cmd, s.Command...)
	cmd = append(cmd, args...)

	merged := make(map[string]string, len(s.Env)+len(env))
	for k, v := range s.Env {
		merged[k] = v
	}
	for k, v := range env {
		merged[k] = v
	}

	return engine.Request{
		Command:       cmd,
		WorkingDir:    s.WorkingDir,
		Env:           merged,
		InputFiles:    append([]string(nil), s.InputFiles...),
		Timeout:       s.Timeout(),
		CaptureOutput: true,
	}
}

// ValidateIntegrity checks the content hash against the Markdown body.
func (s *Skill) ValidateIntegrity(body string) error {
	if s.ContentHash == "" {
		return nil // No hash = no integrity check.
	}

	hash := sha256.Sum256([]byte(body))
	computed := "sha256:" + hex.EncodeToString(hash[:])

	// Support both "sha256:..." and raw hex formats.
	expected := s.ContentHash
	if !strings.HasPrefix(expected, "sha256:") {
		expected = "sha256:" + expected
	}

	if computed != expected {
		return fmt.Errorf("content_hash mismatch: expected %s, got %s", s.ContentHash, computed)
	}
	return nil
}

// semverRe matches basic semver (major.minor.patch, optional pre-release/build).
var semverRe = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(-[a-zA-Z0-9.]+)?(\+[a-zA-Z0-9.]+)?$`)

// Validate checks that a skill has all required fields and valid values.
func (s *Skill) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Command) == 0 {
		return fmt.Errorf("command must list at least the program name")
	}
	if s.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must not be negative")
	}
	switch s.Backend {
	case "", "local", "container":
		// valid
	default:
		return fmt.Errorf("invalid backend %q (must be local or container)", s.Backend)
	}
	if s.Version != "" && !semverRe.MatchString(s.Version) {
		return fmt.Errorf("version %q is not valid semver (expected MAJOR.MINOR.PATCH)", s.Version)
	}
	return nil
}
