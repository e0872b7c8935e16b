// Package skillpack parses reusable command templates from Markdown files
// with YAML frontmatter and resolves them into execution requests.
package skillpack

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadResult summarizes a directory load operation.
type LoadResult struct {
	Loaded int
	Errors []LoadError
}

// LoadError records a per-file parse or validation error.
type LoadError struct {
	File    string
	Message string
}

// Loader parses and validates Markdown skill files.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{logger: logger}
}

// LoadDir scans dir for *.md files, parses and validates each.
// Returns valid skills and a result summary. Returns an error only if the
// directory itself cannot be read.
func (l *Loader) LoadDir(dir string) ([]Skill, *LoadResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("reading skills directory %s: %w", dir, err)
	}

	result := &LoadResult{}
	var skills []Skill

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		skill, err := l.ParseFile(path)
		if err != nil {
			l.logger.Warn("skill parse error",
				slog.String("file", path),
				slog.String("error", err.Error()),
			)
			result.Errors = append(result.Errors, LoadError{File: path, Message: err.Error()})
			continue
		}

		if err := skill.Validate(); err != nil {
			l.logger.Warn("skill validation error",
				slog.String("file", path),
				slog.String("skill", skill.Name),
				slog.String("error", err.Error()),
			)
			result.Errors = append(result.Errors, LoadError{File: path, Message: err.Error()})
			continue
		}

		l.logger.Info("skill loaded",
			slog.String("key", skill.Key),
			slog.String("name", skill.Name),
			slog.String("version", skill.Version),
			slog.String("backend", skill.Backend),
		)

		skills = append(skills, *skill)
		result.Loaded++
	}

	return skills, result, nil
}

// LoadDirs loads skills from multiple directories. Within one run, a key
// defined in an earlier directory wins over later duplicates.
func (l *Loader) LoadDirs(dirs []string) (map[string]Skill, *LoadResult, error) {
	byKey := make(map[string]Skill)
	combined := &LoadResult{}

	for _, dir := range dirs {
		skills, res, err := l.LoadDir(dir)
		if err != nil {
			return nil, nil, err
		}
		combined.Loaded += res.Loaded
		combined.Errors = append(combined.Errors, res.Errors...)
		for _, s := range skills {
			if _, exists := byKey[s.Key]; exists {
				l.logger.Warn("duplicate skill key ignored",
					slog.String("key", s.Key),
					slog.String("file", s.SourceFile),
				)
				continue
			}
			byKey[s.Key] = s
		}
	}

	return byKey, combined, nil
}

// ParseFile reads a Markdown file, extracts YAML frontmatter and body,
// and checks the content hash when one is declared.
func (l *Loader) ParseFile(path string) (*Skill, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)

	// Expect first line to be "---".
	if !scanner.Scan() {
		return nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != "---" {
		return nil, fmt.Errorf("missing YAML frontmatter (file must start with ---)")
	}

	// Read until closing "---".
	var frontmatterLines []string
	foundClose := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			foundClose = true
			break
		}
		frontmatterLines = append(frontmatterLines, line)
	}
	if !foundClose {
		return nil, fmt.Errorf("unclosed YAML frontmatter (missing closing ---)")
	}

	// Read remaining body as description.
	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	frontmatter := strings.Join(frontmatterLines, "\n")
	skill := &Skill{}
	if err := yaml.Unmarshal([]byte(frontmatter), skill); err != nil {
		return nil, fmt.Errorf("parsing YAML frontmatter: %w", err)
	}

	body := strings.Join(bodyLines, "\n")
	if err := skill.ValidateIntegrity(body); err != nil {
		return nil, err
	}

	skill.Description = strings.TrimSpace(body)
	skill.SourceFile = path
	skill.Key = filenameStem(path)

	return skill, nil
}

// Keys returns the sorted skill keys of a loaded map.
func Keys(skills map[string]Skill) []string {
	keys := make([]string, 0, len(skills))
	for k := range skills {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// filenameStem returns the filename without extension.
func filenameStem(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}
