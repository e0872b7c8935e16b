package engine

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// staging holds the invocation-private input and output directories. Both
// live under <root>/<invocationID>/ and are removed together on every exit
// path; artifacts are copied out to durable storage first.
type staging struct {
	dir       string // per-invocation root
	inputDir  string
	outputDir string
}

// newStaging creates fresh input and output directories for one invocation.
// base empty = os.TempDir().
func newStaging(base, invocationID string) (*staging, error) {
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "runbox-"+invocationID)
	s := &staging{
		dir:       dir,
		inputDir:  filepath.Join(dir, "input"),
		outputDir: filepath.Join(dir, "output"),
	}
	for _, d := range []string{s.inputDir, s.outputDir} {
		if err := os.MkdirAll(d, 0750); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("creating staging dir %s: %w", d, err)
		}
	}
	return s, nil
}

// stageInputs copies each file into the input directory under its base
// name. No renaming; name collisions are the caller's responsibility.
func (s *staging) stageInputs(files []string) error {
	for _, src := range files {
		dst := filepath.Join(s.inputDir, filepath.Base(src))
		if _, err := copyFile(src, dst); err != nil {
			return fmt.Errorf("staging input %s: %w", src, err)
		}
	}
	return nil
}

// cleanup removes the invocation directory. Best-effort: failures are
// logged, never escalated into the returned result.
func (s *staging) cleanup(logger *slog.Logger) {
	if err := os.RemoveAll(s.dir); err != nil {
		logger.Warn("failed to remove staging dir",
			slog.String("dir", s.dir),
			slog.String("error", err.Error()),
		)
	}
}

// collectArtifacts lists regular files directly inside the output directory
// and copies each to <artifactsRoot>/<invocationID>/. Subdirectories and
// files written elsewhere are invisible to the engine.
func collectArtifacts(outputDir, artifactsRoot, invocationID string) ([]Artifact, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("reading output dir: %w", err)
	}

	var artifacts []Artifact
	durableDir := filepath.Join(artifactsRoot, invocationID)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if len(artifacts) == 0 {
			if err := os.MkdirAll(durableDir, 0750); err != nil {
				return nil, fmt.Errorf("creating artifact dir: %w", err)
			}
		}
		name := entry.Name()
		dst := filepath.Join(durableDir, name)
		size, err := copyFile(filepath.Join(outputDir, name), dst)
		if err != nil {
			return nil, fmt.Errorf("copying artifact %s: %w", name, err)
		}
		artifacts = append(artifacts, Artifact{
			Name:      name,
			Path:      dst,
			MIMEType:  MIMETypeFor(name),
			SizeBytes: size,
		})
	}
	return artifacts, nil
}

// copyFile copies src to dst and returns the number of bytes written.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return n, err
}
