package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/runbox/internal/config"
	"github.com/jkaninda/runbox/internal/engine"
	"github.com/jkaninda/runbox/internal/history"
	"github.com/jkaninda/runbox/internal/observability"
	"github.com/jkaninda/runbox/internal/skillpack"
	"github.com/jkaninda/runbox/internal/workspace"
)

// SharedComponents holds everything a command needs after initialization:
// config, workspace, history store, observability, and the wired executor.
type SharedComponents struct {
	Config    *config.Config
	Logger    *slog.Logger
	Workspace *workspace.Workspace
	Store     history.Store
	Obs       *observability.Observability
	Executor  engine.Executor
	Backend   string

	cleanups []func()
}

func (s *SharedComponents) addCleanup(fn func()) {
	s.cleanups = append(s.cleanups, fn)
}

// Cleanup runs registered cleanup functions in reverse order.
func (s *SharedComponents) Cleanup() {
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
}

// backendOverrides carries per-command flag overrides into initShared.
type backendOverrides struct {
	Backend      string // --backend flag, overrides config
	Image        string // --image flag, overrides config
	MaxIsolation bool   // --max-isolation flag, container preset
}

// loadConfig resolves the config path from the --config flag, the
// RUNBOX_CONFIG env var, or the default location. Without a config file
// the built-in defaults apply (local backend, workspace-derived SQLite).
func loadConfig() (*config.Config, error) {
	path := goutils.Env("RUNBOX_CONFIG", configPath)
	if path == "" {
		if def := config.DefaultConfigPath(); fileExists(def) {
			path = def
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// initShared wires the shared components. Order matters: workspace first
// (everything else derives paths from it), then observability, then the
// history store, then the backend with its recording and instrumentation
// wrappers. Callers must defer Cleanup.
func initShared(ov backendOverrides) (*SharedComponents, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	var ws *workspace.Workspace
	if cfg.Workspace != "" {
		ws, err = workspace.New(cfg.Workspace)
	} else {
		ws, err = workspace.Default()
	}
	if err != nil {
		return nil, err
	}
	if err := ws.EnsureAll(); err != nil {
		return nil, err
	}

	comps := &SharedComponents{
		Config:    cfg,
		Logger:    logger,
		Workspace: ws,
	}

	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, err
	}
	comps.Obs = obs
	if obs != nil {
		comps.addCleanup(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		})
	}

	store, err := openStore(cfg, ws, logger)
	if err != nil {
		comps.Cleanup()
		return nil, err
	}
	comps.Store = store
	comps.addCleanup(func() { _ = store.Close() })

	backend, executor, err := buildBackend(cfg, ws, logger, ov)
	if err != nil {
		comps.Cleanup()
		return nil, err
	}

	// Wrap inside-out: recording closest to the backend so instrumentation
	// spans cover the history write as well.
	executor = history.NewRecordingExecutor(executor, backend, store, logger)
	if obs != nil && (obs.Metrics != nil || obs.Tracer != nil) {
		executor = observability.Instrument(executor, backend, obs.MetricsOrNil(), obs.TracerOrNil())
	}
	comps.Backend = backend
	comps.Executor = executor

	if obs != nil && cfg.Observability.Health != nil {
		if cfg.Observability.Health.IncludeBackend {
			obs.Health.AddBackendCheck("backend", executor)
		}
		if cfg.Observability.Health.IncludeDB {
			obs.Health.AddCheck("history", store.Ping)
		}
	}

	return comps, nil
}

// openStore opens the execution history store per config. History is always
// on: without explicit config it falls back to SQLite under the workspace.
func openStore(cfg *config.Config, ws *workspace.Workspace, logger *slog.Logger) (history.Store, error) {
	switch cfg.History.DriverName() {
	case history.DriverPostgres:
		pg := cfg.History.Postgres
		return history.OpenPostgres(history.PostgresConfig{
			DSN:             pg.DSN,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
		}, logger)
	default:
		path := ws.HistoryDBPath()
		journalMode := ""
		if cfg.History != nil && cfg.History.SQLite != nil {
			if cfg.History.SQLite.Path != "" {
				path = cfg.History.SQLite.Path
			}
			journalMode = cfg.History.SQLite.JournalMode
		}
		return history.OpenSQLite(history.SQLiteConfig{
			Path:        path,
			JournalMode: journalMode,
		}, logger)
	}
}

// buildBackend constructs the configured execution backend with staging and
// artifact roots anchored in the workspace. Flag overrides win over config.
func buildBackend(cfg *config.Config, ws *workspace.Workspace, logger *slog.Logger, ov backendOverrides) (string, engine.Executor, error) {
	backend := cfg.Engine.Backend
	if ov.Backend != "" {
		backend = ov.Backend
	}

	switch backend {
	case "local":
		return "local", engine.NewLocalExecutor(engine.LocalConfig{
			StagingRoot:    ws.StagingDir(),
			ArtifactsRoot:  ws.ArtifactsDir(),
			MaxOutputBytes: int(cfg.Engine.OutputCap()),
			DrainGrace:     cfg.Engine.DrainGrace(),
		}, logger), nil

	case "container":
		cc := cfg.Engine.Container
		image := ov.Image
		if image == "" && cc != nil {
			image = cc.Image
		}
		if image == "" {
			return "", nil, fmt.Errorf("container backend requires an image (--image flag, RUNBOX_IMAGE env, or engine.container.image in config)")
		}

		var ecfg engine.ContainerConfig
		switch {
		case ov.MaxIsolation:
			ecfg = engine.MaxIsolation(image)
		case cc != nil:
			ecfg = engine.ContainerConfig{
				Image:          image,
				Runtime:        cc.Runtime,
				MemoryMB:       cc.MemoryMB,
				CPUCores:       cc.CPUCores,
				PIDsLimit:      cc.PIDsLimit,
				NetworkAllowed: cc.NetworkAllowed,
				ReadOnlyRootFS: cc.ReadOnlyRootFS,
				TmpfsSizeMB:    cc.TmpfsSizeMB,
				User:           cc.User,
				WorkDir:        cc.WorkDir,
			}
		default:
			ecfg = engine.ContainerConfig{Image: image}
		}
		ecfg.StagingRoot = ws.StagingDir()
		ecfg.ArtifactsRoot = ws.ArtifactsDir()
		ecfg.MaxOutputBytes = int(cfg.Engine.OutputCap())
		ecfg.DrainGrace = cfg.Engine.DrainGrace()
		return "container", engine.NewContainerExecutor(ecfg, logger), nil

	case "":
		return "none", engine.NoopExecutor{}, nil

	default:
		return "", nil, fmt.Errorf("unknown backend %q (expected \"local\" or \"container\")", backend)
	}
}

// loadSkills loads skill packs from the workspace skills directory plus any
// extra configured directories. Per-file load errors are logged, not fatal.
func loadSkills(comps *SharedComponents) (map[string]skillpack.Skill, error) {
	if comps.Config.Skills != nil && !comps.Config.Skills.Enabled {
		return nil, fmt.Errorf("skill packs are disabled in config")
	}
	dirs := []string{comps.Workspace.SkillsDir()}
	if comps.Config.Skills != nil {
		dirs = append(dirs, comps.Config.Skills.Dirs...)
	}
	loader := skillpack.NewLoader(comps.Logger)
	skills, result, err := loader.LoadDirs(dirs)
	if err != nil {
		return nil, err
	}
	for _, le := range result.Errors {
		fmt.Fprintf(os.Stderr, "warning: skipping skill %s: %s\n", le.File, le.Message)
	}
	return skills, nil
}
