package main

import (
	"context"
	"fmt"

	"github.com/jupierce/lcov-import/pkg/collector"
	"github.com/jupierce/lcov-import/pkg/config"
	"github.com/jupierce/lcov-import/pkg/demangle"
	"github.com/jupierce/lcov-import/pkg/discover"
	"github.com/jupierce/lcov-import/pkg/log"
)

// app holds what every command needs: configuration, the logger and the
// process-wide demangler bridge
type app struct {
	loader *config.Loader
	cfg    *config.Config
	logger *log.Logger
	bridge *demangle.Bridge
}

// newApp loads configuration, applies flag overrides and creates the logger
func newApp() (*app, error) {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	applyFlags(cfg)

	logger, err := createLogger(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.File != "" {
		logger.Debug("Using config file %s", cfg.File)
	}

	return &app{
		loader: loader,
		cfg:    cfg,
		logger: logger,
		bridge: demangle.NewBridge(demangle.FileLoader(cfg.Demangler.Module), logger),
	}, nil
}

func applyFlags(cfg *config.Config) {
	if verbosity != "" {
		cfg.Logging.Level = verbosity
	}
	if logDir != "" {
		cfg.Logging.Dir = logDir
	}
	if maxConcurrency > 0 {
		cfg.Collect.MaxConcurrency = maxConcurrency
	}
	if demanglerPath != "" {
		cfg.Demangler.Module = demanglerPath
	}
}

// createLogger creates a logger from the logging settings
func createLogger(cfg *config.Config) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	logger, err := log.New(level, cfg.Logging.Dir)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	return logger, nil
}

func (a *app) Close() {
	a.logger.Close()
}

// reports returns the explicit report paths when given, otherwise the reports
// matching the configured patterns under the primary workspace root
func (a *app) reports(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if err := a.cfg.RequireReports(); err != nil {
		return nil, fmt.Errorf("%w: set lcov_files or pass report paths", err)
	}

	files, err := discover.Find(a.cfg.PrimaryRoot(), a.cfg.LCOVFiles)
	if err != nil {
		return nil, fmt.Errorf("discover reports: %w", err)
	}
	a.logger.Debug("Discovered %d reports under %s", len(files), a.cfg.PrimaryRoot())
	return files, nil
}

func (a *app) collector() *collector.Collector {
	return collector.NewCollector(a.logger, collector.Options{MaxConcurrency: a.cfg.Collect.MaxConcurrency})
}

// collect runs one collection over the given report paths
func (a *app) collect(ctx context.Context, scope string, paths []string) (*collector.Result, error) {
	return a.collector().Collect(ctx, a.request(scope, paths))
}

func (a *app) request(scope string, paths []string) collector.Request {
	return collector.Request{
		Scope:   scope,
		Reports: collector.Files(paths),
		Roots:   a.cfg.WorkspaceRoots,
	}
}
