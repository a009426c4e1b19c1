package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jupierce/lcov-import/pkg/collector"
	"github.com/jupierce/lcov-import/pkg/config"
	"github.com/jupierce/lcov-import/pkg/coverage"
	"github.com/jupierce/lcov-import/pkg/discover"
)

const watchScope = "workspace"

var (
	watchDebounce    time.Duration
	watchMetricsAddr string

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Re-collect coverage whenever reports change",
		Long: `Watch the first workspace root for reports matching lcov_files and collect
them again whenever one is created, rewritten or removed. A change that arrives
while a collection is running cancels that collection and starts a new one.

Changes to lcov_files and workspace_roots in the config file are picked up
without a restart.
Prometheus metrics are served on --metrics-addr when set.`,
		Example: `  lcov-import watch --metrics-addr :9090`,
		Args:    cobra.NoArgs,
		RunE:    runWatch,
	}
)

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "Wait this long for writes to settle before collecting")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address; overrides metrics.addr")
	rootCmd.AddCommand(watchCmd)
}

// watchSession keeps the current report set of a watch run and re-collects it
// on change
type watchSession struct {
	a         *app
	ctx       context.Context
	scheduler *collector.Scheduler

	mu      sync.Mutex
	cfg     *config.Config
	reports map[string]struct{}
	watcher *discover.Watcher
	closed  bool

	// collected, when set, receives every completed collection
	collected func(*collector.Result)

	runs sync.WaitGroup
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.cfg.RequireReports(); err != nil {
		return fmt.Errorf("%w: set lcov_files to watch", err)
	}

	ctx := cmdContext(cmd)
	s := &watchSession{
		a:         a,
		ctx:       ctx,
		scheduler: collector.NewScheduler(a.collector()),
		cfg:       a.cfg,
		reports:   make(map[string]struct{}),
	}

	addr := watchMetricsAddr
	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}
	if addr != "" {
		stop := serveMetrics(addr, a)
		defer stop()
	}

	// load failures are already logged by the bridge
	if a.cfg.Demangler.Module != "" {
		_ = a.bridge.Load(ctx)
	}

	if err := s.restart(a.cfg); err != nil {
		return err
	}
	defer s.close()

	a.loader.Watch(s.configChanged)

	a.logger.Info("Watching %s for %v", a.cfg.PrimaryRoot(), a.cfg.LCOVFiles)
	<-ctx.Done()
	a.logger.Info("Stopping watch")
	return nil
}

// restart discovers the reports of cfg, replaces the file watcher and runs a
// full collection
func (s *watchSession) restart(cfg *config.Config) error {
	matcher, err := discover.Compile(cfg.LCOVFiles)
	if err != nil {
		return fmt.Errorf("compile report patterns: %w", err)
	}
	files, err := matcher.Find(cfg.PrimaryRoot())
	if err != nil {
		return fmt.Errorf("discover reports: %w", err)
	}

	watcher, err := discover.NewWatcher(cfg.PrimaryRoot(), matcher, watchDebounce, discover.Handlers{
		Changed: s.reportsChanged,
		Removed: s.reportRemoved,
	}, s.a.logger)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Start(); err != nil {
		watcher.Close()
		return fmt.Errorf("start watcher: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return watcher.Close()
	}
	old := s.watcher
	s.watcher = watcher
	s.cfg = cfg
	s.reports = make(map[string]struct{}, len(files))
	for _, f := range files {
		s.reports[f] = struct{}{}
	}
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.a.logger.Warning("Close previous watcher: %v", err)
		}
	}

	s.refresh()
	return nil
}

func (s *watchSession) close() {
	s.scheduler.Cancel(watchScope)

	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.closed = true
	s.mu.Unlock()

	if w != nil {
		w.Close()
	}
	s.runs.Wait()
}

func (s *watchSession) reportsChanged(paths []string) {
	s.mu.Lock()
	for _, p := range paths {
		s.reports[p] = struct{}{}
	}
	s.mu.Unlock()

	s.a.logger.Debug("Reports changed: %v", paths)
	s.refresh()
}

func (s *watchSession) reportRemoved(path string) {
	s.mu.Lock()
	_, known := s.reports[path]
	delete(s.reports, path)
	s.mu.Unlock()

	if known {
		s.a.logger.Debug("Report removed: %s", path)
		s.refresh()
	}
}

// configChanged applies a reloaded configuration. Workspace roots always take
// effect for the next collection; the watcher is only rebuilt when the report
// patterns or the primary root changed. If the rebuild fails the previous
// watcher and report set are kept.
func (s *watchSession) configChanged(cfg *config.Config, err error) {
	if s.ctx.Err() != nil {
		return
	}
	if err != nil {
		s.a.logger.Warning("Reload config: %v", err)
		return
	}
	applyFlags(cfg)

	s.mu.Lock()
	prev := s.cfg
	s.mu.Unlock()

	if prev.ReportsChanged(cfg) {
		if err := cfg.RequireReports(); err != nil {
			s.a.logger.Warning("Ignoring report pattern change: %v", err)
			kept := *cfg
			kept.LCOVFiles = prev.LCOVFiles
			cfg = &kept
		}
	}

	if prev.ReportsChanged(cfg) || prev.PrimaryRoot() != cfg.PrimaryRoot() {
		s.a.logger.Info("Watching %s for %v", cfg.PrimaryRoot(), cfg.LCOVFiles)
		err := s.restart(cfg)
		if err == nil {
			return
		}
		s.a.logger.Error("Apply config change: %v", err)
		kept := *cfg
		kept.LCOVFiles = prev.LCOVFiles
		cfg = &kept
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	if !slices.Equal(prev.WorkspaceRoots, cfg.WorkspaceRoots) {
		s.a.logger.Info("Workspace roots changed to %v", cfg.WorkspaceRoots)
		s.refresh()
	}
}

// request builds a collection request over the current report set and roots
func (s *watchSession) request() collector.Request {
	s.mu.Lock()
	paths := make([]string, 0, len(s.reports))
	for p := range s.reports {
		paths = append(paths, p)
	}
	roots := slices.Clone(s.cfg.WorkspaceRoots)
	s.mu.Unlock()

	sort.Strings(paths)
	return collector.Request{
		Scope:   watchScope,
		Reports: collector.Files(paths),
		Roots:   roots,
	}
}

// refresh starts a collection of the current report set in the background.
// A running collection of the same set is superseded.
func (s *watchSession) refresh() {
	if s.ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.runs.Add(1)
	s.mu.Unlock()

	req := s.request()

	go func() {
		defer s.runs.Done()

		start := time.Now()
		result, err := s.scheduler.Run(s.ctx, req)
		switch {
		case errors.Is(err, collector.ErrSuperseded), errors.Is(err, context.Canceled):
			return
		case err != nil:
			s.a.logger.Error("Collect coverage: %v", err)
			return
		}

		var lines coverage.Counts
		for _, f := range result.Files {
			lines = addCounts(lines, f.Lines)
		}
		s.a.logger.Success("Collected %d files from %d/%d reports in %s, lines %s",
			len(result.Files), result.Summary.SuccessfulReports, result.Summary.TotalReports,
			time.Since(start).Round(time.Millisecond), countCell(lines))

		if s.collected != nil {
			s.collected(result)
		}
	}()
}

// serveMetrics serves the default Prometheus registry on addr until the
// returned stop function is called
func serveMetrics(addr string, a *app) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.logger.Info("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		<-done
	}
}
