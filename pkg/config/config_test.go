package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".lcov-import.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := Load(path)
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)

	assert.Empty(t, cfg.LCOVFiles)
	assert.Equal(t, []string{wd}, cfg.WorkspaceRoots)
	assert.Equal(t, defaultMaxConcurrency, cfg.Collect.MaxConcurrency)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Demangler.Module)
	assert.Equal(t, path, cfg.File)
	assert.ErrorIs(t, cfg.RequireReports(), ErrNoReports)
}

func TestLoad_SingleStringPattern(t *testing.T) {
	cfg, err := Load(writeConfig(t, "lcov_files: coverage/lcov.info\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"coverage/lcov.info"}, cfg.LCOVFiles)
	assert.NoError(t, cfg.RequireReports())
}

func TestLoad_PatternList(t *testing.T) {
	path := writeConfig(t, `
lcov_files:
  - "**/lcov.info"
  - " build/*.info "
  - ""
workspace_roots:
  - /ws/a
  - sub
demangler:
  module: /opt/demangle.wasm
collect:
  max_concurrency: 3
metrics:
  addr: ":9090"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"**/lcov.info", "build/*.info"}, cfg.LCOVFiles)
	assert.Equal(t, []string{"/ws/a", filepath.Join(filepath.Dir(path), "sub")}, cfg.WorkspaceRoots)
	assert.Equal(t, "/opt/demangle.wasm", cfg.Demangler.Module)
	assert.Equal(t, 3, cfg.Collect.MaxConcurrency)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "/ws/a", cfg.PrimaryRoot())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("LCOV_IMPORT_COLLECT_MAX_CONCURRENCY", "2")
	t.Setenv("LCOV_IMPORT_DEMANGLER_MODULE", "/env/demangle.wasm")
	t.Setenv("LCOV_IMPORT_LCOV_FILES", "out/*.info")

	cfg, err := Load(writeConfig(t, "collect:\n  max_concurrency: 5\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Collect.MaxConcurrency)
	assert.Equal(t, "/env/demangle.wasm", cfg.Demangler.Module)
	assert.Equal(t, []string{"out/*.info"}, cfg.LCOVFiles)
}

func TestLoad_InvalidConcurrency(t *testing.T) {
	_, err := Load(writeConfig(t, "collect:\n  max_concurrency: 0\n"))
	assert.ErrorIs(t, err, ErrInvalidConcurrency)
}

func TestLoad_InvalidPatternType(t *testing.T) {
	_, err := Load(writeConfig(t, "lcov_files:\n  nested: true\n"))
	assert.Error(t, err)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestReportsChanged(t *testing.T) {
	a := &Config{LCOVFiles: []string{"a.info"}, WorkspaceRoots: []string{"/x"}}
	b := &Config{LCOVFiles: []string{"a.info"}, WorkspaceRoots: []string{"/y"}}
	c := &Config{LCOVFiles: []string{"a.info", "b.info"}}

	assert.False(t, a.ReportsChanged(b))
	assert.True(t, a.ReportsChanged(c))
	assert.True(t, a.ReportsChanged(nil))
}
