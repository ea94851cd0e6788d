package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b_edit.yaml", "a_create.yml", "notes.txt", "nested/c_delete.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("name: x\n"), 0o644))
	}

	files, err := FindScenarios(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a_create.yml"),
		filepath.Join(dir, "b_edit.yaml"),
		filepath.Join(dir, "nested", "c_delete.yaml"),
	}, files)

	files, err = FindScenarios(dir, "*_edit")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b_edit.yaml")}, files)

	_, err = FindScenarios(dir, "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

// copyScenario places a shipped scenario into a fresh directory without its
// golden file.
func copyScenario(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), name+".yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestRunFile_UpdateThenCompare(t *testing.T) {
	ctx := context.Background()
	path := copyScenario(t, "create_then_echo")

	report := RunFile(ctx, path, SuiteOptions{})
	assert.True(t, report.Pass, "no golden file: judged by assertions: %v", report.Errors)
	assert.Equal(t, "create_then_echo", report.Name)

	report = RunFile(ctx, path, SuiteOptions{Update: true})
	require.True(t, report.Pass, "errors: %v", report.Errors)
	assert.True(t, report.GoldenUpdated)
	assert.FileExists(t, GoldenPath(path))

	shipped, err := os.ReadFile(filepath.Join(GoldenDir, "create_then_echo.golden"))
	require.NoError(t, err)
	written, err := os.ReadFile(GoldenPath(path))
	require.NoError(t, err)
	assert.Equal(t, string(shipped), string(written))

	report = RunFile(ctx, path, SuiteOptions{})
	assert.True(t, report.Pass, "errors: %v", report.Errors)

	require.NoError(t, os.WriteFile(GoldenPath(path), []byte("{}\n"), 0o644))
	report = RunFile(ctx, path, SuiteOptions{})
	assert.False(t, report.Pass)
	assert.Contains(t, report.Errors, "trace does not match golden file (run with --update to regenerate)")
}

func TestRunFile_LoadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: broken\n"), 0o644))

	report := RunFile(context.Background(), path, SuiteOptions{})
	assert.False(t, report.Pass)
	assert.Equal(t, "broken.yaml", report.Name)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "failed to load scenario")
}

func TestRunSuite(t *testing.T) {
	var seen []string
	suite, err := RunSuite(context.Background(), filepath.Join("testdata", "scenarios"),
		SuiteOptions{Filter: "*_rolls_back"},
		func(r ScenarioReport) { seen = append(seen, r.Name) })
	require.NoError(t, err)

	assert.Equal(t, 1, suite.Total)
	assert.Equal(t, 1, suite.Passed)
	assert.Equal(t, 0, suite.Failed)
	assert.Equal(t, []string{"failed_write_rolls_back"}, seen)
}

func TestRunSuite_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	suite, err := RunSuite(ctx, filepath.Join("testdata", "scenarios"), SuiteOptions{}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, suite.Scenarios)
	assert.Positive(t, suite.Total)
}
