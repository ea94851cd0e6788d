package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, "", cfg.Account)
	assert.Equal(t, "tasksync.db", cfg.SQLite.Path)
	assert.Equal(t, 500*time.Millisecond, cfg.SQLite.PollInterval.Std())
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, "tasksync", cfg.Mongo.Database)
	assert.Equal(t, "documents", cfg.Mongo.Collection)
	assert.Equal(t, "http://localhost:8080", cfg.REST.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.REST.Timeout.Std())
	assert.Equal(t, 5*time.Second, cfg.REST.PollInterval.Std())
	assert.False(t, cfg.Sync.RollbackOnFailure)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB)
	assert.Equal(t, 3, cfg.Log.MaxBackups)
	assert.Equal(t, 28, cfg.Log.MaxAgeDays)
	assert.True(t, cfg.Log.Compress)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "config.yaml", `
backend: sqlite
account: u1
sqlite:
  path: /tmp/x.db
  poll_interval: 2s
sync:
  rollback_on_failure: true
log:
  level: debug
  format: json
`)

	cfg, err := Load(path, WithLookupEnv(noEnv))
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "u1", cfg.Account)
	assert.Equal(t, "/tmp/x.db", cfg.SQLite.Path)
	assert.Equal(t, 2*time.Second, cfg.SQLite.PollInterval.Std())
	assert.True(t, cfg.Sync.RollbackOnFailure)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	// untouched sections keep their defaults
	assert.Equal(t, "tasksync", cfg.Mongo.Database)
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "")

	cfg, err := Load(path, WithLookupEnv(noEnv))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), WithLookupEnv(noEnv))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown backend", "backend: redis\n"},
		{"unknown key", "backned: memory\n"},
		{"unknown nested key", "sqlite:\n  file: x.db\n"},
		{"bad duration", "rest:\n  timeout: soon\n"},
		{"bad url scheme", "rest:\n  base_url: ftp://example.com\n"},
		{"bad log level", "log:\n  level: trace\n"},
		{"non-positive size", "log:\n  max_size_mb: 0\n"},
		{"empty sqlite path", "sqlite:\n  path: \"\"\n"},
		{"malformed yaml", "backend: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "backend: sqlite\naccount: from-file\n")

	cfg, err := Load(path, WithLookupEnv(envMap(map[string]string{
		"TASKSYNC_BACKEND":             "rest",
		"TASKSYNC_ACCOUNT":             "from-env",
		"TASKSYNC_REST_URL":            "https://tasks.example.com",
		"TASKSYNC_ROLLBACK_ON_FAILURE": "true",
		"TASKSYNC_LOG_FILE":            "/var/log/tasksync.log",
	})))
	require.NoError(t, err)

	assert.Equal(t, BackendREST, cfg.Backend)
	assert.Equal(t, "from-env", cfg.Account)
	assert.Equal(t, "https://tasks.example.com", cfg.REST.BaseURL)
	assert.True(t, cfg.Sync.RollbackOnFailure)
	assert.Equal(t, "/var/log/tasksync.log", cfg.Log.File)
}

func TestLoad_EnvValuesAreValidated(t *testing.T) {
	path := writeFile(t, "config.yaml", "")

	_, err := Load(path, WithLookupEnv(envMap(map[string]string{
		"TASKSYNC_ROLLBACK_ON_FAILURE": "maybe",
	})))
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "TASKSYNC_ROLLBACK_ON_FAILURE")

	_, err = Load(path, WithLookupEnv(envMap(map[string]string{
		"TASKSYNC_BACKEND": "postgres",
	})))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("TASKSYNC_ACCOUNT=dotenv-user\n"), 0o600))
	t.Setenv("TASKSYNC_ACCOUNT", "")
	require.NoError(t, os.Unsetenv("TASKSYNC_ACCOUNT"))

	cfg, err := Load(writeFile(t, "config.yaml", ""),
		WithDotEnv(filepath.Join(dir, "absent.env"), dotenv))
	require.NoError(t, err)
	assert.Equal(t, "dotenv-user", cfg.Account)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Backend = BackendMongo
	cfg.Account = "u9"
	cfg.Mongo.Collection = "sync_docs"
	cfg.REST.Timeout = Duration(1500 * time.Millisecond)
	cfg.Log.MaxBackups = 0

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, Save(path, cfg))

	got, err := Load(path, WithLookupEnv(noEnv))
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
