// Package config loads tasksync configuration.
//
// Sources, lowest precedence first: schema defaults, the YAML config file,
// variables from a .env file, TASKSYNC_* environment variables. The merged
// document is validated against the embedded CUE schema before it is decoded,
// so unknown keys and out-of-range values are rejected in one place.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
	BackendREST   = "rest"
)

// Config is the decoded configuration.
type Config struct {
	Backend string       `yaml:"backend"`
	Account string       `yaml:"account"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
	Mongo   MongoConfig  `yaml:"mongo"`
	REST    RESTConfig   `yaml:"rest"`
	Sync    SyncConfig   `yaml:"sync"`
	Log     LogConfig    `yaml:"log"`
}

type SQLiteConfig struct {
	Path         string   `yaml:"path"`
	PollInterval Duration `yaml:"poll_interval"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type RESTConfig struct {
	BaseURL      string   `yaml:"base_url"`
	Token        string   `yaml:"token"`
	Timeout      Duration `yaml:"timeout"`
	PollInterval Duration `yaml:"poll_interval"`
}

type SyncConfig struct {
	RollbackOnFailure bool `yaml:"rollback_on_failure"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	parsed, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// envBinding maps an environment variable onto a config key path.
type envBinding struct {
	name string
	path []string
	bool bool
}

var envBindings = []envBinding{
	{name: "TASKSYNC_BACKEND", path: []string{"backend"}},
	{name: "TASKSYNC_ACCOUNT", path: []string{"account"}},
	{name: "TASKSYNC_SQLITE_PATH", path: []string{"sqlite", "path"}},
	{name: "TASKSYNC_MONGO_URI", path: []string{"mongo", "uri"}},
	{name: "TASKSYNC_MONGO_DATABASE", path: []string{"mongo", "database"}},
	{name: "TASKSYNC_REST_URL", path: []string{"rest", "base_url"}},
	{name: "TASKSYNC_REST_TOKEN", path: []string{"rest", "token"}},
	{name: "TASKSYNC_ROLLBACK_ON_FAILURE", path: []string{"sync", "rollback_on_failure"}, bool: true},
	{name: "TASKSYNC_LOG_LEVEL", path: []string{"log", "level"}},
	{name: "TASKSYNC_LOG_FORMAT", path: []string{"log", "format"}},
	{name: "TASKSYNC_LOG_FILE", path: []string{"log", "file"}},
}

type loadOptions struct {
	lookupEnv func(string) (string, bool)
	dotenv    []string
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithLookupEnv replaces os.LookupEnv, for tests.
func WithLookupEnv(fn func(string) (string, bool)) LoadOption {
	return func(o *loadOptions) { o.lookupEnv = fn }
}

// WithDotEnv loads the given .env files into the process environment before
// overrides are read. Missing files are skipped; existing variables win.
func WithDotEnv(paths ...string) LoadOption {
	return func(o *loadOptions) { o.dotenv = paths }
}

// DefaultPath returns $XDG_CONFIG_HOME/tasksync/config.yaml (or the
// platform equivalent).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "tasksync", "config.yaml")
}

// Load reads the config file at path. An empty path uses DefaultPath and
// tolerates its absence; an explicit path must exist.
func Load(path string, opts ...LoadOption) (*Config, error) {
	o := loadOptions{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}

	if err := loadDotEnv(o.dotenv); err != nil {
		return nil, err
	}

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	raw := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(raw, o.lookupEnv); err != nil {
		return nil, err
	}
	return decode(raw)
}

// Parse validates and decodes a YAML document without reading files or the
// environment.
func Parse(data []byte) (*Config, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return decode(raw)
}

// Default returns the schema defaults.
func Default() *Config {
	cfg, err := decode(map[string]any{})
	if err != nil {
		panic(fmt.Sprintf("config: schema defaults are invalid: %v", err))
	}
	return cfg
}

// Save writes cfg to path as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func loadDotEnv(paths []string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func applyEnv(raw map[string]any, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		val, ok := lookup(b.name)
		if !ok {
			continue
		}
		var v any = val
		if b.bool {
			parsed, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalid, b.name, err)
			}
			v = parsed
		}
		if err := setPath(raw, b.path, v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, b.name, err)
		}
	}
	return nil
}

func setPath(m map[string]any, path []string, v any) error {
	for _, key := range path[:len(path)-1] {
		next, ok := m[key]
		if !ok || next == nil {
			child := map[string]any{}
			m[key] = child
			m = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%s is not a mapping", key)
		}
		m = child
	}
	m[path[len(path)-1]] = v
	return nil
}

// decode unifies raw with the schema, fills defaults and decodes the result.
func decode(raw map[string]any) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%w:\n%s", ErrInvalid, cueerrors.Details(err, nil))
	}

	data, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &cfg, nil
}
