package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tasksync/internal/config"
	"github.com/roach88/tasksync/internal/remote"
	"github.com/roach88/tasksync/internal/remote/memory"
)

// sharedStore keeps one memory store alive across command invocations.
type sharedStore struct{ remote.Store }

func (sharedStore) Close() error { return nil }

type cliHarness struct {
	t          *testing.T
	store      *memory.Store
	configPath string
	env        map[string]string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	h := &cliHarness{
		t:          t,
		store:      memory.New(),
		configPath: filepath.Join(t.TempDir(), "config.yaml"),
		env:        map[string]string{},
	}
	t.Cleanup(func() { h.store.Close() })
	h.writeConfig("account: u1\nlog:\n  level: error\n")
	return h
}

func (h *cliHarness) writeConfig(content string) {
	h.t.Helper()
	require.NoError(h.t, os.WriteFile(h.configPath, []byte(content), 0o600))
}

// command builds a root command bound to the harness store and config.
func (h *cliHarness) command(ctx context.Context, out io.Writer, args ...string) *cobra.Command {
	opts := &RootOptions{
		LookupEnv: func(k string) (string, bool) {
			v, ok := h.env[k]
			return v, ok
		},
		Open: func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (remote.Store, error) {
			if cfg.Backend == config.BackendMemory {
				return sharedStore{h.store}, nil
			}
			return OpenStore(ctx, cfg, logger)
		},
	}
	cmd := NewRootCommandWith(opts)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--config", h.configPath))
	cmd.SetContext(ctx)
	return cmd
}

// run executes the CLI with args and returns stdout.
func (h *cliHarness) run(args ...string) (string, error) {
	h.t.Helper()
	out := &bytes.Buffer{}
	err := h.command(context.Background(), out, args...).Execute()
	return out.String(), err
}

// lockedBuffer is a bytes.Buffer safe for a writer and a polling reader.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// runJSON executes with --format json and decodes the response data.
func (h *cliHarness) runJSON(args ...string) any {
	h.t.Helper()
	out, err := h.run(append(args, "--format", "json")...)
	require.NoError(h.t, err, out)

	var resp CLIResponse
	require.NoError(h.t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(h.t, "ok", resp.Status, out)
	return resp.Data
}

func (h *cliHarness) runObject(args ...string) map[string]any {
	h.t.Helper()
	data, ok := h.runJSON(args...).(map[string]any)
	require.True(h.t, ok)
	return data
}

func (h *cliHarness) runList(args ...string) []any {
	h.t.Helper()
	data, ok := h.runJSON(args...).([]any)
	require.True(h.t, ok)
	return data
}
