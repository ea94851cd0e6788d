package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "tasksync", cmd.Use)
	assert.Contains(t, cmd.Long, "remote document store")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"watch"},
		{"projects"},
		{"project", "create"},
		{"project", "show"},
		{"project", "update"},
		{"project", "delete"},
		{"task", "add"},
		{"task", "update"},
		{"task", "delete"},
		{"task", "toggle"},
		{"task", "comment"},
		{"login"},
		{"whoami"},
		{"fake-server"},
		{"test"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	require.NotNil(t, cmd.PersistentFlags().Lookup("backend"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("account"))
}

func TestProjectCreateRequiresTitle(t *testing.T) {
	h := newCLIHarness(t)
	_, err := h.run("project", "create")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "title")
}

func TestTaskCommentFlags(t *testing.T) {
	cmd := NewRootCommand()
	commentCmd, _, err := cmd.Find([]string{"task", "comment"})
	require.NoError(t, err)

	require.NotNil(t, commentCmd.Flags().Lookup("text"))
	require.NotNil(t, commentCmd.Flags().Lookup("author"))
}

func TestFakeServerFlags(t *testing.T) {
	cmd := NewRootCommand()
	fakeCmd, _, err := cmd.Find([]string{"fake-server"})
	require.NoError(t, err)

	addrFlag := fakeCmd.Flags().Lookup("addr")
	require.NotNil(t, addrFlag)
	assert.Equal(t, "127.0.0.1:8080", addrFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	h := newCLIHarness(t)
	_, err := h.run("projects", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestUnknownBackend(t *testing.T) {
	h := newCLIHarness(t)
	_, err := h.run("projects", "--backend", "redis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInvalidConfigFile(t *testing.T) {
	h := newCLIHarness(t)
	h.writeConfig("backend: memory\nsync:\n  rollback: yes\n")

	_, err := h.run("projects")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
