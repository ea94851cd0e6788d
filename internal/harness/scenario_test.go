package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "sign in and attach"
account: u1
steps:
  - do: sign_in
  - do: attach
assertions:
  - type: titles
    titles: []
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, "u1", s.Account)
	require.Len(t, s.Steps, 2)
	assert.Equal(t, StepAttach, s.Steps[1].Do)
	require.Len(t, s.Assertions, 1)
	assert.NotNil(t, s.Assertions[0].Titles)
	assert.Empty(t, s.Assertions[0].Titles)

	start, err := s.start()
	require.NoError(t, err)
	assert.Equal(t, DefaultNow, start)
}

func TestParseScenario_CustomNow(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario + "now: \"2025-06-01T08:30:00Z\"\n"))
	require.NoError(t, err)
	start, err := s.start()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC), start)
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nsteps: [{do: sign_in}]\nassertions: [{type: titles, titles: []}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: n\nsteps: [{do: sign_in}]\nassertions: [{type: titles, titles: []}]\n",
			want: "description is required",
		},
		{
			name: "no steps",
			yaml: "name: n\ndescription: d\nassertions: [{type: titles, titles: []}]\n",
			want: "steps list is required",
		},
		{
			name: "no assertions",
			yaml: "name: n\ndescription: d\nsteps: [{do: sign_in}]\n",
			want: "assertions list is required",
		},
		{
			name: "bad now",
			yaml: "name: n\ndescription: d\nnow: yesterday\nsteps: [{do: sign_in}]\nassertions: [{type: titles, titles: []}]\n",
			want: "now:",
		},
		{
			name: "unknown step",
			yaml: "name: n\ndescription: d\nsteps: [{do: teleport}]\nassertions: [{type: titles, titles: []}]\n",
			want: `unknown step "teleport"`,
		},
		{
			name: "hold on a non-mutation",
			yaml: "name: n\ndescription: d\nsteps: [{do: attach, hold: true, label: x}]\nassertions: [{type: titles, titles: []}]\n",
			want: "attach cannot be held",
		},
		{
			name: "hold without label",
			yaml: "name: n\ndescription: d\nsteps: [{do: delete_project, project: p1, hold: true}]\nassertions: [{type: titles, titles: []}]\n",
			want: "label is required",
		},
		{
			name: "expect_error on held step",
			yaml: "name: n\ndescription: d\nsteps: [{do: delete_project, project: p1, hold: true, label: x, expect_error: NOT_FOUND}]\nassertions: [{type: titles, titles: []}]\n",
			want: "expect_error belongs on the release step",
		},
		{
			name: "release before hold",
			yaml: "name: n\ndescription: d\nsteps: [{do: release, label: x}]\nassertions: [{type: titles, titles: []}]\n",
			want: `release of unknown label "x"`,
		},
		{
			name: "task step without task",
			yaml: "name: n\ndescription: d\nsteps: [{do: toggle_task, project: p1}]\nassertions: [{type: titles, titles: []}]\n",
			want: "project and task are required",
		},
		{
			name: "put without id",
			yaml: "name: n\ndescription: d\nsteps: [{do: put, args: {title: x}}]\nassertions: [{type: titles, titles: []}]\n",
			want: "args.id is required",
		},
		{
			name: "fail_writes without error",
			yaml: "name: n\ndescription: d\nsteps: [{do: fail_writes}]\nassertions: [{type: titles, titles: []}]\n",
			want: "error is required",
		},
		{
			name: "seed without account",
			yaml: "name: n\ndescription: d\nseed: [{project: {id: p1, title: x}}]\nsteps: [{do: sign_in}]\nassertions: [{type: titles, titles: []}]\n",
			want: "seed[0]: account is required",
		},
		{
			name: "titles assertion without list",
			yaml: "name: n\ndescription: d\nsteps: [{do: sign_in}]\nassertions: [{type: titles}]\n",
			want: "titles list is required",
		},
		{
			name: "remote assertion without expectation",
			yaml: "name: n\ndescription: d\nsteps: [{do: sign_in}]\nassertions: [{type: remote, project: p1}]\n",
			want: "expect or absent is required",
		},
		{
			name: "unknown write op",
			yaml: "name: n\ndescription: d\nsteps: [{do: sign_in}]\nassertions: [{type: writes, op: upsert}]\n",
			want: `unknown write op "upsert"`,
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\nsteps: [{do: sign_in}]\nassertions: [{type: vibes}]\n",
			want: `unknown assertion type "vibes"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadScenario_ShippedScenariosAreValid(t *testing.T) {
	files, err := FindScenarios("testdata/scenarios", "")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		s, err := LoadScenario(f)
		require.NoError(t, err, f)
		base := filepath.Base(f)
		assert.Equal(t, base[:len(base)-len(filepath.Ext(base))], s.Name,
			"scenario name must match its file name so golden lookups agree")
	}
}
