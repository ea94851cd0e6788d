package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tasksync/internal/engine"
	"github.com/roach88/tasksync/internal/model"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(map[string]string{"deleted": "p1"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"deleted": "p1"}, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("NOT_FOUND", "project not in local list", map[string]string{"project": "p9"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "project not in local list", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error("REMOTE_WRITE", "write failed", map[string]string{"op": "set"}))
	assert.Equal(t, "Error [REMOTE_WRITE]: write failed\n", buf.String(), "details only in verbose mode")

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Error("REMOTE_WRITE", "write failed", map[string]string{"op": "set"}))
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_Done(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}
	require.NoError(t, formatter.Done("Deleted project p1", map[string]string{"deleted": "p1"}))
	assert.Equal(t, "Deleted project p1\n", buf.String())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			diag := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    out,
				ErrWriter: diag,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("attached %s", "u1")

			assert.Empty(t, out.String(), "diagnostics never corrupt JSON output")
			if tt.wantLog {
				assert.Equal(t, "attached u1\n", diag.String())
			} else {
				assert.Empty(t, diag.String())
			}
		})
	}
}

func TestOutputFormatter_ProjectsTable(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	projects := []model.Project{
		{ID: "p1", Title: "Launch", Status: model.StatusInProgress, Tasks: []model.ProjectTask{
			{ID: "t1", Title: "a", IsCompleted: true},
			{ID: "t2", Title: "b"},
		}},
		{ID: "p2", Title: "Empty", Status: model.StatusNotStarted},
	}
	require.NoError(t, formatter.Projects(projects))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "PROGRESS")
	assert.Contains(t, string(lines[1]), "1/2")
	assert.Contains(t, string(lines[1]), "50%")
	assert.Contains(t, string(lines[2]), "0/0")
}

func TestOutputFormatter_ProjectsJSONUsesWireKeys(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, formatter.Projects([]model.Project{
		{ID: "p1", Title: "Launch", CreatedAt: created, Status: model.StatusCompleted, OwnerID: "u1"},
	}))

	var resp struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "p1", resp.Data[0]["id"])
	assert.Equal(t, "u1", resp.Data[0]["ownerId"])
	assert.Equal(t, "completed", resp.Data[0]["status"])
}

func TestTaskLine(t *testing.T) {
	task := model.ProjectTask{
		ID:          "t1",
		Title:       "Docs",
		Priority:    model.PriorityHigh,
		IsCompleted: true,
		Assignee:    &model.User{ID: "u2", DisplayName: "bo"},
		Comments:    []model.Comment{{ID: "c1"}},
	}
	assert.Equal(t, "[x] t1 Docs (high) @B 1 comment(s)", taskLine(&task))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(WrapExitError(ExitFailure, "failed", errors.New("x"))))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitCommandError, "x"))))
}

func TestErrorCode(t *testing.T) {
	serr := &engine.SyncError{Code: engine.ErrCodeNotFound, Op: "toggle task", Message: "task not in project"}
	assert.Equal(t, "NOT_FOUND", ErrorCode(mutationFailed("toggle task", serr)))
	assert.Equal(t, "COMMAND", ErrorCode(NewExitError(ExitCommandError, "bad")))
	assert.Equal(t, "FAILURE", ErrorCode(errors.New("boom")))
}

func TestExitError_Message(t *testing.T) {
	err := WrapExitError(ExitFailure, "create project failed", errors.New("boom"))
	assert.Equal(t, "create project failed: boom", err.Error())
	assert.Equal(t, "bare", NewExitError(ExitFailure, "bare").Error())
}
