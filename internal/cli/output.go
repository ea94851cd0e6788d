package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/roach88/tasksync/internal/codec"
	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/engine"
	"github.com/roach88/tasksync/internal/model"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The operation ran and failed (remote write rejected, not found, ...)
	ExitCommandError = 2 // Command error (bad flags, config, unreachable backend)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ErrorCode returns the code reported for err: the sync error code when err
// wraps an *engine.SyncError, "COMMAND" for command errors, "FAILURE"
// otherwise.
func ErrorCode(err error) string {
	var serr *engine.SyncError
	if errors.As(err, &serr) {
		return string(serr.Code)
	}
	if GetExitCode(err) == ExitCommandError {
		return "COMMAND"
	}
	return "FAILURE"
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // sync error code, "COMMAND" or "FAILURE"
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format. Text output
// prints data with its default formatting.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Done outputs data for JSON and message for text.
func (f *OutputFormatter) Done(message string, data any) error {
	if f.Format == "json" {
		return f.Success(data)
	}
	_, err := fmt.Fprintln(f.Writer, message)
	return err
}

// Report writes err through Error using its code.
func (f *OutputFormatter) Report(err error) error {
	return f.Error(ErrorCode(err), err.Error(), nil)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// Projects outputs a project list: wire documents for JSON, a table for
// text.
func (f *OutputFormatter) Projects(projects []model.Project) error {
	if f.Format == "json" {
		docs := make([]doc.Map, 0, len(projects))
		for _, p := range projects {
			docs = append(docs, codec.EncodeProject(p))
		}
		return f.Success(docs)
	}

	if len(projects) == 0 {
		_, err := fmt.Fprintln(f.Writer, "No projects.")
		return err
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tTASKS\tPROGRESS")
	for i := range projects {
		p := &projects[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%3.0f%%\n",
			p.ID, p.Title, p.Status, p.CompletedCount(), p.TaskCount(), p.Progress()*100)
	}
	return tw.Flush()
}

// Project outputs one project with its tasks.
func (f *OutputFormatter) Project(p model.Project) error {
	if f.Format == "json" {
		return f.Success(codec.EncodeProject(p))
	}

	fmt.Fprintf(f.Writer, "%s  %s [%s]\n", p.ID, p.Title, p.Status)
	if p.Description != "" {
		fmt.Fprintf(f.Writer, "  %s\n", p.Description)
	}
	for i := range p.Tasks {
		fmt.Fprintf(f.Writer, "  %s\n", taskLine(&p.Tasks[i]))
	}
	return nil
}

// Task outputs one task.
func (f *OutputFormatter) Task(t model.ProjectTask) error {
	if f.Format == "json" {
		return f.Success(codec.EncodeTask(t))
	}
	_, err := fmt.Fprintln(f.Writer, taskLine(&t))
	return err
}

func taskLine(t *model.ProjectTask) string {
	box := "[ ]"
	if t.IsCompleted {
		box = "[x]"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s (%s)", box, t.ID, t.Title, t.Priority)
	if t.Assignee != nil {
		fmt.Fprintf(&b, " @%s", t.Assignee.Initials())
	}
	if n := len(t.Comments); n > 0 {
		fmt.Fprintf(&b, " %d comment(s)", n)
	}
	return b.String()
}
