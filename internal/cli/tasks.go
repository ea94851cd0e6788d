package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/codec"
	"github.com/roach88/tasksync/internal/model"
)

// TaskOptions holds flags shared by task add and update.
type TaskOptions struct {
	*RootOptions
	Title       string
	Description string
	Priority    string
	Due         string
	Assignee    string
}

func (o *TaskOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Title, "title", "", "task title")
	cmd.Flags().StringVar(&o.Description, "description", "", "task description")
	cmd.Flags().StringVar(&o.Priority, "priority", "", "priority (low|medium|high)")
	cmd.Flags().StringVar(&o.Due, "due", "", "due date (YYYY-MM-DD or RFC 3339); \"none\" clears it")
	cmd.Flags().StringVar(&o.Assignee, "assignee", "", "assignee account id; \"none\" clears it")
}

func (o *TaskOptions) apply(cmd *cobra.Command, t *model.ProjectTask) error {
	flags := cmd.Flags()
	if flags.Changed("title") {
		t.Title = o.Title
	}
	if flags.Changed("description") {
		t.Description = o.Description
	}
	if flags.Changed("priority") {
		p := model.Priority(o.Priority)
		if !p.Valid() {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid priority %q", o.Priority))
		}
		t.Priority = p
	}
	if flags.Changed("due") {
		due, err := parseDue(o.Due)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --due", err)
		}
		t.DueDate = due
	}
	if flags.Changed("assignee") {
		if o.Assignee == "" || o.Assignee == "none" {
			t.Assignee = nil
		} else {
			t.Assignee = &model.User{ID: o.Assignee}
		}
	}
	return nil
}

// NewTaskCommand creates the task command group.
func NewTaskCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Add, update, delete, toggle or comment on tasks",
	}
	cmd.AddCommand(newTaskAddCommand(rootOpts))
	cmd.AddCommand(newTaskUpdateCommand(rootOpts))
	cmd.AddCommand(newTaskDeleteCommand(rootOpts))
	cmd.AddCommand(newTaskToggleCommand(rootOpts))
	cmd.AddCommand(newTaskCommentCommand(rootOpts))
	return cmd
}

func newTaskAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TaskOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "add <project-id>",
		Short: "Append a task to a project",
		Long: `Append a task to a project.

Example:
  tasksync task add 0192... --title "Write docs" --priority high`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t model.ProjectTask
			if err := opts.apply(cmd, &t); err != nil {
				return err
			}
			t.ProjectID = args[0]
			return rootOpts.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				added, err := rt.engine.AddTask(ctx, t, args[0])
				if err != nil {
					return mutationFailed("add task", err)
				}
				return rootOpts.formatter(cmd).Task(added)
			})
		},
	}
	opts.bind(cmd)
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newTaskUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TaskOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "update <project-id> <task-id>",
		Short: "Update fields of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, taskID := args[0], args[1]
			return rootOpts.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				// Unknown ids fall through to the engine, which reports NOT_FOUND.
				t := model.ProjectTask{ID: taskID}
				if p, ok := rt.project(projectID); ok {
					if i := p.TaskIndex(taskID); i >= 0 {
						t = p.Tasks[i]
					}
				}
				if err := opts.apply(cmd, &t); err != nil {
					return err
				}
				if err := rt.engine.UpdateTask(ctx, t, projectID); err != nil {
					return mutationFailed("update task", err)
				}
				return rootOpts.formatter(cmd).Task(t)
			})
		},
	}
	opts.bind(cmd)
	return cmd
}

func newTaskDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id> <task-id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.engine.DeleteTask(ctx, args[1], args[0]); err != nil {
					return mutationFailed("delete task", err)
				}
				return rootOpts.formatter(cmd).Done("Deleted task "+args[1], map[string]string{"deleted": args[1]})
			})
		},
	}
}

func newTaskToggleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <project-id> <task-id>",
		Short: "Flip a task's completion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, taskID := args[0], args[1]
			return rootOpts.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.engine.ToggleTaskCompletion(ctx, taskID, projectID); err != nil {
					return mutationFailed("toggle task", err)
				}
				p, _ := rt.project(projectID)
				if i := p.TaskIndex(taskID); i >= 0 {
					return rootOpts.formatter(cmd).Task(p.Tasks[i])
				}
				return nil
			})
		},
	}
}

func newTaskCommentCommand(rootOpts *RootOptions) *cobra.Command {
	var text, author string
	cmd := &cobra.Command{
		Use:   "comment <project-id> <task-id>",
		Short: "Add a comment to a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, taskID := args[0], args[1]
			return rootOpts.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				c, err := rt.engine.AddComment(ctx, model.Comment{
					Text:   text,
					Author: model.User{DisplayName: author},
				}, taskID, projectID)
				if err != nil {
					return mutationFailed("add comment", err)
				}
				f := rootOpts.formatter(cmd)
				if f.Format == "json" {
					return f.Success(codec.EncodeComment(c))
				}
				return f.Done(fmt.Sprintf("Added comment %s to task %s", c.ID, taskID), nil)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "comment text (required)")
	cmd.Flags().StringVar(&author, "author", "", "author display name")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
