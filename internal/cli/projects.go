package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/model"
)

// NewProjectsCommand creates the projects command.
func NewProjectsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List the synchronized projects",
		Long: `List the projects of the configured account.

Example:
  tasksync projects
  tasksync projects --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				return rootOpts.formatter(cmd).Projects(rt.engine.Current())
			})
		},
	}
}

// ProjectOptions holds flags shared by project create and update.
type ProjectOptions struct {
	*RootOptions
	Title       string
	Description string
	Status      string
	Due         string
	IconName    string
	IconColor   string
}

func (o *ProjectOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Title, "title", "", "project title")
	cmd.Flags().StringVar(&o.Description, "description", "", "project description")
	cmd.Flags().StringVar(&o.Status, "status", "", "status (notStarted|inProgress|completed)")
	cmd.Flags().StringVar(&o.Due, "due", "", "due date (YYYY-MM-DD or RFC 3339); \"none\" clears it")
	cmd.Flags().StringVar(&o.IconName, "icon", "", "icon name")
	cmd.Flags().StringVar(&o.IconColor, "icon-color", "", "icon color")
}

// apply copies the flags the user set onto p.
func (o *ProjectOptions) apply(cmd *cobra.Command, p *model.Project) error {
	flags := cmd.Flags()
	if flags.Changed("title") {
		p.Title = o.Title
	}
	if flags.Changed("description") {
		p.Description = o.Description
	}
	if flags.Changed("status") {
		status := model.Status(o.Status)
		if !status.Valid() {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid status %q", o.Status))
		}
		p.Status = status
	}
	if flags.Changed("due") {
		due, err := parseDue(o.Due)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --due", err)
		}
		p.DueDate = due
	}
	if flags.Changed("icon") {
		p.IconName = o.IconName
	}
	if flags.Changed("icon-color") {
		p.IconColor = o.IconColor
	}
	return nil
}

// NewProjectCommand creates the project command group.
func NewProjectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create, show, update or delete a project",
	}
	cmd.AddCommand(newProjectCreateCommand(rootOpts))
	cmd.AddCommand(newProjectShowCommand(rootOpts))
	cmd.AddCommand(newProjectUpdateCommand(rootOpts))
	cmd.AddCommand(newProjectDeleteCommand(rootOpts))
	return cmd
}

func newProjectCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProjectOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		Long: `Create a project owned by the configured account.

Example:
  tasksync project create --title "Launch" --due 2026-12-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var p model.Project
			if err := opts.apply(cmd, &p); err != nil {
				return err
			}
			return rootOpts.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				created, err := rt.engine.CreateProject(ctx, p)
				if err != nil {
					return mutationFailed("create project", err)
				}
				return rootOpts.formatter(cmd).Project(created)
			})
		},
	}
	opts.bind(cmd)
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newProjectShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				p, ok := rt.project(args[0])
				if !ok {
					return NewExitError(ExitFailure, fmt.Sprintf("project %s not found", args[0]))
				}
				return rootOpts.formatter(cmd).Project(p)
			})
		},
	}
}

func newProjectUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProjectOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "update <project-id>",
		Short: "Update fields of a project",
		Long: `Update the fields given as flags; the others keep their synced values.

Example:
  tasksync project update 0192... --status inProgress`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				p, ok := rt.project(args[0])
				if !ok {
					return NewExitError(ExitFailure, fmt.Sprintf("project %s not found", args[0]))
				}
				if err := opts.apply(cmd, &p); err != nil {
					return err
				}
				if err := rt.engine.UpdateProject(ctx, p); err != nil {
					return mutationFailed("update project", err)
				}
				return rootOpts.formatter(cmd).Project(p)
			})
		},
	}
	opts.bind(cmd)
	return cmd
}

func newProjectDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.engine.DeleteProject(ctx, args[0]); err != nil {
					return mutationFailed("delete project", err)
				}
				return rootOpts.formatter(cmd).Done("Deleted project "+args[0], map[string]string{"deleted": args[0]})
			})
		},
	}
}

// parseDue accepts a date, an RFC 3339 timestamp, or "none".
func parseDue(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return nil, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("want YYYY-MM-DD or RFC 3339, got %q", s)
	}
	t = t.UTC()
	return &t, nil
}
