package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/codec"
	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/engine"
	"github.com/roach88/tasksync/internal/session"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the project list as it changes",
		Long: `Attach to the configured account and print the project list every time
a snapshot or a local mutation changes it. JSON output writes one response
per line.

Example:
  tasksync watch --backend sqlite
  tasksync watch --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, cmd)
		},
	}
}

type watchUpdate struct {
	Account  string    `json:"account"`
	Synced   bool      `json:"synced"`
	Stalled  bool      `json:"stalled"`
	Pending  int       `json:"pending"`
	Error    string    `json:"error,omitempty"`
	Projects []doc.Map `json:"projects"`
}

func runWatch(opts *RootOptions, cmd *cobra.Command) error {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			opts.Logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	rt, err := opts.start(ctx, false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.close(); cerr != nil {
			opts.Logger.Error("error closing backend", "error", cerr)
		}
	}()

	// Observers run on the engine loop; keep only the latest state for the
	// printer.
	updates := make(chan engine.State, 1)
	stopObserving := rt.engine.Observe(func(st engine.State) {
		select {
		case <-updates:
		default:
		}
		updates <- st
	})
	defer stopObserving()

	following := make(chan struct{})
	go func() {
		defer close(following)
		session.Follow(ctx, rt.session, rt.engine, func(err error) {
			opts.Logger.Warn("attach failed", "error", err)
		})
	}()

	f := opts.formatter(cmd)
	fmt.Fprintf(f.GetErrWriter(), "Watching %s on %s. Press Ctrl-C to stop.\n", rt.account, opts.Config.Backend)

	for {
		select {
		case <-ctx.Done():
			<-following
			return nil
		case st := <-updates:
			if err := printState(f, st); err != nil {
				return err
			}
		}
	}
}

func printState(f *OutputFormatter, st engine.State) error {
	if f.Format == "json" {
		u := watchUpdate{
			Account:  st.Account,
			Synced:   st.Synced,
			Stalled:  st.Stalled,
			Pending:  st.Pending,
			Projects: make([]doc.Map, 0, len(st.Projects)),
		}
		if st.Err != nil {
			u.Error = st.Err.Error()
		}
		for _, p := range st.Projects {
			u.Projects = append(u.Projects, codec.EncodeProject(p))
		}
		return f.Success(u)
	}

	if !st.Synced && st.Err == nil {
		return nil
	}
	fmt.Fprintf(f.Writer, "-- %d project(s), %d pending write(s)\n", len(st.Projects), st.Pending)
	if st.Err != nil {
		fmt.Fprintf(f.Writer, "Error [%s]: %v\n", ErrorCode(st.Err), st.Err)
		if st.Stalled {
			fmt.Fprintln(f.Writer, "Subscription stalled; restart watch to re-attach.")
		}
	}
	if st.Synced {
		return f.Projects(st.Projects)
	}
	return nil
}
