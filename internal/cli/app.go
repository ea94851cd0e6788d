package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/engine"
	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/remote"
	"github.com/roach88/tasksync/internal/session"
)

// runtime is an engine attached to the configured account.
type runtime struct {
	store   remote.Store
	session *session.Session
	engine  *engine.Engine
	account string
	logger  *slog.Logger

	cancel context.CancelFunc
	runErr chan error
}

// start opens the backend, runs an engine and attaches it. It waits for the
// first snapshot unless wait is false.
func (o *RootOptions) start(ctx context.Context, wait bool) (*runtime, error) {
	open := o.Open
	if open == nil {
		open = OpenStore
	}
	store, err := open(ctx, o.Config, o.Logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open "+o.Config.Backend+" backend", err)
	}

	account, err := resolveAccount(ctx, o.Config, store)
	if err != nil {
		store.Close()
		return nil, WrapExitError(ExitCommandError, "no account", err)
	}

	sess := session.New()
	sess.SignIn(account)
	eng := engine.New(store, sess,
		engine.WithLogger(o.Logger),
		engine.WithRollbackOnFailure(o.Config.Sync.RollbackOnFailure),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt := &runtime{
		store:   store,
		session: sess,
		engine:  eng,
		account: account,
		logger:  o.Logger,
		cancel:  cancel,
		runErr:  make(chan error, 1),
	}
	go func() { rt.runErr <- eng.Run(runCtx) }()

	if !wait {
		return rt, nil
	}
	if err := eng.Attach(ctx, account); err != nil {
		rt.close()
		return nil, WrapExitError(ExitFailure, "attach failed", err)
	}
	if err := eng.WaitSynced(ctx); err != nil {
		rt.close()
		return nil, WrapExitError(ExitFailure, "initial sync failed", err)
	}
	return rt, nil
}

// close stops the engine, waits for its loop and closes the backend.
func (rt *runtime) close() error {
	rt.engine.Stop()
	<-rt.engine.Done()
	rt.cancel()
	runErr := <-rt.runErr
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		rt.logger.Error("engine exited with error", "error", runErr)
	}
	return rt.store.Close()
}

// withEngine runs fn against an attached, synced engine.
func (o *RootOptions) withEngine(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := o.start(ctx, true)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.close(); cerr != nil {
			o.Logger.Error("error closing backend", "error", cerr)
		}
	}()
	return fn(ctx, rt)
}

// project returns the project with id from the synced list.
func (rt *runtime) project(id string) (model.Project, bool) {
	for _, p := range rt.engine.Current() {
		if p.ID == id {
			return p, true
		}
	}
	return model.Project{}, false
}

// mutationFailed wraps an engine error for the exit path.
func mutationFailed(op string, err error) error {
	return WrapExitError(ExitFailure, op+" failed", err)
}
