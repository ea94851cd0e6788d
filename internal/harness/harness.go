package harness

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tasksync/internal/codec"
	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/engine"
	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/remote"
	"github.com/roach88/tasksync/internal/remote/memory"
	"github.com/roach88/tasksync/internal/session"
	"github.com/roach88/tasksync/internal/testutil"
)

// stepTimeout bounds every wait the harness performs.
const stepTimeout = 5 * time.Second

// Option configures Run.
type Option func(*runOptions)

type runOptions struct {
	logger *slog.Logger
}

// WithLogger routes engine logs to l. Default: discarded.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Harness executes one scenario against a live engine.
//
// The engine runs over a fresh memory store with a deterministic wall clock
// and id sequence, so identical scenarios produce identical traces.
type Harness struct {
	scenario *Scenario
	store    *memory.Store
	session  *session.Session
	engine   *engine.Engine
	logger   *slog.Logger

	mu      sync.Mutex
	armed   *heldOp
	failErr error
	held    map[string]*heldOp
	labels  []string
}

// heldOp is a mutation whose remote write is parked in the write hook.
type heldOp struct {
	label    string
	entered  chan struct{}
	release  chan struct{}
	done     chan stepOutcome
	finished *stepOutcome
}

type stepOutcome struct {
	id  string
	err error
}

// call performs a prepared mutation and returns the id it produced, if any.
type call func(ctx context.Context) (string, error)

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Seed documents into a fresh memory store
//  2. Start the engine loop
//  3. Run each step, then wait until every queued delivery is applied
//  4. Release any held write still parked
//  5. Evaluate assertions against the final state and the store
//
// An error is returned only when the scenario cannot be executed (bad
// arguments, a wait timing out); mismatches are recorded in the result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := runOptions{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	start, err := scenario.start()
	if err != nil {
		return nil, fmt.Errorf("now: %w", err)
	}

	h := &Harness{
		scenario: scenario,
		session:  session.New(),
		logger:   o.logger,
		held:     make(map[string]*heldOp),
	}
	h.store = memory.New(memory.WithWriteHook(h.writeHook))
	h.engine = engine.New(h.store, h.session,
		engine.WithLogger(o.logger),
		engine.WithRollbackOnFailure(scenario.RollbackOnFailure),
		engine.WithIDGenerator(testutil.NewSequenceIDs(scenario.IDs...)),
		engine.WithNow(testutil.NewWallClock(start, time.Second).Now),
	)

	if err := h.seed(); err != nil {
		h.store.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = h.engine.Run(runCtx) }()
	defer func() {
		h.engine.Stop()
		<-h.engine.Done()
		h.store.Close()
	}()

	result := NewResult()
	for i, step := range scenario.Steps {
		ev, err := h.execute(runCtx, i, step, result)
		if err != nil {
			h.releaseAll(result)
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Do, err)
		}
		if err := h.settle(runCtx); err != nil {
			h.releaseAll(result)
			return nil, fmt.Errorf("step %d (%s): settle: %w", i, step.Do, err)
		}
		st := h.engine.State()
		ev.Titles = titlesOf(st.Projects)
		ev.Pending = st.Pending
		result.AddTrace(ev)

		h.logger.Debug("scenario step completed",
			"step", i,
			"do", step.Do,
			"outcome", ev.Outcome,
			"pending", ev.Pending,
		)
	}

	h.releaseAll(result)
	if err := h.settle(runCtx); err != nil {
		return nil, fmt.Errorf("final settle: %w", err)
	}

	for _, w := range h.store.Writes() {
		rec := WriteRecord{Op: string(w.Op), Path: w.Path.String()}
		if w.Err != nil {
			rec.Error = w.Err.Error()
		}
		result.Writes = append(result.Writes, rec)
	}
	result.State = h.engine.State()

	actx := &AssertionContext{Ctx: runCtx, Store: h.store, Account: scenario.Account}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) seed() error {
	for i, s := range h.scenario.Seed {
		m, err := toDoc(s.Project)
		if err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		account := cmp.Or(s.Account, h.scenario.Account)
		id, _ := s.Project["id"].(string)
		h.store.Put(doc.ProjectPath(account, id), m)
	}
	return nil
}

func (h *Harness) account(st Step) string {
	return cmp.Or(st.Account, h.scenario.Account)
}

// execute runs one step. Step outcomes that differ from the expectation are
// recorded on result; only harness failures are returned.
func (h *Harness) execute(ctx context.Context, index int, st Step, result *Result) (TraceEvent, error) {
	ev := TraceEvent{Step: index, Do: st.Do, Label: st.Label, Outcome: OutcomeOK}

	stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	var err error
	switch st.Do {
	case StepSignIn:
		h.session.SignIn(h.account(st))
	case StepSignOut:
		h.session.SignOut()
	case StepAttach:
		err = h.engine.Attach(stepCtx, h.account(st))
	case StepDetach:
		err = h.engine.Detach(stepCtx)
	case StepRefresh:
		err = h.engine.Refresh(stepCtx)

	case StepInject:
		snap, serr := snapshotOf(st.Snapshot)
		if serr != nil {
			return ev, serr
		}
		h.store.Inject(doc.ProjectsPath(h.account(st)), snap)
	case StepPut:
		m, derr := toDoc(st.Args)
		if derr != nil {
			return ev, derr
		}
		id, _ := st.Args["id"].(string)
		h.store.Put(doc.ProjectPath(h.account(st), id), m)
	case StepFailSubscription:
		h.store.FailSubscriptions(doc.ProjectsPath(h.account(st)), failure(st.Error))
	case StepFailWrites:
		h.mu.Lock()
		h.failErr = failure(st.Error)
		h.mu.Unlock()
	case StepHealWrites:
		h.mu.Lock()
		h.failErr = nil
		h.mu.Unlock()

	case StepRelease:
		out, rerr := h.release(st.Label)
		if rerr != nil {
			return ev, rerr
		}
		ev.ID, err = out.id, out.err

	default:
		fn, perr := h.prepare(st)
		if perr != nil {
			return ev, perr
		}
		if st.Hold {
			out, held, herr := h.hold(ctx, st.Label, fn)
			if herr != nil {
				return ev, herr
			}
			if held {
				ev.Outcome = OutcomeHeld
				return ev, nil
			}
			result.AddError(fmt.Sprintf("step %d (%s): held write never reached the store: %s",
				index, st.Do, outcomeOf(out.err)))
			ev.ID, err = out.id, out.err
			ev.Outcome = outcomeOf(err)
			return ev, nil
		}
		ev.ID, err = fn(stepCtx)
	}

	ev.Outcome = outcomeOf(err)
	if want := cmp.Or(st.ExpectError, OutcomeOK); ev.Outcome != want {
		msg := fmt.Sprintf("step %d (%s): expected %s, got %s", index, st.Do, want, ev.Outcome)
		if err != nil {
			msg += ": " + err.Error()
		}
		result.AddError(msg)
	}
	return ev, nil
}

// hold starts fn and waits until its write is parked in the hook. It
// reports false when fn finished without writing.
func (h *Harness) hold(ctx context.Context, label string, fn call) (stepOutcome, bool, error) {
	op := &heldOp{
		label:   label,
		entered: make(chan struct{}),
		release: make(chan struct{}),
		done:    make(chan stepOutcome, 1),
	}

	h.mu.Lock()
	h.armed = op
	h.held[label] = op
	h.labels = append(h.labels, label)
	h.mu.Unlock()

	go func() {
		id, err := fn(ctx)
		op.done <- stepOutcome{id: id, err: err}
	}()

	timer := time.NewTimer(stepTimeout)
	defer timer.Stop()
	select {
	case <-op.entered:
		return stepOutcome{}, true, nil
	case out := <-op.done:
		h.mu.Lock()
		if h.armed == op {
			h.armed = nil
		}
		h.mu.Unlock()
		op.finished = &out
		return out, false, nil
	case <-timer.C:
		return stepOutcome{}, false, fmt.Errorf("held write %q did not start", label)
	}
}

// release lets a parked write proceed and waits for its mutation to return.
func (h *Harness) release(label string) (stepOutcome, error) {
	h.mu.Lock()
	op := h.held[label]
	h.mu.Unlock()
	if op == nil {
		return stepOutcome{}, fmt.Errorf("no held step labelled %q", label)
	}
	if op.finished != nil {
		return *op.finished, nil
	}

	close(op.release)
	timer := time.NewTimer(stepTimeout)
	defer timer.Stop()
	select {
	case out := <-op.done:
		op.finished = &out
		return out, nil
	case <-timer.C:
		return stepOutcome{}, fmt.Errorf("held write %q did not complete", label)
	}
}

// releaseAll lets every still-parked write finish so the engine can stop.
func (h *Harness) releaseAll(result *Result) {
	h.mu.Lock()
	labels := append([]string(nil), h.labels...)
	h.mu.Unlock()

	for _, label := range labels {
		op := h.held[label]
		if op.finished != nil {
			continue
		}
		result.AddError(fmt.Sprintf("held step %q was never released", label))
		if _, err := h.release(label); err != nil {
			result.AddError(err.Error())
		}
	}
}

// writeHook parks the armed write, if any, then applies the current
// failure mode.
func (h *Harness) writeHook(ctx context.Context, _ memory.Write) error {
	h.mu.Lock()
	op := h.armed
	h.armed = nil
	h.mu.Unlock()

	if op != nil {
		close(op.entered)
		select {
		case <-op.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failErr
}

// settle waits until every queued delivery has been applied.
func (h *Harness) settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	if err := h.store.Flush(ctx); err != nil {
		return err
	}
	return h.engine.Settle(ctx)
}

// prepare decodes a mutation step's arguments into a call.
func (h *Harness) prepare(st Step) (call, error) {
	e := h.engine
	switch st.Do {
	case StepCreateProject:
		p, hasID, err := decodeArgs(st.Args, codec.DecodeProject)
		if err != nil {
			return nil, err
		}
		if !hasID {
			p.ID = ""
		}
		return func(ctx context.Context) (string, error) {
			created, err := e.CreateProject(ctx, p)
			return created.ID, err
		}, nil

	case StepUpdateProject:
		p, err := h.mergedProject(st.Project, st.Args)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (string, error) {
			return "", e.UpdateProject(ctx, p)
		}, nil

	case StepDeleteProject:
		return func(ctx context.Context) (string, error) {
			return "", e.DeleteProject(ctx, st.Project)
		}, nil

	case StepAddTask:
		t, hasID, err := decodeArgs(st.Args, codec.DecodeTask)
		if err != nil {
			return nil, err
		}
		if !hasID {
			t.ID = ""
		}
		return func(ctx context.Context) (string, error) {
			added, err := e.AddTask(ctx, t, st.Project)
			return added.ID, err
		}, nil

	case StepUpdateTask:
		t, err := h.mergedTask(st.Project, st.Task, st.Args)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (string, error) {
			return "", e.UpdateTask(ctx, t, st.Project)
		}, nil

	case StepDeleteTask:
		return func(ctx context.Context) (string, error) {
			return "", e.DeleteTask(ctx, st.Task, st.Project)
		}, nil

	case StepToggleTask:
		return func(ctx context.Context) (string, error) {
			return "", e.ToggleTaskCompletion(ctx, st.Task, st.Project)
		}, nil

	case StepAddComment:
		c, hasID, err := decodeArgs(st.Args, codec.DecodeComment)
		if err != nil {
			return nil, err
		}
		if !hasID {
			c.ID = ""
		}
		return func(ctx context.Context) (string, error) {
			added, err := e.AddComment(ctx, c, st.Task, st.Project)
			return added.ID, err
		}, nil
	}
	return nil, fmt.Errorf("unknown step %q", st.Do)
}

// published returns the project with id from the engine's last publication.
func (h *Harness) published(id string) (model.Project, bool) {
	for _, p := range h.engine.Current() {
		if p.ID == id {
			return p, true
		}
	}
	return model.Project{}, false
}

// mergedProject overlays args on the published project, so a step only
// names the fields it changes.
func (h *Harness) mergedProject(id string, args map[string]any) (model.Project, error) {
	base := doc.Map{}
	if p, ok := h.published(id); ok {
		base = codec.EncodeProject(p)
	}
	if err := overlayArgs(base, args); err != nil {
		return model.Project{}, err
	}
	base["id"] = doc.String(id)
	return codec.DecodeProject(base)
}

func (h *Harness) mergedTask(projectID, taskID string, args map[string]any) (model.ProjectTask, error) {
	base := doc.Map{}
	if p, ok := h.published(projectID); ok {
		if i := p.TaskIndex(taskID); i >= 0 {
			base = codec.EncodeTask(p.Tasks[i])
		}
	}
	if err := overlayArgs(base, args); err != nil {
		return model.ProjectTask{}, err
	}
	base["id"] = doc.String(taskID)
	return codec.DecodeTask(base)
}

func overlayArgs(base doc.Map, args map[string]any) error {
	patch, err := toDoc(args)
	if err != nil {
		return err
	}
	for k, v := range patch {
		base[k] = v
	}
	return nil
}

// unassignedID stands in for a missing id while decoding, so entities the
// engine should name can still go through the codec.
const unassignedID = "unassigned"

func decodeArgs[T any](args map[string]any, decode func(doc.Map) (T, error)) (T, bool, error) {
	var zero T
	m, err := toDoc(args)
	if err != nil {
		return zero, false, err
	}
	_, hasID := m["id"]
	if !hasID {
		m["id"] = doc.String(unassignedID)
	}
	v, err := decode(m)
	if err != nil {
		return zero, false, fmt.Errorf("args: %w", err)
	}
	return v, hasID, nil
}

// toDoc converts YAML-decoded fields into a document. Unquoted YAML
// timestamps become RFC 3339 strings.
func toDoc(fields map[string]any) (doc.Map, error) {
	if fields == nil {
		return doc.Map{}, nil
	}
	v, err := doc.FromAny(normalizeYAML(fields))
	if err != nil {
		return nil, fmt.Errorf("args: %w", err)
	}
	m, ok := v.(doc.Map)
	if !ok {
		return nil, fmt.Errorf("args: expected a mapping, got %T", v)
	}
	return m, nil
}

func normalizeYAML(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = normalizeYAML(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalizeYAML(elem)
		}
		return out
	}
	return v
}

func snapshotOf(projects []map[string]any) (remote.Snapshot, error) {
	snap := remote.Snapshot{}
	for i, fields := range projects {
		id, ok := fields["id"].(string)
		if !ok {
			return nil, fmt.Errorf("snapshot[%d]: id is required", i)
		}
		m, err := toDoc(fields)
		if err != nil {
			return nil, fmt.Errorf("snapshot[%d]: %w", i, err)
		}
		snap = append(snap, remote.Document{ID: id, Data: m})
	}
	return snap, nil
}

// failure maps a scenario error name onto a store error.
func failure(name string) error {
	switch name {
	case "unavailable":
		return remote.ErrUnavailable
	case "unauthenticated":
		return remote.ErrUnauthenticated
	case "authorization":
		return remote.ErrAuthorization
	case "malformed":
		return remote.ErrMalformed
	}
	return errors.New(name)
}

// outcomeOf renders an operation result as a trace outcome.
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	var se *engine.SyncError
	if errors.As(err, &se) {
		return string(se.Code)
	}
	return "ERROR"
}

func titlesOf(projects []model.Project) []string {
	out := make([]string, len(projects))
	for i, p := range projects {
		out[i] = p.Title
	}
	return out
}
