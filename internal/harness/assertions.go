package harness

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/tasksync/internal/codec"
	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/engine"
	"github.com/roach88/tasksync/internal/remote"
)

// AssertionContext provides what final-state assertions read.
type AssertionContext struct {
	Ctx     context.Context
	Store   remote.Store
	Account string // default account for remote assertions
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s -> %s %v\n", ev.Step, ev.Do, ev.Outcome, ev.Titles)
		}
	}
	return buf.String()
}

// assertTitles checks the published title list, in order.
func assertTitles(result *Result, a Assertion) error {
	got := titlesOf(result.State.Projects)
	if slices.Equal(got, a.Titles) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTitles,
		Expected: fmt.Sprintf("%q", a.Titles),
		Actual:   fmt.Sprintf("%q", got),
		Trace:    result.Trace,
	}
}

// stateView is the part of the final publication a state assertion can
// address.
func stateView(st engine.State) doc.Map {
	return doc.Map{
		"account":  doc.String(st.Account),
		"synced":   doc.Bool(st.Synced),
		"stalled":  doc.Bool(st.Stalled),
		"pending":  doc.Int(st.Pending),
		"projects": doc.Int(len(st.Projects)),
	}
}

// assertState subset-matches the final publication flags.
func assertState(result *Result, a Assertion) error {
	expected, err := toDoc(a.Expect)
	if err != nil {
		return err
	}
	actual := stateView(result.State)
	if path, ok := matchSubset(actual, expected, ""); !ok {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("%s = %s", path, render(lookup(expected, path))),
			Actual:   fmt.Sprintf("%s = %s", path, render(lookup(actual, path))),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertErrorSlot checks the code in the engine's error slot.
func assertErrorSlot(result *Result, a Assertion) error {
	got := "none"
	if err := result.State.Err; err != nil {
		got = "ERROR"
		var se *engine.SyncError
		if errors.As(err, &se) {
			got = string(se.Code)
		}
	}
	if got == a.Code {
		return nil
	}
	return &AssertionError{
		Type:     AssertError,
		Expected: a.Code,
		Actual:   got,
		Trace:    result.Trace,
	}
}

// assertRemote reads the stored document and subset-matches it, or checks
// that it is absent.
func assertRemote(actx *AssertionContext, result *Result, a Assertion) error {
	account := cmp.Or(a.Account, actx.Account)
	path := doc.ProjectPath(account, a.Project)

	stored, err := actx.Store.Get(actx.Ctx, path)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		if a.Absent {
			return nil
		}
		return &AssertionError{
			Type:     AssertRemote,
			Expected: fmt.Sprintf("%s stored", path),
			Actual:   "not found",
			Trace:    result.Trace,
		}
	case err != nil:
		return fmt.Errorf("read %s: %w", path, err)
	}

	if a.Absent {
		return &AssertionError{
			Type:     AssertRemote,
			Expected: fmt.Sprintf("%s absent", path),
			Actual:   fmt.Sprintf("stored with title %s", render(stored["title"])),
			Trace:    result.Trace,
		}
	}
	return matchDocument(AssertRemote, stored, a.Expect, result.Trace)
}

// assertProject subset-matches the published project in document form.
func assertProject(result *Result, a Assertion) error {
	for _, p := range result.State.Projects {
		if p.ID == a.Project {
			return matchDocument(AssertProject, codec.EncodeProject(p), a.Expect, result.Trace)
		}
	}
	return &AssertionError{
		Type:     AssertProject,
		Expected: fmt.Sprintf("project %s published", a.Project),
		Actual:   "not in the published list",
		Trace:    result.Trace,
	}
}

func matchDocument(typ string, actual doc.Map, expect map[string]any, trace []TraceEvent) error {
	expected, err := toDoc(expect)
	if err != nil {
		return err
	}
	if path, ok := matchSubset(actual, expected, ""); !ok {
		return &AssertionError{
			Type:     typ,
			Expected: fmt.Sprintf("%s = %s", path, render(lookup(expected, path))),
			Actual:   fmt.Sprintf("%s = %s", path, render(lookup(actual, path))),
			Trace:    trace,
		}
	}
	return nil
}

// assertWrites counts write attempts, optionally of one operation.
func assertWrites(result *Result, a Assertion) error {
	count := 0
	for _, w := range result.Writes {
		if a.Op == "" || w.Op == a.Op {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	what := "writes"
	if a.Op != "" {
		what = a.Op + " writes"
	}
	return &AssertionError{
		Type:     AssertWrites,
		Expected: fmt.Sprintf("%d %s", a.Count, what),
		Actual:   fmt.Sprintf("%d %s", count, what),
		Trace:    result.Trace,
	}
}

// matchSubset reports whether every field of expected is present in actual
// with an equal value. Maps match recursively by subset and arrays element
// by element, so they must have the same length; scalars must be equal. On
// mismatch it returns the dotted path of the first differing field.
func matchSubset(actual, expected doc.Value, path string) (string, bool) {
	if ea, ok := expected.(doc.Array); ok {
		aa, ok := actual.(doc.Array)
		if !ok || len(aa) != len(ea) {
			return path, false
		}
		for i := range ea {
			if p, ok := matchSubset(aa[i], ea[i], joinPath(path, strconv.Itoa(i))); !ok {
				return p, false
			}
		}
		return "", true
	}

	em, ok := expected.(doc.Map)
	if !ok {
		return path, doc.Equal(actual, expected)
	}
	am, ok := actual.(doc.Map)
	if !ok {
		return path, false
	}
	for _, k := range em.SortedKeys() {
		child := joinPath(path, k)
		av, present := am[k]
		if !present {
			return child, false
		}
		if p, ok := matchSubset(av, em[k], child); !ok {
			return p, false
		}
	}
	return "", true
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// lookup follows a dotted path through nested maps and arrays.
func lookup(v doc.Value, path string) doc.Value {
	if path == "" {
		return v
	}
	for _, k := range strings.Split(path, ".") {
		switch c := v.(type) {
		case doc.Map:
			next, ok := c[k]
			if !ok {
				return nil
			}
			v = next
		case doc.Array:
			i, err := strconv.Atoi(k)
			if err != nil || i < 0 || i >= len(c) {
				return nil
			}
			v = c[i]
		default:
			return nil
		}
	}
	return v
}

func render(v doc.Value) string {
	if v == nil {
		return "<missing>"
	}
	data, err := doc.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// EvaluateAssertions runs all assertions and returns their failure
// messages. An empty slice means every assertion passed.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTitles:
			err = assertTitles(result, a)
		case AssertState:
			err = assertState(result, a)
		case AssertError:
			err = assertErrorSlot(result, a)
		case AssertRemote:
			err = assertRemote(actx, result, a)
		case AssertProject:
			err = assertProject(result, a)
		case AssertWrites:
			err = assertWrites(result, a)
		default:
			err = fmt.Errorf("unknown assertion type: %s", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err.Error()))
		}
	}
	return errs
}
