package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sync session: seed data, a sequence of steps run
// against a live engine over an in-memory store, and assertions on the
// final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Account is the default account for steps and seeds that name none.
	Account string `yaml:"account,omitempty"`

	// IDs are handed out in order to entities created without an id.
	IDs []string `yaml:"ids,omitempty"`

	// Now is the RFC 3339 start of the wall clock used for CreatedAt stamps.
	// Each stamp advances it by one second. Default: 2026-01-01T00:00:00Z.
	Now string `yaml:"now,omitempty"`

	// RollbackOnFailure enables rollback of failed optimistic writes.
	RollbackOnFailure bool `yaml:"rollback_on_failure,omitempty"`

	// Seed documents are stored before the first step.
	Seed []SeedDoc `yaml:"seed,omitempty"`

	// Steps run in order. After each step the harness waits until every
	// queued delivery has been applied.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// SeedDoc is a project document written to the store before the run.
type SeedDoc struct {
	Account string         `yaml:"account,omitempty"`
	Project map[string]any `yaml:"project"`
}

// Step is one scripted action.
type Step struct {
	// Do is the step kind, one of the Step* constants.
	Do string `yaml:"do"`

	// Label names a held step so a later release step can refer to it.
	Label string `yaml:"label,omitempty"`

	// Account overrides the scenario account.
	Account string `yaml:"account,omitempty"`

	// Project and Task identify the target entity.
	Project string `yaml:"project,omitempty"`
	Task    string `yaml:"task,omitempty"`

	// Args are entity fields in document form.
	Args map[string]any `yaml:"args,omitempty"`

	// Snapshot is the project list delivered by an inject step.
	Snapshot []map[string]any `yaml:"snapshot,omitempty"`

	// Hold blocks the step's remote write until a release step names its
	// label. The step itself returns once the write has reached the store.
	Hold bool `yaml:"hold,omitempty"`

	// Error selects the failure for fail_writes and fail_subscription:
	// unavailable, unauthenticated, authorization, malformed, or free text.
	Error string `yaml:"error,omitempty"`

	// ExpectError is the expected error code of the step's outcome.
	// Empty means the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step kinds.
const (
	StepSignIn           = "sign_in"
	StepSignOut          = "sign_out"
	StepAttach           = "attach"
	StepDetach           = "detach"
	StepRefresh          = "refresh"
	StepCreateProject    = "create_project"
	StepUpdateProject    = "update_project"
	StepDeleteProject    = "delete_project"
	StepAddTask          = "add_task"
	StepUpdateTask       = "update_task"
	StepDeleteTask       = "delete_task"
	StepToggleTask       = "toggle_task"
	StepAddComment       = "add_comment"
	StepRelease          = "release"
	StepInject           = "inject"
	StepPut              = "put"
	StepFailSubscription = "fail_subscription"
	StepFailWrites       = "fail_writes"
	StepHealWrites       = "heal_writes"
)

// mutationSteps are the steps that write to the store and may be held.
var mutationSteps = map[string]bool{
	StepCreateProject: true,
	StepUpdateProject: true,
	StepDeleteProject: true,
	StepAddTask:       true,
	StepUpdateTask:    true,
	StepDeleteTask:    true,
	StepToggleTask:    true,
	StepAddComment:    true,
}

var knownSteps = map[string]bool{
	StepSignIn:           true,
	StepSignOut:          true,
	StepAttach:           true,
	StepDetach:           true,
	StepRefresh:          true,
	StepRelease:          true,
	StepInject:           true,
	StepPut:              true,
	StepFailSubscription: true,
	StepFailWrites:       true,
	StepHealWrites:       true,
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Titles is the expected published title list (titles).
	Titles []string `yaml:"titles,omitempty"`

	// Code is the expected error slot code, or "none" (error).
	Code string `yaml:"code,omitempty"`

	// Account selects the stored collection (remote). Defaults to the
	// scenario account.
	Account string `yaml:"account,omitempty"`

	// Project is the project id (remote, project).
	Project string `yaml:"project,omitempty"`

	// Absent asserts the stored document does not exist (remote).
	Absent bool `yaml:"absent,omitempty"`

	// Expect holds expected fields. Subset match: only the listed fields
	// are compared (state, remote, project).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Op filters write records by operation (writes).
	Op string `yaml:"op,omitempty"`

	// Count is the expected number of write records (writes).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTitles  = "titles"
	AssertState   = "state"
	AssertError   = "error"
	AssertRemote  = "remote"
	AssertProject = "project"
	AssertWrites  = "writes"
)

// DefaultNow is the wall clock start when a scenario sets none.
var DefaultNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// start returns the parsed wall clock start.
func (s *Scenario) start() (time.Time, error) {
	if s.Now == "" {
		return DefaultNow, nil
	}
	return time.Parse(time.RFC3339, s.Now)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if _, err := s.start(); err != nil {
		return fmt.Errorf("now: %w", err)
	}

	for i, seed := range s.Seed {
		if seed.Account == "" && s.Account == "" {
			return fmt.Errorf("seed[%d]: account is required (no scenario account)", i)
		}
		if _, ok := seed.Project["id"].(string); !ok {
			return fmt.Errorf("seed[%d]: project.id is required", i)
		}
	}

	labels := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, &step, labels); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateStep checks one step. labels collects held labels seen so far so
// that a release must follow its hold.
func validateStep(index int, st *Step, labels map[string]bool) error {
	if st.Do == "" {
		return fmt.Errorf("steps[%d]: do is required", index)
	}
	if !knownSteps[st.Do] && !mutationSteps[st.Do] {
		return fmt.Errorf("steps[%d]: unknown step %q", index, st.Do)
	}

	if st.Hold {
		if !mutationSteps[st.Do] {
			return fmt.Errorf("steps[%d]: %s cannot be held", index, st.Do)
		}
		if st.Label == "" {
			return fmt.Errorf("steps[%d]: label is required for a held step", index)
		}
		if labels[st.Label] {
			return fmt.Errorf("steps[%d]: duplicate label %q", index, st.Label)
		}
		if st.ExpectError != "" {
			return fmt.Errorf("steps[%d]: expect_error belongs on the release step", index)
		}
		labels[st.Label] = true
	}

	switch st.Do {
	case StepRelease:
		if !labels[st.Label] {
			return fmt.Errorf("steps[%d]: release of unknown label %q", index, st.Label)
		}
	case StepUpdateProject, StepDeleteProject, StepAddTask:
		if st.Project == "" {
			return fmt.Errorf("steps[%d]: project is required for %s", index, st.Do)
		}
	case StepUpdateTask, StepDeleteTask, StepToggleTask, StepAddComment:
		if st.Project == "" || st.Task == "" {
			return fmt.Errorf("steps[%d]: project and task are required for %s", index, st.Do)
		}
	case StepPut:
		if _, ok := st.Args["id"].(string); !ok {
			return fmt.Errorf("steps[%d]: args.id is required for put", index)
		}
	case StepFailSubscription, StepFailWrites:
		if st.Error == "" {
			return fmt.Errorf("steps[%d]: error is required for %s", index, st.Do)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTitles:
		if a.Titles == nil {
			return fmt.Errorf("assertions[%d]: titles list is required (use [] for none)", index)
		}
	case AssertState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for state", index)
		}
	case AssertError:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for error (use none)", index)
		}
	case AssertRemote:
		if a.Project == "" {
			return fmt.Errorf("assertions[%d]: project is required for remote", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for remote", index)
		}
	case AssertProject:
		if a.Project == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: project and expect are required for project", index)
		}
	case AssertWrites:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for writes", index)
		}
		switch a.Op {
		case "", "set", "merge", "delete":
		default:
			return fmt.Errorf("assertions[%d]: unknown write op %q", index, a.Op)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
