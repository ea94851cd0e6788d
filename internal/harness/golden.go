package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tasksync/internal/doc"
)

// GoldenDir is where the package's own golden traces live. Golden files sit
// in a golden/ directory beside the scenario files they belong to.
const GoldenDir = "testdata/scenarios/golden"

// TraceSnapshot captures a scenario's trace and write log for golden
// comparison.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Writes       []WriteRecord
}

// NewTraceSnapshot builds the snapshot of a result.
func NewTraceSnapshot(name string, result *Result) TraceSnapshot {
	return TraceSnapshot{ScenarioName: name, Trace: result.Trace, Writes: result.Writes}
}

// document converts the snapshot to a document so it serializes through
// doc.MarshalCanonical. Optional fields are omitted when empty.
func (s TraceSnapshot) document() doc.Map {
	trace := make(doc.Array, len(s.Trace))
	for i, ev := range s.Trace {
		titles := make(doc.Array, len(ev.Titles))
		for j, t := range ev.Titles {
			titles[j] = doc.String(t)
		}
		m := doc.Map{
			"step":    doc.Int(ev.Step),
			"do":      doc.String(ev.Do),
			"outcome": doc.String(ev.Outcome),
			"titles":  titles,
			"pending": doc.Int(ev.Pending),
		}
		if ev.Label != "" {
			m["label"] = doc.String(ev.Label)
		}
		if ev.ID != "" {
			m["id"] = doc.String(ev.ID)
		}
		trace[i] = m
	}

	writes := make(doc.Array, len(s.Writes))
	for i, w := range s.Writes {
		m := doc.Map{
			"op":   doc.String(w.Op),
			"path": doc.String(w.Path),
		}
		if w.Error != "" {
			m["error"] = doc.String(w.Error)
		}
		writes[i] = m
	}

	return doc.Map{
		"scenario": doc.String(s.ScenarioName),
		"trace":    trace,
		"writes":   writes,
	}
}

// Marshal renders the snapshot as canonical JSON followed by a newline.
func (s TraceSnapshot) Marshal() ([]byte, error) {
	data, err := doc.MarshalCanonical(s.document())
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/scenarios/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewTraceSnapshot(scenarioName, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

// GoldenPath returns the golden file of a scenario file: golden/<base>.golden
// next to it.
func GoldenPath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// CompareGolden reports whether result matches the golden file at path.
// A missing golden file is an error.
func CompareGolden(path, scenarioName string, result *Result) (bool, error) {
	want, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read golden file: %w", err)
	}
	got, err := NewTraceSnapshot(scenarioName, result).Marshal()
	if err != nil {
		return false, err
	}
	return bytes.Equal(want, got), nil
}

// UpdateGolden writes result as the golden file at path.
func UpdateGolden(path, scenarioName string, result *Result) error {
	data, err := NewTraceSnapshot(scenarioName, result).Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create golden directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
