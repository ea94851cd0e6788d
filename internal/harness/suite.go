package harness

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
)

// SuiteOptions configures RunSuite.
type SuiteOptions struct {
	// Update rewrites golden files instead of comparing against them.
	Update bool

	// Filter is a glob matched against scenario file names without their
	// extension. Empty matches everything.
	Filter string

	// Logger receives engine logs. Default: discarded.
	Logger *slog.Logger
}

// ScenarioReport is the outcome of one scenario file.
type ScenarioReport struct {
	Name          string   `json:"name"`
	File          string   `json:"file"`
	Pass          bool     `json:"pass"`
	GoldenUpdated bool     `json:"golden_updated,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// SuiteReport summarizes a directory of scenarios.
type SuiteReport struct {
	Scenarios []ScenarioReport `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// FindScenarios returns the .yaml and .yml files under dir, sorted.
func FindScenarios(dir, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			if matched, _ := filepath.Match(filter, name); !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

// RunFile loads and runs one scenario file, then checks or rewrites its
// golden file. A scenario without a golden file is judged by its
// assertions alone.
func RunFile(ctx context.Context, path string, opts SuiteOptions) ScenarioReport {
	report := ScenarioReport{Name: filepath.Base(path), File: path}

	scenario, err := LoadScenario(path)
	if err != nil {
		report.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return report
	}
	report.Name = scenario.Name

	result, err := Run(ctx, scenario, WithLogger(opts.Logger))
	if err != nil {
		report.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return report
	}
	report.Errors = result.Errors

	golden := GoldenPath(path)
	if opts.Update {
		if err := UpdateGolden(golden, scenario.Name, result); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("failed to update golden file: %v", err))
			return report
		}
		report.GoldenUpdated = true
		report.Pass = result.Pass
		return report
	}

	match, err := CompareGolden(golden, scenario.Name, result)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		report.Pass = result.Pass
	case err != nil:
		report.Errors = append(report.Errors, fmt.Sprintf("golden comparison failed: %v", err))
	case !match:
		report.Errors = append(report.Errors, "trace does not match golden file (run with --update to regenerate)")
	default:
		report.Pass = result.Pass
	}
	return report
}

// RunSuite runs every scenario under dir. each, when non-nil, is called
// after every scenario so callers can stream progress.
func RunSuite(ctx context.Context, dir string, opts SuiteOptions, each func(ScenarioReport)) (SuiteReport, error) {
	files, err := FindScenarios(dir, opts.Filter)
	if err != nil {
		return SuiteReport{}, err
	}

	suite := SuiteReport{Scenarios: make([]ScenarioReport, 0, len(files)), Total: len(files)}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return suite, err
		}
		r := RunFile(ctx, f, opts)
		suite.Scenarios = append(suite.Scenarios, r)
		if r.Pass {
			suite.Passed++
		} else {
			suite.Failed++
		}
		if each != nil {
			each(r)
		}
	}
	return suite, nil
}
