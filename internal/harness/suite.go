package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ScenarioNotFoundError is returned when a scenario path doesn't exist.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario path %q does not exist", e.Path)
}

// FindScenarios returns the YAML scenario files under path, sorted.
// path may be a single file or a directory, which is walked recursively.
// A non-empty filter is a glob matched against the file name without its
// extension.
func FindScenarios(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &ScenarioNotFoundError{Path: path}
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		// Only process .yaml and .yml files
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(p), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

// SuiteResult summarizes a set of scenario runs.
type SuiteResult struct {
	Total     int               `json:"total"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
	Scenarios []ScenarioOutcome `json:"scenarios"`
}

// ScenarioOutcome is the result of one scenario file.
type ScenarioOutcome struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`

	// Result is nil when the scenario could not be loaded or executed.
	Result *Result `json:"-"`

	// Scenario is nil when the file could not be loaded.
	Scenario *Scenario `json:"-"`
}

// RunSuite loads and runs every scenario file in order.
//
// For each path:
// 1. Load the scenario relative to its own directory
// 2. Run it via RunContext
// 3. Record pass, load errors, execution errors and assertion failures
func RunSuite(ctx context.Context, paths []string) *SuiteResult {
	suite := &SuiteResult{Scenarios: make([]ScenarioOutcome, 0, len(paths))}

	for _, path := range paths {
		suite.Total++
		out := ScenarioOutcome{Name: filepath.Base(path), Path: path}

		scenario, err := LoadScenario(path)
		if err != nil {
			out.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
			suite.record(out)
			continue
		}
		out.Name = scenario.Name
		out.Scenario = scenario

		result, err := RunContext(ctx, scenario)
		if err != nil {
			out.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
			suite.record(out)
			continue
		}

		out.Result = result
		out.Pass = result.Pass
		out.Errors = result.Errors
		suite.record(out)
	}

	return suite
}

func (s *SuiteResult) record(out ScenarioOutcome) {
	if out.Pass {
		s.Passed++
	} else {
		s.Failed++
	}
	s.Scenarios = append(s.Scenarios, out)
}
