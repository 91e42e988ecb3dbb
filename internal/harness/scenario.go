package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: one module, one pass, and
// assertions on what the pass reported and produced.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Module is the path of the .cue or .json module to rewrite.
	// Relative paths are resolved from the scenario file location.
	Module string `yaml:"module"`

	// Config optionally names a jobweave.yaml used instead of the defaults.
	Config string `yaml:"config,omitempty"`

	// Assertions validate the pass outcome.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates one aspect of the pass outcome.
type Assertion struct {
	// Type specifies the assertion type:
	// - "emitted": the module was (or, with value false, was not) emitted
	// - "diagnostic": a diagnostic with Code (and Line, if set) was reported
	// - "diagnostic_count": exactly Count diagnostics with Code, or in total
	// - "job": the job named Job exists with the given properties
	// - "job_count": exactly Count jobs were described
	// - "type_kind": output type Name exists with Kind
	// - "calls": Method of the output calls Calls in order
	// - "final_state": query a history table and verify expected values
	Type string `yaml:"type"`

	// Value is the expectation for emitted.
	Value *bool `yaml:"value,omitempty"`

	// Code and Line select diagnostics.
	Code string `yaml:"code,omitempty"`
	Line int    `yaml:"line,omitempty"`

	// Count is the expected number of occurrences.
	Count int `yaml:"count,omitempty"`

	// Job names a job by short or full type name. The remaining fields
	// are checked only when set.
	Job            string   `yaml:"job,omitempty"`
	Kind           string   `yaml:"kind,omitempty"`
	Terminal       string   `yaml:"terminal,omitempty"`
	Burst          *bool    `yaml:"burst,omitempty"`
	Fields         []string `yaml:"fields,omitempty"`
	ReadOnlyFields []string `yaml:"read_only_fields,omitempty"`

	// Name is a type name (type_kind); Method is "Type::Name" (calls).
	Name   string   `yaml:"name,omitempty"`
	Method string   `yaml:"method,omitempty"`
	Calls  []string `yaml:"calls,omitempty"`

	// Table, Where and Expect drive final_state.
	Table  string                 `yaml:"table,omitempty"`
	Where  map[string]interface{} `yaml:"where,omitempty"`
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertEmitted         = "emitted"
	AssertDiagnostic      = "diagnostic"
	AssertDiagnosticCount = "diagnostic_count"
	AssertJob             = "job"
	AssertJobCount        = "job_count"
	AssertTypeKind        = "type_kind"
	AssertCalls           = "calls"
	AssertFinalState      = "final_state"
)

// LoadScenario reads and parses a scenario YAML file, resolving module and
// config paths relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving module and config paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	scenario.Module = resolve(basePath, scenario.Module)
	scenario.Config = resolve(basePath, scenario.Config)

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Module == "" {
		return fmt.Errorf("module is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if _, err := os.Stat(s.Module); os.IsNotExist(err) {
		return fmt.Errorf("module file not found: %s", s.Module)
	}
	if s.Config != "" {
		if _, err := os.Stat(s.Config); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", s.Config)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
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
	case AssertEmitted:
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for emitted", index)
		}
	case AssertDiagnostic:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for diagnostic", index)
		}
	case AssertDiagnosticCount, AssertJobCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertJob:
		if a.Job == "" {
			return fmt.Errorf("assertions[%d]: job is required for job", index)
		}
	case AssertTypeKind:
		if a.Name == "" || a.Kind == "" {
			return fmt.Errorf("assertions[%d]: name and kind are required for type_kind", index)
		}
	case AssertCalls:
		if a.Method == "" || len(a.Calls) == 0 {
			return fmt.Errorf("assertions[%d]: method and calls are required for calls", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
