package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/memsched/internal/ir"
)

// Scenario defines a conformance test scenario: one graph, one configuration
// and the assertions its plan must satisfy.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Graph is an inline input graph.
	Graph *ir.Graph `yaml:"graph,omitempty"`

	// GraphFile points at a YAML or JSON graph file, relative to the
	// scenario file. Exactly one of Graph and GraphFile must be set.
	GraphFile string `yaml:"graph_file,omitempty"`

	// Config is the configuration handed to the pass. Zero fields take
	// their defaults.
	Config ir.Config `yaml:"config"`

	// Assertions validate the plan and the stored run.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates a plan or the stored run.
type Assertion struct {
	// Type selects the check. See the package documentation.
	Type string `yaml:"type"`

	// Count is the expected number (makespan, spill_count, spills_between).
	Count *int `yaml:"count,omitempty"`

	// Buffers restricts spills_between to these buffers. Empty means all.
	Buffers []string `yaml:"buffers,omitempty"`

	// FromTask and ToTask bound spills_between by input task index.
	FromTask *int `yaml:"from_task,omitempty"`
	ToTask   *int `yaml:"to_task,omitempty"`

	// Buffer and Task are used by fill_before.
	Buffer string `yaml:"buffer,omitempty"`
	Task   *int   `yaml:"task,omitempty"`

	// Tasks lists input task indices (same_time).
	Tasks []int `yaml:"tasks,omitempty"`

	// Code is the expected pass error code (error_code).
	Code string `yaml:"code,omitempty"`

	// Table is the store table name (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (used by final_state).
	// All fields must match exactly.
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect contains expected field values (used by final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertNoOverlap     = "no_overlap"
	AssertCapacity      = "capacity"
	AssertTopological   = "topological"
	AssertMakespan      = "makespan"
	AssertSpillCount    = "spill_count"
	AssertSpillsBetween = "spills_between"
	AssertFillBefore    = "fill_before"
	AssertSameTime      = "same_time"
	AssertErrorCode     = "error_code"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A graph_file is resolved relative to the scenario file and loaded.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.GraphFile != "" && scenario.Graph == nil {
		graphPath := scenario.GraphFile
		if !filepath.IsAbs(graphPath) {
			graphPath = filepath.Join(filepath.Dir(path), graphPath)
		}
		g, err := LoadGraph(graphPath)
		if err != nil {
			return nil, err
		}
		scenario.Graph = g
		if err := validateScenario(&scenario, true); err != nil {
			return nil, fmt.Errorf("invalid scenario: %w", err)
		}
		return &scenario, nil
	}

	if err := validateScenario(&scenario, false); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadGraph reads a graph file. JSON parses as YAML, so both are accepted.
func LoadGraph(path string) (*ir.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}
	var g ir.Graph
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&g); err != nil {
		return nil, fmt.Errorf("failed to parse graph %s: %w", path, err)
	}
	return &g, nil
}

// validateScenario checks that required fields are present and valid.
// resolved is true when Graph was loaded from GraphFile.
func validateScenario(s *Scenario, resolved bool) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Graph == nil:
		return fmt.Errorf("graph or graph_file is required")
	case s.GraphFile != "" && !resolved:
		return fmt.Errorf("graph and graph_file are mutually exclusive")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
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
	case AssertNoOverlap, AssertCapacity, AssertTopological:
	case AssertMakespan, AssertSpillCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for %s", index, a.Type)
		}
	case AssertSpillsBetween:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for spills_between", index)
		}
		if a.FromTask == nil || a.ToTask == nil {
			return fmt.Errorf("assertions[%d]: from_task and to_task are required for spills_between", index)
		}
	case AssertFillBefore:
		if a.Buffer == "" {
			return fmt.Errorf("assertions[%d]: buffer is required for fill_before", index)
		}
	case AssertSameTime:
		if len(a.Tasks) < 2 {
			return fmt.Errorf("assertions[%d]: at least two tasks are required for same_time", index)
		}
	case AssertErrorCode:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for error_code", index)
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
