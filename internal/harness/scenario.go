package harness

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/reconcile/internal/importer"
	"github.com/roach88/reconcile/internal/store"
)

// Scenario defines one end-to-end import scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RunID prefixes the fixed run tokens. Defaults to "test-run".
	RunID string `yaml:"run_id,omitempty"`

	// Setup is the catalog applied to the fresh store before the first run.
	Setup store.Setup `yaml:"setup"`

	// Profile is the run profile shared by every run.
	Profile importer.Profile `yaml:"profile"`

	// Runs are executed in order against the same store.
	Runs []RunStep `yaml:"runs"`

	// Assertions validate the final stored state and the run reports.
	Assertions []Assertion `yaml:"assertions"`
}

// RunStep is one import run.
type RunStep struct {
	// Elements is the input sequence, kept as a node so attribute order survives.
	Elements yaml.Node `yaml:"elements"`

	// Overrides of the shared profile for this run.
	DryRun           bool `yaml:"dry_run,omitempty"`
	UpdateAdminScope bool `yaml:"update_admin_scope,omitempty"`
	ChunkSize        *int `yaml:"chunk_size,omitempty"`

	// Expect checks the run's counts. Nil skips the check.
	Expect *ExpectCounts `yaml:"expect,omitempty"`
}

// ExpectCounts are the expected report counts of a run. Unset counts are not checked.
type ExpectCounts struct {
	Changed   *int `yaml:"changed,omitempty"`
	Unchanged *int `yaml:"unchanged,omitempty"`
	Invalid   *int `yaml:"invalid,omitempty"`
	Pending   *int `yaml:"pending,omitempty"`
	Created   *int `yaml:"created,omitempty"`
}

// Assertion validates final state or a run report.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Key is the natural key of the entity (effective_value, stored_value).
	Key string `yaml:"key,omitempty"`

	// Scope is the scope id (effective_value, stored_value).
	Scope int64 `yaml:"scope,omitempty"`

	// Attribute is the attribute code (effective_value, stored_value).
	Attribute string `yaml:"attribute,omitempty"`

	// Value is the expected value (effective_value, stored_value).
	Value any `yaml:"value,omitempty"`

	// Absent asserts that no value exists (effective_value, stored_value).
	Absent bool `yaml:"absent,omitempty"`

	// Count is the expected number of entities (entity_count).
	Count int `yaml:"count,omitempty"`

	// Run and Element select one element result (classification).
	Run     int `yaml:"run,omitempty"`
	Element int `yaml:"element,omitempty"`

	// Classification is the expected outcome (classification).
	Classification string `yaml:"classification,omitempty"`

	// Reason must appear among the element's invalid reasons (classification).
	Reason string `yaml:"reason,omitempty"`
}

// Assertion type constants.
const (
	AssertEffectiveValue = "effective_value"
	AssertStoredValue    = "stored_value"
	AssertEntityCount    = "entity_count"
	AssertClassification = "classification"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read scenario file")
	}

	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML")
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, errors.Wrap(err, "invalid scenario")
	}

	return &scenario, nil
}

// LoadScenarios loads every *.yaml scenario in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, errors.Wrap(err, "list scenarios")
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", filepath.Base(path))
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}

	if s.Description == "" {
		return errors.New("description is required")
	}

	if len(s.Setup.EntityTypes) == 0 {
		return errors.New("setup must declare at least one entity type")
	}

	if s.Profile.EntityType == "" || s.Profile.ElementKey == "" {
		return errors.New("profile requires entity_type and element_key")
	}

	if len(s.Runs) == 0 {
		return errors.New("runs list is required and must be non-empty")
	}

	for i, r := range s.Runs {
		if r.Elements.Kind != yaml.SequenceNode {
			return errors.Newf("runs[%d]: elements must be a sequence", i)
		}
	}

	if len(s.Assertions) == 0 {
		return errors.New("assertions list is required and must be non-empty")
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], len(s.Runs)); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, runs int) error {
	if a.Type == "" {
		return errors.Newf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEffectiveValue, AssertStoredValue:
		if a.Key == "" || a.Attribute == "" {
			return errors.Newf("assertions[%d]: key and attribute are required for %s", index, a.Type)
		}
		if a.Value == nil && !a.Absent {
			return errors.Newf("assertions[%d]: value or absent is required for %s", index, a.Type)
		}
	case AssertEntityCount:
		if a.Count < 0 {
			return errors.Newf("assertions[%d]: count must be non-negative for entity_count", index)
		}
	case AssertClassification:
		if a.Run < 0 || a.Run >= runs {
			return errors.Newf("assertions[%d]: run %d out of range", index, a.Run)
		}
		if a.Classification == "" {
			return errors.Newf("assertions[%d]: classification is required", index)
		}
	default:
		return errors.Newf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
