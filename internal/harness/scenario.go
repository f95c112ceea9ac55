package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/invar/internal/codegen"
	"github.com/roach88/invar/internal/ir"
)

// Scenario is an end-to-end check: invariant documents, optional built-in
// library, the verdicts each trial must produce and assertions over the
// whole run.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Documents lists invariant documents (YAML, CUE or CUE package
	// directories), relative to the scenario file.
	Documents []string `yaml:"documents"`

	// Library adds the built-in invariant library to the documents.
	Library bool `yaml:"library,omitempty"`

	// Defensive adds the invariants guarding against known attack
	// patterns.
	Defensive bool `yaml:"defensive,omitempty"`

	// Strict enables mutation coverage enforcement.
	Strict bool `yaml:"strict,omitempty"`

	// AllowedFunctions restricts the built-in function table.
	AllowedFunctions []string `yaml:"allowed_functions,omitempty"`

	// Chains lists code generation targets; every checked invariant is
	// generated for each and must pass injection and tamper verification.
	Chains []string `yaml:"chains,omitempty"`

	// Expect lists required verdicts.
	Expect []Expectation `yaml:"expect,omitempty"`

	// Assertions validate the run as a whole.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Expectation is the verdict one invariant must produce on one trial.
type Expectation struct {
	Trial     string `yaml:"trial"`
	Invariant string `yaml:"invariant"`
	Status    string `yaml:"status"`
	Kind      string `yaml:"kind,omitempty"` // error kind, ERROR only
}

// Assertion validates the run as a whole.
type Assertion struct {
	// Type selects the assertion; see the Assert constants.
	Type string `yaml:"type"`

	// Status and Count are used by verdict_count.
	Status string `yaml:"status,omitempty"`
	Count  int    `yaml:"count,omitempty"`

	// Invariant and Kind are used by check_error; Trial and Invariant by
	// snapshot_attached.
	Invariant string `yaml:"invariant,omitempty"`
	Kind      string `yaml:"kind,omitempty"`
	Trial     string `yaml:"trial,omitempty"`

	// Facts are the uncovered mutation facts, "op → layer::var", used by
	// coverage_gap.
	Facts []string `yaml:"facts,omitempty"`

	// Score is used by risk_score.
	Score int `yaml:"score,omitempty"`
}

// Assertion type constants.
const (
	AssertVerdictCount     = "verdict_count"
	AssertCheckError       = "check_error"
	AssertCoverageGap      = "coverage_gap"
	AssertRiskScore        = "risk_score"
	AssertSnapshotAttached = "snapshot_attached"
)

// LoadScenario reads a scenario file. Document paths are resolved relative
// to the file's directory. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	base := filepath.Dir(path)
	for i, doc := range s.Documents {
		if !filepath.IsAbs(doc) {
			s.Documents[i] = filepath.Join(base, doc)
		}
	}
	return s, nil
}

// ParseScenario decodes and validates a scenario. Document paths are left
// as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Documents) == 0 && !s.Library && !s.Defensive {
		return fmt.Errorf("documents list is required unless library or defensive is set")
	}
	for _, c := range s.Chains {
		if _, err := codegen.ParseChain(c); err != nil {
			return err
		}
	}
	for i, e := range s.Expect {
		if e.Trial == "" || e.Invariant == "" {
			return fmt.Errorf("expect[%d]: trial and invariant are required", i)
		}
		switch e.Status {
		case "PASS", "FAIL", "ERROR", "SKIPPED":
		default:
			return fmt.Errorf("expect[%d]: unknown status %q", i, e.Status)
		}
		if e.Kind != "" && e.Status != "ERROR" {
			return fmt.Errorf("expect[%d]: kind is only valid with status ERROR", i)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	if len(s.Expect) == 0 && len(s.Assertions) == 0 {
		return fmt.Errorf("expect or assertions must be non-empty")
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertVerdictCount:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for verdict_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for verdict_count", index)
		}
	case AssertCheckError:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for check_error", index)
		}
		if !knownKind(ir.ErrorKind(a.Kind)) {
			return fmt.Errorf("assertions[%d]: unknown error kind %q", index, a.Kind)
		}
	case AssertCoverageGap:
		if len(a.Facts) == 0 {
			return fmt.Errorf("assertions[%d]: facts list is required for coverage_gap", index)
		}
	case AssertRiskScore:
		if a.Score < 0 || a.Score > 100 {
			return fmt.Errorf("assertions[%d]: score must be within 0..100 for risk_score", index)
		}
	case AssertSnapshotAttached:
		if a.Trial == "" || a.Invariant == "" {
			return fmt.Errorf("assertions[%d]: trial and invariant are required for snapshot_attached", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func knownKind(k ir.ErrorKind) bool {
	for _, known := range ir.AllErrorKinds() {
		if k == known {
			return true
		}
	}
	return false
}
