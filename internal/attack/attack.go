// Package attack catalogues known smart-contract attack patterns and scans
// chain source for the constructs that indicate them.
//
// Each Pattern names the chains it affects, the source markers that flag
// it and the registry invariants that defend against it. A DB is built per
// invocation with Default; Scan reports every marked line of a source with
// a severity derived from the pattern's CVSS score.
package attack

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/invar/internal/codegen"
	"github.com/roach88/invar/internal/ir"
)

// maxRiskScore caps Report.RiskScore.
const maxRiskScore = 100

// reentrancyWindow is how many preceding lines are searched for a state
// update before an external call.
const reentrancyWindow = 50

// Pattern is a known attack with the markers that flag it in source.
type Pattern struct {
	ID          string
	Name        string
	Description string
	Year        int
	Incidents   []string
	Chains      []codegen.Chain
	CVSS        float64
	// Markers match a single source line that indicates the attack.
	Markers []*regexp.Regexp
	// Defenses name registry invariants guarding against the attack. Empty
	// when the type checker itself rules the attack out.
	Defenses []string

	// check replaces line markers for patterns that need more than one
	// line of context. It returns the zero-based indexes of flagged lines.
	check func(lines []string) []int
}

// Affects reports whether p applies to chain.
func (p *Pattern) Affects(chain codegen.Chain) bool {
	return slices.Contains(p.Chains, chain)
}

// Severity maps the CVSS score onto invariant severities.
func (p *Pattern) Severity() ir.Severity {
	switch {
	case p.CVSS >= 9:
		return ir.SeverityCritical
	case p.CVSS >= 7:
		return ir.SeverityHigh
	case p.CVSS >= 5:
		return ir.SeverityMedium
	}
	return ir.SeverityLow
}

// MarkerText returns the markers' source patterns.
func (p *Pattern) MarkerText() []string {
	out := make([]string, len(p.Markers))
	for i, re := range p.Markers {
		out[i] = re.String()
	}
	return out
}

func (p *Pattern) flagged(lines []string) []int {
	if p.check != nil {
		return p.check(lines)
	}
	var out []int
	for i, line := range lines {
		for _, re := range p.Markers {
			if re.MatchString(line) {
				out = append(out, i)
				break
			}
		}
	}
	return out
}

// Finding is one flagged source line.
type Finding struct {
	Pattern  string      `json:"pattern"`
	Line     int         `json:"line"` // 1-based
	Text     string      `json:"text"`
	Severity ir.Severity `json:"severity"`
	Defense  string      `json:"defense,omitempty"`
}

func (f Finding) String() string {
	return fmt.Sprintf("attack pattern %s at line %d: %s", f.Pattern, f.Line, f.Text)
}

// Report is the result of scanning one source.
type Report struct {
	Chain     codegen.Chain `json:"chain"`
	Findings  []Finding     `json:"findings"`
	RiskScore int           `json:"risk_score"`
}

// Passed reports whether no finding is critical or high.
func (r Report) Passed() bool {
	for _, f := range r.Findings {
		if f.Severity == ir.SeverityCritical || f.Severity == ir.SeverityHigh {
			return false
		}
	}
	return true
}

// DB holds attack patterns by ID.
type DB struct {
	patterns map[string]*Pattern
}

// New returns a DB holding patterns. IDs must be unique.
func New(patterns ...*Pattern) (*DB, error) {
	db := &DB{patterns: make(map[string]*Pattern, len(patterns))}
	for _, p := range patterns {
		if p.ID == "" {
			return nil, fmt.Errorf("attack pattern with no id")
		}
		if _, dup := db.patterns[p.ID]; dup {
			return nil, fmt.Errorf("attack pattern %q defined twice", p.ID)
		}
		db.patterns[p.ID] = p
	}
	return db, nil
}

// Default returns a DB of the known attack patterns.
func Default() *DB {
	db, err := New(known()...)
	if err != nil {
		panic(err)
	}
	return db
}

// Lookup returns the pattern with id.
func (db *DB) Lookup(id string) (*Pattern, bool) {
	p, ok := db.patterns[id]
	return p, ok
}

// All returns every pattern sorted by ID.
func (db *DB) All() []*Pattern {
	out := make([]*Pattern, 0, len(db.patterns))
	for _, id := range slices.Sorted(maps.Keys(db.patterns)) {
		out = append(out, db.patterns[id])
	}
	return out
}

// ForChain returns the patterns affecting chain sorted by ID.
func (db *DB) ForChain(chain codegen.Chain) []*Pattern {
	var out []*Pattern
	for _, p := range db.All() {
		if p.Affects(chain) {
			out = append(out, p)
		}
	}
	return out
}

// Scan checks source against every pattern affecting chain. Findings are
// ordered by line, then pattern ID.
func (db *DB) Scan(chain codegen.Chain, source string) Report {
	lines := strings.Split(source, "\n")
	r := Report{Chain: chain, Findings: []Finding{}}
	for _, p := range db.ForChain(chain) {
		for _, i := range p.flagged(lines) {
			f := Finding{
				Pattern:  p.ID,
				Line:     i + 1,
				Text:     strings.TrimSpace(lines[i]),
				Severity: p.Severity(),
			}
			if len(p.Defenses) > 0 {
				f.Defense = p.Defenses[0]
			}
			r.Findings = append(r.Findings, f)
		}
	}
	slices.SortStableFunc(r.Findings, func(a, b Finding) int {
		if a.Line != b.Line {
			return a.Line - b.Line
		}
		return strings.Compare(a.Pattern, b.Pattern)
	})
	for _, f := range r.Findings {
		r.RiskScore += f.Severity.Weight()
	}
	r.RiskScore = min(r.RiskScore, maxRiskScore)
	return r
}
