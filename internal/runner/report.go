package runner

import (
	"github.com/roach88/invar/internal/eval"
	"github.com/roach88/invar/internal/ir"
)

// maxRiskScore caps RiskScore.
const maxRiskScore = 100

// SeverityBreakdown counts failed invariants by severity.
type SeverityBreakdown struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Summary aggregates the verdicts of a run.
type Summary struct {
	Total    int `json:"total"`
	Pass     int `json:"pass"`
	Fail     int `json:"fail"`
	Error    int `json:"error"`
	Skipped  int `json:"skipped"`
	Security int `json:"security"` // ERROR verdicts of the security class

	Failures SeverityBreakdown `json:"failures"`

	// RiskScore is the severity weight of every failure, capped at 100.
	RiskScore int `json:"risk_score"`
}

// OK reports whether every checked invariant passed.
func (s Summary) OK() bool { return s.Fail == 0 && s.Error == 0 }

// Summarize aggregates records.
func Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		s.Total++
		switch r.Status {
		case eval.StatusPass:
			s.Pass++
		case eval.StatusSkipped:
			s.Skipped++
		case eval.StatusError:
			s.Error++
			if r.Err != nil && ir.IsSecurityError(r.Err) {
				s.Security++
			}
		case eval.StatusFail:
			s.Fail++
			s.RiskScore += r.Severity.Weight()
			switch r.Severity {
			case ir.SeverityCritical:
				s.Failures.Critical++
			case ir.SeverityHigh:
				s.Failures.High++
			case ir.SeverityMedium:
				s.Failures.Medium++
			case ir.SeverityLow:
				s.Failures.Low++
			}
		}
	}
	s.RiskScore = min(s.RiskScore, maxRiskScore)
	return s
}
