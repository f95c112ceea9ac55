package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/invar/internal/depgraph"
	"github.com/roach88/invar/internal/project"
)

// CoverageResult is the output of the coverage command.
type CoverageResult struct {
	Model     string          `json:"model"`
	Strict    bool            `json:"strict"`
	Ratio     float64         `json:"ratio"`
	Facts     []depgraph.Fact `json:"facts"`
	Uncovered []string        `json:"uncovered"`

	// Unmodeled are variables invariants read that the model does not hold.
	Unmodeled []string                `json:"unmodeled,omitempty"`
	Cycles    []depgraph.CycleWarning `json:"cycles,omitempty"`
}

// NewCoverageCommand creates the coverage command.
func NewCoverageCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coverage [documents...]",
		Short: "Match program mutations against invariant reads",
		Long: `Build the dependency graph of the documents' program model and report
which state mutations no invariant reads.

In strict mode (--strict or sandbox.strict) an uncovered mutation is a
security violation and exits 3.

Example:
  invar coverage ./account.yaml ./invariants.yaml
  invar coverage --strict --library ./account.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoverage(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runCoverage(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	p, err := loadProject(opts, f, paths)
	if err != nil {
		return err
	}

	g, cov, covErr := p.Coverage()
	if errors.Is(covErr, project.ErrNoModel) {
		return f.Fail(ExitCommandError, "coverage needs a model", covErr)
	}
	if g == nil {
		return f.Fail(ExitCommandError, "failed to build dependency graph", covErr)
	}

	result := CoverageResult{
		Model:     g.Model(),
		Strict:    p.Validator.Strict(),
		Ratio:     cov.Ratio(),
		Facts:     cov.Facts,
		Uncovered: make([]string, len(cov.Uncovered)),
		Unmodeled: g.Undeclared(nil),
		Cycles:    g.CallCycles(),
	}
	for i, fact := range cov.Uncovered {
		result.Uncovered[i] = fact.String()
	}

	if f.Format == "json" {
		if err := f.Success(result); err != nil {
			return err
		}
	} else {
		printCoverage(f, result)
	}

	if covErr != nil {
		return WrapExitError(ExitSecurity, "uncovered mutations", covErr)
	}
	return rejectedExit(p)
}

func printCoverage(f *OutputFormatter, r CoverageResult) {
	for _, fact := range r.Facts {
		if fact.Covered() {
			fmt.Fprintf(f.Writer, "✓ %s (%s)\n", fact, strings.Join(fact.CoveredBy, ", "))
		} else {
			fmt.Fprintf(f.Writer, "✗ %s\n", fact)
		}
	}
	for _, id := range r.Unmodeled {
		fmt.Fprintf(f.Writer, "? %s is read but not held by the model\n", id)
	}
	for _, c := range r.Cycles {
		fmt.Fprintf(f.Writer, "! %s\n", c.Message)
	}
	fmt.Fprintf(f.Writer, "model %s: %d/%d mutations covered (%.0f%%)\n",
		r.Model, len(r.Facts)-len(r.Uncovered), len(r.Facts), r.Ratio*100)
}
