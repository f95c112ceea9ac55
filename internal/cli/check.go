package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/project"
	"github.com/roach88/invar/internal/typecheck"
)

// InvariantInfo describes a checked invariant.
type InvariantInfo struct {
	Name     string   `json:"name"`
	Hash     string   `json:"hash"`
	Severity string   `json:"severity"`
	Category string   `json:"category,omitempty"`
	Phases   []string `json:"phases"`
	Layers   []string `json:"layers"`
}

// CheckResult is the output of the check command.
type CheckResult struct {
	Invariants []InvariantInfo `json:"invariants"`
	Rejected   []RejectionInfo `json:"rejected"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [documents...]",
		Short: "Screen and type check invariants",
		Long: `Load invariant documents, screen every declaration against the sandbox
policy and type check it.

Exits 1 when a declaration is rejected, 3 when a rejection is a security
violation.

Example:
  invar check ./invariants.yaml
  invar check --library --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runCheck(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	p, err := loadProject(opts, f, paths)
	if err != nil {
		return err
	}

	result := CheckResult{Invariants: make([]InvariantInfo, len(p.Invariants)), Rejected: rejections(p)}
	for i, inv := range p.Invariants {
		result.Invariants[i] = invariantInfo(inv)
	}

	if f.Format == "json" {
		if err := f.Success(result); err != nil {
			return err
		}
	} else {
		printCheck(f, result)
	}
	return rejectedExit(p)
}

func invariantInfo(inv *typecheck.Invariant) InvariantInfo {
	info := InvariantInfo{
		Name:     inv.Name(),
		Hash:     inv.Hash,
		Severity: string(inv.Decl.Severity),
		Category: inv.Decl.Category,
		Phases:   phaseTexts(inv.Phases),
		Layers:   make([]string, len(inv.Layers)),
	}
	for i, l := range inv.Layers {
		info.Layers[i] = l.Text()
	}
	return info
}

func printCheck(f *OutputFormatter, r CheckResult) {
	for _, inv := range r.Invariants {
		fmt.Fprintf(f.Writer, "✓ %s [%s] %s\n", inv.Name, inv.Severity, shortHash(inv.Hash))
	}
	for _, rej := range r.Rejected {
		fmt.Fprintf(f.Writer, "✗ %s %s: %s\n", rej.Invariant, rej.Kind, rej.Message)
		for _, item := range rej.Items {
			fmt.Fprintf(f.Writer, "    %s\n", item)
		}
	}
	fmt.Fprintf(f.Writer, "%d accepted, %d rejected\n", len(r.Invariants), len(r.Rejected))
}

// rejectedExit returns the exit error for a project with rejections.
func rejectedExit(p *project.Project) error {
	err := p.RejectedErr()
	if err == nil {
		return nil
	}
	code := ExitFailure
	if p.SecurityRejected() {
		code = ExitSecurity
	}
	return WrapExitError(code, fmt.Sprintf("%d invariant(s) rejected", len(p.Rejected)), err)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// phaseTexts renders phases in document form.
func phaseTexts(phases []ir.Phase) []string {
	out := make([]string, len(phases))
	for i, ph := range phases {
		out[i] = ph.Text()
	}
	return out
}
