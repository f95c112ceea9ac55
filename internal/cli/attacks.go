package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/invar/internal/attack"
	"github.com/roach88/invar/internal/codegen"
)

// AttackEntry describes one known attack pattern.
type AttackEntry struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Year      int      `json:"year"`
	CVSS      float64  `json:"cvss"`
	Severity  string   `json:"severity"`
	Chains    []string `json:"chains"`
	Markers   []string `json:"markers,omitempty"`
	Defenses  []string `json:"defenses,omitempty"`
	Incidents []string `json:"incidents,omitempty"`
}

// NewAttacksCommand creates the attacks command.
func NewAttacksCommand(rootOpts *RootOptions) *cobra.Command {
	var chain string

	cmd := &cobra.Command{
		Use:   "attacks [source]",
		Short: "List known attack patterns or scan a source file for them",
		Long: `Without arguments, list the known attack patterns with the invariants
that defend against them (see library --defensive).

With a source file, report every line that matches a pattern for --chain.
Exits 3 when a critical or high finding is reported.

Example:
  invar attacks --chain solana
  invar attacks --chain evm ./Vault.sol`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttacks(rootOpts, chain, args, cmd)
		},
	}

	cmd.Flags().StringVar(&chain, "chain", "", "only patterns affecting this chain (required to scan)")

	return cmd
}

func runAttacks(opts *RootOptions, chainName string, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	db := attack.Default()

	var chain codegen.Chain
	if chainName != "" {
		c, err := codegen.ParseChain(chainName)
		if err != nil {
			return f.Fail(ExitCommandError, "invalid chain", err)
		}
		chain = c
	}

	if len(args) == 0 {
		patterns := db.All()
		if chain != "" {
			patterns = db.ForChain(chain)
		}
		return listAttacks(f, patterns)
	}

	if chain == "" {
		return f.Fail(ExitCommandError, "no chain", fmt.Errorf("pass --chain to scan %s", args[0]))
	}
	src, err := os.ReadFile(args[0])
	if err != nil {
		return f.Fail(ExitCommandError, "failed to read source", err)
	}
	report := db.Scan(chain, string(src))
	opts.Logger.Debug("source scanned", "path", args[0], "chain", chain, "findings", len(report.Findings))

	if f.Format == "json" {
		if err := f.Success(report); err != nil {
			return err
		}
	} else {
		for _, fd := range report.Findings {
			fmt.Fprintf(f.Writer, "%s:%d %-22s %-8s %s\n", args[0], fd.Line, fd.Pattern, fd.Severity, fd.Text)
			if fd.Defense != "" {
				fmt.Fprintf(f.Writer, "    defended by %s\n", fd.Defense)
			}
		}
		fmt.Fprintf(f.Writer, "%d finding(s); risk %d/100\n", len(report.Findings), report.RiskScore)
	}
	if !report.Passed() {
		return NewExitError(ExitSecurity, fmt.Sprintf("%s: critical or high attack pattern found", args[0]))
	}
	return nil
}

func listAttacks(f *OutputFormatter, patterns []*attack.Pattern) error {
	entries := make([]AttackEntry, len(patterns))
	for i, p := range patterns {
		chains := make([]string, len(p.Chains))
		for j, c := range p.Chains {
			chains[j] = string(c)
		}
		entries[i] = AttackEntry{
			ID:        p.ID,
			Name:      p.Name,
			Year:      p.Year,
			CVSS:      p.CVSS,
			Severity:  string(p.Severity()),
			Chains:    chains,
			Markers:   p.MarkerText(),
			Defenses:  p.Defenses,
			Incidents: p.Incidents,
		}
	}
	if f.Format == "json" {
		return f.Success(entries)
	}
	for _, e := range entries {
		fmt.Fprintf(f.Writer, "%-22s %-8s %4.1f  %s\n", e.ID, e.Severity, e.CVSS, e.Name)
	}
	return nil
}
