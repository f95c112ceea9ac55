package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/registry"
)

// LibraryEntry describes one built-in invariant.
type LibraryEntry struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Severity    string   `json:"severity"`
	Phases      []string `json:"phases"`
	Description string   `json:"description,omitempty"`
}

// LibraryResult is the output of the library command.
type LibraryResult struct {
	Invariants []LibraryEntry    `json:"invariants"`
	Requires   map[string]string `json:"requires"` // qualified variable -> type
}

// NewLibraryCommand creates the library command.
func NewLibraryCommand(rootOpts *RootOptions) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "library",
		Short: "List the built-in invariant library",
		Long: `List the built-in invariants and the state variables they read.

With --defensive the invariants guarding against known attack patterns
are listed too. Run any other command with the same flags to check them
alongside your own documents.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLibrary(rootOpts, category, cmd)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "only list invariants in this category")

	return cmd
}

func runLibrary(opts *RootOptions, category string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	lib, err := registry.Library()
	if err != nil {
		return f.Fail(ExitCommandError, "failed to build library", err)
	}
	if opts.Config.Defensive {
		defs, err := registry.Defensive()
		if err == nil {
			err = lib.Merge(defs)
		}
		if err != nil {
			return f.Fail(ExitCommandError, "failed to build library", err)
		}
	}

	decls := lib.All()
	if category != "" {
		decls = lib.ByCategory(category)
		if len(decls) == 0 {
			return f.Fail(ExitCommandError, "unknown category",
				fmt.Errorf("%q (have %v)", category, lib.Categories()))
		}
	}

	result := LibraryResult{
		Invariants: make([]LibraryEntry, len(decls)),
		Requires:   make(map[string]string),
	}
	for i, d := range decls {
		result.Invariants[i] = LibraryEntry{
			Name:        d.Name,
			Category:    d.Category,
			Severity:    string(d.Severity),
			Phases:      phaseTexts(d.Phases),
			Description: d.Description,
		}
	}
	for _, v := range lib.Vars() {
		result.Requires[ir.Qualify(v.Layer, v.Name)] = v.Type.String()
	}

	if f.Format == "json" {
		return f.Success(result)
	}
	for _, e := range result.Invariants {
		fmt.Fprintf(f.Writer, "%-38s %-9s %-20s %s\n", e.Name, e.Severity, e.Category, e.Description)
	}
	return nil
}
