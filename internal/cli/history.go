package cli

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/invar/internal/store"
)

// StoreOptions holds the database flag shared by history and diff.
type StoreOptions struct {
	*RootOptions
	Database string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [invariant]",
		Short: "Show stored runs or one invariant's verdicts",
		Long: `Without arguments, list the runs stored in the database in the order
they were evaluated. With an invariant name, list that invariant's
verdicts across every run.

Example:
  invar history --db ./invar.db
  invar history --db ./invar.db aa.nonce_monotonic`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")

	return cmd
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diff <base-run> <head-run>",
		Short: "Compare the verdicts of two stored runs",
		Long: `Compare two stored runs verdict by verdict: regressions, fixes, changed
invariant definitions, added and removed verdicts, and trials whose
context changed.

Exits 1 when the head run regressed.

Example:
  invar diff --db ./invar.db 0190a5c4-... 0190a5c9-...`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")

	return cmd
}

func openStore(opts *StoreOptions, f *OutputFormatter) (*store.Store, error) {
	if opts.Config.Database == "" {
		return nil, f.Fail(ExitCommandError, "no database", errors.New("pass --db or set db in the config"))
	}
	st, err := store.Open(opts.Config.Database)
	if err != nil {
		return nil, f.Fail(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func runHistory(opts *StoreOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, err := openStore(opts, f)
	if err != nil {
		return err
	}
	defer st.Close()
	ctx := cmd.Context()

	if len(args) == 0 {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return f.Fail(ExitCommandError, "failed to list runs", err)
		}
		if f.Format == "json" {
			return f.Success(runs)
		}
		for _, r := range runs {
			fmt.Fprintf(f.Writer, "%s seq %d-%d %s\n", r.ID, r.FirstSeq, r.LastSeq, r.Source)
		}
		return nil
	}

	verdicts, err := st.ReadHistory(ctx, args[0])
	if err != nil {
		return f.Fail(ExitCommandError, "failed to read history", err)
	}
	if len(verdicts) == 0 {
		return f.Fail(ExitCommandError, "no history", fmt.Errorf("invariant %q has no stored verdicts", args[0]))
	}
	if f.Format == "json" {
		return f.Success(verdicts)
	}
	for _, v := range verdicts {
		line := fmt.Sprintf("[%d] %s %s %s", v.Seq, v.RunID, v.Trial, v.Status)
		if v.ErrorKind != "" {
			line += " " + v.ErrorKind
		}
		fmt.Fprintln(f.Writer, line)
	}
	return nil
}

func runDiff(opts *StoreOptions, base, head string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, err := openStore(opts, f)
	if err != nil {
		return err
	}
	defer st.Close()

	for _, id := range []string{base, head} {
		if _, err := st.ReadRun(cmd.Context(), id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return f.Fail(ExitCommandError, "unknown run", err)
			}
			return f.Fail(ExitCommandError, "failed to read run", err)
		}
	}
	changes, err := st.Compare(cmd.Context(), base, head)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to compare runs", err)
	}

	if f.Format == "json" {
		if err := f.Success(changes); err != nil {
			return err
		}
	} else {
		for _, c := range changes {
			target := c.Trial
			if c.Invariant != "" {
				target += " " + c.Invariant
			}
			fmt.Fprintf(f.Writer, "%-12s %s: %s → %s\n", c.Kind, target, orDash(c.Base), orDash(c.Head))
		}
		if len(changes) == 0 {
			fmt.Fprintln(f.Writer, "no changes")
		}
	}

	regressed := 0
	for _, c := range changes {
		if c.Kind == store.ChangeRegressed {
			regressed++
		}
	}
	if regressed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d regression(s)", regressed))
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
