package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/invar/internal/eval"
	"github.com/roach88/invar/internal/project"
	"github.com/roach88/invar/internal/runner"
	"github.com/roach88/invar/internal/store"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	*RootOptions
	Database    string
	Workers     int
	MetricsFile string
	Source      string

	// IDGenerator overrides the run ID generator (for testing).
	// If nil, the runner's UUIDv7 generator is used.
	IDGenerator runner.IDGenerator
}

// VerdictInfo is one verdict in eval output.
type VerdictInfo struct {
	Seq       int64  `json:"seq"`
	Trial     string `json:"trial"`
	Invariant string `json:"invariant"`
	Status    string `json:"status"`
	Severity  string `json:"severity"`
	Kind      string `json:"kind,omitempty"`
	Message   string `json:"message,omitempty"`
}

// EvalResult is the output of the eval command.
type EvalResult struct {
	RunID       string            `json:"run_id"`
	Verdicts    []VerdictInfo     `json:"verdicts"`
	TrialErrors map[string]string `json:"trial_errors,omitempty"`
	Rejected    []RejectionInfo   `json:"rejected,omitempty"`
	Summary     runner.Summary    `json:"summary"`
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "eval [documents...]",
		Short: "Evaluate invariants against the documents' trials",
		Long: `Evaluate every checked invariant against every trial context the
documents declare.

With --db the run is appended to a SQLite database for history and diff.
A declaration rejected for a security violation, or with --strict a
mutation no invariant covers, stops the command before anything is
evaluated or stored.
Exits 1 when any verdict is FAIL or ERROR or a declaration is rejected,
3 when a security violation was found.

Example:
  invar eval ./wallet.yaml
  invar eval --db ./invar.db --workers 4 ./invariants`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "append the run to this SQLite database")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "parallel trials (default GOMAXPROCS)")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics in text format to this file")
	cmd.Flags().StringVar(&opts.Source, "source", "", "label stored with the run (default the document paths)")

	return cmd
}

func runEval(opts *EvalOptions, paths []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	p, err := loadProject(opts.RootOptions, f, paths)
	if err != nil {
		return err
	}
	if err := p.SecurityErr(); err != nil {
		return f.Fail(ExitSecurity, "declaration rejected, nothing evaluated", err)
	}
	if p.Validator.Strict() {
		if _, _, err := p.Coverage(); err != nil && !errors.Is(err, project.ErrNoModel) {
			return f.Fail(failureCode(err), "mutation coverage incomplete, nothing evaluated", err)
		}
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	reg := prometheus.NewRegistry()
	metrics, err := runner.NewMetrics(reg)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to register metrics", err)
	}
	runOpts := []runner.Option{
		runner.WithLogger(opts.Logger),
		runner.WithWorkers(opts.Config.Workers),
		runner.WithMetrics(metrics),
	}
	if opts.IDGenerator != nil {
		runOpts = append(runOpts, runner.WithIDGenerator(opts.IDGenerator))
	}

	var st *store.Store
	if db := opts.Config.Database; db != "" {
		st, err = store.Open(db)
		if err != nil {
			return f.Fail(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				opts.Logger.Error("error closing database", "error", closeErr)
			}
		}()
		last, err := st.LastSeq(ctx)
		if err != nil {
			return f.Fail(ExitCommandError, "failed to read database", err)
		}
		runOpts = append(runOpts, runner.WithClock(runner.NewClockAt(last)))
	}

	res, err := runner.New(runOpts...).Run(ctx, runner.Batch{
		Env:        p.Env,
		Invariants: p.Invariants,
		Trials:     p.Doc.Trials,
	})
	if err != nil {
		return f.Fail(ExitCommandError, "evaluation interrupted", err)
	}

	if st != nil {
		source := opts.Source
		if source == "" {
			source = strings.Join(paths, ",")
		}
		if err := st.WriteResult(ctx, source, res); err != nil {
			return f.Fail(ExitCommandError, "failed to store run", err)
		}
		f.VerboseLog("stored run %s in %s", res.RunID, opts.Config.Database)
	}
	if opts.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsFile, reg); err != nil {
			return f.Fail(ExitCommandError, "failed to write metrics", err)
		}
	}

	result := evalResult(res)
	result.Rejected = rejections(p)
	if f.Format == "json" {
		if err := f.Success(result); err != nil {
			return err
		}
	} else {
		printEval(f, result)
	}

	switch {
	case result.Summary.Security > 0:
		return NewExitError(ExitSecurity, fmt.Sprintf("%d security violation(s)", result.Summary.Security))
	case len(p.Rejected) > 0:
		return rejectedExit(p)
	case !result.Summary.OK() || len(result.TrialErrors) > 0:
		return NewExitError(ExitFailure, fmt.Sprintf("%d failed, %d errors", result.Summary.Fail, result.Summary.Error))
	}
	return nil
}

func evalResult(res *runner.Result) EvalResult {
	out := EvalResult{
		RunID:    res.RunID,
		Verdicts: make([]VerdictInfo, len(res.Records)),
		Summary:  runner.Summarize(res.Records),
	}
	for i, rec := range res.Records {
		out.Verdicts[i] = VerdictInfo{
			Seq:       rec.Seq,
			Trial:     rec.Trial,
			Invariant: rec.Invariant,
			Status:    string(rec.Status),
			Severity:  string(rec.Severity),
			Kind:      string(rec.Kind),
			Message:   rec.Message(),
		}
	}
	for _, tr := range res.Trials {
		if tr.Err != nil {
			if out.TrialErrors == nil {
				out.TrialErrors = make(map[string]string)
			}
			out.TrialErrors[tr.Trial] = tr.Err.Error()
		}
	}
	return out
}

func printEval(f *OutputFormatter, r EvalResult) {
	for _, v := range r.Verdicts {
		line := fmt.Sprintf("[%d] %s %s %s", v.Seq, v.Trial, v.Invariant, v.Status)
		if v.Status == string(eval.StatusFail) || v.Status == string(eval.StatusError) {
			line += " (" + v.Message + ")"
		}
		fmt.Fprintln(f.Writer, line)
	}
	trials := make([]string, 0, len(r.TrialErrors))
	for name := range r.TrialErrors {
		trials = append(trials, name)
	}
	sort.Strings(trials)
	for _, name := range trials {
		fmt.Fprintf(f.Writer, "trial %s: %s\n", name, r.TrialErrors[name])
	}
	for _, rej := range r.Rejected {
		fmt.Fprintf(f.Writer, "✗ %s %s: %s\n", rej.Invariant, rej.Kind, rej.Message)
	}
	s := r.Summary
	fmt.Fprintf(f.Writer, "%d verdicts: %d pass, %d fail, %d error, %d skipped; risk %d/100\n",
		s.Total, s.Pass, s.Fail, s.Error, s.Skipped, s.RiskScore)
}

// signalContext cancels on SIGINT or SIGTERM. It uses the command's
// context if set (for testing).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
