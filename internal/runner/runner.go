// Package runner checks a batch of invariants against a batch of trial
// contexts.
//
// Trials run in parallel on a bounded worker pool. Each trial builds its
// own execution context, so no context is shared between goroutines.
// Results land in pre-sized slots and are stamped with sequence numbers
// only after every trial finished, so output order depends on input order
// alone.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/invar/internal/eval"
	"github.com/roach88/invar/internal/loader"
	"github.com/roach88/invar/internal/typecheck"
)

// Runner evaluates batches.
type Runner struct {
	logger  *slog.Logger
	workers int
	ids     IDGenerator
	clock   *Clock
	metrics *Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithWorkers bounds the number of trials evaluated at once. Values below
// one mean GOMAXPROCS.
func WithWorkers(n int) Option { return func(r *Runner) { r.workers = n } }

// WithIDGenerator sets the run ID source. The default is UUIDv7.
func WithIDGenerator(g IDGenerator) Option { return func(r *Runner) { r.ids = g } }

// WithClock sets the sequence clock, to continue numbering from a store.
func WithClock(c *Clock) Option { return func(r *Runner) { r.clock = c } }

// WithMetrics records verdicts and trial durations.
func WithMetrics(m *Metrics) Option { return func(r *Runner) { r.metrics = m } }

// New returns a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		ids:    UUIDv7Generator{},
		clock:  NewClock(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.workers < 1 {
		r.workers = runtime.GOMAXPROCS(0)
	}
	return r
}

// Batch is the input of one run.
type Batch struct {
	Env        *typecheck.Env
	Invariants []*typecheck.Invariant
	Trials     []loader.Trial
}

// Record is one verdict stamped with its run position.
type Record struct {
	Seq   int64
	Trial string
	eval.Verdict
}

// TrialResult is the outcome of one trial. Err is set when the trial's
// script could not build a context; no invariant was checked then.
type TrialResult struct {
	Trial    string
	Digest   string // digest of the final context export
	Verdicts []eval.Verdict
	Err      error
}

// Result is the outcome of a run.
type Result struct {
	RunID   string
	Trials  []TrialResult
	Records []Record
}

// Run evaluates every invariant against every trial. It fails only when
// ctx is cancelled; evaluation errors are ERROR verdicts and script
// failures are reported per trial.
func (r *Runner) Run(ctx context.Context, b Batch) (*Result, error) {
	res := &Result{
		RunID:  r.ids.Generate(),
		Trials: make([]TrialResult, len(b.Trials)),
	}
	log := r.logger.With("run", res.RunID)
	log.Info("run starting", "invariants", len(b.Invariants), "trials", len(b.Trials), "workers", r.workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, trial := range b.Trials {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res.Trials[i] = r.runTrial(log, b, trial)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("run %s: %w", res.RunID, err)
	}

	for _, tr := range res.Trials {
		for _, v := range tr.Verdicts {
			res.Records = append(res.Records, Record{Seq: r.clock.Next(), Trial: tr.Trial, Verdict: v})
		}
	}
	s := Summarize(res.Records)
	log.Info("run finished", "pass", s.Pass, "fail", s.Fail, "error", s.Error, "skipped", s.Skipped, "risk", s.RiskScore)
	return res, nil
}

func (r *Runner) runTrial(log *slog.Logger, b Batch, trial loader.Trial) TrialResult {
	start := time.Now()
	out := TrialResult{Trial: trial.Name}

	ctx, err := trial.Context(b.Env)
	if err != nil {
		log.Warn("trial script failed", "trial", trial.Name, "error", err)
		out.Err = err
		return out
	}
	if out.Digest, err = ctx.Digest(); err != nil {
		out.Err = err
		return out
	}

	out.Verdicts = make([]eval.Verdict, len(b.Invariants))
	for i, inv := range b.Invariants {
		v := eval.EvaluateInvariant(inv, ctx)
		out.Verdicts[i] = v
		if r.metrics != nil {
			r.metrics.RecordVerdict(v)
		}
		if v.Status == eval.StatusFail || v.Status == eval.StatusError {
			log.Debug("invariant not satisfied", "trial", trial.Name, "invariant", v.Invariant, "status", v.Status, "message", v.Message())
		}
	}
	if r.metrics != nil {
		r.metrics.RecordTrial(time.Since(start))
	}
	return out
}
