package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/invar/internal/codegen"
	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/project"
	"github.com/roach88/invar/internal/runner"
	"github.com/roach88/invar/internal/sandbox"
	"github.com/roach88/invar/internal/store"
)

// Harness runs one scenario. Every run gets a fresh in-memory store, a
// fixed run ID and a single worker so traces are reproducible.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	logger   *slog.Logger
}

// RunID is the run ID every scenario run is stored under.
func RunID(s *Scenario) string { return "scenario-" + s.Name }

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Load documents and, when asked, the built-in registries
//  2. Screen and type check every invariant; rejections are CheckErrors.
//     A security rejection skips steps 3 to 6
//  3. Evaluate every checked invariant against every trial
//  4. Persist the run and read the trace back from the store
//  5. Check mutation coverage when a model is present
//  6. Generate and verify code for each chain
//  7. Match expectations and assertions
//
// An error is returned only when the scenario itself cannot be run.
func Run(s *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		scenario: s,
		store:    st,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return h.run(context.Background())
}

func (h *Harness) run(ctx context.Context) (*Result, error) {
	result := NewResult()

	p, err := project.Load(project.Options{
		Paths:     h.scenario.Documents,
		Library:   h.scenario.Library,
		Defensive: h.scenario.Defensive,
		Sandbox:   sandbox.Config{Strict: h.scenario.Strict, AllowedFunctions: h.scenario.AllowedFunctions},
		Logger:    h.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", h.scenario.Name, err)
	}
	for _, rej := range p.Rejected {
		result.CheckErrors = append(result.CheckErrors, checkError(rej.Invariant, rej.Err))
	}

	if err := p.SecurityErr(); err != nil {
		h.logger.Warn("security rejection, nothing evaluated", "scenario", h.scenario.Name, "error", err)
	} else if err := h.evaluate(ctx, p, result); err != nil {
		return nil, err
	}

	h.expect(result)
	for _, a := range h.scenario.Assertions {
		if err := evaluateAssertion(result, a); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

// evaluate runs the trials, stores and reads back the run, checks coverage
// and generates code.
func (h *Harness) evaluate(ctx context.Context, p *project.Project, result *Result) error {
	r := runner.New(
		runner.WithLogger(h.logger),
		runner.WithWorkers(1),
		runner.WithIDGenerator(runner.NewFixedGenerator(RunID(h.scenario))),
	)
	res, err := r.Run(ctx, runner.Batch{Env: p.Env, Invariants: p.Invariants, Trials: p.Doc.Trials})
	if err != nil {
		return err
	}
	for _, tr := range res.Trials {
		if tr.Err != nil {
			result.TrialErrors[tr.Trial] = tr.Err.Error()
		}
	}
	result.Summary = runner.Summarize(res.Records)

	if err := h.store.WriteResult(ctx, h.scenario.Name, res); err != nil {
		return err
	}
	stored, err := h.store.ReadVerdicts(ctx, res.RunID)
	if err != nil {
		return err
	}
	for _, sv := range stored {
		result.Trace = append(result.Trace, TraceEvent{
			Seq:       sv.Seq,
			Trial:     sv.Trial,
			Invariant: sv.Invariant,
			Status:    sv.Status,
			Severity:  sv.Severity,
			Kind:      sv.ErrorKind,
			Snapshot:  sv.Snapshot != nil,
		})
	}

	if p.Doc.Model != nil {
		_, cov, err := p.Coverage()
		if err != nil && !ir.IsKind(err, ir.ErrMutationCoverageGap) {
			return err
		}
		result.Coverage = &cov
		if err != nil {
			result.CheckErrors = append(result.CheckErrors, checkError("", err))
		}
	}

	return h.generate(p, result)
}

// generate renders every invariant for each chain and verifies the
// artifact. Verification failures are scenario errors.
func (h *Harness) generate(p *project.Project, result *Result) error {
	for _, name := range h.scenario.Chains {
		chain, err := codegen.ParseChain(name)
		if err != nil {
			return err
		}
		gen, err := codegen.New(chain)
		if err != nil {
			return err
		}
		for _, inv := range p.Invariants {
			art, err := gen.Generate(inv)
			if err != nil {
				result.AddError(err.Error())
				continue
			}
			if err := p.Validator.VerifyInjection(inv, art); err != nil {
				result.AddError(fmt.Sprintf("%s %s: %v", chain, inv.Name(), err))
				continue
			}
			if _, err := p.Validator.VerifyTamper(inv, art); err != nil {
				result.AddError(fmt.Sprintf("%s %s: %v", chain, inv.Name(), err))
				continue
			}
			result.Generated++
		}
	}
	return nil
}

func (h *Harness) expect(result *Result) {
	for _, e := range h.scenario.Expect {
		ev, ok := result.find(e.Trial, e.Invariant)
		if !ok {
			result.AddError(fmt.Sprintf("expected %s on %s: no verdict", e.Invariant, e.Trial))
			continue
		}
		if ev.Status != e.Status {
			result.AddError(fmt.Sprintf("expected %s on %s: status %s, got %s", e.Invariant, e.Trial, e.Status, ev.Status))
			continue
		}
		if e.Kind != "" && ev.Kind != e.Kind {
			result.AddError(fmt.Sprintf("expected %s on %s: kind %s, got %s", e.Invariant, e.Trial, e.Kind, ev.Kind))
		}
	}
}

func checkError(invariant string, err error) CheckError {
	ce := CheckError{Invariant: invariant, Message: err.Error()}
	if k, ok := ir.KindOf(err); ok {
		ce.Kind = string(k)
	}
	var ie *ir.Error
	if errors.As(err, &ie) {
		ce.Items = ie.Items
	}
	return ce
}
