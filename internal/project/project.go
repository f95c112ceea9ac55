// Package project assembles invariant documents into checked invariants.
//
// Load merges documents and, when asked, the built-in library into one
// environment, builds the sandbox validator and screens and type checks
// every declaration. A declaration that fails is recorded as a Rejection
// and left out; the rest are ready for evaluation, coverage and code
// generation.
package project

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/invar/internal/depgraph"
	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/loader"
	"github.com/roach88/invar/internal/registry"
	"github.com/roach88/invar/internal/sandbox"
	"github.com/roach88/invar/internal/typecheck"
)

// Options selects what to load.
type Options struct {
	Paths     []string
	Library   bool
	// Defensive adds the invariants that guard against known attack
	// patterns.
	Defensive bool
	Sandbox   sandbox.Config
	Logger    *slog.Logger
}

// Rejection is a declaration that did not pass screening or type checking.
type Rejection struct {
	Invariant string
	Err       error
}

// Kind returns the error kind, MalformedAST when the error carries none.
func (r Rejection) Kind() ir.ErrorKind {
	if k, ok := ir.KindOf(r.Err); ok {
		return k
	}
	return ir.ErrMalformedAST
}

// Project is a loaded and checked set of invariants.
type Project struct {
	Doc        *loader.Document
	Env        *typecheck.Env
	Validator  *sandbox.Validator
	Invariants []*typecheck.Invariant
	Rejected   []Rejection
}

// Load reads opts.Paths, adds the requested built-in registries and checks
// every declaration. Errors are returned for unreadable documents, conflicting declarations
// and a rejected sandbox configuration; per-invariant failures are in
// Rejected.
func Load(opts Options) (*Project, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	v, err := sandbox.NewValidator(opts.Sandbox)
	if err != nil {
		return nil, err
	}

	doc := &loader.Document{}
	if len(opts.Paths) > 0 {
		if doc, err = loader.New(loader.WithLogger(logger)).LoadFiles(opts.Paths...); err != nil {
			return nil, err
		}
	}
	env, err := doc.Env()
	if err != nil {
		return nil, err
	}

	decls := doc.Invariants
	extra, err := builtins(opts)
	if err != nil {
		return nil, err
	}
	if extra.Len() > 0 {
		if err := extra.Declare(env); err != nil {
			return nil, err
		}
		decls = append(decls, extra.All()...)
	}

	p := &Project{Doc: doc, Env: env, Validator: v}
	checker := typecheck.New(env,
		typecheck.WithFunctions(v.Functions()),
		typecheck.WithPhases(doc.DeclaredPhases()),
	)
	seen := make(map[string]bool, len(decls))
	for _, d := range decls {
		if err := p.check(checker, seen, d); err != nil {
			logger.Debug("invariant rejected", "invariant", d.Name, "error", err)
			p.Rejected = append(p.Rejected, Rejection{Invariant: d.Name, Err: err})
		}
	}
	logger.Info("invariants checked", "accepted", len(p.Invariants), "rejected", len(p.Rejected))
	return p, nil
}

// builtins merges the registries opts asks for.
func builtins(opts Options) (*registry.Registry, error) {
	r := registry.New()
	var sources []func() (*registry.Registry, error)
	if opts.Library {
		sources = append(sources, registry.Library)
	}
	if opts.Defensive {
		sources = append(sources, registry.Defensive)
	}
	for _, build := range sources {
		other, err := build()
		if err != nil {
			return nil, err
		}
		if err := r.Merge(other); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (p *Project) check(checker *typecheck.Checker, seen map[string]bool, d ir.InvariantDecl) error {
	if seen[d.Name] {
		return ir.Errorf(ir.ErrMalformedAST, "duplicate invariant %q", d.Name)
	}
	seen[d.Name] = true
	if err := p.Validator.ScreenInvariant(d); err != nil {
		return err
	}
	inv, err := checker.CheckInvariant(d)
	if err != nil {
		return err
	}
	p.Invariants = append(p.Invariants, inv)
	return nil
}

// Lookup returns the checked invariant with name.
func (p *Project) Lookup(name string) (*typecheck.Invariant, bool) {
	for _, inv := range p.Invariants {
		if inv.Name() == name {
			return inv, true
		}
	}
	return nil, false
}

// RejectedErr joins every rejection into one error, nil when there are
// none.
func (p *Project) RejectedErr() error {
	errs := make([]error, len(p.Rejected))
	for i, r := range p.Rejected {
		errs[i] = r.Err
	}
	return errors.Join(errs...)
}

// SecurityRejected reports whether any rejection is a security violation.
func (p *Project) SecurityRejected() bool { return p.SecurityErr() != nil }

// SecurityErr returns the first security-class rejection, nil when there
// is none. A project with one must not be evaluated.
func (p *Project) SecurityErr() error {
	for _, r := range p.Rejected {
		if ir.IsSecurityError(r.Err) {
			return r.Err
		}
	}
	return nil
}

// ErrNoModel is returned by Coverage when no document carries a model.
var ErrNoModel = errors.New("no program model loaded")

// Coverage builds the dependency graph of the document's model and the
// checked invariants and matches its mutation facts. In strict mode an
// uncovered fact is a MutationCoverageGap error; the coverage is returned
// either way.
func (p *Project) Coverage() (*depgraph.Graph, depgraph.Coverage, error) {
	if p.Doc.Model == nil {
		return nil, depgraph.Coverage{}, ErrNoModel
	}
	g, err := depgraph.Build(*p.Doc.Model, p.Invariants)
	if err != nil {
		return nil, depgraph.Coverage{}, fmt.Errorf("model %s: %w", p.Doc.Model.Name, err)
	}
	cov, err := p.Validator.CheckCoverage(g)
	return g, cov, err
}
