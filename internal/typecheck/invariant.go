package typecheck

import (
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/roach88/invar/internal/ir"
)

var invariantNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)

// Invariant is a declaration that passed type checking.
type Invariant struct {
	Decl   ir.InvariantDecl
	Expr   *TypedExpr
	Phases []ir.Phase // resolved, sorted
	Layers []ir.Layer // sorted
	Hash   string
}

// Name returns the invariant name.
func (inv *Invariant) Name() string { return inv.Decl.Name }

// AppliesTo reports whether the invariant is checked in phase p.
func (inv *Invariant) AppliesTo(p ir.Phase) bool {
	return slices.Contains(inv.Phases, p)
}

// CheckInvariant validates a declaration and types its expression.
//
// The expression must be bool. Phases named by the declaration or by the
// expression must be declared on the checker. When the declaration lists
// no layers, the layers read by the expression are used. The returned
// Hash is the tamper-detection hash of the canonical lowering.
func (c *Checker) CheckInvariant(decl ir.InvariantDecl) (*Invariant, error) {
	if !invariantNamePattern.MatchString(decl.Name) {
		return nil, ir.Errorf(ir.ErrMalformedAST, "invalid invariant name %q", decl.Name)
	}
	sev, err := ir.ParseSeverity(string(decl.Severity))
	if err != nil {
		return nil, fmt.Errorf("invariant %s: %w", decl.Name, err)
	}
	decl.Severity = sev

	for _, p := range decl.Phases {
		if err := c.checkPhase("", p); err != nil {
			return nil, fmt.Errorf("invariant %s: %w", decl.Name, err)
		}
	}
	for _, l := range decl.Layers {
		if l.IsZero() {
			return nil, fmt.Errorf("invariant %s: %w", decl.Name, ir.Errorf(ir.ErrMalformedAST, "empty layer"))
		}
	}

	te, err := c.Check(decl.Expr)
	if err != nil {
		return nil, fmt.Errorf("invariant %s: %w", decl.Name, err)
	}
	if !te.Type().Equal(ir.TBool) {
		return nil, fmt.Errorf("invariant %s: %w", decl.Name,
			ir.NewTypeMismatch(ir.RootPath, "invariant expression must be bool", "bool", te.Type().String()))
	}

	if len(decl.Layers) == 0 {
		for _, r := range ir.References(decl.Expr) {
			decl.Layers = append(decl.Layers, r.Layer)
		}
	}
	hash, err := ir.InvariantHash(decl, c.phases)
	if err != nil {
		return nil, fmt.Errorf("invariant %s: %w", decl.Name, err)
	}
	return &Invariant{
		Decl:   decl,
		Expr:   te,
		Phases: decl.ResolvePhases(c.phases),
		Layers: decl.SortedLayers(),
		Hash:   hash,
	}, nil
}

// CheckAll checks every declaration. All failures are reported together;
// the returned slice holds the invariants that passed, in input order.
// Duplicate names are MalformedAST.
func (c *Checker) CheckAll(decls []ir.InvariantDecl) ([]*Invariant, error) {
	var (
		out  []*Invariant
		errs []error
		seen = make(map[string]bool, len(decls))
	)
	for _, d := range decls {
		if seen[d.Name] {
			errs = append(errs, ir.Errorf(ir.ErrMalformedAST, "duplicate invariant %q", d.Name))
			continue
		}
		seen[d.Name] = true
		inv, err := c.CheckInvariant(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, inv)
	}
	return out, errors.Join(errs...)
}
