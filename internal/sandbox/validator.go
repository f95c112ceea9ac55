// Package sandbox implements the threat-model checks that sit around the
// expression engine: identifier screening before type checking, injection
// verification and tamper detection of generated artifacts, and strict
// mutation coverage.
//
// Every rejection is an *ir.Error of a security-class kind. Policies cannot
// be switched off: a configuration asking to disable one is rejected with
// POLICY_DISABLE_REJECTED.
package sandbox

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/invar/internal/attack"
	"github.com/roach88/invar/internal/builtin"
	"github.com/roach88/invar/internal/codegen"
	"github.com/roach88/invar/internal/depgraph"
	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/typecheck"
)

// Config configures a Validator.
//
// The Disable fields exist so that a request to turn a policy off is
// visible and can be refused; NewValidator fails when any is set.
type Config struct {
	// Strict requires every mutation fact to be covered by an invariant.
	Strict bool `mapstructure:"strict"`
	// ExtraForbidden are additional regular expressions an identifier
	// must not match.
	ExtraForbidden []string `mapstructure:"extra_forbidden"`
	// AllowedFunctions narrows the callable functions. Empty means the
	// whole standard table.
	AllowedFunctions []string `mapstructure:"allowed_functions"`

	DisableSandbox        bool `mapstructure:"disable_sandbox"`
	DisableInjectionCheck bool `mapstructure:"disable_injection_check"`
	DisableTamperCheck    bool `mapstructure:"disable_tamper_check"`
}

// forbiddenStems are identifier stems naming host capabilities. An
// identifier is forbidden when its first underscore-separated word is one
// of them ("file", "file_handle", "net_peer").
var forbiddenStems = []string{
	"env", "exec", "extern", "file", "fork", "fs", "io", "net",
	"os", "process", "socket", "spawn", "syscall", "unsafe",
}

// dangerous matches constructs that must never appear in generated code.
var dangerous = []*regexp.Regexp{
	regexp.MustCompile(`\bunsafe\b`),
	regexp.MustCompile(`\bextern\b`),
	regexp.MustCompile(`std::process`),
	regexp.MustCompile(`std::fs`),
	regexp.MustCompile(`std::net`),
	regexp.MustCompile(`\bdelegatecall\b`),
	regexp.MustCompile(`\bselfdestruct\b`),
	regexp.MustCompile(`\bassembly\b`),
}

// Validator enforces the sandbox policies. It is safe for concurrent use
// once constructed.
type Validator struct {
	strict    bool
	forbidden []*regexp.Regexp
	funcs     *builtin.Table
	attacks   *attack.DB
}

// NewValidator builds a validator from cfg.
func NewValidator(cfg Config) (*Validator, error) {
	var disabled []string
	if cfg.DisableSandbox {
		disabled = append(disabled, "sandbox")
	}
	if cfg.DisableInjectionCheck {
		disabled = append(disabled, "injection_check")
	}
	if cfg.DisableTamperCheck {
		disabled = append(disabled, "tamper_check")
	}
	if len(disabled) > 0 {
		err := ir.Errorf(ir.ErrPolicyDisableRejected, "security policies cannot be disabled")
		err.Items = disabled
		return nil, err
	}

	v := &Validator{strict: cfg.Strict, funcs: builtin.Standard(), attacks: attack.Default()}
	for _, p := range cfg.ExtraForbidden {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("sandbox: extra forbidden pattern %q: %w", p, err)
		}
		v.forbidden = append(v.forbidden, re)
	}
	if len(cfg.AllowedFunctions) > 0 {
		t, err := v.funcs.Restrict(cfg.AllowedFunctions)
		if err != nil {
			return nil, fmt.Errorf("sandbox: %w", err)
		}
		v.funcs = t
	}
	return v, nil
}

// Strict reports whether strict mutation coverage is on.
func (v *Validator) Strict() bool { return v.strict }

// Functions returns the allow-listed function table. Pass it to the type
// checker so screening and typing agree on what is callable.
func (v *Validator) Functions() *builtin.Table { return v.funcs }

// ScreenExpression rejects expressions naming forbidden identifiers or
// calling functions outside the allow-list. It runs on the raw tree,
// before type checking. The first offending node is reported.
func (v *Validator) ScreenExpression(e ir.Expression) error {
	var found error
	ir.Walk(e, func(path string, n ir.Expression) bool {
		if found != nil {
			return false
		}
		found = v.screenNode(path, n)
		return found == nil
	})
	return found
}

func (v *Validator) screenNode(path string, n ir.Expression) error {
	switch x := n.(type) {
	case ir.Variable:
		return v.screenNames(path, x.Name)
	case ir.LayerVar:
		return v.screenNames(path, x.Layer.String(), x.Name)
	case ir.PhaseVar:
		return v.screenNames(path, x.Phase.String(), x.Layer.String(), x.Name)
	case ir.PhaseConstraint:
		return v.screenNames(path, x.Phase.String())
	case ir.CrossPhase:
		return v.screenNames(path, x.LeftPhase.String(), x.RightPhase.String())
	case ir.Aggregate:
		if x.Field != "" {
			return v.screenNames(path, x.Field)
		}
	case ir.Call:
		if err := v.screenNames(path, x.Func); err != nil {
			return err
		}
		if _, ok := v.funcs.Lookup(x.Func); !ok {
			return ir.Errorf(ir.ErrForbiddenIdentifierPattern, "function %q is not in the allow-list", x.Func).At(path)
		}
	}
	return nil
}

func (v *Validator) screenNames(path string, names ...string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if v.isForbidden(name) {
			return ir.Errorf(ir.ErrForbiddenIdentifierPattern, "forbidden identifier %q", name).At(path)
		}
	}
	return nil
}

func (v *Validator) isForbidden(name string) bool {
	stem, _, _ := strings.Cut(strings.ToLower(name), "_")
	if slices.Contains(forbiddenStems, stem) {
		return true
	}
	for _, re := range v.forbidden {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// ScreenInvariant screens a declaration: its name, layers, phases and
// expression.
func (v *Validator) ScreenInvariant(d ir.InvariantDecl) error {
	names := []string{d.Name}
	for _, l := range d.Layers {
		names = append(names, l.String())
	}
	for _, p := range d.Phases {
		names = append(names, p.String())
	}
	if err := v.screenNames("", names...); err != nil {
		return fmt.Errorf("invariant %s: %w", d.Name, err)
	}
	if err := v.ScreenExpression(d.Expr); err != nil {
		return fmt.Errorf("invariant %s: %w", d.Name, err)
	}
	return nil
}

// VerifyInjection checks that art represents every clause of inv and
// nothing else.
//
// The artifact's check statements are re-parsed from its source and
// compared, in order, against each top-level clause of inv rendered for
// the artifact's chain. Every manifest span must cover exactly its
// clause's text with a matching digest. Lines outside the generated shape
// and dangerous constructs anywhere in the source are failures, as is any
// line matching a known attack pattern for the chain. All findings are
// listed in the error's Items.
func (v *Validator) VerifyInjection(inv *typecheck.Invariant, art *codegen.Artifact) error {
	fail := func(format string, args ...any) *ir.Error {
		return ir.Errorf(ir.ErrInjectionCoverageFailure, "artifact for %s: "+format,
			append([]any{inv.Name()}, args...)...)
	}
	if art.Manifest.Invariant != inv.Name() {
		return fail("manifest names invariant %q", art.Manifest.Invariant)
	}
	gen, err := codegen.New(art.Manifest.Chain)
	if err != nil {
		return fail("%v", err)
	}
	stmts, err := codegen.ParseStatements(art.Manifest.Chain, art.Source)
	if err != nil {
		return fail("%v", err)
	}

	var items []string
	clauses := ir.Clauses(inv.Decl.Expr)
	for i, c := range clauses {
		want, err := gen.Render(c.Expr)
		if err != nil {
			return fmt.Errorf("verify %s: %w", inv.Name(), err)
		}
		if i >= len(stmts) {
			items = append(items, fmt.Sprintf("clause %s missing: %s", c.Path, want))
			continue
		}
		if stmts[i].Expr != want {
			items = append(items, fmt.Sprintf("clause %s: emitted %q, want %q", c.Path, stmts[i].Expr, want))
		}
		items = append(items, checkSpan(art, i, c, want)...)
	}
	for _, s := range stmts[min(len(clauses), len(stmts)):] {
		items = append(items, fmt.Sprintf("extra statement %q", s.Expr))
	}
	if len(art.Manifest.Spans) != len(clauses) {
		items = append(items, fmt.Sprintf("manifest has %d spans for %d clauses", len(art.Manifest.Spans), len(clauses)))
	}

	for _, re := range dangerous {
		if re.MatchString(art.Source) {
			items = append(items, "dangerous construct "+re.String())
		}
	}
	out, err := codegen.OutOfScope(art.Manifest.Chain, art.Source)
	if err != nil {
		return fail("%v", err)
	}
	for _, line := range out {
		items = append(items, "out of scope: "+strings.TrimSpace(line))
	}
	for _, f := range v.attacks.Scan(art.Manifest.Chain, art.Source).Findings {
		items = append(items, f.String())
	}

	if len(items) > 0 {
		e := fail("%d finding(s)", len(items))
		e.Items = items
		return e
	}
	return nil
}

func checkSpan(art *codegen.Artifact, i int, c ir.Clause, want string) []string {
	if i >= len(art.Manifest.Spans) {
		return []string{fmt.Sprintf("clause %s has no span", c.Path)}
	}
	s := art.Manifest.Spans[i]
	var items []string
	if s.Path != c.Path || s.Clause != i {
		items = append(items, fmt.Sprintf("span %d claims clause %s", i, s.Path))
	}
	if s.Start < 0 || s.End < s.Start || s.End > len(art.Source) {
		return append(items, fmt.Sprintf("span %d [%d,%d) is outside the source", i, s.Start, s.End))
	}
	if got := art.Source[s.Start:s.End]; got != want {
		items = append(items, fmt.Sprintf("span %d covers %q, want %q", i, got, want))
	}
	return items
}

// VerifyTamper recomputes the hash of inv from its declaration and
// compares it with the artifact's manifest and INVAR_HASH marker, then
// re-digests every span. It returns the recomputed hash, so verifying the
// same pair twice yields the same hash.
func (v *Validator) VerifyTamper(inv *typecheck.Invariant, art *codegen.Artifact) (string, error) {
	hash, err := ir.InvariantHash(inv.Decl, inv.Phases)
	if err != nil {
		return "", fmt.Errorf("verify %s: %w", inv.Name(), err)
	}

	var items []string
	if art.Manifest.InvariantHash != hash {
		items = append(items, fmt.Sprintf("manifest hash %s", art.Manifest.InvariantHash))
	}
	marker, err := codegen.HashMarker(art.Source)
	switch {
	case err != nil:
		items = append(items, err.Error())
	case marker != hash:
		items = append(items, fmt.Sprintf("INVAR_HASH marker %s", marker))
	}
	for i, s := range art.Manifest.Spans {
		if s.Start < 0 || s.End < s.Start || s.End > len(art.Source) {
			items = append(items, fmt.Sprintf("span %d is outside the source", i))
			continue
		}
		if ir.SpanDigest(art.Source[s.Start:s.End]) != s.Digest {
			items = append(items, fmt.Sprintf("span %d digest mismatch", i))
		}
	}

	if len(items) > 0 {
		e := ir.Errorf(ir.ErrTamperHashMismatch, "artifact for %s does not match invariant hash %s", inv.Name(), hash)
		e.Items = items
		return hash, e
	}
	return hash, nil
}

// CheckCoverage enforces strict mode: every mutation fact of g must be
// covered by some invariant. It is a no-op when strict mode is off and
// returns the coverage either way.
func (v *Validator) CheckCoverage(g *depgraph.Graph) (depgraph.Coverage, error) {
	cov := g.Coverage()
	if !v.strict || len(cov.Uncovered) == 0 {
		return cov, nil
	}
	items := make([]string, len(cov.Uncovered))
	for i, f := range cov.Uncovered {
		items[i] = f.String()
	}
	e := ir.Errorf(ir.ErrMutationCoverageGap, "model %s: %d uncovered mutation(s)", g.Model(), len(items))
	e.Items = items
	return cov, e
}
