// Package codegen renders type-checked invariants as chain-specific check
// code. Each artifact carries a manifest mapping every top-level clause of
// the invariant to the byte span it was emitted at, and the invariant's
// tamper hash, both in the manifest and as an INVAR_HASH marker comment in
// the source.
package codegen

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/typecheck"
)

// Chain names a code generation target.
type Chain string

const (
	ChainSolana Chain = "solana"
	ChainEVM    Chain = "evm"
	ChainMove   Chain = "move"
)

// Chains returns every supported chain in sorted order.
func Chains() []Chain { return []Chain{ChainEVM, ChainMove, ChainSolana} }

// ParseChain parses a chain name.
func ParseChain(s string) (Chain, error) {
	switch c := Chain(strings.ToLower(strings.TrimSpace(s))); c {
	case ChainSolana, ChainEVM, ChainMove:
		return c, nil
	}
	return "", fmt.Errorf("unknown chain %q (want evm, move or solana)", s)
}

// Span locates one emitted clause in an artifact's source.
type Span struct {
	Path   string `json:"path"`   // clause path in the invariant ("$.left")
	Clause int    `json:"clause"` // clause index
	Start  int    `json:"start"`  // byte offset of the clause text
	End    int    `json:"end"`
	Digest string `json:"digest"` // ir.SpanDigest of Source[Start:End]
}

// Manifest describes what an artifact claims to contain.
type Manifest struct {
	Invariant     string `json:"invariant"`
	InvariantHash string `json:"invariant_hash"`
	Chain         Chain  `json:"chain"`
	Spans         []Span `json:"spans"`
}

// Artifact is generated source plus its manifest.
type Artifact struct {
	Source   string   `json:"source"`
	Manifest Manifest `json:"manifest"`
}

// Generator renders invariants for one chain.
type Generator struct {
	d *dialect
}

// New returns the generator for chain.
func New(chain Chain) (*Generator, error) {
	switch chain {
	case ChainSolana:
		return &Generator{d: solana}, nil
	case ChainEVM:
		return &Generator{d: evm}, nil
	case ChainMove:
		return &Generator{d: move}, nil
	}
	return nil, fmt.Errorf("unknown chain %q", chain)
}

// Chain returns the generator's target chain.
func (g *Generator) Chain() Chain { return g.d.chain }

// Render renders a single expression in the chain's syntax.
func (g *Generator) Render(e ir.Expression) (string, error) {
	r := renderer{d: g.d}
	return r.render(ir.RootPath, e)
}

// Generate renders one check statement per top-level clause.
func (g *Generator) Generate(inv *typecheck.Invariant) (*Artifact, error) {
	fn := FuncName(inv.Name())
	clauses := ir.Clauses(inv.Decl.Expr)

	var b strings.Builder
	fmt.Fprintf(&b, "// INVAR_HASH: %s\n", inv.Hash)
	fmt.Fprintf(&b, "// invariant: %s severity=%s\n", inv.Name(), inv.Decl.Severity)
	b.WriteString(g.d.open(fn, len(clauses)))

	spans := make([]Span, 0, len(clauses))
	for i, c := range clauses {
		text, err := g.Render(c.Expr)
		if err != nil {
			return nil, fmt.Errorf("generate %s for %s: clause %s: %w", g.d.chain, inv.Name(), c.Path, err)
		}
		pre, post := g.d.stmt(fn, i)
		b.WriteString(indent)
		b.WriteString(pre)
		start := b.Len()
		b.WriteString(text)
		end := b.Len()
		b.WriteString(post)
		b.WriteString("\n")
		spans = append(spans, Span{
			Path:   c.Path,
			Clause: i,
			Start:  start,
			End:    end,
			Digest: ir.SpanDigest(text),
		})
	}
	b.WriteString(g.d.close)

	return &Artifact{
		Source: b.String(),
		Manifest: Manifest{
			Invariant:     inv.Name(),
			InvariantHash: inv.Hash,
			Chain:         g.d.chain,
			Spans:         spans,
		},
	}, nil
}

const indent = "    "

var nonIdent = regexp.MustCompile(`[^A-Za-z0-9_]`)

// FuncName derives the generated function name from an invariant name.
func FuncName(invariant string) string {
	return "check_" + nonIdent.ReplaceAllString(invariant, "_")
}

// Statement is one check statement recovered from artifact source.
type Statement struct {
	Expr  string // the checked expression text
	Label string // message or error constant
	Start int    // byte offset of Expr in the source
	End   int
}

var hashMarker = regexp.MustCompile(`(?m)^// INVAR_HASH: ([0-9a-f]{64})$`)

// HashMarker extracts the INVAR_HASH marker. Multiple markers are an error.
func HashMarker(source string) (string, error) {
	m := hashMarker.FindAllStringSubmatch(source, -1)
	switch len(m) {
	case 0:
		return "", fmt.Errorf("no INVAR_HASH marker")
	case 1:
		return m[0][1], nil
	}
	return "", fmt.Errorf("%d INVAR_HASH markers", len(m))
}

// ParseStatements recovers the check statements of an artifact, in source
// order.
func ParseStatements(chain Chain, source string) ([]Statement, error) {
	g, err := New(chain)
	if err != nil {
		return nil, err
	}
	var out []Statement
	for _, m := range g.d.statement.FindAllStringSubmatchIndex(source, -1) {
		out = append(out, Statement{
			Expr:  source[m[2]:m[3]],
			Label: source[m[4]:m[5]],
			Start: m[2],
			End:   m[3],
		})
	}
	return out, nil
}

// OutOfScope returns the non-blank lines of source that are not part of
// the generated shape: the marker comments, the function frame, constant
// declarations and check statements. Anything else was not emitted by the
// generator.
func OutOfScope(chain Chain, source string) ([]string, error) {
	g, err := New(chain)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(source, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !g.d.allowed(line) {
			out = append(out, line)
		}
	}
	return out, nil
}
