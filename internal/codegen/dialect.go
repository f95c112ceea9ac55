package codegen

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/invar/internal/ir"
)

// dialect holds the chain-specific pieces of rendering.
type dialect struct {
	chain     Chain
	literal   func(ir.Value) (string, error)
	call      func(name string, args []string) string
	aggregate func(op ir.AggregateOp, target, field string) string
	open      func(fn string, clauses int) string
	stmt      func(fn string, i int) (pre, post string)
	close     string

	// statement matches one emitted check line; group 1 is the
	// expression, group 2 the label.
	statement *regexp.Regexp
	// frame matches the other lines a generated artifact may contain.
	frame []*regexp.Regexp
}

var commonFrame = []*regexp.Regexp{
	regexp.MustCompile(`^// INVAR_HASH: [0-9a-f]{64}$`),
	regexp.MustCompile(`^// invariant: [A-Za-z0-9_.\-]+ severity=[a-z]+$`),
	regexp.MustCompile(`^\}$`),
}

func (d *dialect) allowed(line string) bool {
	if d.statement.MatchString(line) {
		return true
	}
	for _, re := range commonFrame {
		if re.MatchString(line) {
			return true
		}
	}
	for _, re := range d.frame {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func unsupportedLiteral(chain Chain, v ir.Value) error {
	return ir.Errorf(ir.ErrTypeMismatch, "%s has no literal form for %s", chain, v.Type())
}

var solana = &dialect{
	chain: ChainSolana,
	literal: func(v ir.Value) (string, error) {
		switch x := v.(type) {
		case ir.Bool:
			return x.String(), nil
		case ir.Uint:
			return fmt.Sprintf("%su%d", x, x.Width()), nil
		case ir.Int:
			return fmt.Sprintf("%si%d", x, x.Width()), nil
		case ir.Address:
			return fmt.Sprintf("pubkey!(%q)", string(x)), nil
		case ir.String:
			return strconv.Quote(string(x)), nil
		case ir.Bytes:
			return fmt.Sprintf("hex!(%q)", hex.EncodeToString([]byte(x))), nil
		}
		return "", unsupportedLiteral(ChainSolana, v)
	},
	call: func(name string, args []string) string {
		return "invar::" + name + "(" + strings.Join(args, ", ") + ")"
	},
	aggregate: func(op ir.AggregateOp, target, field string) string {
		if field == "" {
			return fmt.Sprintf("invar::agg::%s(&%s)", op, target)
		}
		return fmt.Sprintf("invar::agg::%s_by(&%s, |e| e.%s)", op, target, field)
	},
	open: func(fn string, _ int) string {
		return "pub fn " + fn + "(state: &State, snapshots: &Snapshots) -> Result<()> {\n"
	},
	stmt: func(fn string, i int) (string, string) {
		return "invar_assert!(", fmt.Sprintf(", %q);", fmt.Sprintf("%s[%d]", fn, i))
	},
	close:     indent + "Ok(())\n}\n",
	statement: regexp.MustCompile(`(?m)^    invar_assert!\((.*), "([^"]*)"\);$`),
	frame: []*regexp.Regexp{
		regexp.MustCompile(`^pub fn check_[A-Za-z0-9_]+\(state: &State, snapshots: &Snapshots\) -> Result<\(\)> \{$`),
		regexp.MustCompile(`^    Ok\(\(\)\)$`),
	},
}

var evm = &dialect{
	chain: ChainEVM,
	literal: func(v ir.Value) (string, error) {
		switch x := v.(type) {
		case ir.Bool:
			return x.String(), nil
		case ir.Uint:
			return fmt.Sprintf("uint%d(%s)", x.Width(), x), nil
		case ir.Int:
			return fmt.Sprintf("int%d(%s)", x.Width(), x), nil
		case ir.Address:
			if !x.IsEVM() {
				return "", ir.Errorf(ir.ErrTypeMismatch, "%s is not a 20-byte EVM address", string(x))
			}
			return x.Checksum(), nil
		case ir.String:
			return strconv.Quote(string(x)), nil
		case ir.Bytes:
			return fmt.Sprintf("hex%q", hex.EncodeToString([]byte(x))), nil
		}
		return "", unsupportedLiteral(ChainEVM, v)
	},
	call: func(name string, args []string) string {
		return "Invar." + name + "(" + strings.Join(args, ", ") + ")"
	},
	aggregate: func(op ir.AggregateOp, target, field string) string {
		if field == "" {
			return fmt.Sprintf("InvarAgg.%s(%s)", op, target)
		}
		return fmt.Sprintf("InvarAgg.%sBy(%s, %q)", op, target, field)
	},
	open: func(fn string, _ int) string {
		return "function " + fn + "() internal view {\n"
	},
	stmt: func(fn string, i int) (string, string) {
		return "require(", fmt.Sprintf(", %q);", fmt.Sprintf("%s[%d]", fn, i))
	},
	close:     "}\n",
	statement: regexp.MustCompile(`(?m)^    require\((.*), "([^"]*)"\);$`),
	frame: []*regexp.Regexp{
		regexp.MustCompile(`^function check_[A-Za-z0-9_]+\(\) internal view \{$`),
	},
}

var move = &dialect{
	chain: ChainMove,
	literal: func(v ir.Value) (string, error) {
		switch x := v.(type) {
		case ir.Bool:
			return x.String(), nil
		case ir.Uint:
			return fmt.Sprintf("%su%d", x, x.Width()), nil
		case ir.Address:
			if !strings.HasPrefix(string(x), "0x") {
				return "", ir.Errorf(ir.ErrTypeMismatch, "%s is not a hex address", string(x))
			}
			return "@" + string(x), nil
		case ir.String:
			return "b" + strconv.Quote(string(x)), nil
		case ir.Bytes:
			return fmt.Sprintf("x%q", hex.EncodeToString([]byte(x))), nil
		}
		return "", unsupportedLiteral(ChainMove, v)
	},
	call: func(name string, args []string) string {
		return "invar::" + name + "(" + strings.Join(args, ", ") + ")"
	},
	aggregate: func(op ir.AggregateOp, target, field string) string {
		if field == "" {
			return fmt.Sprintf("invar::agg::%s(&%s)", op, target)
		}
		return fmt.Sprintf("invar::agg::%s_by(&%s, b%q)", op, target, field)
	},
	open: func(fn string, clauses int) string {
		var b strings.Builder
		for i := 0; i < clauses; i++ {
			fmt.Fprintf(&b, "const %s: u64 = %d;\n", moveAbortCode(fn, i), i+1)
		}
		b.WriteString("public fun " + fn + "(state: &State, snapshots: &Snapshots) {\n")
		return b.String()
	},
	stmt: func(fn string, i int) (string, string) {
		return "assert!(", ", " + moveAbortCode(fn, i) + ");"
	},
	close:     "}\n",
	statement: regexp.MustCompile(`(?m)^    assert!\((.*), (E_[A-Z0-9_]+)\);$`),
	frame: []*regexp.Regexp{
		regexp.MustCompile(`^const E_[A-Z0-9_]+: u64 = [0-9]+;$`),
		regexp.MustCompile(`^public fun check_[A-Za-z0-9_]+\(state: &State, snapshots: &Snapshots\) \{$`),
	},
}

func moveAbortCode(fn string, i int) string {
	return fmt.Sprintf("E_%s_%d", strings.ToUpper(fn), i)
}

// renderer renders expressions. Inside a phase constraint every state read
// is rendered against that phase's snapshot.
type renderer struct {
	d     *dialect
	phase ir.Phase
}

func (r renderer) render(path string, e ir.Expression) (string, error) {
	switch n := e.(type) {
	case nil:
		return "", ir.Errorf(ir.ErrMalformedAST, "missing expression").At(path)
	case ir.Literal:
		if n.Value == nil {
			return "", ir.Errorf(ir.ErrMalformedAST, "literal has no value").At(path)
		}
		// Unsuffixed literals stay unsuffixed; every target infers them.
		if u, ok := n.Value.(ir.Uint); ok && !n.Suffixed {
			return u.String(), nil
		}
		s, err := r.d.literal(n.Value)
		if err != nil {
			return "", located(err, path)
		}
		return s, nil
	case ir.Variable:
		return r.read(r.phase, ir.LayerGlobal, n.Name), nil
	case ir.LayerVar:
		return r.read(r.phase, n.Layer, n.Name), nil
	case ir.PhaseVar:
		return r.read(n.Phase, n.Layer, n.Name), nil
	case ir.Not:
		s, err := r.operand(path+".operand", n.Operand)
		if err != nil {
			return "", err
		}
		return "!" + s, nil
	case ir.Binary:
		return r.infix(path, string(n.Op), n.Left, n.Right, r, r)
	case ir.Logical:
		return r.infix(path, string(n.Op), n.Left, n.Right, r, r)
	case ir.Call:
		args := make([]string, len(n.Args))
		for i, a := range n.Args {
			s, err := r.render(fmt.Sprintf("%s.args[%d]", path, i), a)
			if err != nil {
				return "", err
			}
			args[i] = s
		}
		return r.d.call(n.Func, args), nil
	case ir.Aggregate:
		target, err := r.render(path+".target", n.Target)
		if err != nil {
			return "", err
		}
		return r.d.aggregate(n.Op, target, n.Field), nil
	case ir.PhaseConstraint:
		return renderer{d: r.d, phase: n.Phase}.render(path+".inner", n.Inner)
	case ir.CrossPhase:
		return r.infix(path, string(n.Op), n.Left, n.Right,
			renderer{d: r.d, phase: n.LeftPhase}, renderer{d: r.d, phase: n.RightPhase})
	}
	return "", ir.Errorf(ir.ErrMalformedAST, "cannot render %T", e).At(path)
}

func (r renderer) infix(path, op string, left, right ir.Expression, lr, rr renderer) (string, error) {
	l, err := lr.operand(path+".left", left)
	if err != nil {
		return "", err
	}
	rs, err := rr.operand(path+".right", right)
	if err != nil {
		return "", err
	}
	return l + " " + op + " " + rs, nil
}

// operand renders e, parenthesized when it is an infix expression.
func (r renderer) operand(path string, e ir.Expression) (string, error) {
	s, err := r.render(path, e)
	if err != nil {
		return "", err
	}
	if isInfix(e) {
		return "(" + s + ")", nil
	}
	return s, nil
}

// isInfix reports whether e renders as an infix expression. A phase
// constraint renders as its inner expression.
func isInfix(e ir.Expression) bool {
	switch n := e.(type) {
	case ir.Binary, ir.Logical, ir.CrossPhase:
		return true
	case ir.PhaseConstraint:
		return isInfix(n.Inner)
	}
	return false
}

func (r renderer) read(phase ir.Phase, layer ir.Layer, name string) string {
	if phase.IsZero() {
		return "state." + layer.String() + "." + name
	}
	return "snapshots." + phase.String() + "." + layer.String() + "." + name
}

func located(err error, path string) error {
	if e, ok := err.(*ir.Error); ok && e.Path == "" {
		return e.At(path)
	}
	return err
}
