// Package builtin provides the table of pure functions that invariant
// expressions may call.
//
// A Table is an explicit value passed to the type checker, the evaluator
// and the sandbox allow-list. There is no process-wide registry; callers
// build the table they need with Standard or NewTable.
package builtin

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/invar/internal/ir"
)

// Signature is the resolved shape of one call: the types arguments are
// widened to before Apply, and the result type.
type Signature struct {
	Params []ir.Type
	Result ir.Type
}

// Func is a pure, total-or-erroring function over values.
type Func struct {
	Name  string
	Arity int

	// Check resolves the signature from the argument types. Arity has
	// already been verified.
	Check func(args []ir.Type) (Signature, error)

	// Apply evaluates the function. Arguments already have the types in
	// the resolved Signature.Params.
	Apply func(args []ir.Value) (ir.Value, error)
}

// Table maps function names to functions.
type Table struct {
	funcs map[string]Func
}

// NewTable builds a table. Duplicate or invalid names are rejected.
func NewTable(funcs ...Func) (*Table, error) {
	t := &Table{funcs: make(map[string]Func, len(funcs))}
	for _, f := range funcs {
		if !ir.IsIdentifier(f.Name) {
			return nil, fmt.Errorf("builtin: invalid function name %q", f.Name)
		}
		if _, dup := t.funcs[f.Name]; dup {
			return nil, fmt.Errorf("builtin: duplicate function %q", f.Name)
		}
		if f.Check == nil || f.Apply == nil {
			return nil, fmt.Errorf("builtin: function %q is missing Check or Apply", f.Name)
		}
		t.funcs[f.Name] = f
	}
	return t, nil
}

// Standard returns a new table of the standard functions:
// min, max, abs, contains and is_zero.
func Standard() *Table {
	t, err := NewTable(minFunc(), maxFunc(), absFunc(), containsFunc(), isZeroFunc())
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the named function.
func (t *Table) Lookup(name string) (Func, bool) {
	f, ok := t.funcs[name]
	return f, ok
}

// Names returns the function names in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.funcs))
	for n := range t.funcs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Restrict returns a table holding only the allowed functions.
// Naming a function the table does not have is an error.
func (t *Table) Restrict(allowed []string) (*Table, error) {
	out := &Table{funcs: make(map[string]Func, len(allowed))}
	var missing []string
	for _, name := range allowed {
		f, ok := t.funcs[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		out.funcs[name] = f
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("builtin: unknown functions in allow-list: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func minFunc() Func {
	return Func{
		Name:  "min",
		Arity: 2,
		Check: numericPair,
		Apply: func(args []ir.Value) (ir.Value, error) {
			c, err := ir.Compare(args[0], args[1])
			if err != nil {
				return nil, err
			}
			if c <= 0 {
				return args[0], nil
			}
			return args[1], nil
		},
	}
}

func maxFunc() Func {
	return Func{
		Name:  "max",
		Arity: 2,
		Check: numericPair,
		Apply: func(args []ir.Value) (ir.Value, error) {
			c, err := ir.Compare(args[0], args[1])
			if err != nil {
				return nil, err
			}
			if c >= 0 {
				return args[0], nil
			}
			return args[1], nil
		},
	}
}

// numericPair widens two numeric operands of the same signedness.
func numericPair(args []ir.Type) (Signature, error) {
	common, err := ir.Widen(args[0], args[1])
	if err != nil {
		return Signature{}, err
	}
	return Signature{Params: []ir.Type{common, common}, Result: common}, nil
}

func absFunc() Func {
	return Func{
		Name:  "abs",
		Arity: 1,
		Check: func(args []ir.Type) (Signature, error) {
			if !args[0].IsNumeric() {
				return Signature{}, ir.NewTypeMismatch("", "abs requires a numeric operand", "numeric", args[0].String())
			}
			return Signature{Params: []ir.Type{args[0]}, Result: args[0]}, nil
		},
		Apply: func(args []ir.Value) (ir.Value, error) {
			return ir.Abs(args[0])
		},
	}
}

func containsFunc() Func {
	return Func{
		Name:  "contains",
		Arity: 2,
		Check: func(args []ir.Type) (Signature, error) {
			coll := args[0]
			var member ir.Type
			switch coll.Kind() {
			case ir.KindArray:
				member = coll.Elem()
			case ir.KindMap:
				member = coll.Key()
			default:
				return Signature{}, ir.NewTypeMismatch("", "contains requires an array or map", "collection", coll.String())
			}
			return Signature{Params: []ir.Type{coll, member}, Result: ir.TBool}, nil
		},
		Apply: func(args []ir.Value) (ir.Value, error) {
			switch coll := args[0].(type) {
			case ir.Array:
				for i := 0; i < coll.Len(); i++ {
					if ir.Equal(coll.At(i), args[1]) {
						return ir.Bool(true), nil
					}
				}
				return ir.Bool(false), nil
			case ir.Map:
				_, ok := coll.Get(args[1])
				return ir.Bool(ok), nil
			}
			return nil, ir.NewTypeMismatch("", "contains requires an array or map", "collection", args[0].Type().String())
		},
	}
}

func isZeroFunc() Func {
	return Func{
		Name:  "is_zero",
		Arity: 1,
		Check: func(args []ir.Type) (Signature, error) {
			if !args[0].IsNumeric() && args[0].Kind() != ir.KindAddress {
				return Signature{}, ir.NewTypeMismatch("", "is_zero requires a numeric or address operand", "numeric or address", args[0].String())
			}
			return Signature{Params: []ir.Type{args[0]}, Result: ir.TBool}, nil
		},
		Apply: func(args []ir.Value) (ir.Value, error) {
			switch v := args[0].(type) {
			case ir.Uint:
				return ir.Bool(v.IsZero()), nil
			case ir.Int:
				return ir.Bool(v.Int64() == 0), nil
			case ir.Address:
				return ir.Bool(isZeroAddress(v)), nil
			}
			return nil, ir.NewTypeMismatch("", "is_zero requires a numeric or address operand", "numeric or address", args[0].Type().String())
		},
	}
}

// isZeroAddress matches the all-zero hex address and the Solana system program.
func isZeroAddress(a ir.Address) bool {
	s := string(a)
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		return strings.Trim(rest, "0") == ""
	}
	return strings.Trim(s, "1") == ""
}
