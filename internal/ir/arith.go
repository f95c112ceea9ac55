package ir

import (
	"math/big"
)

// Checked integer arithmetic.
//
// Operands may differ in width but not in signedness; the result takes the
// wider operand's type. Results that leave that type's range return
// OverflowOrUnderflow. Division truncates toward zero; Rem takes the sign
// of the dividend.

// Add returns a + b.
func Add(a, b Value) (Value, error) {
	return arith(a, b, "+", func(x, y *big.Int) (*big.Int, error) {
		return new(big.Int).Add(x, y), nil
	})
}

// Sub returns a - b.
func Sub(a, b Value) (Value, error) {
	return arith(a, b, "-", func(x, y *big.Int) (*big.Int, error) {
		return new(big.Int).Sub(x, y), nil
	})
}

// Mul returns a * b.
func Mul(a, b Value) (Value, error) {
	return arith(a, b, "*", func(x, y *big.Int) (*big.Int, error) {
		return new(big.Int).Mul(x, y), nil
	})
}

// Div returns a / b.
func Div(a, b Value) (Value, error) {
	return arith(a, b, "/", func(x, y *big.Int) (*big.Int, error) {
		if y.Sign() == 0 {
			return nil, Errorf(ErrDivisionByZero, "division by zero")
		}
		return new(big.Int).Quo(x, y), nil
	})
}

// Rem returns a % b.
func Rem(a, b Value) (Value, error) {
	return arith(a, b, "%", func(x, y *big.Int) (*big.Int, error) {
		if y.Sign() == 0 {
			return nil, Errorf(ErrDivisionByZero, "remainder by zero")
		}
		return new(big.Int).Rem(x, y), nil
	})
}

// Abs returns |a| for signed values; unsigned values are returned unchanged.
// abs(minimum) overflows.
func Abs(a Value) (Value, error) {
	switch x := a.(type) {
	case Uint:
		return x, nil
	case Int:
		return NewInt(x.Type(), new(big.Int).Abs(x.Big()))
	}
	return nil, NewTypeMismatch("", "abs requires a numeric operand", "numeric", typeName(a))
}

// Convert re-types an integer into a wider type of the same signedness.
// Used to apply the widening rule to operands before combining them.
func Convert(v Value, t Type) (Value, error) {
	n, vt, err := integerOf(v)
	if err != nil {
		return nil, err
	}
	if vt.kind != t.kind {
		return nil, NewTypeMismatch("", "signed and unsigned operands cannot be mixed", t.String(), vt.String())
	}
	return NewInteger(t, n)
}

// Compare orders two values of identical type. Differing types are a
// TypeMismatch: no cross-type comparison is ever coerced.
func Compare(a, b Value) (int, error) {
	if a == nil || b == nil {
		return 0, Errorf(ErrMalformedAST, "compare with nil value")
	}
	if !a.Type().Equal(b.Type()) {
		return 0, NewTypeMismatch("", "comparison requires identical types", a.Type().String(), b.Type().String())
	}
	return compareSameType(a, b), nil
}

func arith(a, b Value, op string, f func(x, y *big.Int) (*big.Int, error)) (Value, error) {
	x, at, err := integerOf(a)
	if err != nil {
		return nil, err
	}
	y, bt, err := integerOf(b)
	if err != nil {
		return nil, err
	}
	rt, err := Widen(at, bt)
	if err != nil {
		return nil, err
	}
	r, err := f(x, y)
	if err != nil {
		return nil, err
	}
	out, err := NewInteger(rt, r)
	if err != nil {
		return nil, Errorf(ErrOverflowOrUnderflow, "%s %s %s overflows %s", x, op, y, rt)
	}
	return out, nil
}

func integerOf(v Value) (*big.Int, Type, error) {
	switch x := v.(type) {
	case Uint:
		return x.Big(), x.Type(), nil
	case Int:
		return x.Big(), x.Type(), nil
	case Address:
		return nil, Type{}, NewTypeMismatch("", "number/address confusion", "numeric", "address")
	}
	return nil, Type{}, NewTypeMismatch("", "arithmetic requires numeric operands", "numeric", typeName(v))
}

func typeName(v Value) string {
	if v == nil {
		return "<nil>"
	}
	return v.Type().String()
}

// ApplyArith applies an arithmetic operator.
func ApplyArith(op BinaryOp, a, b Value) (Value, error) {
	switch op {
	case OpAdd:
		return Add(a, b)
	case OpSub:
		return Sub(a, b)
	case OpMul:
		return Mul(a, b)
	case OpDiv:
		return Div(a, b)
	case OpRem:
		return Rem(a, b)
	}
	return nil, Errorf(ErrMalformedAST, "%q is not an arithmetic operator", op)
}

// ApplyComparison applies a comparison operator to two values of identical
// type. Ordering operators are defined on numeric types only.
func ApplyComparison(op BinaryOp, a, b Value) (Bool, error) {
	if op.IsOrdering() && !a.Type().IsNumeric() {
		return false, NewTypeMismatch("", "ordering requires numeric operands", "numeric", typeName(a))
	}
	c, err := Compare(a, b)
	if err != nil {
		return false, err
	}
	switch op {
	case OpEq:
		return c == 0, nil
	case OpNe:
		return c != 0, nil
	case OpLt:
		return c < 0, nil
	case OpLe:
		return c <= 0, nil
	case OpGt:
		return c > 0, nil
	case OpGe:
		return c >= 0, nil
	}
	return false, Errorf(ErrMalformedAST, "%q is not a comparison operator", op)
}
