package ir

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"slices"
	"strings"
)

// Value is a sealed interface representing typed runtime values.
// Only Bool, Uint, Int, Address, String, Bytes, Array and Map implement it.
// NO float value - floats are forbidden (breaks determinism).
//
// Every value reports its Type, and constructors refuse payloads that
// disagree with the type (out-of-range integers, heterogeneous arrays).
type Value interface {
	Type() Type
	value() // Sealed - only these types implement it
}

// Bool is a boolean value.
type Bool bool

func (Bool) value()     {}
func (Bool) Type() Type { return TBool }
func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}

// Uint is an unsigned integer of width 8, 16, 32, 64 or 128 bits.
// The 128-bit payload is held as two words so values stay comparable.
type Uint struct {
	width uint8
	hi    uint64
	lo    uint64
}

func (Uint) value()           {}
func (u Uint) Type() Type     { return Type{kind: KindUint, width: u.width} }
func (u Uint) Width() int     { return int(u.width) }
func (u Uint) String() string { return u.Big().String() }

// Big returns the value as a new big.Int.
func (u Uint) Big() *big.Int {
	n := new(big.Int).SetUint64(u.hi)
	n.Lsh(n, 64)
	return n.Or(n, new(big.Int).SetUint64(u.lo))
}

// Uint64 returns the value if it fits in 64 bits.
func (u Uint) Uint64() (uint64, bool) {
	return u.lo, u.hi == 0
}

// IsZero reports whether the value is zero.
func (u Uint) IsZero() bool { return u.hi == 0 && u.lo == 0 }

// Int is a signed integer of width 8, 16, 32 or 64 bits.
type Int struct {
	width uint8
	v     int64
}

func (Int) value()           {}
func (i Int) Type() Type     { return Type{kind: KindInt, width: i.width} }
func (i Int) Width() int     { return int(i.width) }
func (i Int) Int64() int64   { return i.v }
func (i Int) Big() *big.Int  { return big.NewInt(i.v) }
func (i Int) String() string { return fmt.Sprintf("%d", i.v) }

// Address is a chain account address in normalized form.
// Hex addresses are stored lowercase with a 0x prefix; base58 addresses verbatim.
type Address string

func (Address) value()           {}
func (Address) Type() Type       { return TAddress }
func (a Address) String() string { return string(a) }

// String is a UTF-8 string value.
type String string

func (String) value()     {}
func (String) Type() Type { return TString }

// Bytes is an immutable byte string.
type Bytes string

func (Bytes) value()     {}
func (Bytes) Type() Type { return TBytes }

// Hex renders the bytes as 0x-prefixed lowercase hex.
func (b Bytes) Hex() string { return "0x" + hex.EncodeToString([]byte(b)) }

// Array is a homogeneous, immutable sequence of values.
type Array struct {
	elem  Type
	items []Value
}

func (Array) value()       {}
func (a Array) Type() Type { return ArrayType(a.elem) }

// Len returns the number of elements.
func (a Array) Len() int { return len(a.items) }

// At returns the i-th element.
func (a Array) At(i int) Value { return a.items[i] }

// Items returns a copy of the elements.
func (a Array) Items() []Value { return slices.Clone(a.items) }

// MapEntry is a single key/value pair of a Map.
type MapEntry struct {
	Key   Value
	Value Value
}

// Map is an immutable mapping with entries held in ascending key order.
type Map struct {
	key     Type
	elem    Type
	entries []MapEntry
}

func (Map) value()       {}
func (m Map) Type() Type { return MapType(m.key, m.elem) }

// Len returns the number of entries.
func (m Map) Len() int { return len(m.entries) }

// Entries returns a copy of the entries in ascending key order.
func (m Map) Entries() []MapEntry { return slices.Clone(m.entries) }

// Values returns the values in ascending key order.
func (m Map) Values() []Value {
	out := make([]Value, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Value
	}
	return out
}

// Get looks up key. Missing keys report false, never a default value.
func (m Map) Get(key Value) (Value, bool) {
	i, found := slices.BinarySearchFunc(m.entries, key, func(e MapEntry, k Value) int {
		return compareSameType(e.Key, k)
	})
	if !found {
		return nil, false
	}
	return m.entries[i].Value, true
}

// U8 returns an 8-bit unsigned value.
func U8(v uint8) Uint { return Uint{width: 8, lo: uint64(v)} }

// U16 returns a 16-bit unsigned value.
func U16(v uint16) Uint { return Uint{width: 16, lo: uint64(v)} }

// U32 returns a 32-bit unsigned value.
func U32(v uint32) Uint { return Uint{width: 32, lo: uint64(v)} }

// U64 returns a 64-bit unsigned value.
func U64(v uint64) Uint { return Uint{width: 64, lo: v} }

// U128 returns a 128-bit unsigned value from its high and low words.
func U128(hi, lo uint64) Uint { return Uint{width: 128, hi: hi, lo: lo} }

// I8 returns an 8-bit signed value.
func I8(v int8) Int { return Int{width: 8, v: int64(v)} }

// I16 returns a 16-bit signed value.
func I16(v int16) Int { return Int{width: 16, v: int64(v)} }

// I32 returns a 32-bit signed value.
func I32(v int32) Int { return Int{width: 32, v: int64(v)} }

// I64 returns a 64-bit signed value.
func I64(v int64) Int { return Int{width: 64, v: v} }

// NewUint creates an unsigned value of the given type from n.
// Returns OverflowOrUnderflow if n does not fit.
func NewUint(t Type, n *big.Int) (Uint, error) {
	if t.kind != KindUint {
		return Uint{}, NewTypeMismatch("", "not an unsigned type", "unsigned", t.String())
	}
	if n.Sign() < 0 || n.BitLen() > int(t.width) {
		return Uint{}, Errorf(ErrOverflowOrUnderflow, "%s does not fit in %s", n.String(), t)
	}
	lo := new(big.Int).And(n, maxU64).Uint64()
	hi := new(big.Int).Rsh(n, 64).Uint64()
	return Uint{width: t.width, hi: hi, lo: lo}, nil
}

// NewInt creates a signed value of the given type from n.
// Returns OverflowOrUnderflow if n does not fit.
func NewInt(t Type, n *big.Int) (Int, error) {
	if t.kind != KindInt {
		return Int{}, NewTypeMismatch("", "not a signed type", "signed", t.String())
	}
	lo, hi := signedBounds(int(t.width))
	if n.Cmp(lo) < 0 || n.Cmp(hi) > 0 {
		return Int{}, Errorf(ErrOverflowOrUnderflow, "%s does not fit in %s", n.String(), t)
	}
	return Int{width: t.width, v: n.Int64()}, nil
}

// NewInteger creates a Uint or Int of type t from n.
func NewInteger(t Type, n *big.Int) (Value, error) {
	switch t.kind {
	case KindUint:
		return NewUint(t, n)
	case KindInt:
		return NewInt(t, n)
	}
	return nil, NewTypeMismatch("", "not a numeric type", "numeric", t.String())
}

var maxU64 = new(big.Int).SetUint64(^uint64(0))

func signedBounds(bits int) (*big.Int, *big.Int) {
	hi := new(big.Int).Lsh(big.NewInt(1), uint(bits-1))
	lo := new(big.Int).Neg(hi)
	return lo, hi.Sub(hi, big.NewInt(1))
}

// InferLiteral returns n typed with the narrowest unsigned width that holds it.
// Negative literals have no unsigned width; they must carry an explicit type.
func InferLiteral(n *big.Int) (Uint, error) {
	if n.Sign() < 0 {
		return Uint{}, Errorf(ErrTypeMismatch, "negative literal %s needs an explicit signed type", n)
	}
	for _, w := range unsignedWidths {
		if n.BitLen() <= w {
			return NewUint(Type{kind: KindUint, width: uint8(w)}, n)
		}
	}
	return Uint{}, Errorf(ErrOverflowOrUnderflow, "literal %s exceeds u128", n)
}

// NewArray creates an array whose elements all have type elem.
func NewArray(elem Type, items ...Value) (Array, error) {
	for i, item := range items {
		if item == nil {
			return Array{}, Errorf(ErrMalformedAST, "array element %d is nil", i)
		}
		if !item.Type().Equal(elem) {
			return Array{}, NewTypeMismatch(fmt.Sprintf("[%d]", i), "heterogeneous array element", elem.String(), item.Type().String())
		}
	}
	return Array{elem: elem, items: slices.Clone(items)}, nil
}

// MustArray is like NewArray but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustArray(elem Type, items ...Value) Array {
	a, err := NewArray(elem, items...)
	if err != nil {
		panic(err)
	}
	return a
}

// NewMap creates a map from entries. Entries are sorted by key; duplicate keys are rejected.
func NewMap(key, elem Type, entries ...MapEntry) (Map, error) {
	for i, e := range entries {
		if e.Key == nil || e.Value == nil {
			return Map{}, Errorf(ErrMalformedAST, "map entry %d has a nil key or value", i)
		}
		if !e.Key.Type().Equal(key) {
			return Map{}, NewTypeMismatch(fmt.Sprintf("[%d].key", i), "map key type", key.String(), e.Key.Type().String())
		}
		if !e.Value.Type().Equal(elem) {
			return Map{}, NewTypeMismatch(fmt.Sprintf("[%d].value", i), "map value type", elem.String(), e.Value.Type().String())
		}
	}
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b MapEntry) int { return compareSameType(a.Key, b.Key) })
	for i := 1; i < len(sorted); i++ {
		if compareSameType(sorted[i-1].Key, sorted[i].Key) == 0 {
			return Map{}, Errorf(ErrMalformedAST, "duplicate map key %s", Format(sorted[i].Key))
		}
	}
	return Map{key: key, elem: elem, entries: sorted}, nil
}

// MustMap is like NewMap but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustMap(key, elem Type, entries ...MapEntry) Map {
	m, err := NewMap(key, elem, entries...)
	if err != nil {
		panic(err)
	}
	return m
}

// Record builds a map<string,T> from field/value pairs, the shape used for
// per-element projections such as accounts[*].balance.
func Record(elem Type, fields map[string]Value) (Map, error) {
	entries := make([]MapEntry, 0, len(fields))
	for k, v := range fields {
		entries = append(entries, MapEntry{Key: String(k), Value: v})
	}
	return NewMap(TString, elem, entries...)
}

// Equal reports deep equality, including type.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if !a.Type().Equal(b.Type()) {
		return false
	}
	return compareSameType(a, b) == 0
}

// compareSameType totally orders two values of identical type.
// Numbers compare numerically, false < true, strings, bytes and addresses
// compare bytewise, arrays and maps lexicographically by element.
func compareSameType(a, b Value) int {
	switch x := a.(type) {
	case Bool:
		y := b.(Bool)
		switch {
		case x == y:
			return 0
		case !bool(x):
			return -1
		default:
			return 1
		}
	case Uint:
		y := b.(Uint)
		if x.hi != y.hi {
			return cmpU64(x.hi, y.hi)
		}
		return cmpU64(x.lo, y.lo)
	case Int:
		y := b.(Int)
		switch {
		case x.v < y.v:
			return -1
		case x.v > y.v:
			return 1
		}
		return 0
	case Address:
		return strings.Compare(string(x), string(b.(Address)))
	case String:
		return strings.Compare(string(x), string(b.(String)))
	case Bytes:
		return bytes.Compare([]byte(x), []byte(b.(Bytes)))
	case Array:
		y := b.(Array)
		for i := 0; i < len(x.items) && i < len(y.items); i++ {
			if c := compareSameType(x.items[i], y.items[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(x.items), len(y.items))
	case Map:
		y := b.(Map)
		for i := 0; i < len(x.entries) && i < len(y.entries); i++ {
			if c := compareSameType(x.entries[i].Key, y.entries[i].Key); c != 0 {
				return c
			}
			if c := compareSameType(x.entries[i].Value, y.entries[i].Value); c != 0 {
				return c
			}
		}
		return cmpInt(len(x.entries), len(y.entries))
	}
	panic(fmt.Sprintf("ir: unknown value type %T", a))
}

func cmpU64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Format renders a value for messages and generated code comments.
func Format(v Value) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case Bool:
		return x.String()
	case Uint:
		return x.String()
	case Int:
		return x.String()
	case Address:
		return string(x)
	case String:
		return fmt.Sprintf("%q", string(x))
	case Bytes:
		return x.Hex()
	case Array:
		parts := make([]string, len(x.items))
		for i, item := range x.items {
			parts[i] = Format(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case Map:
		parts := make([]string, len(x.entries))
		for i, e := range x.entries {
			parts[i] = Format(e.Key) + ": " + Format(e.Value)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprintf("%v", v)
}
