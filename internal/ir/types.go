package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind enumerates the type constructors. There is no float kind.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindUint
	KindInt
	KindAddress
	KindString
	KindBytes
	KindArray
	KindMap
)

// Valid integer widths in bits.
var (
	unsignedWidths = []int{8, 16, 32, 64, 128}
	signedWidths   = []int{8, 16, 32, 64}
)

// Type describes the static type of a value or expression.
//
// Types are immutable. Use Equal to compare; element types are held by
// pointer so == compares identity, not structure.
type Type struct {
	kind  Kind
	width uint8
	elem  *Type
	key   *Type
}

// Scalar types.
var (
	TBool    = Type{kind: KindBool}
	TAddress = Type{kind: KindAddress}
	TString  = Type{kind: KindString}
	TBytes   = Type{kind: KindBytes}

	TU8   = Type{kind: KindUint, width: 8}
	TU16  = Type{kind: KindUint, width: 16}
	TU32  = Type{kind: KindUint, width: 32}
	TU64  = Type{kind: KindUint, width: 64}
	TU128 = Type{kind: KindUint, width: 128}

	TI8  = Type{kind: KindInt, width: 8}
	TI16 = Type{kind: KindInt, width: 16}
	TI32 = Type{kind: KindInt, width: 32}
	TI64 = Type{kind: KindInt, width: 64}
)

// UintType returns the unsigned type of the given width.
func UintType(bits int) (Type, error) {
	if !validWidth(unsignedWidths, bits) {
		return Type{}, Errorf(ErrMalformedAST, "invalid unsigned width %d", bits)
	}
	return Type{kind: KindUint, width: uint8(bits)}, nil
}

// IntType returns the signed type of the given width.
func IntType(bits int) (Type, error) {
	if !validWidth(signedWidths, bits) {
		return Type{}, Errorf(ErrMalformedAST, "invalid signed width %d", bits)
	}
	return Type{kind: KindInt, width: uint8(bits)}, nil
}

// ArrayType returns the homogeneous array type with the given element type.
func ArrayType(elem Type) Type {
	e := elem
	return Type{kind: KindArray, elem: &e}
}

// MapType returns the map type with the given key and value types.
func MapType(key, elem Type) Type {
	k, e := key, elem
	return Type{kind: KindMap, key: &k, elem: &e}
}

func validWidth(widths []int, bits int) bool {
	for _, w := range widths {
		if w == bits {
			return true
		}
	}
	return false
}

// Kind returns the type constructor.
func (t Type) Kind() Kind { return t.kind }

// Width returns the bit width of integer types, 0 otherwise.
func (t Type) Width() int { return int(t.width) }

// Elem returns the element type of arrays and the value type of maps.
func (t Type) Elem() Type {
	if t.elem == nil {
		return Type{}
	}
	return *t.elem
}

// Key returns the key type of maps.
func (t Type) Key() Type {
	if t.key == nil {
		return Type{}
	}
	return *t.key
}

// IsValid reports whether t was built by a constructor.
func (t Type) IsValid() bool { return t.kind != KindInvalid }

// IsNumeric reports whether t is a signed or unsigned integer type.
func (t Type) IsNumeric() bool { return t.kind == KindUint || t.kind == KindInt }

// IsCollection reports whether t is an array or map.
func (t Type) IsCollection() bool { return t.kind == KindArray || t.kind == KindMap }

// Equal reports structural type equality.
func (t Type) Equal(u Type) bool {
	if t.kind != u.kind || t.width != u.width {
		return false
	}
	switch t.kind {
	case KindArray:
		return t.Elem().Equal(u.Elem())
	case KindMap:
		return t.Key().Equal(u.Key()) && t.Elem().Equal(u.Elem())
	}
	return true
}

// String renders the type in the document syntax accepted by ParseType.
func (t Type) String() string {
	switch t.kind {
	case KindBool:
		return "bool"
	case KindUint:
		return "u" + strconv.Itoa(int(t.width))
	case KindInt:
		return "i" + strconv.Itoa(int(t.width))
	case KindAddress:
		return "address"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array<" + t.Elem().String() + ">"
	case KindMap:
		return "map<" + t.Key().String() + "," + t.Elem().String() + ">"
	default:
		return "invalid"
	}
}

// Widen returns the common type of two numeric types of the same signedness:
// the wider of the two. Mixed signedness and non-numeric operands are a
// TypeMismatch; there is no implicit coercion.
func Widen(a, b Type) (Type, error) {
	if !a.IsNumeric() || !b.IsNumeric() {
		return Type{}, NewTypeMismatch("", "arithmetic requires numeric operands", "numeric", a.String()+", "+b.String())
	}
	if a.kind != b.kind {
		return Type{}, NewTypeMismatch("", "signed and unsigned operands cannot be mixed", a.String(), b.String())
	}
	if a.width >= b.width {
		return a, nil
	}
	return b, nil
}

// ParseType parses the document syntax: bool, u8..u128, i8..i64, address,
// string, bytes, array<T>, map<K,V>.
func ParseType(s string) (Type, error) {
	p := typeParser{src: strings.TrimSpace(s)}
	t, err := p.parse()
	if err != nil {
		return Type{}, err
	}
	if p.pos != len(p.src) {
		return Type{}, Errorf(ErrMalformedAST, "unexpected %q after type in %q", p.src[p.pos:], s)
	}
	return t, nil
}

// MustParseType is like ParseType but panics on error.
// Use only in tests or with constant inputs.
func MustParseType(s string) Type {
	t, err := ParseType(s)
	if err != nil {
		panic(err)
	}
	return t
}

type typeParser struct {
	src string
	pos int
}

func (p *typeParser) parse() (Type, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	name := p.src[start:p.pos]
	switch name {
	case "bool":
		return TBool, nil
	case "address":
		return TAddress, nil
	case "string":
		return TString, nil
	case "bytes":
		return TBytes, nil
	case "array":
		if err := p.expect('<'); err != nil {
			return Type{}, err
		}
		elem, err := p.parse()
		if err != nil {
			return Type{}, err
		}
		if err := p.expect('>'); err != nil {
			return Type{}, err
		}
		return ArrayType(elem), nil
	case "map":
		if err := p.expect('<'); err != nil {
			return Type{}, err
		}
		key, err := p.parse()
		if err != nil {
			return Type{}, err
		}
		if err := p.expect(','); err != nil {
			return Type{}, err
		}
		elem, err := p.parse()
		if err != nil {
			return Type{}, err
		}
		if err := p.expect('>'); err != nil {
			return Type{}, err
		}
		return MapType(key, elem), nil
	}
	if len(name) > 1 && (name[0] == 'u' || name[0] == 'i') {
		bits, err := strconv.Atoi(name[1:])
		if err == nil {
			if name[0] == 'u' {
				return UintType(bits)
			}
			return IntType(bits)
		}
	}
	if name == "" {
		return Type{}, Errorf(ErrMalformedAST, "expected type at offset %d in %q", start, p.src)
	}
	return Type{}, Errorf(ErrMalformedAST, "unknown type %q", name)
}

func (p *typeParser) expect(c byte) error {
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != c {
		return Errorf(ErrMalformedAST, "expected %q at offset %d in %q", c, p.pos, p.src)
	}
	p.pos++
	p.skipSpace()
	return nil
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// String returns a readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindUint:
		return "unsigned"
	case KindInt:
		return "signed"
	case KindAddress:
		return "address"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}
