package ir

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// ParseValue decodes a generic document value (as produced by yaml.v3,
// encoding/json with UseNumber, or CUE's Decode) into a Value of type t.
//
// The declared type drives decoding: the same document integer becomes a
// u8 or an i64 depending on t. Floats are rejected, as is any payload
// that does not fit t.
func ParseValue(t Type, raw any) (Value, error) {
	switch t.kind {
	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, decodeMismatch(t, raw)
		}
		return Bool(b), nil
	case KindUint, KindInt:
		n, err := parseInteger(raw)
		if err != nil {
			return nil, err
		}
		return NewInteger(t, n)
	case KindAddress:
		s, ok := raw.(string)
		if !ok {
			return nil, decodeMismatch(t, raw)
		}
		return ParseAddress(s)
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, decodeMismatch(t, raw)
		}
		return String(s), nil
	case KindBytes:
		s, ok := raw.(string)
		if !ok {
			return nil, decodeMismatch(t, raw)
		}
		b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, Errorf(ErrMalformedAST, "bytes value %q is not hex", s)
		}
		return Bytes(b), nil
	case KindArray:
		list, ok := raw.([]any)
		if !ok {
			return nil, decodeMismatch(t, raw)
		}
		items := make([]Value, len(list))
		for i, elem := range list {
			v, err := ParseValue(t.Elem(), elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = v
		}
		return NewArray(t.Elem(), items...)
	case KindMap:
		return parseMap(t, raw)
	}
	return nil, Errorf(ErrMalformedAST, "cannot decode into type %s", t)
}

func parseMap(t Type, raw any) (Value, error) {
	var entries []MapEntry
	switch m := raw.(type) {
	case map[string]any:
		for k, elem := range m {
			key, err := parseKey(t.Key(), k)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			v, err := ParseValue(t.Elem(), elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			entries = append(entries, MapEntry{Key: key, Value: v})
		}
	case []any:
		// [[key, value], ...] for keys that are awkward as document keys.
		for i, item := range m {
			pair, ok := item.([]any)
			if !ok || len(pair) != 2 {
				return nil, Errorf(ErrMalformedAST, "map entry %d must be a [key, value] pair", i)
			}
			key, err := ParseValue(t.Key(), pair[0])
			if err != nil {
				return nil, fmt.Errorf("entry %d key: %w", i, err)
			}
			v, err := ParseValue(t.Elem(), pair[1])
			if err != nil {
				return nil, fmt.Errorf("entry %d value: %w", i, err)
			}
			entries = append(entries, MapEntry{Key: key, Value: v})
		}
	default:
		return nil, decodeMismatch(t, raw)
	}
	return NewMap(t.Key(), t.Elem(), entries...)
}

// parseKey decodes a document object key, which is always a string.
func parseKey(t Type, k string) (Value, error) {
	switch t.kind {
	case KindUint, KindInt:
		return ParseValue(t, k)
	case KindBool:
		switch k {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		}
		return nil, decodeMismatch(t, k)
	}
	return ParseValue(t, k)
}

func parseInteger(raw any) (*big.Int, error) {
	switch n := raw.(type) {
	case int:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case uint:
		return new(big.Int).SetUint64(uint64(n)), nil
	case *big.Int:
		return new(big.Int).Set(n), nil
	case json.Number:
		return parseDecimal(string(n))
	case string:
		return parseDecimal(n)
	case float32, float64:
		return nil, Errorf(ErrTypeMismatch, "floats are forbidden: %v", n)
	}
	return nil, Errorf(ErrTypeMismatch, "expected an integer, found %T", raw)
}

// ParseInteger parses a decimal (or 0x-hex) integer literal of any size.
func ParseInteger(s string) (*big.Int, error) {
	return parseDecimal(s)
}

func parseDecimal(s string) (*big.Int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	base := 10
	digits := s
	neg := false
	if rest, ok := strings.CutPrefix(digits, "-"); ok {
		neg, digits = true, rest
	}
	if rest, ok := strings.CutPrefix(digits, "0x"); ok {
		base, digits = 16, rest
	}
	n, ok := new(big.Int).SetString(digits, base)
	if !ok || digits == "" {
		return nil, Errorf(ErrMalformedAST, "invalid integer literal %q", s)
	}
	if neg {
		n.Neg(n)
	}
	return n, nil
}

func decodeMismatch(t Type, raw any) error {
	return NewTypeMismatch("", "document value does not match declared type", t.String(), fmt.Sprintf("%T", raw))
}
