package ir

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// Doc is a sealed interface over canonical documents: the JSON-shaped tree
// that values, expressions and invariants are lowered into before hashing.
// There is no float and no null node.
type Doc interface {
	doc()
}

// DocString is a string node. Strings are NFC normalized when encoded.
type DocString string

// DocInt is an integer node. Wide integers are lowered to DocString.
type DocInt int64

// DocBool is a boolean node.
type DocBool bool

// DocList is an ordered list node.
type DocList []Doc

// DocObject is an object node. Keys are encoded in RFC 8785 order.
type DocObject map[string]Doc

func (DocString) doc() {}
func (DocInt) doc()    {}
func (DocBool) doc()   {}
func (DocList) doc()   {}
func (DocObject) doc() {}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's string ordering compares UTF-8 bytes, which differs for characters
// outside the basic multilingual plane.
func (obj DocObject) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
}

// MarshalCanonical produces RFC 8785 canonical JSON for hashing.
// This is the ONLY serialization used for content-addressed identity.
//
// Differences from encoding/json:
//  1. Object keys sorted by UTF-16 code units
//  2. No HTML escaping; U+2028 and U+2029 are written literally
//  3. Strings are NFC normalized
//  4. No insignificant whitespace
func MarshalCanonical(d Doc) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeDoc(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeDoc(buf *bytes.Buffer, d Doc) error {
	switch v := d.(type) {
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	case DocString:
		writeCanonicalString(buf, string(v))
	case DocInt:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case DocBool:
		buf.WriteString(strconv.FormatBool(bool(v)))
	case DocList:
		buf.WriteByte('[')
		for i, elem := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeDoc(buf, elem); err != nil {
				return fmt.Errorf("list[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case DocObject:
		buf.WriteByte('{')
		for i, k := range v.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, k)
			buf.WriteByte(':')
			if err := encodeDoc(buf, v[k]); err != nil {
				return fmt.Errorf("object[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported canonical node %T", d)
	}
	return nil
}

const hexDigits = "0123456789abcdef"

// writeCanonicalString escapes only what RFC 8785 requires: quote,
// backslash and control characters below U+0020.
func writeCanonicalString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if c < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[c>>4])
				buf.WriteByte(hexDigits[c&0xf])
				continue
			}
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
}
