package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTypeRoundTrip(t *testing.T) {
	tests := []string{
		"bool", "u8", "u16", "u32", "u64", "u128",
		"i8", "i16", "i32", "i64",
		"address", "string", "bytes",
		"array<u64>",
		"map<address,u128>",
		"array<map<string,u64>>",
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			typ, err := ParseType(src)
			require.NoError(t, err)
			assert.Equal(t, src, typ.String())
		})
	}
}

func TestParseTypeToleratesSpaces(t *testing.T) {
	typ, err := ParseType("map< address , u64 >")
	require.NoError(t, err)
	assert.True(t, typ.Equal(MapType(TAddress, TU64)))
}

func TestParseTypeRejectsFloatsAndBadWidths(t *testing.T) {
	for _, src := range []string{"f64", "float", "u7", "i128", "array<", "map<u8>", "u64 extra", ""} {
		t.Run(src, func(t *testing.T) {
			_, err := ParseType(src)
			require.Error(t, err)
			assert.True(t, IsKind(err, ErrMalformedAST))
		})
	}
}

func TestTypeEqualIsStructural(t *testing.T) {
	a := ArrayType(MapType(TString, TU64))
	b := MustParseType("array<map<string,u64>>")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(ArrayType(MapType(TString, TU32))))
	assert.False(t, TU64.Equal(TI64))
}

func TestWiden(t *testing.T) {
	got, err := Widen(TU8, TU64)
	require.NoError(t, err)
	assert.True(t, got.Equal(TU64))

	got, err = Widen(TI32, TI16)
	require.NoError(t, err)
	assert.True(t, got.Equal(TI32))

	_, err = Widen(TU64, TI64)
	assert.True(t, IsKind(err, ErrTypeMismatch), "signed/unsigned must not widen")

	_, err = Widen(TU64, TAddress)
	assert.True(t, IsKind(err, ErrTypeMismatch))
}
