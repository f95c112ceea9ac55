package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddWidensToWiderOperand(t *testing.T) {
	got, err := Add(U8(200), U64(100))
	require.NoError(t, err)
	assert.Equal(t, U64(300), got)
}

func TestCheckedOverflow(t *testing.T) {
	tests := []struct {
		name string
		op   func(a, b Value) (Value, error)
		a, b Value
	}{
		{"u8 add", Add, U8(255), U8(1)},
		{"u64 add", Add, U64(math.MaxUint64), U64(1)},
		{"u128 add", Add, U128(math.MaxUint64, math.MaxUint64), U128(0, 1)},
		{"u64 sub underflow", Sub, U64(0), U64(1)},
		{"u32 mul", Mul, U32(math.MaxUint32), U32(2)},
		{"i8 add", Add, I8(127), I8(1)},
		{"i64 sub", Sub, I64(math.MinInt64), I64(1)},
		{"i64 min div -1", Div, I64(math.MinInt64), I64(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.op(tt.a, tt.b)
			require.Error(t, err)
			assert.True(t, IsKind(err, ErrOverflowOrUnderflow), "got %v", err)
		})
	}
}

func TestU128ArithmeticNearBoundary(t *testing.T) {
	got, err := Sub(U128(1, 0), U128(0, 1))
	require.NoError(t, err)
	assert.Equal(t, U128(0, math.MaxUint64), got)
}

func TestDivisionByZero(t *testing.T) {
	_, err := Div(U64(1), U64(0))
	assert.True(t, IsKind(err, ErrDivisionByZero))

	_, err = Rem(I32(1), I32(0))
	assert.True(t, IsKind(err, ErrDivisionByZero))
}

func TestSignedDivisionTruncatesTowardZero(t *testing.T) {
	got, err := Div(I64(-7), I64(2))
	require.NoError(t, err)
	assert.Equal(t, I64(-3), got)

	got, err = Rem(I64(-7), I64(2))
	require.NoError(t, err)
	assert.Equal(t, I64(-1), got)
}

func TestArithmeticRejectsMixedSignedness(t *testing.T) {
	_, err := Add(U64(1), I64(1))
	assert.True(t, IsKind(err, ErrTypeMismatch))
}

func TestArithmeticRejectsAddress(t *testing.T) {
	_, err := Add(Address("0x01"), U64(1))
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrTypeMismatch))
	assert.Contains(t, err.Error(), "number/address confusion")
}

func TestAbs(t *testing.T) {
	got, err := Abs(I32(-5))
	require.NoError(t, err)
	assert.Equal(t, I32(5), got)

	_, err = Abs(I8(math.MinInt8))
	assert.True(t, IsKind(err, ErrOverflowOrUnderflow))
}

func TestCompare(t *testing.T) {
	c, err := Compare(U64(1), U64(2))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = Compare(I64(-1), I64(-2))
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	_, err = Compare(String("1"), U64(1))
	assert.True(t, IsKind(err, ErrTypeMismatch))

	_, err = Compare(U32(1), U64(1))
	assert.True(t, IsKind(err, ErrTypeMismatch), "comparison must not widen")
}

func TestConvert(t *testing.T) {
	got, err := Convert(U8(7), TU128)
	require.NoError(t, err)
	assert.Equal(t, U128(0, 7), got)

	_, err = Convert(U8(7), TI64)
	assert.True(t, IsKind(err, ErrTypeMismatch))
}
