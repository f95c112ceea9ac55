package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumEIP55Vectors(t *testing.T) {
	vectors := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	}
	for _, want := range vectors {
		t.Run(want, func(t *testing.T) {
			addr, err := ParseAddress(want)
			require.NoError(t, err)
			assert.True(t, addr.IsEVM())
			assert.Equal(t, want, addr.Checksum())
		})
	}
}

func TestParseAddressNormalizesHex(t *testing.T) {
	a := MustAddress("0xABCDEF0000000000000000000000000000000001")
	b := MustAddress("0xabcdef0000000000000000000000000000000001")
	assert.Equal(t, a, b)
}

func TestParseAddressBase58(t *testing.T) {
	addr, err := ParseAddress("11111111111111111111111111111111")
	require.NoError(t, err)
	assert.False(t, addr.IsEVM())
	assert.Equal(t, "11111111111111111111111111111111", addr.Checksum())
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	for _, s := range []string{"0x", "0xzz", "hello", "0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl"} {
		_, err := ParseAddress(s)
		assert.Error(t, err, s)
	}
}
