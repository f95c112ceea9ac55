package ir

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// ParseAddress normalizes a chain address.
//
// Accepted forms:
//   - 0x-prefixed hex of 1..32 bytes (EVM 20-byte, Move/Aptos 32-byte), stored lowercase
//   - base58 of 32..44 characters (Solana), stored verbatim
func ParseAddress(s string) (Address, error) {
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		if rest == "" || len(rest) > 64 {
			return "", Errorf(ErrMalformedAST, "hex address %q has invalid length", s)
		}
		if len(rest)%2 == 1 {
			rest = "0" + rest
		}
		if _, err := hex.DecodeString(rest); err != nil {
			return "", Errorf(ErrMalformedAST, "hex address %q is not valid hex", s)
		}
		return Address("0x" + strings.ToLower(rest)), nil
	}
	if len(s) < 32 || len(s) > 44 {
		return "", Errorf(ErrMalformedAST, "address %q is neither 0x-hex nor base58", s)
	}
	for _, r := range s {
		if !strings.ContainsRune(base58Alphabet, r) {
			return "", Errorf(ErrMalformedAST, "address %q contains non-base58 character %q", s, r)
		}
	}
	return Address(s), nil
}

// MustAddress is like ParseAddress but panics on error.
// Use only in tests or with constant inputs.
func MustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsEVM reports whether the address is a 20-byte hex address.
func (a Address) IsEVM() bool {
	return strings.HasPrefix(string(a), "0x") && len(a) == 42
}

// Checksum renders EVM addresses in EIP-55 mixed case: a hex letter is
// upper-cased when the matching nibble of keccak256(lowercase hex) is >= 8.
// Other addresses are returned unchanged.
func (a Address) Checksum() string {
	if !a.IsEVM() {
		return string(a)
	}
	lower := string(a)[2:]
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return "0x" + string(out)
}
