package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future lowering migration.
const (
	DomainInvariant = "invar/invariant/v1"
	DomainSpan      = "invar/span/v1"
	DomainContext   = "invar/context/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// InvariantHash computes the tamper-detection hash of an invariant over its
// canonical lowering. Two invariants with the same semantics (same
// expression, sorted layers, resolved phases, severity, category) hash
// identically regardless of declaration order.
func InvariantHash(d InvariantDecl, declared []Phase) (string, error) {
	doc, err := LowerInvariant(d, declared)
	if err != nil {
		return "", err
	}
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("InvariantHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainInvariant, canonical), nil
}

// MustInvariantHash is like InvariantHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustInvariantHash(d InvariantDecl, declared []Phase) string {
	h, err := InvariantHash(d, declared)
	if err != nil {
		panic(err)
	}
	return h
}

// SpanDigest hashes one emitted clause of a generated artifact.
func SpanDigest(text string) string {
	return hashWithDomain(DomainSpan, []byte(norm.NFC.String(text)))
}

// ContextDigest hashes an exported execution context document.
func ContextDigest(doc Doc) (string, error) {
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("ContextDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainContext, canonical), nil
}
