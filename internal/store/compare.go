package store

import (
	"context"
	"fmt"
)

// ChangeKind classifies how a verdict moved between two runs.
type ChangeKind string

const (
	ChangeRegressed   ChangeKind = "regressed"    // passed in base, FAIL or ERROR in head
	ChangeFixed       ChangeKind = "fixed"        // FAIL or ERROR in base, passed in head
	ChangeRehashed    ChangeKind = "rehashed"     // invariant definition changed
	ChangeAdded       ChangeKind = "added"        // only in head
	ChangeRemoved     ChangeKind = "removed"      // only in base
	ChangeDigestDrift ChangeKind = "digest_drift" // same trial name, different context
)

// Change is one difference between two runs.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	Trial     string     `json:"trial"`
	Invariant string     `json:"invariant,omitempty"` // empty for digest drift
	Base      string     `json:"base,omitempty"`      // base status, hash or digest
	Head      string     `json:"head,omitempty"`
}

type verdictKey struct{ trial, invariant string }

// Compare diffs the verdicts of two stored runs. Changes are ordered by the
// head run's seq, then removed verdicts by the base run's seq, then trial
// digest drift in head trial order.
func (s *Store) Compare(ctx context.Context, baseID, headID string) ([]Change, error) {
	base, err := s.ReadVerdicts(ctx, baseID)
	if err != nil {
		return nil, fmt.Errorf("compare: %w", err)
	}
	head, err := s.ReadVerdicts(ctx, headID)
	if err != nil {
		return nil, fmt.Errorf("compare: %w", err)
	}

	byKey := make(map[verdictKey]Verdict, len(base))
	for _, v := range base {
		byKey[verdictKey{v.Trial, v.Invariant}] = v
	}

	changes := []Change{}
	seen := make(map[verdictKey]bool, len(head))
	for _, h := range head {
		k := verdictKey{h.Trial, h.Invariant}
		seen[k] = true
		b, ok := byKey[k]
		if !ok {
			changes = append(changes, Change{Kind: ChangeAdded, Trial: h.Trial, Invariant: h.Invariant, Head: h.Status})
			continue
		}
		if b.Hash != h.Hash {
			changes = append(changes, Change{Kind: ChangeRehashed, Trial: h.Trial, Invariant: h.Invariant, Base: b.Hash, Head: h.Hash})
		}
		switch {
		case !failing(b.Status) && failing(h.Status):
			changes = append(changes, Change{Kind: ChangeRegressed, Trial: h.Trial, Invariant: h.Invariant, Base: b.Status, Head: h.Status})
		case failing(b.Status) && h.Status == "PASS":
			changes = append(changes, Change{Kind: ChangeFixed, Trial: h.Trial, Invariant: h.Invariant, Base: b.Status, Head: h.Status})
		}
	}
	for _, b := range base {
		if k := (verdictKey{b.Trial, b.Invariant}); !seen[k] {
			changes = append(changes, Change{Kind: ChangeRemoved, Trial: b.Trial, Invariant: b.Invariant, Base: b.Status})
		}
	}

	drift, err := s.compareDigests(ctx, baseID, headID)
	if err != nil {
		return nil, err
	}
	return append(changes, drift...), nil
}

func (s *Store) compareDigests(ctx context.Context, baseID, headID string) ([]Change, error) {
	base, err := s.ReadTrials(ctx, baseID)
	if err != nil {
		return nil, fmt.Errorf("compare: %w", err)
	}
	head, err := s.ReadTrials(ctx, headID)
	if err != nil {
		return nil, fmt.Errorf("compare: %w", err)
	}
	digests := make(map[string]string, len(base))
	for _, t := range base {
		digests[t.Name] = t.Digest
	}
	var out []Change
	for _, t := range head {
		if d, ok := digests[t.Name]; ok && d != t.Digest {
			out = append(out, Change{Kind: ChangeDigestDrift, Trial: t.Name, Base: d, Head: t.Digest})
		}
	}
	return out, nil
}

func failing(status string) bool { return status == "FAIL" || status == "ERROR" }
