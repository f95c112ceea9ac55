package ir

import (
	"regexp"
	"slices"
	"strings"
)

// identPattern is the syntax of layer, phase, variable and function names.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsIdentifier reports whether s is a valid bare identifier.
func IsIdentifier(s string) bool {
	return identPattern.MatchString(s)
}

// customPrefix marks protocol-specific layers and phases in documents.
const customPrefix = "custom:"

// Layer is a named namespace of state variables.
//
// The known layers are fixed; protocol-specific layers must be created
// explicitly with CustomLayer so that typos in known names are caught at
// construction instead of at lookup.
type Layer struct {
	name   string
	custom bool
}

// Known layers. LayerGlobal holds unqualified variables.
var (
	LayerGlobal     = Layer{name: "global"}
	LayerBundler    = Layer{name: "bundler"}
	LayerAccount    = Layer{name: "account"}
	LayerPaymaster  = Layer{name: "paymaster"}
	LayerProtocol   = Layer{name: "protocol"}
	LayerEntryPoint = Layer{name: "entrypoint"}
)

var knownLayers = []Layer{LayerAccount, LayerBundler, LayerEntryPoint, LayerGlobal, LayerPaymaster, LayerProtocol}

// KnownLayers returns the built-in layers in name order.
func KnownLayers() []Layer {
	out := make([]Layer, len(knownLayers))
	copy(out, knownLayers)
	return out
}

// CustomLayer creates a protocol-specific layer. The name must be an
// identifier and must not shadow a known layer.
func CustomLayer(name string) (Layer, error) {
	if !IsIdentifier(name) {
		return Layer{}, Errorf(ErrMalformedAST, "invalid layer name %q", name)
	}
	for _, l := range knownLayers {
		if l.name == name {
			return Layer{}, Errorf(ErrMalformedAST, "custom layer %q shadows a known layer", name)
		}
	}
	return Layer{name: name, custom: true}, nil
}

// MustCustomLayer is like CustomLayer but panics on error.
func MustCustomLayer(name string) Layer {
	l, err := CustomLayer(name)
	if err != nil {
		panic(err)
	}
	return l
}

// ParseLayer parses a known layer name or "custom:<name>".
// Unknown bare names are rejected.
func ParseLayer(s string) (Layer, error) {
	if rest, ok := strings.CutPrefix(s, customPrefix); ok {
		return CustomLayer(rest)
	}
	for _, l := range knownLayers {
		if l.name == s {
			return l, nil
		}
	}
	return Layer{}, Errorf(ErrMalformedAST, "unknown layer %q (use %s<name> for protocol-specific layers)", s, customPrefix)
}

// String returns the layer name used in qualified identifiers.
func (l Layer) String() string { return l.name }

// Text returns the document form accepted by ParseLayer.
func (l Layer) Text() string {
	if l.custom {
		return customPrefix + l.name
	}
	return l.name
}

// IsCustom reports whether the layer was created with CustomLayer.
func (l Layer) IsCustom() bool { return l.custom }

// IsZero reports whether the layer is unset.
func (l Layer) IsZero() bool { return l.name == "" }

// MarshalText implements encoding.TextMarshaler.
func (l Layer) MarshalText() ([]byte, error) { return []byte(l.Text()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Layer) UnmarshalText(b []byte) error {
	parsed, err := ParseLayer(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Phase is a named execution stage whose state can be snapshotted.
type Phase struct {
	name   string
	custom bool
}

// Known phases.
var (
	PhaseValidation = Phase{name: "validation"}
	PhaseExecution  = Phase{name: "execution"}
	PhaseSettlement = Phase{name: "settlement"}
)

var knownPhases = []Phase{PhaseValidation, PhaseExecution, PhaseSettlement}

// KnownPhases returns the built-in phases in execution order.
func KnownPhases() []Phase {
	out := make([]Phase, len(knownPhases))
	copy(out, knownPhases)
	return out
}

// CustomPhase creates a protocol-specific phase.
func CustomPhase(name string) (Phase, error) {
	if !IsIdentifier(name) {
		return Phase{}, Errorf(ErrMalformedAST, "invalid phase name %q", name)
	}
	for _, p := range knownPhases {
		if p.name == name {
			return Phase{}, Errorf(ErrMalformedAST, "custom phase %q shadows a known phase", name)
		}
	}
	return Phase{name: name, custom: true}, nil
}

// MustCustomPhase is like CustomPhase but panics on error.
func MustCustomPhase(name string) Phase {
	p, err := CustomPhase(name)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePhase parses a known phase name or "custom:<name>".
func ParsePhase(s string) (Phase, error) {
	if rest, ok := strings.CutPrefix(s, customPrefix); ok {
		return CustomPhase(rest)
	}
	for _, p := range knownPhases {
		if p.name == s {
			return p, nil
		}
	}
	return Phase{}, Errorf(ErrMalformedAST, "unknown phase %q (use %s<name> for protocol-specific phases)", s, customPrefix)
}

// String returns the phase name.
func (p Phase) String() string { return p.name }

// Text returns the document form accepted by ParsePhase.
func (p Phase) Text() string {
	if p.custom {
		return customPrefix + p.name
	}
	return p.name
}

// IsCustom reports whether the phase was created with CustomPhase.
func (p Phase) IsCustom() bool { return p.custom }

// IsZero reports whether the phase is unset.
func (p Phase) IsZero() bool { return p.name == "" }

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.Text()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(b []byte) error {
	parsed, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// SortPhases sorts phases by name, the canonical order for lowering.
func SortPhases(phases []Phase) {
	sortByName(phases, func(p Phase) string { return p.name })
}

// SortLayers sorts layers by name.
func SortLayers(layers []Layer) {
	sortByName(layers, func(l Layer) string { return l.name })
}

func sortByName[T any](xs []T, name func(T) string) {
	slices.SortFunc(xs, func(a, b T) int { return strings.Compare(name(a), name(b)) })
}

// Severity ranks the impact of a violated invariant.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity parses a severity name. The empty string defaults to medium.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case "":
		return SeverityMedium, nil
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), nil
	}
	return "", Errorf(ErrMalformedAST, "unknown severity %q", s)
}

// Rank orders severities: low=1 .. critical=4, unknown=0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Weight returns the risk score contribution of one violation.
func (s Severity) Weight() int {
	switch s {
	case SeverityLow:
		return 3
	case SeverityMedium:
		return 8
	case SeverityHigh:
		return 15
	case SeverityCritical:
		return 25
	}
	return 0
}
