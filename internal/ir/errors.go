package ir

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind identifies one member of the closed error taxonomy.
// Every failure produced by the checker, evaluator, context store,
// dependency graph or sandbox carries exactly one kind.
type ErrorKind string

const (
	// ErrMalformedAST indicates a structurally invalid expression tree.
	ErrMalformedAST ErrorKind = "MALFORMED_AST"

	// ErrTypeMismatch indicates operand types that do not agree.
	ErrTypeMismatch ErrorKind = "TYPE_MISMATCH"

	// ErrUndeclaredIdentifier indicates a variable or function with no declaration or binding.
	ErrUndeclaredIdentifier ErrorKind = "UNDECLARED_IDENTIFIER"

	// ErrWrongArity indicates a function call with the wrong number of arguments.
	ErrWrongArity ErrorKind = "WRONG_ARITY"

	// ErrUnsupportedAggregateTarget indicates an aggregate over a non-collection.
	ErrUnsupportedAggregateTarget ErrorKind = "UNSUPPORTED_AGGREGATE_TARGET"

	// ErrOverflowOrUnderflow indicates checked arithmetic left the operand width.
	ErrOverflowOrUnderflow ErrorKind = "OVERFLOW_OR_UNDERFLOW"

	// ErrDivisionByZero indicates a zero divisor or an average over nothing.
	ErrDivisionByZero ErrorKind = "DIVISION_BY_ZERO"

	// ErrPhaseNotSnapshotted indicates a phase read with no snapshot for that phase.
	ErrPhaseNotSnapshotted ErrorKind = "PHASE_NOT_SNAPSHOTTED"

	// ErrForbiddenIdentifierPattern indicates a sandbox rejection.
	ErrForbiddenIdentifierPattern ErrorKind = "FORBIDDEN_IDENTIFIER_PATTERN"

	// ErrInjectionCoverageFailure indicates a generated artifact that does not
	// represent every clause of its invariant, or emits forbidden constructs.
	ErrInjectionCoverageFailure ErrorKind = "INJECTION_COVERAGE_FAILURE"

	// ErrTamperHashMismatch indicates an artifact whose hash no longer matches.
	ErrTamperHashMismatch ErrorKind = "TAMPER_HASH_MISMATCH"

	// ErrMutationCoverageGap indicates uncovered mutations under strict mode.
	ErrMutationCoverageGap ErrorKind = "MUTATION_COVERAGE_GAP"

	// ErrPolicyDisableRejected indicates a request to switch off a security policy.
	ErrPolicyDisableRejected ErrorKind = "POLICY_DISABLE_REJECTED"
)

// ErrorClass groups error kinds by the stage that produces them.
type ErrorClass string

const (
	ClassPreEvaluation ErrorClass = "pre-evaluation"
	ClassEvaluation    ErrorClass = "evaluation"
	ClassSecurity      ErrorClass = "security"
)

// Class returns the stage classification of the kind.
func (k ErrorKind) Class() ErrorClass {
	switch k {
	case ErrOverflowOrUnderflow, ErrDivisionByZero, ErrPhaseNotSnapshotted:
		return ClassEvaluation
	case ErrForbiddenIdentifierPattern, ErrInjectionCoverageFailure,
		ErrTamperHashMismatch, ErrMutationCoverageGap, ErrPolicyDisableRejected:
		return ClassSecurity
	default:
		return ClassPreEvaluation
	}
}

// AllErrorKinds returns every kind in the taxonomy in declaration order.
func AllErrorKinds() []ErrorKind {
	return []ErrorKind{
		ErrMalformedAST,
		ErrTypeMismatch,
		ErrUndeclaredIdentifier,
		ErrWrongArity,
		ErrUnsupportedAggregateTarget,
		ErrOverflowOrUnderflow,
		ErrDivisionByZero,
		ErrPhaseNotSnapshotted,
		ErrForbiddenIdentifierPattern,
		ErrInjectionCoverageFailure,
		ErrTamperHashMismatch,
		ErrMutationCoverageGap,
		ErrPolicyDisableRejected,
	}
}

// Error is the structured error value returned by every core package.
//
// Path locates the offending expression node ("$", "$.left", "$.args[1]").
// Expected and Found are filled for type errors. Items lists the individual
// findings of aggregate failures (uncovered mutations, missing clauses).
type Error struct {
	Kind     ErrorKind
	Message  string
	Path     string
	Expected string
	Found    string
	Items    []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Expected != "" || e.Found != "" {
		fmt.Fprintf(&b, " (expected %s, found %s)", e.Expected, e.Found)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " at %s", e.Path)
	}
	if len(e.Items) > 0 {
		fmt.Fprintf(&b, ": [%s]", strings.Join(e.Items, "; "))
	}
	return b.String()
}

// Errorf creates an Error of the given kind with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// At returns a copy of the error located at path.
func (e *Error) At(path string) *Error {
	cp := *e
	cp.Path = path
	return &cp
}

// NewTypeMismatch creates a TypeMismatch error with expected/found detail.
func NewTypeMismatch(path, message, expected, found string) *Error {
	return &Error{
		Kind:     ErrTypeMismatch,
		Message:  message,
		Path:     path,
		Expected: expected,
		Found:    found,
	}
}

// KindOf extracts the error kind from err. Uses errors.As to handle wrapped errors.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsSecurityError reports whether err is a security-classified failure.
func IsSecurityError(err error) bool {
	k, ok := KindOf(err)
	return ok && k.Class() == ClassSecurity
}
