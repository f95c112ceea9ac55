package loader

import (
	"fmt"

	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/state"
	"github.com/roach88/invar/internal/typecheck"
)

// StepKind is the action of one context script step.
type StepKind string

const (
	StepSet      StepKind = "set"
	StepPhase    StepKind = "phase"
	StepSnapshot StepKind = "snapshot"
)

// Step is one context mutation. Set steps carry the raw document value,
// decoded against the declared type when applied.
type Step struct {
	Kind  StepKind
	Phase ir.Phase // phase and snapshot
	Layer ir.Layer // set
	Name  string   // set
	Raw   any      // set
}

// Trial is a named context script: the steps that build one execution
// context to check the invariants against.
type Trial struct {
	Name  string
	Steps []Step
}

// rawTrial is the document shape of a trial:
//
//	name: rollback
//	steps:
//	  - set: {account::nonce: 7}
//	  - phase: validation
//	  - snapshot: validation
type rawTrial struct {
	Name  string           `yaml:"name" json:"name"`
	Steps []map[string]any `yaml:"steps" json:"steps"`
}

func convertTrial(i int, rt rawTrial) (Trial, error) {
	t := Trial{Name: rt.Name}
	if t.Name == "" {
		t.Name = fmt.Sprintf("trial-%d", i)
	}
	for j, rs := range rt.Steps {
		steps, err := convertStep(rs)
		if err != nil {
			return Trial{}, fmt.Errorf("trial %s step %d: %w", t.Name, j, err)
		}
		t.Steps = append(t.Steps, steps...)
	}
	return t, nil
}

// convertStep expands one document step. A set step with several
// variables becomes one Step per variable in identifier order.
func convertStep(rs map[string]any) ([]Step, error) {
	if len(rs) != 1 {
		return nil, ir.Errorf(ir.ErrMalformedAST, "step must have exactly one of set, phase or snapshot")
	}
	for kind, arg := range rs {
		switch StepKind(kind) {
		case StepPhase, StepSnapshot:
			s, ok := arg.(string)
			if !ok {
				return nil, ir.Errorf(ir.ErrMalformedAST, "%s step needs a phase name", kind)
			}
			p, err := ir.ParsePhase(s)
			if err != nil {
				return nil, err
			}
			return []Step{{Kind: StepKind(kind), Phase: p}}, nil
		case StepSet:
			vars, ok := arg.(map[string]any)
			if !ok {
				return nil, ir.Errorf(ir.ErrMalformedAST, "set step needs a {layer::name: value} object")
			}
			var out []Step
			for _, id := range sortedKeys(vars) {
				layer, name, err := ParseIdentifier(id)
				if err != nil {
					return nil, err
				}
				out = append(out, Step{Kind: StepSet, Layer: layer, Name: name, Raw: vars[id]})
			}
			return out, nil
		default:
			return nil, ir.Errorf(ir.ErrMalformedAST, "unknown step %q", kind)
		}
	}
	return nil, nil
}

// Apply runs the trial's steps against ctx. Values are decoded against
// their declared type in env; setting an undeclared variable is an
// UndeclaredIdentifier error.
func (t Trial) Apply(env *typecheck.Env, ctx *state.Context) error {
	for i, s := range t.Steps {
		if err := s.apply(env, ctx); err != nil {
			return fmt.Errorf("trial %s step %d: %w", t.Name, i, err)
		}
	}
	return nil
}

// Context builds a fresh context from the trial.
func (t Trial) Context(env *typecheck.Env) (*state.Context, error) {
	ctx := state.NewContext()
	if err := t.Apply(env, ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

func (s Step) apply(env *typecheck.Env, ctx *state.Context) error {
	switch s.Kind {
	case StepPhase:
		return ctx.SetPhase(s.Phase)
	case StepSnapshot:
		return ctx.SnapshotPhase(s.Phase)
	case StepSet:
		typ, ok := env.Lookup(s.Layer, s.Name)
		if !ok {
			return ir.Errorf(ir.ErrUndeclaredIdentifier, "%s is not declared", ir.Qualify(s.Layer, s.Name))
		}
		v, err := ir.ParseValue(typ, s.Raw)
		if err != nil {
			return fmt.Errorf("%s: %w", ir.Qualify(s.Layer, s.Name), err)
		}
		return ctx.SetLayerVar(s.Layer, s.Name, v)
	}
	return ir.Errorf(ir.ErrMalformedAST, "unknown step kind %q", s.Kind)
}
