package ir

import (
	"fmt"
)

// LowerValue converts a value to its canonical document.
// Integers are lowered as decimal strings so u128 survives intact.
func LowerValue(v Value) (Doc, error) {
	switch x := v.(type) {
	case nil:
		return nil, Errorf(ErrMalformedAST, "cannot lower nil value")
	case Bool:
		return DocObject{"type": DocString("bool"), "value": DocBool(x)}, nil
	case Uint:
		return DocObject{"type": DocString(x.Type().String()), "value": DocString(x.String())}, nil
	case Int:
		return DocObject{"type": DocString(x.Type().String()), "value": DocString(x.String())}, nil
	case Address:
		return DocObject{"type": DocString("address"), "value": DocString(string(x))}, nil
	case String:
		return DocObject{"type": DocString("string"), "value": DocString(string(x))}, nil
	case Bytes:
		return DocObject{"type": DocString("bytes"), "value": DocString(x.Hex())}, nil
	case Array:
		items := make(DocList, len(x.items))
		for i, item := range x.items {
			d, err := LowerValue(item)
			if err != nil {
				return nil, fmt.Errorf("items[%d]: %w", i, err)
			}
			items[i] = d
		}
		return DocObject{"type": DocString(x.Type().String()), "items": items}, nil
	case Map:
		entries := make(DocList, len(x.entries))
		for i, e := range x.entries {
			k, err := LowerValue(e.Key)
			if err != nil {
				return nil, fmt.Errorf("entries[%d].key: %w", i, err)
			}
			val, err := LowerValue(e.Value)
			if err != nil {
				return nil, fmt.Errorf("entries[%d].value: %w", i, err)
			}
			entries[i] = DocList{k, val}
		}
		return DocObject{"type": DocString(x.Type().String()), "entries": entries}, nil
	}
	return nil, Errorf(ErrMalformedAST, "cannot lower value %T", v)
}

// LowerExpr converts an expression tree to its canonical document.
func LowerExpr(e Expression) (Doc, error) {
	return lowerExpr(RootPath, e)
}

func lowerExpr(path string, e Expression) (Doc, error) {
	switch n := e.(type) {
	case nil:
		return nil, Errorf(ErrMalformedAST, "missing expression").At(path)
	case Literal:
		v, err := LowerValue(n.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return DocObject{"kind": DocString("literal"), "value": v, "suffixed": DocBool(n.Suffixed)}, nil
	case Variable:
		return DocObject{"kind": DocString("var"), "name": DocString(n.Name)}, nil
	case LayerVar:
		return DocObject{
			"kind":  DocString("layer_var"),
			"layer": DocString(n.Layer.Text()),
			"name":  DocString(n.Name),
		}, nil
	case PhaseVar:
		return DocObject{
			"kind":  DocString("phase_var"),
			"phase": DocString(n.Phase.Text()),
			"layer": DocString(n.Layer.Text()),
			"name":  DocString(n.Name),
		}, nil
	case PhaseConstraint:
		inner, err := lowerExpr(path+".inner", n.Inner)
		if err != nil {
			return nil, err
		}
		return DocObject{
			"kind":  DocString("phase_constraint"),
			"phase": DocString(n.Phase.Text()),
			"inner": inner,
		}, nil
	case CrossPhase:
		left, err := lowerExpr(path+".left", n.Left)
		if err != nil {
			return nil, err
		}
		right, err := lowerExpr(path+".right", n.Right)
		if err != nil {
			return nil, err
		}
		return DocObject{
			"kind":        DocString("cross_phase"),
			"op":          DocString(n.Op),
			"left_phase":  DocString(n.LeftPhase.Text()),
			"left":        left,
			"right_phase": DocString(n.RightPhase.Text()),
			"right":       right,
		}, nil
	}

	children := Children(e)
	lowered := make([]Doc, len(children))
	for i, c := range children {
		d, err := lowerExpr(path+c.Segment, c.Expr)
		if err != nil {
			return nil, err
		}
		lowered[i] = d
	}

	switch n := e.(type) {
	case Not:
		return DocObject{"kind": DocString("not"), "operand": lowered[0]}, nil
	case Binary:
		return DocObject{"kind": DocString("binary"), "op": DocString(n.Op), "left": lowered[0], "right": lowered[1]}, nil
	case Logical:
		return DocObject{"kind": DocString("logical"), "op": DocString(n.Op), "left": lowered[0], "right": lowered[1]}, nil
	case Call:
		return DocObject{"kind": DocString("call"), "func": DocString(n.Func), "args": DocList(lowered)}, nil
	case Aggregate:
		obj := DocObject{"kind": DocString("aggregate"), "op": DocString(n.Op), "target": lowered[0]}
		if n.Field != "" {
			obj["field"] = DocString(n.Field)
		}
		return obj, nil
	}
	return nil, Errorf(ErrMalformedAST, "unknown expression node %T", e).At(path)
}

// LowerInvariant converts an invariant to the canonical document that its
// content hash is computed over. Layers and phases are sorted and empty
// phases are expanded against declared. The description is documentation
// and is not part of the lowering.
func LowerInvariant(d InvariantDecl, declared []Phase) (DocObject, error) {
	expr, err := LowerExpr(d.Expr)
	if err != nil {
		return nil, fmt.Errorf("invariant %q: %w", d.Name, err)
	}
	layers := DocList{}
	for _, l := range d.SortedLayers() {
		layers = append(layers, DocString(l.Text()))
	}
	phases := DocList{}
	for _, p := range d.ResolvePhases(declared) {
		phases = append(phases, DocString(p.Text()))
	}
	return DocObject{
		"version":  DocString(LoweringVersion),
		"name":     DocString(d.Name),
		"category": DocString(d.Category),
		"severity": DocString(d.Severity),
		"layers":   layers,
		"phases":   phases,
		"expr":     expr,
	}, nil
}
