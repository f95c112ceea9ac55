// Package loader decodes invariant documents, program models and context
// scripts from YAML or CUE.
//
// Expressions are stored as data (see DecodeExpr); there is no textual
// expression grammar. Both formats decode to the same generic tree first,
// so a document means the same thing in either.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"gopkg.in/yaml.v3"

	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/typecheck"
)

// Format is a document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	}
	return "", fmt.Errorf("unsupported document extension %q (want .yaml, .yml or .cue)", filepath.Ext(path))
}

// Document is the decoded content of one or more files. Every section is
// optional.
type Document struct {
	// Phases are the declared phases in execution order. Empty means the
	// known phases.
	Phases     []ir.Phase
	Vars       []ir.StateVar
	Invariants []ir.InvariantDecl
	Model      *ir.ProgramModel
	Trials     []Trial
}

// DeclaredPhases returns Phases, or the known phases when none are declared.
func (d *Document) DeclaredPhases() []ir.Phase {
	if len(d.Phases) == 0 {
		return ir.KnownPhases()
	}
	return slices.Clone(d.Phases)
}

// Env declares the document's variables and its model state.
func (d *Document) Env() (*typecheck.Env, error) {
	env := typecheck.NewEnv()
	for _, v := range d.Vars {
		if err := env.Declare(v.Layer, v.Name, v.Type); err != nil {
			return nil, err
		}
	}
	if d.Model != nil {
		if err := env.DeclareModel(*d.Model); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// Merge appends other's sections to d. Phases are merged in order without
// duplicates; at most one document may carry a model.
func (d *Document) Merge(other *Document) error {
	for _, p := range other.Phases {
		if !slices.Contains(d.Phases, p) {
			d.Phases = append(d.Phases, p)
		}
	}
	d.Vars = append(d.Vars, other.Vars...)
	d.Invariants = append(d.Invariants, other.Invariants...)
	d.Trials = append(d.Trials, other.Trials...)
	if other.Model != nil {
		if d.Model != nil {
			return fmt.Errorf("two program models: %s and %s", d.Model.Name, other.Model.Name)
		}
		d.Model = other.Model
	}
	return nil
}

// rawDocument is the on-disk shape. The yaml tags serve yaml.v3 and the
// json tags serve CUE's Decode.
type rawDocument struct {
	Phases     []string          `yaml:"phases" json:"phases"`
	Vars       map[string]string `yaml:"vars" json:"vars"`
	Invariants []rawInvariant    `yaml:"invariants" json:"invariants"`
	Model      *rawModel         `yaml:"model" json:"model"`
	Trials     []rawTrial        `yaml:"trials" json:"trials"`
}

type rawInvariant struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Severity    string   `yaml:"severity" json:"severity"`
	Category    string   `yaml:"category" json:"category"`
	Layers      []string `yaml:"layers" json:"layers"`
	Phases      []string `yaml:"phases" json:"phases"`
	Expr        any      `yaml:"expr" json:"expr"`
}

type rawModel struct {
	Name       string            `yaml:"name" json:"name"`
	Chain      string            `yaml:"chain" json:"chain"`
	State      map[string]string `yaml:"state" json:"state"`
	Operations []rawOperation    `yaml:"operations" json:"operations"`
}

type rawOperation struct {
	Name    string   `yaml:"name" json:"name"`
	Mutates []string `yaml:"mutates" json:"mutates"`
	Reads   []string `yaml:"reads" json:"reads"`
	Calls   []string `yaml:"calls" json:"calls"`
}

// Loader reads documents.
type Loader struct {
	logger *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) { ld.logger = l }
}

// New returns a Loader.
func New(opts ...Option) *Loader {
	l := &Loader{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LoadFiles loads and merges the given files in order. A directory is
// loaded as a CUE package.
func (l *Loader) LoadFiles(paths ...string) (*Document, error) {
	out := &Document{}
	for _, p := range paths {
		var (
			doc *Document
			err error
		)
		if info, statErr := os.Stat(p); statErr == nil && info.IsDir() {
			doc, err = l.LoadCUEDir(p)
		} else {
			doc, err = l.LoadFile(p)
		}
		if err != nil {
			return nil, err
		}
		if err := out.Merge(doc); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return out, nil
}

// LoadFile loads one YAML or CUE file.
func (l *Loader) LoadFile(path string) (*Document, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	doc, err := l.Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	l.logger.Debug("loaded document", "path", path, "invariants", len(doc.Invariants), "trials", len(doc.Trials))
	return doc, nil
}

// LoadCUEDir loads the CUE package in dir.
func (l *Loader) LoadCUEDir(dir string) (*Document, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("%s: no CUE instances loaded", dir)
	}
	if err := instances[0].Err; err != nil {
		return nil, fmt.Errorf("%s: loading CUE files: %w", dir, err)
	}
	v := cuecontext.New().BuildInstance(instances[0])
	doc, err := l.fromCUE(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	l.logger.Debug("loaded CUE package", "dir", dir, "invariants", len(doc.Invariants))
	return doc, nil
}

// Parse decodes a document from data.
func (l *Loader) Parse(data []byte, format Format) (*Document, error) {
	switch format {
	case FormatYAML:
		var raw rawDocument
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return &Document{}, nil
			}
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		return convert(&raw)
	case FormatCUE:
		return l.fromCUE(cuecontext.New().CompileBytes(data))
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

func (l *Loader) fromCUE(v cue.Value) (*Document, error) {
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("building CUE value: %w", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("CUE value is not concrete: %w", err)
	}
	var raw rawDocument
	if err := v.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding CUE value: %w", err)
	}
	return convert(&raw)
}

func convert(raw *rawDocument) (*Document, error) {
	doc := &Document{}
	for _, s := range raw.Phases {
		p, err := ir.ParsePhase(s)
		if err != nil {
			return nil, fmt.Errorf("phases: %w", err)
		}
		if slices.Contains(doc.Phases, p) {
			return nil, fmt.Errorf("phases: %s declared twice", s)
		}
		doc.Phases = append(doc.Phases, p)
	}

	vars, err := stateVars("vars", raw.Vars)
	if err != nil {
		return nil, err
	}
	doc.Vars = vars

	for i, ri := range raw.Invariants {
		d, err := convertInvariant(ri)
		if err != nil {
			name := ri.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("invariant %s: %w", name, err)
		}
		doc.Invariants = append(doc.Invariants, d)
	}

	if raw.Model != nil {
		m, err := convertModel(raw.Model)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", raw.Model.Name, err)
		}
		doc.Model = m
	}

	for i, rt := range raw.Trials {
		t, err := convertTrial(i, rt)
		if err != nil {
			return nil, err
		}
		doc.Trials = append(doc.Trials, t)
	}
	return doc, nil
}

func convertInvariant(ri rawInvariant) (ir.InvariantDecl, error) {
	sev, err := ir.ParseSeverity(ri.Severity)
	if err != nil {
		return ir.InvariantDecl{}, err
	}
	d := ir.InvariantDecl{
		Name:        ri.Name,
		Description: ri.Description,
		Severity:    sev,
		Category:    ri.Category,
	}
	for _, s := range ri.Layers {
		layer, err := ir.ParseLayer(s)
		if err != nil {
			return ir.InvariantDecl{}, err
		}
		d.Layers = append(d.Layers, layer)
	}
	for _, s := range ri.Phases {
		p, err := ir.ParsePhase(s)
		if err != nil {
			return ir.InvariantDecl{}, err
		}
		d.Phases = append(d.Phases, p)
	}
	if ri.Expr == nil {
		return ir.InvariantDecl{}, ir.Errorf(ir.ErrMalformedAST, "missing expr")
	}
	if d.Expr, err = DecodeExpr(ri.Expr); err != nil {
		return ir.InvariantDecl{}, err
	}
	return d, nil
}

func convertModel(rm *rawModel) (*ir.ProgramModel, error) {
	m := &ir.ProgramModel{Name: rm.Name, Chain: rm.Chain}
	state, err := stateVars("state", rm.State)
	if err != nil {
		return nil, err
	}
	m.State = state
	for _, ro := range rm.Operations {
		op := ir.Operation{Name: ro.Name, Calls: ro.Calls}
		if op.Mutates, err = varRefs(ro.Mutates); err != nil {
			return nil, fmt.Errorf("operation %s mutates: %w", ro.Name, err)
		}
		if op.Reads, err = varRefs(ro.Reads); err != nil {
			return nil, fmt.Errorf("operation %s reads: %w", ro.Name, err)
		}
		m.Operations = append(m.Operations, op)
	}
	return m, nil
}

// stateVars converts a {"layer::name": "type"} map, sorted by identifier.
func stateVars(section string, raw map[string]string) ([]ir.StateVar, error) {
	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]ir.StateVar, 0, len(ids))
	for _, id := range ids {
		layer, name, err := ParseIdentifier(id)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", section, err)
		}
		t, err := ir.ParseType(raw[id])
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", section, id, err)
		}
		out = append(out, ir.StateVar{Layer: layer, Name: name, Type: t})
	}
	return out, nil
}

func varRefs(ids []string) ([]ir.VarRef, error) {
	out := make([]ir.VarRef, 0, len(ids))
	for _, id := range ids {
		layer, name, err := ParseIdentifier(id)
		if err != nil {
			return nil, err
		}
		out = append(out, ir.VarRef{Layer: layer, Name: name})
	}
	return out, nil
}

// ParseIdentifier splits "layer::name". A bare name is in the global
// layer; custom layers are written "custom:vault::total".
func ParseIdentifier(id string) (ir.Layer, string, error) {
	i := strings.LastIndex(id, "::")
	if i < 0 {
		if !ir.IsIdentifier(id) {
			return ir.Layer{}, "", ir.Errorf(ir.ErrMalformedAST, "invalid identifier %q", id)
		}
		return ir.LayerGlobal, id, nil
	}
	layer, err := ir.ParseLayer(id[:i])
	if err != nil {
		return ir.Layer{}, "", err
	}
	name := id[i+2:]
	if !ir.IsIdentifier(name) {
		return ir.Layer{}, "", ir.Errorf(ir.ErrMalformedAST, "invalid identifier %q", id)
	}
	return layer, name, nil
}
