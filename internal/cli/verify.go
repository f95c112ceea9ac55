package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/invar/internal/codegen"
	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/project"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Artifacts []string
	Dir       string
}

// VerifyEntry is the verification outcome of one artifact.
type VerifyEntry struct {
	Path      string   `json:"path"`
	Invariant string   `json:"invariant,omitempty"`
	Chain     string   `json:"chain,omitempty"`
	OK        bool     `json:"ok"`
	Hash      string   `json:"hash,omitempty"`
	Kind      string   `json:"kind,omitempty"`
	Message   string   `json:"message,omitempty"`
	Items     []string `json:"items,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify [documents...]",
		Short: "Verify generated artifacts against their invariants",
		Long: `Check that generated artifacts still represent the invariants they were
generated from: every clause present, nothing injected, and the
INVAR_HASH marker, manifest hash and span digests intact.

Each artifact is read with its .manifest.json file. Exits 3 when any
artifact fails.

Example:
  invar verify --dir ./generated ./invariants.yaml
  invar verify --artifact ./generated/evm/check_solvency.sol ./invariants.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Artifacts, "artifact", nil, "artifact source file (repeatable)")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "verify every artifact under this directory")

	return cmd
}

func runVerify(opts *VerifyOptions, paths []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	artifacts := slices.Clone(opts.Artifacts)
	if opts.Dir != "" {
		found, err := findArtifacts(opts.Dir)
		if err != nil {
			return f.Fail(ExitCommandError, "failed to list artifacts", err)
		}
		artifacts = append(artifacts, found...)
	}
	if len(artifacts) == 0 {
		return f.Fail(ExitCommandError, "no artifacts", errors.New("pass --artifact or --dir"))
	}

	p, err := loadProject(opts.RootOptions, f, paths)
	if err != nil {
		return err
	}

	entries := make([]VerifyEntry, 0, len(artifacts))
	failed := 0
	for _, path := range artifacts {
		e, err := verifyArtifact(p, path)
		if err != nil {
			return f.Fail(ExitCommandError, "failed to read artifact", err)
		}
		if !e.OK {
			failed++
		}
		entries = append(entries, e)
	}

	if f.Format == "json" {
		if err := f.Success(entries); err != nil {
			return err
		}
	} else {
		for _, e := range entries {
			if e.OK {
				fmt.Fprintf(f.Writer, "✓ %s %s %s\n", e.Path, e.Invariant, shortHash(e.Hash))
				continue
			}
			fmt.Fprintf(f.Writer, "✗ %s %s: %s\n", e.Path, e.Kind, e.Message)
			for _, item := range e.Items {
				fmt.Fprintf(f.Writer, "    %s\n", item)
			}
		}
	}

	if failed > 0 {
		return NewExitError(ExitSecurity, fmt.Sprintf("%d of %d artifact(s) failed verification", failed, len(entries)))
	}
	return nil
}

// findArtifacts returns the source files under dir with a known chain
// extension, in lexical order.
func findArtifacts(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		for _, ext := range chainExt {
			if filepath.Ext(path) == ext {
				out = append(out, path)
				break
			}
		}
		return nil
	})
	return out, err
}

// verifyArtifact runs both checks on one artifact. Unreadable files are
// returned as errors; verification failures are reported in the entry.
func verifyArtifact(p *project.Project, path string) (VerifyEntry, error) {
	e := VerifyEntry{Path: path}
	src, err := os.ReadFile(path)
	if err != nil {
		return e, err
	}
	data, err := os.ReadFile(manifestPath(path))
	if err != nil {
		return e, err
	}
	art := &codegen.Artifact{Source: string(src)}
	if err := json.Unmarshal(data, &art.Manifest); err != nil {
		return e, fmt.Errorf("%s: %w", manifestPath(path), err)
	}
	e.Invariant = art.Manifest.Invariant
	e.Chain = string(art.Manifest.Chain)

	inv, ok := p.Lookup(art.Manifest.Invariant)
	if !ok {
		e.fail(ir.Errorf(ir.ErrInjectionCoverageFailure, "manifest names unknown invariant %q", art.Manifest.Invariant))
		return e, nil
	}
	if err := p.Validator.VerifyInjection(inv, art); err != nil {
		e.fail(err)
		return e, nil
	}
	hash, err := p.Validator.VerifyTamper(inv, art)
	e.Hash = hash
	if err != nil {
		e.fail(err)
		return e, nil
	}
	e.OK = true
	return e, nil
}

func (e *VerifyEntry) fail(err error) {
	e.Message = err.Error()
	if k, ok := ir.KindOf(err); ok {
		e.Kind = string(k)
	}
	var ie *ir.Error
	if errors.As(err, &ie) {
		e.Items = ie.Items
	}
}
